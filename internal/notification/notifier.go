// Package notification delivers thread-keyed lifecycle messages. The
// engine only depends on the Notifier contract; the concrete router sends
// Discord-style webhook posts, with a recording mock for tests and a
// disabled no-op for headless runs.
package notification

import (
	"context"

	"alpaca-signal-engine/internal/domain"
)

// ThreadID is the opaque capability token identifying a message thread.
// The engine stores and echoes it but never interprets it.
type ThreadID string

// Notifier is the lifecycle messaging contract.
type Notifier interface {
	// SendSignal announces a new signal and opens its thread. Returns an
	// empty ThreadID when the sink is unavailable.
	SendSignal(ctx context.Context, s *domain.Signal, threadName string) (ThreadID, error)

	// SendMessage posts free-form content. With an empty thread id and no
	// asset class the message routes as a system message.
	SendMessage(ctx context.Context, content string, threadID ThreadID, assetClass domain.AssetClass) error

	// SendTrailUpdate announces a runner-stop move, showing the previous
	// take-profit value.
	SendTrailUpdate(ctx context.Context, s *domain.Signal, oldTP3 float64) error

	// SendSignalUpdate announces a lifecycle status change.
	SendSignalUpdate(ctx context.Context, s *domain.Signal) error

	// SendTradeClose announces a closed trade with its realized result.
	SendTradeClose(ctx context.Context, s *domain.Signal, p *domain.Position, pnlUSD, pnlPct float64, duration string, exitReason domain.ExitReason) error

	// SendShadowSignal announces a risk-blocked signal for filter tuning.
	SendShadowSignal(ctx context.Context, rej *domain.RejectedSignal) error
}

// Noop satisfies Notifier without sending anything.
type Noop struct{}

var _ Notifier = (*Noop)(nil)

func (Noop) SendSignal(context.Context, *domain.Signal, string) (ThreadID, error) { return "", nil }
func (Noop) SendMessage(context.Context, string, ThreadID, domain.AssetClass) error {
	return nil
}
func (Noop) SendTrailUpdate(context.Context, *domain.Signal, float64) error { return nil }
func (Noop) SendSignalUpdate(context.Context, *domain.Signal) error         { return nil }
func (Noop) SendTradeClose(context.Context, *domain.Signal, *domain.Position, float64, float64, string, domain.ExitReason) error {
	return nil
}
func (Noop) SendShadowSignal(context.Context, *domain.RejectedSignal) error { return nil }
