package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/logging"
)

// Router implements Notifier over class-keyed webhook sinks. In test mode
// every message lands in the test sink; in live mode crypto and equity
// signals route to their class sinks while system messages always go to
// the test sink.
type Router struct {
	crypto   *webhookSink
	equity   *webhookSink
	test     *webhookSink
	testMode bool
	logger   zerolog.Logger
}

var _ Notifier = (*Router)(nil)

// NewRouter builds the router from the notification config. MOCK_DISCORD
// and disabled notifications are handled by the caller choosing a
// different Notifier implementation.
func NewRouter(cfg config.NotificationConfig) *Router {
	logger := logging.Component("notification")
	return &Router{
		crypto:   newWebhookSink(cfg.CryptoWebhookURL, logger),
		equity:   newWebhookSink(cfg.EquityWebhookURL, logger),
		test:     newWebhookSink(cfg.TestWebhookURL, logger),
		testMode: cfg.TestMode,
		logger:   logger,
	}
}

// sinkFor selects the sink for a signal-class message.
func (r *Router) sinkFor(assetClass domain.AssetClass) *webhookSink {
	if r.testMode {
		return r.test
	}
	switch assetClass {
	case domain.AssetCrypto:
		return r.crypto
	case domain.AssetEquity:
		return r.equity
	}
	return r.test
}

// SendSignal opens the signal's thread and posts the emission message.
func (r *Router) SendSignal(ctx context.Context, s *domain.Signal, threadName string) (ThreadID, error) {
	sink := r.sinkFor(s.AssetClass)
	if !sink.available() {
		r.logger.Error().Str("asset_class", string(s.AssetClass)).Str("signal_id", s.SignalID).
			Msg("CRITICAL: notifier sink URL missing, signal not announced")
		return "", nil
	}

	content := fmt.Sprintf(
		"\U0001F7E2 **%s** %s %s @ %.4f\nStop: %.4f | Invalidation: %.4f\nTP1: %.4f | TP2: %.4f | TP3: %.4f\nPattern: %s (%s)\nConfluence: %v",
		s.Side, s.Symbol, s.PatternName, s.EntryPrice,
		s.SuggestedStop, s.InvalidationPrice,
		s.TakeProfit1, s.TakeProfit2, s.TakeProfit3,
		s.PatternName, s.PatternClassification, s.ConfluenceFactors,
	)
	return sink.post(ctx, content, threadName, "")
}

// SendMessage posts free-form content. System messages (no asset class)
// always route to the test sink.
func (r *Router) SendMessage(ctx context.Context, content string, threadID ThreadID, assetClass domain.AssetClass) error {
	sink := r.test
	if assetClass != "" {
		sink = r.sinkFor(assetClass)
	}
	if !sink.available() {
		r.logger.Error().Msg("CRITICAL: notifier sink URL missing, message dropped")
		return nil
	}
	_, err := sink.post(ctx, content, "", threadID)
	return err
}

// SendTrailUpdate announces a runner-stop move in the signal's thread.
func (r *Router) SendTrailUpdate(ctx context.Context, s *domain.Signal, oldTP3 float64) error {
	content := fmt.Sprintf(
		"\U0001F4C8 **%s** trail update: TP3 %.4f → %.4f",
		s.Symbol, oldTP3, s.TakeProfit3,
	)
	return r.SendMessage(ctx, content, ThreadID(s.DiscordThreadID), s.AssetClass)
}

// SendSignalUpdate announces a lifecycle status change in the signal's
// thread.
func (r *Router) SendSignalUpdate(ctx context.Context, s *domain.Signal) error {
	content := fmt.Sprintf("**%s** status: %s", s.Symbol, s.Status)
	if s.ExitReason != "" {
		content += fmt.Sprintf(" (%s)", s.ExitReason)
	}
	return r.SendMessage(ctx, content, ThreadID(s.DiscordThreadID), s.AssetClass)
}

// SendTradeClose announces the realized result of a closed trade.
func (r *Router) SendTradeClose(ctx context.Context, s *domain.Signal, p *domain.Position, pnlUSD, pnlPct float64, duration string, exitReason domain.ExitReason) error {
	emoji := "✅"
	if pnlUSD < 0 {
		emoji = "❌"
	}
	content := fmt.Sprintf(
		"%s **%s** closed (%s)\nPnL: %.2f USD (%.2f%%)\nDuration: %s",
		emoji, p.Symbol, exitReason, pnlUSD, pnlPct, duration,
	)
	threadID := ThreadID("")
	assetClass := p.AssetClass
	if s != nil {
		threadID = ThreadID(s.DiscordThreadID)
		assetClass = s.AssetClass
	}
	return r.SendMessage(ctx, content, threadID, assetClass)
}

// SendShadowSignal announces a risk-blocked signal. Shadow traffic always
// goes to the test sink regardless of mode.
func (r *Router) SendShadowSignal(ctx context.Context, rej *domain.RejectedSignal) error {
	if !r.test.available() {
		r.logger.Error().Msg("CRITICAL: test sink URL missing, shadow signal dropped")
		return nil
	}
	content := fmt.Sprintf(
		"\U0001F47B shadow: %s %s %s @ %.4f blocked by %s",
		rej.Side, rej.Symbol, rej.PatternName, rej.EntryPrice, rej.RejectionReason,
	)
	_, err := r.test.post(ctx, content, "", "")
	return err
}
