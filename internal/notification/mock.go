package notification

import (
	"context"
	"fmt"
	"sync"

	"alpaca-signal-engine/internal/domain"
)

// SentMessage is one message captured by the Recorder.
type SentMessage struct {
	Kind       string
	Content    string
	ThreadID   ThreadID
	ThreadName string
	SignalID   string
	AssetClass domain.AssetClass
	OldTP3     float64
}

// Recorder captures every message instead of sending it. It backs
// MOCK_DISCORD runs and the test suite.
type Recorder struct {
	mu       sync.Mutex
	Messages []SentMessage
	threadN  int
}

var _ Notifier = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (m *Recorder) record(msg SentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
}

// ByKind returns the captured messages of one kind.
func (m *Recorder) ByKind(kind string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, msg := range m.Messages {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Recorder) SendSignal(_ context.Context, s *domain.Signal, threadName string) (ThreadID, error) {
	m.mu.Lock()
	m.threadN++
	id := ThreadID(fmt.Sprintf("thread-%d", m.threadN))
	m.mu.Unlock()

	m.record(SentMessage{Kind: "signal", SignalID: s.SignalID, ThreadName: threadName, ThreadID: id, AssetClass: s.AssetClass})
	return id, nil
}

func (m *Recorder) SendMessage(_ context.Context, content string, threadID ThreadID, assetClass domain.AssetClass) error {
	m.record(SentMessage{Kind: "message", Content: content, ThreadID: threadID, AssetClass: assetClass})
	return nil
}

func (m *Recorder) SendTrailUpdate(_ context.Context, s *domain.Signal, oldTP3 float64) error {
	m.record(SentMessage{Kind: "trail", SignalID: s.SignalID, ThreadID: ThreadID(s.DiscordThreadID), OldTP3: oldTP3})
	return nil
}

func (m *Recorder) SendSignalUpdate(_ context.Context, s *domain.Signal) error {
	m.record(SentMessage{Kind: "update", SignalID: s.SignalID, Content: string(s.Status)})
	return nil
}

func (m *Recorder) SendTradeClose(_ context.Context, s *domain.Signal, p *domain.Position, pnlUSD, pnlPct float64, duration string, exitReason domain.ExitReason) error {
	m.record(SentMessage{Kind: "trade_close", SignalID: p.SignalID, Content: string(exitReason)})
	return nil
}

func (m *Recorder) SendShadowSignal(_ context.Context, rej *domain.RejectedSignal) error {
	m.record(SentMessage{Kind: "shadow", SignalID: rej.SignalID, Content: rej.RejectionReason})
	return nil
}
