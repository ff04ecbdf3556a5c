package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingChannel captures every message sent through it.
type recordingChannel struct {
	mu    sync.Mutex
	msgs  []Message
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(ctx context.Context, msg Message) error {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// waitForCalls polls until the channel saw at least n sends or timeout.
func waitForCalls(t *testing.T, ch *recordingChannel, n int32, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if ch.calls.Load() >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d sends, got %d", n, ch.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func testRecipient(ch Channel) Recipient {
	return Recipient{
		Config: RecipientConfig{
			ID:      "ops",
			Channel: ChannelConfig{Type: ChannelWebhook, URL: "https://hooks.example.com/ops"},
		},
		Channel: ch,
	}
}

func newTestEngine(t *testing.T) (*Engine, *Batcher, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	b := NewBatcher(zap.NewNop(), BatcherOptions{})
	t.Cleanup(b.Close)
	opts := DefaultEngineOptions()
	opts.Now = clock.Now
	return NewEngine(b, zap.NewNop(), opts), b, clock
}

func staticMessage(title string) RenderFunc {
	return func() Message { return Message{Title: title} }
}
