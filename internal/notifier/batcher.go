package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout      = 10 * time.Second
	defaultFlushConcurrency = 8
)

// QueueItem is one accepted message waiting for the next flush.
type QueueItem struct {
	Recipient  string
	Message    Message
	Channel    Channel
	EnqueuedAt time.Time
}

// BatcherOptions configures the Batcher.
type BatcherOptions struct {
	SendTimeout time.Duration // per send, default 10s
	Concurrency int           // parallel sends per flush, default 8
}

// Batcher buffers accepted messages and flushes them on a single timer.
// Sends are best effort: failures are logged and the item is dropped.
type Batcher struct {
	logger *zap.Logger
	opts   BatcherOptions

	mu     sync.Mutex
	queue  []QueueItem
	timer  *time.Timer
	closed bool

	wg sync.WaitGroup // in-flight flushes
}

// NewBatcher creates a Batcher.
func NewBatcher(logger *zap.Logger, opts BatcherOptions) *Batcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultFlushConcurrency
	}
	return &Batcher{
		logger: logger.Named("notification-batcher"),
		opts:   opts,
	}
}

// Enqueue appends item and arms the flush timer with delay if it is not
// already armed. An armed timer keeps its original deadline.
func (b *Batcher) Enqueue(item QueueItem, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Debug("Batcher closed, dropping notification", zap.String("recipient", item.Recipient))
		return
	}
	b.queue = append(b.queue, item)
	queueDepth.Set(float64(len(b.queue)))
	if b.timer == nil {
		b.timer = time.AfterFunc(delay, b.Flush)
	}
}

// Pending returns the number of queued items.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush drains the queue and sends every item concurrently. It returns once
// all sends have finished.
func (b *Batcher) Flush() {
	b.mu.Lock()
	items := b.queue
	b.queue = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	queueDepth.Set(0)
	if len(items) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			b.send(item)
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Debug("Flushed notification batch", zap.Int("items", len(items)))
}

func (b *Batcher) send(item QueueItem) {
	if item.Channel == nil {
		b.logger.Warn("Notification has no channel, dropping", zap.String("recipient", item.Recipient))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	err := item.Channel.Send(ctx, item.Message)
	status := "success"
	if err != nil {
		status = "error"
		b.logger.Warn("Notification send failed",
			zap.String("recipient", item.Recipient),
			zap.String("channel", item.Channel.Name()),
			zap.String("kind", string(item.Message.Kind)),
			zap.Error(err))
	}
	channelSendTotal.WithLabelValues(item.Channel.Name(), status).Inc()
	channelSendDuration.WithLabelValues(item.Channel.Name(), status).Observe(time.Since(start).Seconds())
}

// Close stops the timer, flushes whatever is queued and waits for in-flight
// flushes. Later Enqueue calls are dropped.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.Flush()
	b.wg.Wait()
}
