package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDedupWindow   = 5 * time.Minute
	DefaultRetention     = time.Hour
	DefaultPruneInterval = 5 * time.Minute

	rateWindow = time.Hour
)

// Actionability says whether a candidate needs a human response. Unknown
// candidates are neither actionable nor explicitly informational.
type Actionability int

const (
	ActionabilityUnknown Actionability = iota
	Actionable
	Informational
)

// Meta describes a candidate notification.
type Meta struct {
	Actionable Actionability
	SessionID  string
	ApprovalID string
	Status     string
	Provider   string
}

// Reason explains a Decision.
type Reason string

const (
	ReasonAccepted         Reason = "accepted"
	ReasonNotActionable    Reason = "not_actionable"
	ReasonKindDisabled     Reason = "kind_disabled"
	ReasonProviderFiltered Reason = "provider_filtered"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonApprovalNotified Reason = "approval_already_notified"
	ReasonDuplicate        Reason = "duplicate"
	ReasonSessionCooldown  Reason = "session_cooldown"
)

// Decision is the throttle verdict for one candidate.
type Decision struct {
	Accepted bool
	Reason   Reason
}

func reject(r Reason) Decision { return Decision{Reason: r} }

// RenderFunc builds the outbound message. It only runs for accepted candidates.
type RenderFunc func() Message

// EngineOptions configures the Engine.
type EngineOptions struct {
	DedupWindow   time.Duration // default 5m
	Retention     time.Duration // default 1h
	PruneInterval time.Duration // default 5m
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// DefaultEngineOptions returns sensible defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		DedupWindow:   DefaultDedupWindow,
		Retention:     DefaultRetention,
		PruneInterval: DefaultPruneInterval,
	}
}

// dedupeKey is the composite identity of a notification.
type dedupeKey struct {
	recipient  string
	kind       Kind
	sessionID  string
	approvalID string
	status     string
}

type approvalKey struct {
	recipient  string
	approvalID string
}

type approvalEntry struct {
	sessionID string
	at        time.Time
}

type cooldownKey struct {
	recipient string
	sessionID string
}

// rateEntry is a fixed-window counter. The window restarts once more than
// an hour passed since windowStart.
type rateEntry struct {
	count       int
	windowStart time.Time
}

// Engine gates outbound alerts per recipient. All state lives behind one
// mutex so check and record happen atomically.
type Engine struct {
	logger  *zap.Logger
	opts    EngineOptions
	batcher *Batcher

	mu        sync.Mutex
	dedupe    map[dedupeKey]time.Time
	approvals map[approvalKey]approvalEntry
	cooldowns map[cooldownKey]time.Time
	rates     map[string]*rateEntry
}

// NewEngine creates an Engine that enqueues accepted messages on batcher.
func NewEngine(batcher *Batcher, logger *zap.Logger, opts EngineOptions) *Engine {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		logger:    logger.Named("notification-engine"),
		opts:      opts,
		batcher:   batcher,
		dedupe:    make(map[dedupeKey]time.Time),
		approvals: make(map[approvalKey]approvalEntry),
		cooldowns: make(map[cooldownKey]time.Time),
		rates:     make(map[string]*rateEntry),
	}
}

// Start launches the periodic prune loop. Non-blocking.
func (e *Engine) Start(ctx context.Context) {
	go e.pruneLoop(ctx)
}

// ShouldNotify evaluates the throttle rules without recording anything.
func (e *Engine) ShouldNotify(recipient string, kind Kind, cfg RecipientConfig, meta Meta) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluate(recipient, kind, cfg, meta, e.opts.Now())
}

// Consider is the single entry point for candidate alerts. Accepted
// candidates are recorded, rendered and enqueued for the next batch flush.
func (e *Engine) Consider(r Recipient, kind Kind, render RenderFunc, meta Meta) Decision {
	id := r.ID()

	e.mu.Lock()
	now := e.opts.Now()
	d := e.evaluate(id, kind, r.Config, meta, now)
	if d.Accepted {
		e.record(id, kind, meta, now)
	}
	e.mu.Unlock()

	decisionsTotal.WithLabelValues(string(d.Reason)).Inc()
	if !d.Accepted {
		e.logger.Debug("Notification suppressed",
			zap.String("recipient", id),
			zap.String("kind", string(kind)),
			zap.String("session", meta.SessionID),
			zap.String("approval", meta.ApprovalID),
			zap.String("reason", string(d.Reason)))
		return d
	}

	msg := render()
	if msg.Kind == "" {
		msg.Kind = kind
	}
	e.batcher.Enqueue(QueueItem{
		Recipient:  id,
		Message:    msg,
		Channel:    r.Channel,
		EnqueuedAt: now,
	}, r.Config.batchDelay())
	return d
}

// evaluate applies the rules in order and stops at the first failure.
// Caller holds e.mu.
func (e *Engine) evaluate(recipient string, kind Kind, cfg RecipientConfig, meta Meta, now time.Time) Decision {
	if cfg.ActionableOnly && meta.Actionable != Actionable {
		return reject(ReasonNotActionable)
	}

	if !cfg.KindEnabled(kind) {
		return reject(ReasonKindDisabled)
	}
	if !cfg.ProviderAllowed(meta.Provider) {
		return reject(ReasonProviderFiltered)
	}

	if rl, ok := e.rates[recipient]; ok && now.Sub(rl.windowStart) <= rateWindow && rl.count >= cfg.maxPerHour() {
		return reject(ReasonRateLimited)
	}

	if meta.ApprovalID != "" {
		if _, seen := e.approvals[approvalKey{recipient, meta.ApprovalID}]; seen {
			return reject(ReasonApprovalNotified)
		}
	}

	if last, ok := e.dedupe[newDedupeKey(recipient, kind, meta)]; ok && now.Sub(last) < e.opts.DedupWindow {
		return reject(ReasonDuplicate)
	}

	if meta.Actionable == Informational && meta.SessionID != "" {
		if last, ok := e.cooldowns[cooldownKey{recipient, meta.SessionID}]; ok && now.Sub(last) < cfg.sessionCooldown() {
			return reject(ReasonSessionCooldown)
		}
	}

	return Decision{Accepted: true, Reason: ReasonAccepted}
}

// record advances every counter and timestamp for an accepted candidate.
// Caller holds e.mu.
func (e *Engine) record(recipient string, kind Kind, meta Meta, now time.Time) {
	rl, ok := e.rates[recipient]
	if !ok || now.Sub(rl.windowStart) > rateWindow {
		rl = &rateEntry{windowStart: now}
		e.rates[recipient] = rl
	}
	rl.count++

	e.dedupe[newDedupeKey(recipient, kind, meta)] = now
	if meta.ApprovalID != "" {
		e.approvals[approvalKey{recipient, meta.ApprovalID}] = approvalEntry{sessionID: meta.SessionID, at: now}
	}
	if meta.SessionID != "" {
		e.cooldowns[cooldownKey{recipient, meta.SessionID}] = now
	}
}

func newDedupeKey(recipient string, kind Kind, meta Meta) dedupeKey {
	return dedupeKey{
		recipient:  recipient,
		kind:       kind,
		sessionID:  meta.SessionID,
		approvalID: meta.ApprovalID,
		status:     meta.Status,
	}
}

// PurgeSession drops every dedup, approval and cooldown entry tied to
// sessionID. Call when the session is deleted.
func (e *Engine) PurgeSession(sessionID string) int {
	if sessionID == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for k := range e.dedupe {
		if k.sessionID == sessionID {
			delete(e.dedupe, k)
			removed++
		}
	}
	for k, v := range e.approvals {
		if v.sessionID == sessionID {
			delete(e.approvals, k)
			removed++
		}
	}
	for k := range e.cooldowns {
		if k.sessionID == sessionID {
			delete(e.cooldowns, k)
			removed++
		}
	}
	return removed
}

// Prune removes entries older than the retention horizon.
func (e *Engine) Prune() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.opts.Now().Add(-e.opts.Retention)
	removed := 0
	for k, at := range e.dedupe {
		if at.Before(cutoff) {
			delete(e.dedupe, k)
			removed++
		}
	}
	for k, v := range e.approvals {
		if v.at.Before(cutoff) {
			delete(e.approvals, k)
			removed++
		}
	}
	for k, at := range e.cooldowns {
		if at.Before(cutoff) {
			delete(e.cooldowns, k)
			removed++
		}
	}
	for k, rl := range e.rates {
		if rl.windowStart.Before(cutoff) {
			delete(e.rates, k)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked entries across all maps.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dedupe) + len(e.approvals) + len(e.cooldowns) + len(e.rates)
}

func (e *Engine) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Prune(); n > 0 {
				e.logger.Debug("Pruned notification state", zap.Int("removed", n))
			}
		}
	}
}
