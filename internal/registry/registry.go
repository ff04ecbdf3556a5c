package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cvsloane/agent-commander/internal/filter"
	"github.com/cvsloane/agent-commander/internal/types"
)

// MaxSubscriptions caps how many subscriptions one observer may hold.
const MaxSubscriptions = 64

var (
	// ErrObserverNotFound is returned when an observer id is not registered.
	ErrObserverNotFound = errors.New("observer not registered")
	// ErrTooManySubscriptions is returned when a subscription set exceeds MaxSubscriptions.
	ErrTooManySubscriptions = errors.New("too many subscriptions")
)

// Conn is the transport handle for one live socket. Send must not block
// indefinitely; Close must be safe to call more than once.
type Conn interface {
	Send(ctx context.Context, env types.Envelope) error
	Close(reason string) error
}

// ChangeType names a registration change.
type ChangeType string

const (
	ObserverAdded   ChangeType = "observer-added"
	ObserverRemoved ChangeType = "observer-removed"
	ExecutorAdded   ChangeType = "executor-added"
	ExecutorRemoved ChangeType = "executor-removed"
)

// ChangeEvent describes a registration change.
type ChangeEvent struct {
	Type ChangeType
	ID   string // observer id or host id
}

// OnChangeFunc is called after the registry changes.
type OnChangeFunc func(event ChangeEvent)

// Observer is a live observer connection and its active subscriptions.
type Observer struct {
	id          string
	identity    types.Identity
	conn        Conn
	connectedAt time.Time

	mu       sync.RWMutex
	subs     []types.Subscription
	matchers []filter.Matcher
}

// ID returns the server-assigned observer id.
func (o *Observer) ID() string { return o.id }

// Identity returns who authenticated this connection.
func (o *Observer) Identity() types.Identity { return o.identity }

// Conn returns the transport handle.
func (o *Observer) Conn() Conn { return o.conn }

// Matchers returns the compiled subscriptions. The slice is replaced, never
// mutated, so callers may keep it for the duration of one delivery.
func (o *Observer) Matchers() []filter.Matcher {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.matchers
}

// Subscriptions returns a copy of the raw subscription set.
func (o *Observer) Subscriptions() []types.Subscription {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.Subscription, len(o.subs))
	copy(out, o.subs)
	return out
}

func (o *Observer) replace(subs []types.Subscription) {
	copied := make([]types.Subscription, len(subs))
	copy(copied, subs)
	matchers := filter.CompileAll(copied)

	o.mu.Lock()
	o.subs = copied
	o.matchers = matchers
	o.mu.Unlock()
}

// Executor is the live connection for one host.
type Executor struct {
	hostID       string
	conn         Conn
	connectedAt  time.Time
	lastAckedSeq atomic.Int64
}

// HostID returns the host this connection is bound to.
func (e *Executor) HostID() string { return e.hostID }

// Conn returns the transport handle.
func (e *Executor) Conn() Conn { return e.conn }

// LastAckedSeq returns the highest sequence number acknowledged so far.
func (e *Executor) LastAckedSeq() int64 { return e.lastAckedSeq.Load() }

// Ack advances the acknowledged sequence. Returns false when seq is not
// newer than what was already acknowledged.
func (e *Executor) Ack(seq int64) bool {
	for {
		cur := e.lastAckedSeq.Load()
		if seq <= cur {
			return false
		}
		if e.lastAckedSeq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// ObserverInfo is a read-only view of an observer for status output.
type ObserverInfo struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject,omitempty"`
	Role          string    `json:"role,omitempty"`
	Subscriptions int       `json:"subscriptions"`
	ConnectedAt   time.Time `json:"connectedAt"`
}

// HostInfo is a read-only view of an executor for status output.
type HostInfo struct {
	HostID       string    `json:"hostId"`
	LastAckedSeq int64     `json:"lastAckedSeq"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Registry is the concurrent-safe owner of all live connections.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	executors map[string]*Executor
	onChange  OnChangeFunc
	newID     func() string
}

// New creates an empty Registry with an optional change callback.
func New(onChange OnChangeFunc) *Registry {
	return &Registry{
		observers: make(map[string]*Observer),
		executors: make(map[string]*Executor),
		onChange:  onChange,
		newID:     uuid.NewString,
	}
}

func (r *Registry) notify(t ChangeType, id string) {
	if r.onChange != nil {
		r.onChange(ChangeEvent{Type: t, ID: id})
	}
}

// RegisterObserver adds a connection with no subscriptions.
func (r *Registry) RegisterObserver(conn Conn, identity types.Identity) *Observer {
	o := &Observer{
		id:          r.newID(),
		identity:    identity,
		conn:        conn,
		connectedAt: time.Now(),
	}

	r.mu.Lock()
	r.observers[o.id] = o
	r.mu.Unlock()

	r.notify(ObserverAdded, o.id)
	return o
}

// SetSubscriptions replaces an observer's subscriptions wholesale.
func (r *Registry) SetSubscriptions(observerID string, subs []types.Subscription) error {
	if len(subs) > MaxSubscriptions {
		return ErrTooManySubscriptions
	}

	r.mu.RLock()
	o, ok := r.observers[observerID]
	r.mu.RUnlock()
	if !ok {
		return ErrObserverNotFound
	}

	o.replace(subs)
	return nil
}

// UnregisterObserver removes an observer. No-op if not found.
func (r *Registry) UnregisterObserver(observerID string) {
	r.mu.Lock()
	_, exists := r.observers[observerID]
	delete(r.observers, observerID)
	r.mu.Unlock()

	if exists {
		r.notify(ObserverRemoved, observerID)
	}
}

// Observer returns one observer by id.
func (r *Registry) Observer(observerID string) (*Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.observers[observerID]
	return o, ok
}

// Observers returns a snapshot of every registered observer.
func (r *Registry) Observers() []*Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, o)
	}
	return out
}

// ObserverCount returns the number of registered observers.
func (r *Registry) ObserverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// RegisterExecutor binds conn to hostID. A previous connection for the same
// host is closed and replaced.
func (r *Registry) RegisterExecutor(hostID string, conn Conn) *Executor {
	e := &Executor{
		hostID:      hostID,
		conn:        conn,
		connectedAt: time.Now(),
	}

	r.mu.Lock()
	previous := r.executors[hostID]
	r.executors[hostID] = e
	r.mu.Unlock()

	if previous != nil {
		_ = previous.conn.Close("superseded by a newer connection")
	}
	r.notify(ExecutorAdded, hostID)
	return e
}

// UnregisterExecutor removes whatever connection is bound to hostID.
// No-op if none.
func (r *Registry) UnregisterExecutor(hostID string) {
	r.mu.Lock()
	_, exists := r.executors[hostID]
	delete(r.executors, hostID)
	r.mu.Unlock()

	if exists {
		r.notify(ExecutorRemoved, hostID)
	}
}

// ReleaseExecutor removes e only if it is still the current connection for
// its host. Returns whether it was removed.
func (r *Registry) ReleaseExecutor(e *Executor) bool {
	r.mu.Lock()
	current, ok := r.executors[e.hostID]
	removed := ok && current == e
	if removed {
		delete(r.executors, e.hostID)
	}
	r.mu.Unlock()

	if removed {
		r.notify(ExecutorRemoved, e.hostID)
	}
	return removed
}

// Executor returns the live connection for hostID.
func (r *Registry) Executor(hostID string) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[hostID]
	return e, ok
}

// IsExecutorConnected reports whether hostID has a live connection.
func (r *Registry) IsExecutorConnected(hostID string) bool {
	_, ok := r.Executor(hostID)
	return ok
}

// AckExecutor advances the acknowledged sequence for hostID. Returns false
// when the host is not connected or seq is stale.
func (r *Registry) AckExecutor(hostID string, seq int64) bool {
	e, ok := r.Executor(hostID)
	if !ok {
		return false
	}
	return e.Ack(seq)
}

// Hosts returns executor views sorted by host id.
func (r *Registry) Hosts() []HostInfo {
	r.mu.RLock()
	out := make([]HostInfo, 0, len(r.executors))
	for _, e := range r.executors {
		out = append(out, HostInfo{
			HostID:       e.hostID,
			LastAckedSeq: e.LastAckedSeq(),
			ConnectedAt:  e.connectedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].HostID < out[j].HostID })
	return out
}

// ObserverInfos returns observer views sorted by connect time.
func (r *Registry) ObserverInfos() []ObserverInfo {
	observers := r.Observers()
	out := make([]ObserverInfo, 0, len(observers))
	for _, o := range observers {
		out = append(out, ObserverInfo{
			ID:            o.id,
			Subject:       o.identity.Subject,
			Role:          string(o.identity.Role),
			Subscriptions: len(o.Subscriptions()),
			ConnectedAt:   o.connectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every registered connection with reason and returns how
// many were closed. Entries stay registered until their read loops unwind.
func (r *Registry) CloseAll(reason string) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.observers)+len(r.executors))
	for _, o := range r.observers {
		conns = append(conns, o.conn)
	}
	for _, e := range r.executors {
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close(reason)
	}
	return len(conns)
}
