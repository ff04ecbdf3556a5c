// Package registry owns every live observer and executor connection.
//
// # Contract
//
// The Registry stores observers keyed by a server-assigned id and executors
// keyed by host id. All methods are safe for concurrent use via sync.RWMutex.
//
//	RegisterObserver(conn Conn, id types.Identity) *Observer
//	  - Assigns a fresh id. The observer starts with no subscriptions.
//
//	SetSubscriptions(observerID string, subs []types.Subscription) error
//	  - Replaces the subscription set wholesale. Takes effect for the next
//	    published event; nothing is redelivered.
//
//	UnregisterObserver(observerID string)
//	  - Idempotent.
//
//	RegisterExecutor(hostID string, conn Conn) *Executor
//	  - Supersedes and closes any previous connection for the host.
//
//	UnregisterExecutor(hostID string)
//	  - Idempotent.
//
//	ReleaseExecutor(e *Executor) bool
//	  - Removes e only if it is still the current connection for its host,
//	    so a superseded connection's close handler cannot evict its
//	    replacement.
//
//	Observers() []*Observer
//	  - Snapshot for fan-out. Connections added or removed after the
//	    snapshot is taken do not affect the in-flight iteration.
//
// # Callback
//
// An optional OnChangeFunc fires after every registration change, outside
// the lock. Metrics and the command correlator hang off it.
//
//	type ChangeEvent struct {
//	    Type   ChangeType // observer-added, observer-removed, executor-added, executor-removed
//	    ID     string     // observer id or host id
//	}
package registry
