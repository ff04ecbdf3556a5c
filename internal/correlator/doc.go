// Package correlator turns one-way websocket sends to executors into
// awaitable request/response calls.
//
// # Contract
//
// Dispatch:
//  1. Fails with ErrNotConnected when the host has no live executor
//  2. Registers a pending entry keyed by correlation id, with a timer
//  3. Writes the command envelope to the executor connection
//  4. Waits for Resolve, the timer, or context cancellation
//
// Every pending entry settles exactly once. Whichever of Resolve, the timer,
// cancellation or HostDisconnected removes the entry from the pending map
// owns the settlement. A reply arriving after that is a lookup miss and is
// dropped.
//
// # Errors
//
//	ErrNotConnected      no executor registered for the host
//	ErrTimeout           no reply within the timeout (default 10s)
//	ErrCanceled          caller's context ended first
//	ErrHostDisconnected  executor dropped, only with FailPendingOnDisconnect
//	*RemoteError         executor replied ok=false; code and message verbatim
//
// # Constructor
//
//	func New(hosts Hosts, logger *zap.Logger, opts Options) *Correlator
package correlator
