// Package router fans published domain events out to every observer whose
// subscriptions match.
//
// # Contract
//
// Publish:
//  1. Snapshots the registered observers
//  2. Narrows the event per observer with filter.MatchAll
//  3. Sends one envelope per matching observer
//  4. Closes a connection whose send fails and keeps going
//  5. Hands the original event to every Listener
//
// Publish never returns an error. One observer's failure never affects
// delivery to the others.
//
// # Ordering
//
// Publish calls are serialized, so every connection sees events in publish
// order. There is no ordering across connections.
//
// # Constructor
//
//	func New(reg *registry.Registry, logger *zap.Logger, opts ...Option) *Router
//	func (r *Router) Publish(ctx context.Context, evt types.Event)
package router
