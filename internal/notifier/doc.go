// Package notifier decides which domain events become external alerts and
// delivers them over webhook or Slack channels.
//
// # Contract
//
// Engine.Consider evaluates a candidate against the recipient's rules, in
// order, stopping at the first failure:
//  1. Actionable-only: reject non-actionable candidates when configured
//  2. Kind enablement and provider allow-list
//  3. Rate limit: fixed one-hour window per recipient (default 20)
//  4. Approval one-shot: an approval id alerts a recipient at most once
//  5. Dedup window: (recipient, kind, session, approval, status) at most
//     once per 5 minutes
//  6. Session cooldown: explicitly informational candidates for the same
//     session at most once per cooldown (default 10 minutes)
//
// Accepted candidates are recorded under the same lock as the decision, then
// rendered and enqueued. Rejected candidates record nothing and are logged
// at debug with their reason.
//
// # Batching
//
// The Batcher arms one flush timer when the first item arrives. A flush
// drains the queue and sends items concurrently. Failures are logged and
// dropped; nothing is retried.
//
// # Cleanup
//
// Engine.Start prunes entries older than one hour every five minutes.
// PurgeSession removes everything tied to a deleted session.
package notifier
