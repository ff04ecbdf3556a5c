// Package filter decides whether a domain event belongs to an observer's
// subscription and narrows collection-shaped payloads to what the
// subscription may see.
//
// # Contract
//
// Compile parses a Subscription's loosely typed filter map once. Unknown
// keys and values of the wrong type are ignored so newer clients can send
// fields older servers do not understand.
//
//	m := filter.Compile(sub)
//	narrowed, ok := m.Match(evt)
//
// Match never widens: the returned payload is always a subset of the input,
// and an empty filter returns the input unchanged. For sessions.updated
// events the session list and the deleted-id list are narrowed
// independently; when both end up empty, ok is false and nothing should be
// sent.
//
// MatchAll merges the subscriptions of a single connection so one event is
// delivered at most once per connection, in publish order.
//
// # Session filter keys
//
//	hostId          exact host id
//	sessionId       exact session id
//	sessionIds      array or comma-separated string
//	status          array or comma-separated string, case-insensitive
//	provider        exact provider, case-insensitive
//	groupId         exact group id; "ungrouped" selects sessions without a group
//	ungrouped       bool, same as groupId=ungrouped
//	archived        "only" or "include"; default hides archived sessions
//	archivedOnly    bool
//	includeArchived bool
//	needsAttention  bool, status in {AWAITING_INPUT, AWAITING_APPROVAL, ERROR}
//	q, query        case-insensitive substring of title, workingDir, repoRoot, branch
//
// # Approval filter keys
//
//	status  "pending" matches approval.created, "decided" matches
//	        approval.decided, any other value matches that approval status
//
// # Per-session topics
//
//	sessionId       absent or equal to the event's session id
//	subscriptionId  console only: absent or equal to the output's stream id
package filter
