package filter

import (
	"strings"

	"github.com/cvsloane/agent-commander/internal/types"
)

// UngroupedSentinel is the groupId value that selects sessions with no group.
const UngroupedSentinel = "ungrouped"

type archivedMode int

const (
	archivedHide archivedMode = iota
	archivedOnly
	archivedInclude
)

// sessionFilter is the compiled form of a sessions-topic filter.
type sessionFilter struct {
	hostID         string
	ids            map[string]struct{} // nil = no id narrowing
	statuses       map[types.SessionStatus]struct{}
	provider       string
	groupID        string
	groupSet       bool
	archived       archivedMode
	needsAttention bool
	query          string // lower-cased
}

type approvalFilter struct {
	status string // lower-cased, "" = any
}

// scopedFilter covers every per-session topic.
type scopedFilter struct {
	sessionID      string
	subscriptionID string
}

// Matcher is a compiled subscription. The zero value matches nothing.
type Matcher struct {
	topic    types.Topic
	sessions sessionFilter
	approval approvalFilter
	scoped   scopedFilter
}

// Topic returns the topic this matcher was compiled for.
func (m Matcher) Topic() types.Topic { return m.topic }

// Compile parses a subscription into a Matcher. Unknown topics compile to a
// matcher that never matches.
func Compile(sub types.Subscription) Matcher {
	m := Matcher{topic: sub.Topic}
	f := sub.Filter
	if f == nil {
		f = map[string]any{}
	}

	switch sub.Topic {
	case types.TopicSessions:
		m.sessions = compileSessionFilter(f)
	case types.TopicApprovals:
		m.approval = approvalFilter{status: strings.ToLower(stringField(f, "status"))}
	case types.TopicEvents, types.TopicSnapshots, types.TopicTools, types.TopicUsage:
		m.scoped = scopedFilter{sessionID: stringField(f, "sessionId")}
	case types.TopicConsole:
		m.scoped = scopedFilter{
			sessionID:      stringField(f, "sessionId"),
			subscriptionID: stringField(f, "subscriptionId"),
		}
	default:
		m.topic = ""
	}
	return m
}

// CompileAll compiles subscriptions in order.
func CompileAll(subs []types.Subscription) []Matcher {
	out := make([]Matcher, 0, len(subs))
	for _, s := range subs {
		out = append(out, Compile(s))
	}
	return out
}

func compileSessionFilter(f map[string]any) sessionFilter {
	sf := sessionFilter{
		hostID:         stringField(f, "hostId"),
		provider:       stringField(f, "provider"),
		needsAttention: boolField(f, "needsAttention"),
	}

	ids := stringListField(f, "sessionIds")
	if id := stringField(f, "sessionId"); id != "" {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		sf.ids = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			sf.ids[id] = struct{}{}
		}
	}

	if statuses := stringListField(f, "status"); len(statuses) > 0 {
		sf.statuses = make(map[types.SessionStatus]struct{}, len(statuses))
		for _, s := range statuses {
			sf.statuses[types.NormalizeStatus(s)] = struct{}{}
		}
	}

	if boolField(f, "ungrouped") {
		sf.groupSet = true
	} else if g := stringField(f, "groupId"); g != "" {
		sf.groupSet = true
		if g != UngroupedSentinel {
			sf.groupID = g
		}
	}

	switch strings.ToLower(stringField(f, "archived")) {
	case "only":
		sf.archived = archivedOnly
	case "include", "all":
		sf.archived = archivedInclude
	}
	if boolField(f, "archivedOnly") {
		sf.archived = archivedOnly
	} else if boolField(f, "includeArchived") {
		sf.archived = archivedInclude
	}

	q := stringField(f, "q")
	if q == "" {
		q = stringField(f, "query")
	}
	sf.query = strings.ToLower(q)

	return sf
}

// matchSession reports whether a single session passes the filter.
func (sf sessionFilter) matchSession(s types.Session) bool {
	if sf.hostID != "" && s.HostID != sf.hostID {
		return false
	}
	if sf.ids != nil {
		if _, ok := sf.ids[s.ID]; !ok {
			return false
		}
	}
	if sf.statuses != nil {
		if _, ok := sf.statuses[types.NormalizeStatus(string(s.Status))]; !ok {
			return false
		}
	}
	if sf.provider != "" && !strings.EqualFold(s.Provider, sf.provider) {
		return false
	}
	if sf.groupSet && s.GroupID != sf.groupID {
		return false
	}
	switch sf.archived {
	case archivedHide:
		if s.Archived {
			return false
		}
	case archivedOnly:
		if !s.Archived {
			return false
		}
	case archivedInclude:
	}
	if sf.needsAttention && !types.NormalizeStatus(string(s.Status)).NeedsAttention() {
		return false
	}
	if sf.query != "" &&
		!containsFold(s.Title, sf.query) &&
		!containsFold(s.WorkingDir, sf.query) &&
		!containsFold(s.RepoRoot, sf.query) &&
		!containsFold(s.Branch, sf.query) {
		return false
	}
	return true
}

// matchDeleted reports whether a deleted id should be forwarded. Only an
// explicit id set narrows deletions.
func (sf sessionFilter) matchDeleted(id string) bool {
	if sf.ids == nil {
		return true
	}
	_, ok := sf.ids[id]
	return ok
}

func (af approvalFilter) match(kind types.EventKind, a types.Approval) bool {
	switch af.status {
	case "":
		return true
	case "pending":
		return kind == types.KindApprovalCreated
	case "decided":
		return kind == types.KindApprovalDecided
	default:
		return strings.EqualFold(string(a.Status), af.status)
	}
}

func (sc scopedFilter) match(evt types.Event) bool {
	if sc.sessionID != "" && evt.SessionID() != sc.sessionID {
		return false
	}
	if sc.subscriptionID != "" {
		out, ok := evt.Payload.(types.ConsoleOutput)
		if !ok || out.SubscriptionID != sc.subscriptionID {
			return false
		}
	}
	return true
}

// Match evaluates the event against this subscription alone.
func (m Matcher) Match(evt types.Event) (types.Event, bool) {
	return MatchAll([]Matcher{m}, evt)
}

// matchesScalar handles every kind whose payload is not narrowed.
func (m Matcher) matchesScalar(evt types.Event) bool {
	if m.topic == "" || m.topic != evt.Kind.Topic() {
		return false
	}
	switch m.topic {
	case types.TopicApprovals:
		p, ok := evt.Payload.(types.ApprovalPayload)
		if !ok {
			return false
		}
		return m.approval.match(evt.Kind, p.Approval)
	case types.TopicSessions:
		return false
	default:
		return m.scoped.match(evt)
	}
}

// MatchAll evaluates the event against every subscription of one
// connection and returns the union of what they allow. Session order and
// deleted-id order follow the published payload.
func MatchAll(matchers []Matcher, evt types.Event) (types.Event, bool) {
	if evt.Kind.Topic() != types.TopicSessions {
		for _, m := range matchers {
			if m.matchesScalar(evt) {
				return evt, true
			}
		}
		return types.Event{}, false
	}

	payload, ok := evt.Payload.(types.SessionsUpdated)
	if !ok {
		return types.Event{}, false
	}

	var filters []sessionFilter
	for _, m := range matchers {
		if m.topic == types.TopicSessions {
			filters = append(filters, m.sessions)
		}
	}
	if len(filters) == 0 {
		return types.Event{}, false
	}

	narrowed := types.SessionsUpdated{}
	for _, s := range payload.Sessions {
		for _, sf := range filters {
			if sf.matchSession(s) {
				narrowed.Sessions = append(narrowed.Sessions, s)
				break
			}
		}
	}
	for _, id := range payload.Deleted {
		for _, sf := range filters {
			if sf.matchDeleted(id) {
				narrowed.Deleted = append(narrowed.Deleted, id)
				break
			}
		}
	}

	if narrowed.Empty() {
		return types.Event{}, false
	}
	if narrowed.Sessions == nil {
		narrowed.Sessions = []types.Session{}
	}
	return types.Event{Kind: evt.Kind, Payload: narrowed}, true
}
