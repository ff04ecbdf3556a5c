package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/types"
)

// AlerterOptions configures the Alerter.
type AlerterOptions struct {
	// BaseURL is the UI root used to build session links. Optional.
	BaseURL string
}

// Alerter turns published domain events into notification candidates. It
// satisfies router.Listener.
type Alerter struct {
	engine     *Engine
	recipients *RecipientStore
	logger     *zap.Logger
	opts       AlerterOptions

	mu       sync.Mutex
	sessions map[string]types.Session // last seen state per session
}

// NewAlerter creates an Alerter that feeds engine for every recipient in rs.
func NewAlerter(engine *Engine, rs *RecipientStore, logger *zap.Logger, opts AlerterOptions) *Alerter {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Alerter{
		engine:     engine,
		recipients: rs,
		logger:     logger.Named("alerter"),
		opts:       opts,
		sessions:   make(map[string]types.Session),
	}
}

type candidate struct {
	kind   Kind
	meta   Meta
	render RenderFunc
}

// OnEvent derives candidates from evt and offers each to every recipient.
func (a *Alerter) OnEvent(_ context.Context, evt types.Event) {
	var candidates []candidate
	switch p := evt.Payload.(type) {
	case types.SessionsUpdated:
		candidates = a.sessionCandidates(p)
	case types.ApprovalPayload:
		if evt.Kind == types.KindApprovalCreated {
			candidates = append(candidates, a.approvalCandidate(p.Approval))
		}
	}
	if len(candidates) == 0 {
		return
	}

	for _, r := range a.recipients.Recipients() {
		for _, c := range candidates {
			a.engine.Consider(r, c.kind, c.render, c.meta)
		}
	}
}

// sessionCandidates records the new states and returns one candidate per
// status transition worth alerting on. The first sighting of a session only
// records a baseline.
func (a *Alerter) sessionCandidates(p types.SessionsUpdated) []candidate {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []candidate
	for _, s := range p.Sessions {
		prev, known := a.sessions[s.ID]
		a.sessions[s.ID] = s
		if !known || s.Archived {
			continue
		}
		status := types.NormalizeStatus(string(s.Status))
		if status == types.NormalizeStatus(string(prev.Status)) {
			continue
		}
		kind, actionable, ok := transitionKind(status)
		if !ok {
			continue
		}
		session := s
		out = append(out, candidate{
			kind: kind,
			meta: Meta{
				Actionable: actionable,
				SessionID:  s.ID,
				Status:     string(status),
				Provider:   s.Provider,
			},
			render: func() Message { return a.renderSession(kind, actionable == Actionable, session) },
		})
	}

	for _, id := range p.Deleted {
		delete(a.sessions, id)
		if n := a.engine.PurgeSession(id); n > 0 {
			a.logger.Debug("Purged notification state for deleted session",
				zap.String("session", id), zap.Int("entries", n))
		}
	}
	return out
}

func (a *Alerter) approvalCandidate(ap types.Approval) candidate {
	a.mu.Lock()
	session, known := a.sessions[ap.SessionID]
	a.mu.Unlock()

	provider := ""
	if known {
		provider = session.Provider
	}
	return candidate{
		kind: KindApprovalRequested,
		meta: Meta{
			Actionable: Actionable,
			SessionID:  ap.SessionID,
			ApprovalID: ap.ID,
			Status:     string(types.ApprovalStatusPending),
			Provider:   provider,
		},
		render: func() Message { return a.renderApproval(ap, session) },
	}
}

// transitionKind maps a new session status to the alert it triggers.
// Awaiting approval is covered by the approval itself.
func transitionKind(s types.SessionStatus) (Kind, Actionability, bool) {
	switch s {
	case types.SessionStatusAwaitingInput:
		return KindAwaitingInput, Actionable, true
	case types.SessionStatusError:
		return KindSessionError, Actionable, true
	case types.SessionStatusDone:
		return KindSessionCompleted, Informational, true
	case types.SessionStatusIdle:
		return KindSessionIdle, Informational, true
	default:
		return "", ActionabilityUnknown, false
	}
}

func (a *Alerter) renderSession(kind Kind, actionable bool, s types.Session) Message {
	name := sessionName(s)
	var title string
	switch kind {
	case KindAwaitingInput:
		title = fmt.Sprintf("%s is waiting for input", name)
	case KindSessionError:
		title = fmt.Sprintf("%s hit an error", name)
	case KindSessionCompleted:
		title = fmt.Sprintf("%s finished", name)
	case KindSessionIdle:
		title = fmt.Sprintf("%s is idle", name)
	default:
		title = name
	}
	return Message{
		Kind:       kind,
		Title:      title,
		Body:       sessionBody(s),
		SessionID:  s.ID,
		HostID:     s.HostID,
		Link:       a.sessionLink(s.ID),
		Actionable: actionable,
		CreatedAt:  time.Now().UTC(),
	}
}

func (a *Alerter) renderApproval(ap types.Approval, s types.Session) Message {
	title := fmt.Sprintf("Approval needed: %s", ap.Tool)
	if s.ID != "" {
		title = fmt.Sprintf("Approval needed in %s: %s", sessionName(s), ap.Tool)
	}
	return Message{
		Kind:       KindApprovalRequested,
		Title:      title,
		Body:       ap.Summary,
		SessionID:  ap.SessionID,
		ApprovalID: ap.ID,
		HostID:     ap.HostID,
		Link:       a.sessionLink(ap.SessionID),
		Actionable: true,
		CreatedAt:  time.Now().UTC(),
	}
}

func (a *Alerter) sessionLink(sessionID string) string {
	if a.opts.BaseURL == "" || sessionID == "" {
		return ""
	}
	return a.opts.BaseURL + "/sessions/" + sessionID
}

func sessionName(s types.Session) string {
	if s.Title != "" {
		return s.Title
	}
	return "Session " + s.ID
}

func sessionBody(s types.Session) string {
	var parts []string
	if s.HostID != "" {
		parts = append(parts, "host "+s.HostID)
	}
	if s.Provider != "" {
		parts = append(parts, s.Provider)
	}
	if s.Branch != "" {
		parts = append(parts, "branch "+s.Branch)
	}
	return strings.Join(parts, " · ")
}
