package types

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state an executor reports for a session.
type SessionStatus string

const (
	SessionStatusRunning          SessionStatus = "RUNNING"
	SessionStatusIdle             SessionStatus = "IDLE"
	SessionStatusAwaitingInput    SessionStatus = "AWAITING_INPUT"
	SessionStatusAwaitingApproval SessionStatus = "AWAITING_APPROVAL"
	SessionStatusError            SessionStatus = "ERROR"
	SessionStatusDone             SessionStatus = "DONE"
)

// NormalizeStatus upper-cases and trims a status string so "awaiting_input"
// and " AWAITING_INPUT" compare equal.
func NormalizeStatus(s string) SessionStatus {
	return SessionStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// NeedsAttention reports whether a session in this status is blocked on a human.
func (s SessionStatus) NeedsAttention() bool {
	switch s {
	case SessionStatusAwaitingInput, SessionStatusAwaitingApproval, SessionStatusError:
		return true
	default:
		return false
	}
}

// Session is the observer-facing view of one long-running agent session.
type Session struct {
	ID         string        `json:"id"`
	HostID     string        `json:"hostId"`
	Title      string        `json:"title,omitempty"`
	Status     SessionStatus `json:"status"`
	Provider   string        `json:"provider,omitempty"`
	GroupID    string        `json:"groupId,omitempty"` // empty = ungrouped
	Archived   bool          `json:"archived,omitempty"`
	WorkingDir string        `json:"workingDir,omitempty"`
	RepoRoot   string        `json:"repoRoot,omitempty"`
	Branch     string        `json:"branch,omitempty"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// ApprovalStatus tracks a tool-use approval request through its decision.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
)

// Approval is a request from an agent for a human to allow or deny an action.
type Approval struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	HostID    string         `json:"hostId,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	DecidedAt *time.Time     `json:"decidedAt,omitempty"`
	DecidedBy string         `json:"decidedBy,omitempty"`
}
