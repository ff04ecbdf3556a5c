package router

import (
	"context"

	"github.com/cvsloane/agent-commander/internal/types"
)

// PublishSessions announces changed and deleted sessions. Nothing is sent
// when both are empty.
func (r *Router) PublishSessions(ctx context.Context, sessions []types.Session, deleted []string) {
	p := types.SessionsUpdated{Sessions: sessions, Deleted: deleted}
	if p.Empty() {
		return
	}
	r.Publish(ctx, types.Event{Kind: types.KindSessionsUpdated, Payload: p})
}

func (r *Router) PublishApprovalCreated(ctx context.Context, a types.Approval) {
	r.Publish(ctx, types.Event{Kind: types.KindApprovalCreated, Payload: types.ApprovalPayload{Approval: a}})
}

func (r *Router) PublishApprovalDecided(ctx context.Context, a types.Approval) {
	r.Publish(ctx, types.Event{Kind: types.KindApprovalDecided, Payload: types.ApprovalPayload{Approval: a}})
}

func (r *Router) PublishSessionEvent(ctx context.Context, e types.SessionEvent) {
	r.Publish(ctx, types.Event{Kind: types.KindSessionEvent, Payload: e})
}

func (r *Router) PublishConsole(ctx context.Context, out types.ConsoleOutput) {
	r.Publish(ctx, types.Event{Kind: types.KindConsoleOutput, Payload: out})
}

func (r *Router) PublishSnapshot(ctx context.Context, s types.SessionSnapshot) {
	r.Publish(ctx, types.Event{Kind: types.KindSessionSnapshot, Payload: s})
}

func (r *Router) PublishToolActivity(ctx context.Context, t types.ToolActivity) {
	r.Publish(ctx, types.Event{Kind: types.KindToolActivity, Payload: t})
}

func (r *Router) PublishUsage(ctx context.Context, u types.UsageUpdate) {
	r.Publish(ctx, types.Event{Kind: types.KindUsageUpdated, Payload: u})
}
