package reconcile

import (
	"context"

	"taskboard/domain"
)

// TaskGateway is the remote task service the mutator reconciles against.
//
// ListTasksForAssignee returns the complete current set of tasks for the
// assignee, or every task when assigneeID is empty. SetTaskStatus must be
// idempotent from the caller's side.
type TaskGateway interface {
	ListTasksForAssignee(ctx context.Context, assigneeID string) ([]domain.Task, error)
	SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error
}

type bypassKey struct{}

// WithCacheBypass marks ctx so caching gateways read from their backend.
// The mutator sets it on recovery reloads.
func WithCacheBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

// CacheBypassed reports whether ctx was marked by WithCacheBypass.
func CacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}
