// Package auditctx carries the caller behind a mutation from the HTTP layer or a scheduled job
// down to the audit trail.
package auditctx

import "context"

// Actor identifies who triggered a mutation. HTTP requests set UserID; background jobs set Job.
type Actor struct {
	UserID    string
	IsAdmin   bool
	IPAddress string
	UserAgent string
	RequestID string
	Job       string
}

// IsJob reports whether the actor is a scheduled or CLI job rather than a user.
func (a Actor) IsJob() bool { return a.Job != "" && a.UserID == "" }

type actorKey struct{}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ForJob marks ctx as running on behalf of the named job.
func ForJob(ctx context.Context, job string) context.Context {
	return WithActor(ctx, Actor{Job: job, UserAgent: "lifelink/" + job})
}

// FromContext returns the actor stored on ctx.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
