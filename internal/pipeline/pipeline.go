// Package pipeline executes a content operation's planned steps against a
// static, explicitly registered set of handlers. Per the engine's
// re-architecture notes, handlers are looked up by step-name token in a
// plain map built once at node-assembly time — never by reflection over a
// loadable handler type, and never via a back-pointer from handler to
// orchestrator. A handler only gets the capabilities it needs (the content
// fields for this step), not a reference to the pipeline itself.
package pipeline

import (
	"context"

	"github.com/localkb/localkb/internal/kberrors"
)

// Fields is the content payload a step handler needs. FTS handlers consume
// Title/Description/Content; vector handlers consume Content only.
type Fields struct {
	Title       string
	Description string
	Content     string
}

// Handler performs one step's work (index into one search index, or remove
// from it) for contentID.
type Handler func(ctx context.Context, contentID string, fields Fields) error

// Step is one entry of an operation's planned_steps.
type Step struct {
	// Token is the step's identity, e.g. "index:fts1" or "index:fts1:delete".
	Token string
	// Required marks the step as fail-the-operation on error (§3 SearchIndexDescriptor.required).
	Required bool
}

// StatusStore persists per-step status transitions for one operation. A
// content store implements this against its operation_steps table.
type StatusStore interface {
	MarkRunning(ctx context.Context, operationID, stepToken string) error
	MarkCompleted(ctx context.Context, operationID, stepToken string) error
	MarkFailed(ctx context.Context, operationID, stepToken, errMsg string) error
}

// Registry maps step tokens to handlers. Built once per node at assembly
// time from its configured search indexes; read-only thereafter.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds token to handler. Re-registering a token replaces it.
func (r *Registry) Register(token string, h Handler) {
	r.handlers[token] = h
}

// Lookup returns the handler bound to token, if any.
func (r *Registry) Lookup(token string) (Handler, bool) {
	h, ok := r.handlers[token]
	return h, ok
}

// Result summarizes a Drive call.
type Result struct {
	// Completed is true iff every step reached status completed.
	Completed bool
	// Error is a human-readable summary of the first failed step, required
	// or not, empty if every step succeeded.
	Error string
}

// Drive executes steps in declared order against registry, recording
// status transitions through status. A step whose handler fails is marked
// failed and recorded in Result.Error; execution continues to the next
// step unless the failing step is Required, in which case Drive returns
// immediately with Completed=false.
func Drive(ctx context.Context, registry *Registry, status StatusStore, operationID, contentID string, fields Fields, steps []Step) Result {
	result := Result{Completed: true}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			result.Completed = false
			result.Error = err.Error()
			return result
		}

		if err := status.MarkRunning(ctx, operationID, step.Token); err != nil {
			result.Completed = false
			if result.Error == "" {
				result.Error = err.Error()
			}
			continue
		}

		handler, ok := registry.Lookup(step.Token)
		var err error
		if !ok {
			err = kberrors.Newf(kberrors.IndexNotFound, "no handler registered for step %q", step.Token)
		} else {
			err = handler(ctx, contentID, fields)
		}

		if err != nil {
			_ = status.MarkFailed(ctx, operationID, step.Token, err.Error())
			result.Completed = false
			if result.Error == "" {
				result.Error = err.Error()
			}
			if step.Required {
				return result
			}
			continue
		}

		if err := status.MarkCompleted(ctx, operationID, step.Token); err != nil {
			result.Completed = false
			if result.Error == "" {
				result.Error = err.Error()
			}
		}
	}

	return result
}
