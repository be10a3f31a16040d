package graph

import "context"

type resumeValueKey struct{}

// resumeHolder carries the resume value through the invocation.
// Taking the value clears it, so a node revisited after a loop edge
// does not observe a stale action.
type resumeHolder struct {
	value any
}

// WithResumeValue adds a resume value to the context.
// The value is returned (once) by Interrupt() when re-executing a node.
func WithResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeValueKey{}, &resumeHolder{value: value})
}

// TakeResumeValue retrieves and consumes the resume value from the context.
// Returns nil when no resume value is pending.
func TakeResumeValue(ctx context.Context) any {
	holder, ok := ctx.Value(resumeValueKey{}).(*resumeHolder)
	if !ok || holder.value == nil {
		return nil
	}
	v := holder.value
	holder.value = nil
	return v
}

// Config controls a single invocation of a compiled graph.
type Config struct {
	// ResumeFrom is the node to start from instead of the entry point.
	ResumeFrom string

	// ResumeValue is delivered to Interrupt() inside the resumed node.
	ResumeValue any
}
