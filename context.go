package eventstream

import (
	"context"
)

type ctxKey string

const (
	causationKey ctxKey = "causation"
)

// WithCausation records the id of whatever caused the appends made with ctx.
// Instrumented stores copy it into the metadata of the events they append.
func WithCausation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CausationFromContext returns the causation id or "" if not present
func CausationFromContext(ctx context.Context) string {
	if v := ctx.Value(causationKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
