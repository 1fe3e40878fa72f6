package rating

import (
	"context"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

type targetKey struct{}

// WithDefaultTarget scopes a default write target to ctx. It overrides the
// coordinator's configured default but never an explicit per-call target.
func WithDefaultTarget(ctx context.Context, origin domain.Origin) context.Context {
	return context.WithValue(ctx, targetKey{}, origin)
}

// DefaultTarget returns the target scoped to ctx, if any.
func DefaultTarget(ctx context.Context) (domain.Origin, bool) {
	origin, ok := ctx.Value(targetKey{}).(domain.Origin)
	return origin, ok && origin.Valid()
}
