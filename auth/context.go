package auth

import "context"

type decisionKey struct{}

// NewContext returns ctx carrying an allowed decision.
func NewContext(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// FromContext returns the decision stored by NewContext.
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok && d.Allowed
}

// PrincipalFromContext returns the authorized subject, or "".
func PrincipalFromContext(ctx context.Context) string {
	d, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return d.PrincipalID
}
