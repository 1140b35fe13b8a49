package authcore

import "context"

type ctxKey string

const (
	ctxKeyPrincipal ctxKey = "authcore_principal"
	ctxKeyRequestID ctxKey = "authcore_request_id"
)

// WithPrincipal stores the resolved principal in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext extracts the resolved principal from the context, or
// nil when the request is unauthenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	v, _ := ctx.Value(ctxKeyPrincipal).(*Principal)
	return v
}

// WithRequestID stores the request correlation id in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request correlation id from the context.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}
