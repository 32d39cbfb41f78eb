package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the verified principal to the request context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext returns the principal attached by the authorizer, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || p == nil || p.Subject == "" {
		return Principal{}, false
	}
	return *p, true
}
