package auth

import "context"

type principalContextKey struct{}
type apiKeyContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User == nil || p.User.ID == "" {
		return "", false
	}
	return p.User.ID, true
}

// ContextWithAPIKey stores the verified API key record inside the context.
func ContextWithAPIKey(ctx context.Context, rec *APIKeyRecord) context.Context {
	if rec == nil {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey{}, rec)
}

// APIKeyFromContext returns the API key verified for this call.
func APIKeyFromContext(ctx context.Context) (*APIKeyRecord, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(apiKeyContextKey{}).(*APIKeyRecord)
	return v, ok && v != nil
}
