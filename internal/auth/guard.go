package auth

import (
	"context"
	"slices"
	"strings"
)

// RequestContext is the transport-neutral view of an inbound call that guards
// read and enrich.
type RequestContext struct {
	Authorization string
	APIKey        string

	Principal *Principal
	Key       *APIKeyRecord
}

// Guard checks one precondition. Guards are pure apart from store lookups and
// return the possibly enriched request context.
type Guard func(ctx context.Context, rc RequestContext) (RequestContext, error)

// Chain runs guards in order and stops at the first failure.
func Chain(guards ...Guard) Guard {
	return func(ctx context.Context, rc RequestContext) (RequestContext, error) {
		var err error
		for _, g := range guards {
			if rc, err = g(ctx, rc); err != nil {
				return rc, err
			}
		}
		return rc, nil
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// APIKeyGuard requires a valid API key.
func (s *Service) APIKeyGuard() Guard {
	return func(ctx context.Context, rc RequestContext) (RequestContext, error) {
		rec, err := s.AuthenticateAPIKey(ctx, rc.APIKey)
		if err != nil {
			return rc, err
		}
		rc.Key = rec
		return rc, nil
	}
}

// BearerGuard requires a valid access token and resolves the principal.
func (s *Service) BearerGuard() Guard {
	return func(ctx context.Context, rc RequestContext) (RequestContext, error) {
		token, ok := BearerToken(rc.Authorization)
		if !ok {
			return rc, s.rejectToken(ctx, ErrTokenMalformed)
		}
		p, err := s.AuthenticateToken(ctx, token)
		if err != nil {
			return rc, err
		}
		rc.Principal = &p
		return rc, nil
	}
}

// RequireAPIKeyType restricts the call to the given key types. It must run
// after APIKeyGuard.
func RequireAPIKeyType(types ...APIKeyType) Guard {
	return func(_ context.Context, rc RequestContext) (RequestContext, error) {
		if rc.Key == nil {
			return rc, ErrAPIKeyNotFound
		}
		if !slices.Contains(types, rc.Key.Type) {
			return rc, ErrForbidden
		}
		return rc, nil
	}
}

// RequireRoleType restricts the call to principals of the given role types.
// It must run after BearerGuard.
func RequireRoleType(types ...RoleType) Guard {
	return func(_ context.Context, rc RequestContext) (RequestContext, error) {
		if rc.Principal == nil {
			return rc, ErrTokenInvalid
		}
		if !slices.Contains(types, rc.Principal.RoleType()) {
			return rc, ErrForbidden
		}
		return rc, nil
	}
}

// RequireAbilities requires every listed ability. It must run after BearerGuard.
func (s *Service) RequireAbilities(required ...Ability) Guard {
	return func(ctx context.Context, rc RequestContext) (RequestContext, error) {
		if rc.Principal == nil {
			return rc, ErrTokenInvalid
		}
		if err := s.AuthorizeAll(ctx, *rc.Principal, required); err != nil {
			return rc, err
		}
		return rc, nil
	}
}

// ContextWithRequest attaches the resolved principal and API key to ctx.
func ContextWithRequest(ctx context.Context, rc RequestContext) context.Context {
	if rc.Principal != nil {
		ctx = ContextWithPrincipal(ctx, *rc.Principal)
	}
	if rc.Key != nil {
		ctx = ContextWithAPIKey(ctx, rc.Key)
	}
	return ctx
}
