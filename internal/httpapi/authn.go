package httpapi

import (
	"net/http"

	"authcore.dev/internal/auth"
)

// APIKeyHeader carries "key:secret".
const APIKeyHeader = "X-Api-Key"

// requestContext lifts what guards need out of the request, keeping anything
// already resolved by an outer guard.
func requestContext(r *http.Request) auth.RequestContext {
	rc := auth.RequestContext{
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get(APIKeyHeader),
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		rc.Principal = &p
	}
	if k, ok := auth.APIKeyFromContext(r.Context()); ok {
		rc.Key = k
	}
	return rc
}

// guard turns a guard chain into middleware. The first failing guard decides
// the response.
func (a *API) guard(guards ...auth.Guard) func(http.Handler) http.Handler {
	chain := auth.Chain(guards...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, err := chain(r.Context(), requestContext(r))
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithRequest(r.Context(), rc)))
		})
	}
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.User == nil {
		writeAuthError(w, r, auth.ErrTokenInvalid)
		return auth.Principal{}, false
	}
	return p, true
}
