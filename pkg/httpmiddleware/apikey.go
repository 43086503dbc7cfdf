package httpmiddleware

import (
	"net/http"

	"github.com/oakmint/storefront-checkout/internal/domain/auth"
)

// APIKeyAuth returns a middleware that authenticates requests via the
// X-API-Key header against HMAC-hashed keys in the repository. Requests
// without a valid key get 401 with a JSON body.
func APIKeyAuth(hasher *auth.Hasher, repo auth.Repository) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
			if _, err := hasher.Verify(r.Context(), repo, rawKey); err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
