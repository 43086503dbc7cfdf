package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmint/storefront-checkout/internal/domain/auth"
)

func TestWrap_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

type fixedKeyRepo struct {
	info *auth.APIKeyInfo
}

func (r fixedKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if r.info != nil && r.info.KeyHash == hash {
		return r.info, nil
	}
	return nil, auth.ErrUnknownKey
}

func TestAPIKeyAuth(t *testing.T) {
	hasher := auth.NewHasher([]byte("pepper"))
	repo := fixedKeyRepo{info: &auth.APIKeyInfo{ID: "key-1", KeyHash: hasher.Hash("secret")}}

	var reached bool
	h := APIKeyAuth(hasher, repo)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid key", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-API-Key", "secret")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.True(t, reached)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-API-Key", "nope")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
