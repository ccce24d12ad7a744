package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dm-go/internal/auth"
	"dm-go/internal/config"
)

func protectedHandler(t *testing.T, blacklist auth.TokenBlacklist) http.Handler {
	t.Helper()
	return AuthMiddleware("k", blacklist)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, uint(3), userID)
		username, _ := GetUsernameFromContext(r.Context())
		_, ok = GetClaimsFromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("X-User", username)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthMiddleware(t *testing.T) {
	token, err := auth.GenerateToken(3, "carol", config.AuthConfig{JWTSecretKey: "k", JWTExpiry: time.Hour})
	require.NoError(t, err)
	h := protectedHandler(t, nil)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "carol", rec.Header().Get("X-User"))
	})

	t.Run("query token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Token "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("revoked", func(t *testing.T) {
		bl := auth.NewMemoryBlacklist()
		claims, err := auth.ValidateToken(context.Background(), token, "k", nil)
		require.NoError(t, err)
		require.NoError(t, bl.Add(context.Background(), claims.ID, claims.ExpiresAt.Time))

		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protectedHandler(t, bl).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
