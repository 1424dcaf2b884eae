package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/models"
)

// UserVerifier resolves a primary user's bearer token.
type UserVerifier interface {
	VerifyUser(ctx context.Context, token string) (*models.Profile, error)
}

type ctxKey int

const (
	userKey ctxKey = iota
	spectatorKey
)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// RequireUser rejects requests without a valid primary bearer token and
// stores the caller's profile in the request context.
func RequireUser(v UserVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Missing auth token")
				return
			}
			profile, err := v.VerifyUser(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid auth token")
				return
			}
			ctx := context.WithValue(r.Context(), userKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the profile stored by RequireUser.
func UserFromContext(ctx context.Context) *models.Profile {
	p, _ := ctx.Value(userKey).(*models.Profile)
	return p
}

// RequireSpectator verifies a capability token from the Authorization
// header or, for websocket clients, the token query parameter. Tokens
// whose deadline has passed are rejected even when the signature holds.
func RequireSpectator(v capability.Verifier, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Missing spectator token")
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid spectator token")
				return
			}
			if claims.Role != capability.RoleSpectator {
				writeError(w, http.StatusUnauthorized, "Invalid spectator token")
				return
			}
			if now().UnixMilli() >= claims.ExpiresAt {
				writeError(w, http.StatusUnauthorized, "Spectator token expired")
				return
			}
			ctx := context.WithValue(r.Context(), spectatorKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SpectatorFromContext returns the claims stored by RequireSpectator.
func SpectatorFromContext(ctx context.Context) *capability.Claims {
	c, _ := ctx.Value(spectatorKey).(*capability.Claims)
	return c
}

// RequireRoomAccess authorizes the spectator for the {roomId} URL param.
// Must run after RequireSpectator.
func RequireRoomAccess(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roomID := chi.URLParam(r, "roomId")
			err := capability.Authorize(SpectatorFromContext(r.Context()), roomID, now())
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, capability.ErrRoomDenied):
				writeError(w, http.StatusForbidden, "Access to this room is not granted")
			case errors.Is(err, capability.ErrTokenExpired):
				writeError(w, http.StatusUnauthorized, "Spectator token expired")
			default:
				writeError(w, http.StatusUnauthorized, "Invalid spectator token")
			}
		})
	}
}
