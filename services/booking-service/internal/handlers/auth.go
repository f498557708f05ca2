package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptremind/libs/auth"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type actorKey struct{}

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-Role"
)

// TokenVerifier is satisfied by *auth.Verifier.
type TokenVerifier interface {
	Enabled() bool
	Verify(token string) (*auth.Claims, error)
}

// requireActor resolves the caller. With a verifier configured the bearer
// token is authoritative and identity headers from the client are replaced;
// otherwise the headers set by the upstream gateway are trusted.
func requireActor(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(headerUserID))
			role := r.Header.Get(headerRole)

			if verifier != nil && verifier.Enabled() {
				authHeader := r.Header.Get("Authorization")
				token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
				if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
					writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing or invalid Authorization header"})
					return
				}
				claims, err := verifier.Verify(token)
				if err != nil {
					logger.Debug("token rejected", "err", err)
					writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "invalid token"})
					return
				}
				userID, role = claims.Subject, claims.Role
				r.Header.Set(headerUserID, userID)
				r.Header.Set(headerRole, role)
			}

			kind, ok := model.ParseActorKind(role)
			if userID == "" || !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "caller identity is required"})
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, model.Actor{Kind: kind, ID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole rejects callers whose role is not listed.
func requireRole(kinds ...model.ActorKind) func(http.Handler) http.Handler {
	allowed := make(map[model.ActorKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[actorFrom(r).Kind]; !ok {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "role not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(r *http.Request) model.Actor {
	a, _ := r.Context().Value(actorKey{}).(model.Actor)
	return a
}
