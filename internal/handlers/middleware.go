package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/safar/go-order-engine/internal/models"
)

type identityKey struct{}

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// IdentityMiddleware reads the caller resolved by the gateway. Requests with
// no user id may still carry an anonymous cart token as a bearer token or a
// token query parameter.
func (h *Handler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity models.Identity

		if raw := r.Header.Get(headerUserID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id < 1 {
				h.respondError(w, r, models.ErrUnauthorized)
				return
			}
			identity.UserID = id
			identity.Role = models.RoleUser
			if role := strings.ToLower(r.Header.Get(headerUserRole)); role == models.RoleAdmin {
				identity.Role = models.RoleAdmin
			}
		}

		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			identity.Token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
		if identity.Token == "" {
			identity.Token = r.URL.Query().Get("token")
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) models.Identity {
	identity, _ := ctx.Value(identityKey{}).(models.Identity)
	return identity
}
