package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
)

const actorKey contextKey = "actor"

// AuthContext extracts the calling admin's identity from the trusted
// X-Admin-ID and X-Admin-Role headers set by the upstream auth layer.
// The fabric trusts this identity without re-validating credentials;
// requests without a parsable identity are rejected.
func AuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, err := strconv.ParseInt(r.Header.Get("X-Admin-ID"), 10, 64)
		if err != nil || adminID <= 0 {
			http.Error(w, `{"error":"missing admin identity"}`, http.StatusUnauthorized)
			return
		}
		role, err := domain.ParseRole(r.Header.Get("X-Admin-Role"))
		if err != nil {
			http.Error(w, `{"error":"unknown admin role"}`, http.StatusUnauthorized)
			return
		}

		actor := domain.Actor{AdminID: adminID, Role: role}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor retrieves the identity stored by AuthContext.
func GetActor(ctx context.Context) domain.Actor {
	v, _ := ctx.Value(actorKey).(domain.Actor)
	return v
}
