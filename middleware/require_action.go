package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// PermissionChecker answers per-resource action checks. *authcore.Engine
// satisfies it.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, resourceID, action string) (bool, error)
}

// RequireAction lets a request through only when the authenticated user may
// perform action on the resource named by resourceID(r). It must run after
// [RequireAuth]. Check failures are reported as 503 so callers can retry.
func RequireAction(checker PermissionChecker, action string, resourceID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}

			resource := resourceID(r)
			if resource == "" {
				writeError(w, http.StatusBadRequest, "missing resource")
				return
			}

			allowed, err := checker.CheckPermission(r.Context(), claims.UserID, resource, action)
			if err != nil {
				log.Ctx(r.Context()).Error().Err(err).
					Str("user_id", claims.UserID).
					Str("resource_id", resource).
					Msg("permission check failed")
				writeError(w, http.StatusServiceUnavailable, "permission check unavailable")
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
