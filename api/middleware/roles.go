package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/carousel-backend/api/responses"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

// RequireRole admits only callers whose token carries one of the roles.
func RequireRole(logg *logger.Logger, roles ...enums.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(roles, CallerFromContext(r.Context()).Role) {
				next.ServeHTTP(w, r)
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
		})
	}
}
