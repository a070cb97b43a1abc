package controllers

import (
	"net/http"

	"github.com/angelmondragon/carousel-backend/api/middleware"
	"github.com/angelmondragon/carousel-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// WhoAmI echoes the identity carried by the caller's service token.
func WhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := middleware.CallerFromContext(r.Context())
		responses.WriteSuccess(w, map[string]string{
			"subject":    caller.Subject,
			"role":       string(caller.Role),
			"request_id": middleware.RequestIDFromContext(r.Context()),
		})
	}
}
