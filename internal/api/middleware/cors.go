package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// NewCORS builds a static-origin-list CORS middleware. The teacher's
// DynamicCorsMiddleware resolved allowed origins per tenant from a
// database row; this domain's clients are machine-to-machine
// (introspection, userinfo, check, ReBAC admin), so a single
// operator-configured allow-list serves every tenant alike.
func NewCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Tenant-ID", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           int(5 * time.Minute / time.Second),
	})
}
