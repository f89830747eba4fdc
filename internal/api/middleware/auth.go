package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/laventecare/corebac/internal/model"
)

// TokenVerifier authenticates a bearer access token against a specific
// tenant's active signing-key material and revocation state. The
// concrete implementation (internal/api's tokenVerifier) wires
// keystore.KeyStore and revocation.Store the same way the
// introspection engine does, minus the client-authentication and
// strict-mode steps that don't apply to an inbound API call.
type TokenVerifier interface {
	Verify(ctx context.Context, tenantID, token string) (*model.Claims, error)
}

// AuthMiddleware requires a valid "Authorization: Bearer <token>"
// header, verifies it against the tenant already on the request
// context (TenantContext must run first and the header must be
// present — a bearer-authenticated call always names its tenant), and
// injects the verified subject and client_id.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := GetTenantID(r.Context())
			if err != nil {
				http.Error(w, "X-Tenant-ID header required", http.StatusBadRequest)
				return
			}

			authHeader := r.Header.Get("Authorization")
			scheme, token, ok := splitAuthHeader(authHeader)
			if !ok || (scheme != "Bearer" && scheme != "DPoP") {
				http.Error(w, "bearer token required", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(r.Context(), tenantID, token)
			if err != nil {
				slog.Warn("token verification failed", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			ctx = context.WithValue(ctx, ClientIDKey, claims.ClientID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			SetSentryUser(ctx, claims.Subject, "", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func splitAuthHeader(header string) (scheme, token string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
