package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// TenantContext validates the X-Tenant-ID header, when present, and
// injects it into the request context and Sentry scope.
//
// Every engine in this tree (tenant.ClientRegistry, keystore.KeyStore,
// revocation.Store, account.Store, rebac.PgStore) opens its own
// short-lived storage.WithTenantContext transaction per call rather
// than expecting a transaction handed down from the request boundary,
// so — unlike the teacher's version of this middleware — there is no
// whole-request transaction to wrap here. This middleware's only job
// is getting a trustworthy tenant ID onto the context before a handler
// or AuthMiddleware needs one.
//
// The header is optional at this layer: endpoints that require a
// tenant (introspect, userinfo, the ReBAC admin surface) enforce that
// requirement themselves by calling GetTenantID and failing closed on
// error, so /health and other tenant-less routes are unaffected.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantIDStr := r.Header.Get("X-Tenant-ID")
		if tenantIDStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		if _, err := uuid.Parse(tenantIDStr); err != nil {
			slog.Warn("invalid tenant id header", "value", tenantIDStr, "ip", r.RemoteAddr)
			http.Error(w, "invalid tenant id", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenantIDStr)
		SetSentryTenant(ctx, tenantIDStr, "header-provided")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
