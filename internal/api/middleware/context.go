package middleware

import (
	"context"
	"fmt"

	"github.com/laventecare/corebac/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// Context keys for request-scoped values. Every identifier in this
// domain — tenant, subject, client — is a plain string (a UUID-shaped
// value in practice, but never parsed to uuid.UUID on the request
// path; only the storage layer parses tenant IDs, and it tolerates a
// parse failure as a lookup miss rather than a panic).
const (
	TenantIDKey contextKey = "tenant_id"
	SubjectKey  contextKey = "subject"
	ClientIDKey contextKey = "client_id"
	ClaimsKey   contextKey = "claims"
)

// GetTenantID extracts the tenant ID injected by TenantContext.
func GetTenantID(ctx context.Context) (string, error) {
	val, _ := ctx.Value(TenantIDKey).(string)
	if val == "" {
		return "", fmt.Errorf("tenant_id not found in context")
	}
	return val, nil
}

// GetSubject extracts the authenticated subject injected by
// AuthMiddleware.
func GetSubject(ctx context.Context) (string, error) {
	val, _ := ctx.Value(SubjectKey).(string)
	if val == "" {
		return "", fmt.Errorf("subject not found in context")
	}
	return val, nil
}

// GetClientID extracts the authenticated token's client_id, injected by
// AuthMiddleware.
func GetClientID(ctx context.Context) (string, error) {
	val, _ := ctx.Value(ClientIDKey).(string)
	if val == "" {
		return "", fmt.Errorf("client_id not found in context")
	}
	return val, nil
}

// GetClaims extracts the full verified token record injected by
// AuthMiddleware, for handlers (userinfo) that need more than the
// subject/client_id shortcuts.
func GetClaims(ctx context.Context) (*model.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*model.Claims)
	return claims, ok
}

// MustGetTenantID extracts the tenant ID and panics if missing. Use
// only in handlers mounted behind TenantContext with a required
// header.
func MustGetTenantID(ctx context.Context) string {
	id, err := GetTenantID(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return id
}

// MustGetSubject extracts the subject and panics if missing. Use only
// in handlers mounted behind AuthMiddleware.
func MustGetSubject(ctx context.Context) string {
	sub, err := GetSubject(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return sub
}
