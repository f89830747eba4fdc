package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTenantContext_NoHeader_PassesThroughWithoutTenantID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := customMiddleware.GetTenantID(r.Context())
		assert.Error(t, err, "tenant id should be absent when no header is sent")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	customMiddleware.TenantContext(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTenantContext_InvalidUUID_Returns400(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for an invalid tenant id")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/check", nil)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rr := httptest.NewRecorder()

	customMiddleware.TenantContext(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTenantContext_ValidHeader_InjectsTenantID(t *testing.T) {
	tenantID := uuid.New().String()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := customMiddleware.GetTenantID(r.Context())
		assert.NoError(t, err)
		assert.Equal(t, tenantID, got)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/check", nil)
	req.Header.Set("X-Tenant-ID", tenantID)
	rr := httptest.NewRecorder()

	customMiddleware.TenantContext(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
