package api

import (
	"net/http"

	"github.com/laventecare/corebac/internal/api/helpers"
	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
)

// JWKSHandler serves GET /.well-known/jwks.json: the tenant's active
// and overlap signing keys, ready for RP-side verification.
func (s *Server) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, err := customMiddleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	set, err := s.Keys.JWKS(r.Context(), tenantID)
	if err != nil {
		s.Logger.Error("jwks lookup failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "jwks lookup failed")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, set)
}

// OpenIDConfigurationHandler serves GET /.well-known/openid-configuration.
// A minimal, tenant-scoped discovery document: only the fields the
// introspection, UserInfo, and JWKS surfaces this server actually
// exposes. Authorization and token endpoints are out of scope — this
// server never issues tokens, only validates and projects them — so
// those URLs are omitted rather than pointed at a nonexistent route.
func (s *Server) OpenIDConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := customMiddleware.GetTenantID(r.Context())

	issuer := s.IssuerURL
	jwksURI := issuer + "/.well-known/jwks.json"
	userinfoEndpoint := issuer + "/userinfo"
	introspectionEndpoint := issuer + "/api/introspect"

	helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                issuer,
		"jwks_uri":                              jwksURI,
		"userinfo_endpoint":                     userinfoEndpoint,
		"introspection_endpoint":                introspectionEndpoint,
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported":  []string{"RS256"},
		"userinfo_signing_alg_values_supported":  []string{"RS256"},
		"userinfo_encryption_alg_values_supported": []string{"RSA-OAEP-256"},
		"claims_parameter_supported":             true,
		"tenant_id":                              tenantID,
	})
}
