package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/laventecare/corebac/internal/api/helpers"
	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
	"github.com/laventecare/corebac/internal/audit"
	"github.com/laventecare/corebac/internal/introspection"
)

// IntrospectHandler serves RFC 7662 token introspection: form-encoded
// credentials, client authentication folded into the engine, and a
// response whose shape never distinguishes "inactive" from
// "doesn't exist" beyond the minimality invariant the engine already
// enforces.
func (s *Server) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	tenantID, _ := customMiddleware.GetTenantID(r.Context())

	req := introspection.Request{
		Token:               r.Form.Get("token"),
		TokenTypeHint:       r.Form.Get("token_type_hint"),
		ClientID:            r.Form.Get("client_id"),
		ClientSecret:        r.Form.Get("client_secret"),
		ClientAssertion:     r.Form.Get("client_assertion"),
		ClientAssertionType: r.Form.Get("client_assertion_type"),
		TenantID:            tenantID,
	}

	if basicID, basicSecret, ok := basicAuthCredentials(r); ok {
		req.ClientID = basicID
		req.ClientSecret = basicSecret
	}

	resp, err := s.Introspection.Introspect(r.Context(), req)
	if err != nil {
		var clientErr *introspection.ClientError
		if errors.As(err, &clientErr) {
			respondOAuthError(w, clientErr.Status, clientErr.Code, clientErr.Description)
			return
		}
		s.Logger.Error("introspection failed", "error", err)
		respondOAuthError(w, http.StatusInternalServerError, "server_error", "introspection failed")
		return
	}

	s.Audit.Log(r.Context(), tenantID, req.ClientID, audit.EventTokenIntrospected, "access_token",
		map[string]string{"active": strconv.FormatBool(resp.Active)})

	helpers.RespondJSON(w, http.StatusOK, resp)
}

// basicAuthCredentials extracts client_id/client_secret from HTTP Basic
// auth, the alternative to form-encoded secret_post client
// authentication.
func basicAuthCredentials(r *http.Request) (id, secret string, ok bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func respondOAuthError(w http.ResponseWriter, status int, code, description string) {
	helpers.RespondJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
