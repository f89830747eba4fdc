package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/laventecare/corebac/internal/api/helpers"
	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
	"github.com/laventecare/corebac/internal/apikey"
	"github.com/laventecare/corebac/internal/audit"
	"github.com/laventecare/corebac/internal/checksvc"
	"github.com/laventecare/corebac/internal/model"
)

type checkRequestBody struct {
	SubjectID       string             `json:"subject_id"`
	Permission      string             `json:"permission"`
	TenantID        string             `json:"tenant_id,omitempty"`
	ResourceContext map[string]string  `json:"resource_context,omitempty"`
	Rebac           *checksvc.RebacRef `json:"rebac,omitempty"`
}

type batchCheckRequestBody struct {
	Checks     []checkRequestBody `json:"checks"`
	StopOnDeny bool               `json:"stop_on_deny,omitempty"`
}

// CheckHandler serves POST /api/check: a single permission decision
// authenticated by either an API key (chk_ prefix) or an access-token
// bearer JWT, rate-limited per the credential's tier.
func (s *Server) CheckHandler(w http.ResponseWriter, r *http.Request) {
	var body checkRequestBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenantID := resolveCheckTenantID(r, body.TenantID)
	if tenantID == "" {
		helpers.RespondError(w, http.StatusBadRequest, "tenant_id required (header or body)")
		return
	}

	identity, tier, authErr := s.authenticateCheckCredential(r, tenantID, model.APIKeyOpCheck)
	if authErr != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credential")
		return
	}
	if !s.CheckLimiter.Allow(tier, identity) {
		helpers.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	req := checksvc.Request{
		Subject:         body.SubjectID,
		SubjectType:     "user",
		Permission:      body.Permission,
		TenantID:        tenantID,
		ResourceContext: body.ResourceContext,
		Rebac:           body.Rebac,
	}

	decision, err := s.Check.Check(r.Context(), req)
	if err != nil {
		s.Logger.Error("check failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "check failed")
		return
	}

	s.Audit.Log(r.Context(), tenantID, identity, audit.EventCheckDecision, body.Permission,
		map[string]string{"allowed": strconv.FormatBool(decision.Allowed), "subject": body.SubjectID})

	helpers.RespondJSON(w, http.StatusOK, decision)
}

// BatchCheckHandler serves POST /api/check/batch.
func (s *Server) BatchCheckHandler(w http.ResponseWriter, r *http.Request) {
	var body batchCheckRequestBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Checks) == 0 {
		helpers.RespondError(w, http.StatusBadRequest, "checks must be non-empty")
		return
	}

	tenantID := resolveCheckTenantID(r, body.Checks[0].TenantID)
	if tenantID == "" {
		helpers.RespondError(w, http.StatusBadRequest, "tenant_id required (header or body)")
		return
	}

	identity, tier, authErr := s.authenticateCheckCredential(r, tenantID, model.APIKeyOpBatch)
	if authErr != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credential")
		return
	}
	if !s.CheckLimiter.Allow(tier, identity) {
		helpers.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reqs := make([]checksvc.Request, len(body.Checks))
	for i, c := range body.Checks {
		reqs[i] = checksvc.Request{
			Subject:         c.SubjectID,
			SubjectType:     "user",
			Permission:      c.Permission,
			TenantID:        tenantID,
			ResourceContext: c.ResourceContext,
			Rebac:           c.Rebac,
		}
	}

	decisions, err := s.Check.BatchCheck(r.Context(), reqs, body.StopOnDeny)
	if err != nil {
		s.Logger.Error("batch check failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "batch check failed")
		return
	}

	s.Audit.Log(r.Context(), tenantID, identity, audit.EventCheckDecision, "batch",
		map[string]string{"count": strconv.Itoa(len(decisions))})

	helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

func resolveCheckTenantID(r *http.Request, bodyTenantID string) string {
	if bodyTenantID != "" {
		return bodyTenantID
	}
	tenantID, _ := customMiddleware.GetTenantID(r.Context())
	return tenantID
}

var errCredentialInvalid = errors.New("invalid credential")

// authenticateCheckCredential authenticates via API key (chk_ prefix)
// or bearer JWT, returning an identity string to rate-limit by and the
// tier that identity is bound to. A bearer JWT has no rate-limit tier
// of its own, so it falls back to "moderate".
func (s *Server) authenticateCheckCredential(r *http.Request, tenantID string, op model.APIKeyOperation) (string, model.RateLimitTier, error) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", errCredentialInvalid
	}
	token := parts[1]

	if strings.HasPrefix(token, apikey.KeyPrefix) {
		key, err := s.APIKeys.Validate(r.Context(), token, op)
		if err != nil {
			return "", "", errCredentialInvalid
		}
		return key.ID, key.RateLimitTier, nil
	}

	claims, err := s.Verifier.Verify(r.Context(), tenantID, token)
	if err != nil {
		return "", "", errCredentialInvalid
	}
	return claims.Subject + ":" + claims.ClientID, model.RateLimitModerate, nil
}
