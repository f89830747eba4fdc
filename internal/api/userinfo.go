package api

import (
	"crypto/rsa"
	"errors"
	"net/http"

	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
	"github.com/laventecare/corebac/internal/keystore"
	"github.com/laventecare/corebac/internal/userinfo"
)

// UserInfoHandler serves the UserInfo endpoint behind AuthMiddleware:
// project the bearer's claims per its granted scope, then wrap the
// result per the client's registered response shape (plain JSON,
// signed JWT, or nested JWS-then-JWE).
func (s *Server) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := customMiddleware.MustGetTenantID(r.Context())
	claims, ok := customMiddleware.GetClaims(r.Context())
	if !ok || claims.Subject == "" {
		respondBearerError(w, http.StatusUnauthorized, "invalid_token", "no subject in token")
		return
	}

	user, err := s.Accounts.Get(r.Context(), tenantID, claims.Subject)
	if err != nil {
		respondBearerError(w, http.StatusUnauthorized, "invalid_token", "subject account not found")
		return
	}

	client, err := s.Clients.Find(r.Context(), tenantID, claims.ClientID)
	if err != nil || client == nil {
		respondBearerError(w, http.StatusUnauthorized, "invalid_token", "token client not found")
		return
	}

	claimsMap := userinfo.Project(user, claims.Scope, claims.ClaimsParameter, client.AllowClaimsWithoutScope)

	var (
		privKey *rsa.PrivateKey
		kid     string
	)
	if client.SignedResponseAlg != "" || client.EncryptedResponseAlg != "" {
		active, keyErr := s.Keys.ActiveKey(r.Context(), tenantID)
		if keyErr != nil {
			if errors.Is(keyErr, keystore.ErrNoActiveKey) {
				respondOAuthError(w, http.StatusInternalServerError, "server_error", "no active signing key for tenant")
				return
			}
			s.Logger.Error("userinfo active key lookup failed", "error", keyErr)
			respondOAuthError(w, http.StatusInternalServerError, "server_error", "key lookup failed")
			return
		}
		parsed, parseErr := keystore.PrivateKey(active)
		if parseErr != nil {
			s.Logger.Error("userinfo signing key decode failed", "error", parseErr)
			respondOAuthError(w, http.StatusInternalServerError, "server_error", "key decode failed")
			return
		}
		privKey = parsed
		kid = active.Kid
	}

	resp, err := s.UserInfo.Respond(client, claimsMap, privKey, kid)
	if err != nil {
		var uErr *userinfo.Error
		if errors.As(err, &uErr) {
			respondOAuthError(w, uErr.Status, uErr.Code, uErr.Description)
			return
		}
		s.Logger.Error("userinfo response assembly failed", "error", err)
		respondOAuthError(w, http.StatusInternalServerError, "server_error", "response assembly failed")
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func respondBearerError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+description+`"`)
	respondOAuthError(w, status, code, description)
}
