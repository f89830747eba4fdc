// Package introspection implements the RFC 7662 token introspection
// pipeline: credential extraction and client authentication, cache
// fast-path, signature/issuer/audience verification, strict-mode
// checks, time-window and revocation checks, user-status checks, and
// cache write-through — in that order, each step a precondition for
// the next.
package introspection

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/laventecare/corebac/internal/cache"
	"github.com/laventecare/corebac/internal/keystore"
	"github.com/laventecare/corebac/internal/metrics"
	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/revocation"
	"github.com/laventecare/corebac/internal/security"
	"github.com/laventecare/corebac/internal/tenant"
	"github.com/laventecare/corebac/internal/tokencodec"
)

// ClientLookup is the subset of ClientRegistry the engine needs,
// narrowed to keep the engine testable against a fake.
type ClientLookup interface {
	Find(ctx context.Context, tenantID, clientID string) (*model.Client, error)
}

// KeyResolver is the subset of KeyStore the engine needs.
type KeyResolver interface {
	ByKid(ctx context.Context, tenantID, kid string) (*model.SigningKey, error)
}

// RevocationChecker is the subset of RevocationStore the engine needs.
type RevocationChecker interface {
	IsAccessRevoked(ctx context.Context, jti string) (bool, error)
	GetRefresh(ctx context.Context, rec model.RefreshTokenRecord) (*model.RefreshTokenRecord, error)
}

// UserLookup resolves the subject claim to a user status check.
type UserLookup interface {
	Status(ctx context.Context, tenantID, userID string) (model.UserStatus, error)
}

// EventPublisher is the fire-and-forget event sink for
// token.access.introspected; failures never affect the response.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{})
}

// Config holds the KV-controlled knobs the pipeline consults.
type Config struct {
	IssuerURL                string
	CacheEnabled             bool
	CacheTTL                 time.Duration
	StrictValidationEnabled  bool
	StrictValidationAudience string
}

// Engine implements the introspection pipeline of spec.md §4.5.
type Engine struct {
	clients     ClientLookup
	keys        KeyResolver
	revocations RevocationChecker
	users       UserLookup
	publisher   EventPublisher
	cache       cache.RequestCache
	cfg         Config
	logger      *slog.Logger
}

// New wires an Engine from its collaborators.
func New(clients ClientLookup, keys KeyResolver, revocations RevocationChecker, users UserLookup, publisher EventPublisher, requestCache cache.RequestCache, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		clients:     clients,
		keys:        keys,
		revocations: revocations,
		users:       users,
		publisher:   publisher,
		cache:       requestCache,
		cfg:         cfg,
		logger:      logger,
	}
}

// ClientError is returned for the credential/client failures of steps
// 1-6, each of which surfaces as an explicit OAuth error rather than
// {active:false}.
type ClientError struct {
	Status      int
	Code        string // "invalid_request" | "invalid_client"
	Description string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

var errInvalidClient = &ClientError{Status: 401, Code: "invalid_client", Description: "client authentication failed"}

// Request is the introspection call's parsed input, assembled by the
// HTTP boundary from form fields and/or the Basic auth header.
type Request struct {
	Token                string
	TokenTypeHint        string // "access_token" | "refresh_token" | ""
	ClientID             string
	ClientSecret         string
	ClientAssertion      string
	ClientAssertionType  string
	TenantID             string
}

// Introspect runs the full pipeline and returns an RFC 7662 response.
// A non-nil error is always a ClientError (steps 1-6) or a server
// error (step 9); every other failure mode is folded into
// model.Inactive per the minimality invariant.
// Introspect runs the pipeline and records its duration/outcome before
// returning, then delegates to the unmetered implementation.
func (e *Engine) Introspect(ctx context.Context, req Request) (*model.IntrospectionResponse, error) {
	start := time.Now()
	resp, err := e.introspect(ctx, req)

	outcome := "inactive"
	switch {
	case err != nil:
		outcome = "error"
	case resp != nil && resp.Active:
		outcome = "active"
	}
	metrics.IntrospectionTotal.WithLabelValues(outcome).Inc()
	metrics.IntrospectionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return resp, err
}

func (e *Engine) introspect(ctx context.Context, req Request) (*model.IntrospectionResponse, error) {
	// Step 4: required-parameter check.
	if req.Token == "" {
		return nil, &ClientError{Status: 400, Code: "invalid_request", Description: "token is required"}
	}

	// Step 5-6: client identification and authentication.
	client, err := e.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 7: unverified parse.
	claims, err := tokencodec.ParseUnverified(req.Token)
	if err != nil {
		return &model.Inactive, nil
	}

	// Step 8: cache fast-path.
	if e.cfg.CacheEnabled && claims.JTI != "" {
		if resp, hit := e.cacheFastPath(ctx, claims, req.TokenTypeHint); hit {
			return resp, nil
		}
	}

	// Step 9: key resolution.
	header, err := tokencodec.PeekHeader(req.Token)
	if err != nil {
		return &model.Inactive, nil
	}
	kid, _ := header["kid"].(string)
	signingKey, err := e.keys.ByKid(ctx, req.TenantID, kid)
	if err != nil {
		return nil, &ClientError{Status: 500, Code: "server_error", Description: "key lookup failed"}
	}
	if signingKey == nil {
		return nil, &ClientError{Status: 500, Code: "server_error", Description: "signing key not found"}
	}
	if signingKey.Status == model.KeyStatusRevoked {
		return &model.Inactive, nil
	}

	pubKey, err := parsePublicKeyFromPEM(signingKey)
	if err != nil {
		return nil, &ClientError{Status: 500, Code: "server_error", Description: "key import failed"}
	}

	// Step 10: signature/issuer/audience verify.
	verified, err := tokencodec.Verify(req.Token, pubKey, e.cfg.IssuerURL)
	if err != nil {
		return &model.Inactive, nil
	}

	// Step 11: strict validation.
	if e.cfg.StrictValidationEnabled {
		if !verified.Audience.Contains(e.cfg.StrictValidationAudience) {
			return &model.Inactive, nil
		}
		if verified.ClientID != "" && verified.ClientID != client.ClientID {
			other, lookupErr := e.clients.Find(ctx, req.TenantID, verified.ClientID)
			if lookupErr != nil || other == nil {
				return &model.Inactive, nil
			}
		}
	}

	// Step 12: time-window checks.
	now := time.Now().Unix()
	if verified.NotBefore != 0 && now < verified.NotBefore {
		return &model.Inactive, nil
	}
	if verified.ExpiresAt != 0 && now > verified.ExpiresAt {
		return &model.Inactive, nil
	}

	// Step 13: revocation/existence.
	isRefresh := req.TokenTypeHint == "refresh_token"
	if isRefresh {
		rec, lookupErr := e.revocations.GetRefresh(ctx, model.RefreshTokenRecord{
			TenantID: req.TenantID,
			Subject:  verified.Subject,
			RTV:      verified.RefreshTokenVersion,
			ClientID: verified.ClientID,
			JTI:      verified.JTI,
		})
		if lookupErr != nil || rec == nil {
			return &model.Inactive, nil
		}
	} else {
		revoked, lookupErr := e.revocations.IsAccessRevoked(ctx, verified.JTI)
		if lookupErr != nil || revoked {
			return &model.Inactive, nil
		}
	}

	// Step 14: user status. A datastore error here is logged and
	// ignored — it must not make an otherwise-valid token inactive.
	if verified.Subject != "" && e.users != nil {
		status, statusErr := e.users.Status(ctx, req.TenantID, verified.Subject)
		if statusErr != nil {
			e.logger.Warn("user status lookup failed, continuing", "error", statusErr, "sub", verified.Subject)
		} else if status == model.UserStatusSuspended || status == model.UserStatusLocked {
			return &model.Inactive, nil
		}
	}

	// Step 15: response assembly.
	resp := assembleResponse(verified, client.ClientID)

	// Step 16: cache write-through.
	if e.cfg.CacheEnabled && verified.JTI != "" {
		cache.SetJSON(ctx, e.cache, cacheKeyFor(verified.JTI), resp, e.cfg.CacheTTL)
	}

	// Step 17: event publication, fire-and-forget.
	if e.publisher != nil {
		e.publisher.Publish(ctx, "token.access.introspected", map[string]interface{}{
			"tenant_id": req.TenantID,
			"client_id": client.ClientID,
			"jti":       verified.JTI,
			"sub":       verified.Subject,
		})
	}

	return resp, nil
}

// cacheKeyFor builds the introspection cache key, SHA-256 of jti to
// resist enumeration, matching the format every introspection cache
// key must satisfy: ^introspect_cache:[a-f0-9]{64}$.
func cacheKeyFor(jti string) string {
	return "introspect_cache:" + security.HashHex(jti)
}

func (e *Engine) cacheFastPath(ctx context.Context, unverified *model.Claims, tokenTypeHint string) (*model.IntrospectionResponse, bool) {
	var cached model.IntrospectionResponse
	key := cacheKeyFor(unverified.JTI)
	if !cache.GetJSON(ctx, e.cache, key, &cached) {
		return nil, false
	}
	if !cached.Active {
		// Hits on active=false entries are treated as a miss, defensively.
		return nil, false
	}

	now := time.Now().Unix()
	if cached.Exp != 0 && cached.Exp < now {
		e.cache.Delete(ctx, key)
		return &model.Inactive, true
	}

	var fresh bool
	var lookupErr error
	if tokenTypeHint == "refresh_token" && cached.Sub != "" {
		var rec *model.RefreshTokenRecord
		rec, lookupErr = e.revocations.GetRefresh(ctx, model.RefreshTokenRecord{
			Subject:  cached.Sub,
			ClientID: cached.ClientID,
			JTI:      cached.JTI,
		})
		fresh = lookupErr == nil && rec != nil
	} else {
		var revoked bool
		revoked, lookupErr = e.revocations.IsAccessRevoked(ctx, cached.JTI)
		fresh = lookupErr == nil && !revoked
	}

	if !fresh {
		e.cache.Delete(ctx, key)
		return &model.Inactive, true
	}

	return &cached, true
}

func (e *Engine) authenticateClient(ctx context.Context, req Request) (*model.Client, error) {
	clientID := req.ClientID
	if clientID == "" {
		return nil, errInvalidClient
	}

	client, err := e.clients.Find(ctx, req.TenantID, clientID)
	if err != nil || client == nil {
		// Absent client and bad syntax are both an indistinguishable
		// invalid_client, never a distinguishing server error.
		return nil, errInvalidClient
	}

	// Priority: private_key_jwt over secret-based auth.
	if req.ClientAssertion != "" {
		if !client.HasAuthMethod(model.AuthMethodPrivateKeyJWT) {
			return nil, errInvalidClient
		}
		pubKey, keyErr := clientAssertionKey(client)
		if keyErr != nil {
			return nil, errInvalidClient
		}
		expectedAudience := strings.TrimSuffix(e.cfg.IssuerURL, "/") + "/introspect"
		assertion, verifyErr := tokencodec.Verify(req.ClientAssertion, pubKey, "")
		if verifyErr != nil || !assertion.Audience.Contains(expectedAudience) {
			return nil, errInvalidClient
		}
		return client, nil
	}

	if req.ClientSecret != "" {
		if !client.HasAuthMethod(model.AuthMethodSecretBasic) && !client.HasAuthMethod(model.AuthMethodSecretPost) {
			return nil, errInvalidClient
		}
		if client.SecretHash == "" {
			return nil, errInvalidClient
		}
		if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.ClientSecret)) != nil {
			return nil, errInvalidClient
		}
		return client, nil
	}

	if client.HasAuthMethod(model.AuthMethodNone) {
		return client, nil
	}

	return nil, errInvalidClient
}

func clientAssertionKey(client *model.Client) (*rsa.PublicKey, error) {
	if len(client.PublicKeys) == 0 {
		return nil, errors.New("no public keys registered for private_key_jwt")
	}
	return parsePublicKeyFromJWK(client.PublicKeys[0])
}

func assembleResponse(claims *model.Claims, clientID string) *model.IntrospectionResponse {
	tokenType := model.TokenTypeBearer
	if claims.Confirmation != nil {
		tokenType = model.TokenTypeDPoP
	}

	resp := &model.IntrospectionResponse{
		Active:       true,
		Scope:        claims.Scope,
		ClientID:     clientID,
		TokenType:    tokenType,
		Exp:          claims.ExpiresAt,
		Iat:          claims.IssuedAt,
		Nbf:          claims.NotBefore,
		Sub:          claims.Subject,
		Aud:          claims.Audience,
		Iss:          claims.Issuer,
		JTI:          claims.JTI,
		Confirmation: claims.Confirmation,
	}
	resp.Username = claims.Subject
	if claims.PreferredUsername != "" {
		resp.Username = claims.PreferredUsername
	}
	if claims.ActorClaim != "" {
		resp.ActorClaim = claims.ActorClaim
	}
	if claims.Resource != "" {
		resp.Resource = claims.Resource
	}
	if len(claims.AuthorizationDetails) > 0 {
		resp.AuthorizationDetails = claims.AuthorizationDetails
	}
	return resp
}
