package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/laventecare/corebac/internal/keystore"
	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/revocation"
	"github.com/laventecare/corebac/internal/tokencodec"
)

// tokenVerifier implements middleware.TokenVerifier: bearer-token
// verification for the userinfo and ReBAC admin surfaces, reusing the
// same key-resolution and revocation-check steps the introspection
// pipeline runs, minus the client-authentication and strict-mode steps
// that only apply to the /introspect caller.
type tokenVerifier struct {
	keys        *keystore.KeyStore
	revocations *revocation.Store
	issuerURL   string
}

// NewTokenVerifier builds the middleware.TokenVerifier shared by
// AuthMiddleware-guarded routes (UserInfo, ReBAC admin) and the
// /api/check bearer-credential path.
func NewTokenVerifier(keys *keystore.KeyStore, revocations *revocation.Store, issuerURL string) *tokenVerifier {
	return &tokenVerifier{keys: keys, revocations: revocations, issuerURL: issuerURL}
}

var errTokenInvalid = errors.New("token invalid, expired, or revoked")

func (v *tokenVerifier) Verify(ctx context.Context, tenantID, token string) (*model.Claims, error) {
	header, err := tokencodec.PeekHeader(token)
	if err != nil {
		return nil, errTokenInvalid
	}
	kid, _ := header["kid"].(string)

	signingKey, err := v.keys.ByKid(ctx, tenantID, kid)
	if err != nil {
		return nil, fmt.Errorf("key lookup: %w", err)
	}
	if signingKey == nil || signingKey.Status == model.KeyStatusRevoked {
		return nil, errTokenInvalid
	}

	pubKey, err := keystore.PublicKey(signingKey)
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}

	claims, err := tokencodec.Verify(token, pubKey, v.issuerURL)
	if err != nil {
		return nil, errTokenInvalid
	}

	if claims.JTI != "" {
		revoked, revErr := v.revocations.IsAccessRevoked(ctx, claims.JTI)
		if revErr != nil || revoked {
			return nil, errTokenInvalid
		}
	}

	return claims, nil
}
