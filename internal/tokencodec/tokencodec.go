// Package tokencodec wraps golang-jwt/jwt/v5 parsing and verification
// over the open claim record (internal/model.Claims) instead of a
// fixed claims struct, so the introspection and UserInfo engines can
// operate on whatever claims an issuer chose to embed.
package tokencodec

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/laventecare/corebac/internal/model"
)

// ErrMalformedToken is returned when a token cannot be parsed at all,
// even without signature verification.
var ErrMalformedToken = errors.New("tokencodec: malformed token")

// ParseUnverified decodes token's claims without checking its
// signature. Used by the introspection pipeline's step 7, where a
// parse failure is a normal {active:false} outcome rather than an
// error.
func ParseUnverified(token string) (*model.Claims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claimsFromMap(claims), nil
}

// PeekHeader returns the token's unverified JOSE header, most commonly
// used to read "kid" before a KeyStore lookup.
func PeekHeader(token string) (map[string]interface{}, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	parsedToken, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return parsedToken.Header, nil
}

// Verify checks token's signature with publicKey (expected to be an
// RS256 key resolved via KeyStore from the token's kid) and that
// expectedIssuer matches the "iss" claim (an empty expectedIssuer skips
// the issuer check). Audience is deliberately NOT
// checked here — spec.md has the introspection pipeline use the
// token's own primary audience as the expected audience, a decision
// the caller applies after Verify succeeds.
func Verify(token string, publicKey *rsa.PublicKey, expectedIssuer string) (*model.Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	}, jwt.WithIssuer(expectedIssuer))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token failed verification")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claimsFromMap(mapClaims), nil
}

// Sign produces a compact RS256 JWT from claims, continuing the
// teacher's signing convention (kid in the header, RS256 method) for
// the UserInfoEngine's signed-response wrapping.
func Sign(claims map[string]interface{}, kid string, privateKey *rsa.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(claims))
	token.Header["kid"] = kid
	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func claimsFromMap(m jwt.MapClaims) *model.Claims {
	c := &model.Claims{Extra: map[string]any{}}

	for k, v := range m {
		switch k {
		case "iss":
			c.Issuer, _ = v.(string)
		case "sub":
			c.Subject, _ = v.(string)
		case "aud":
			c.Audience = parseAudience(v)
		case "exp":
			c.ExpiresAt = int64(asFloat(v))
		case "iat":
			c.IssuedAt = int64(asFloat(v))
		case "nbf":
			c.NotBefore = int64(asFloat(v))
		case "jti":
			c.JTI, _ = v.(string)
		case "scope":
			c.Scope, _ = v.(string)
		case "client_id":
			c.ClientID, _ = v.(string)
		case "rtv":
			c.RefreshTokenVersion = int(asFloat(v))
		case "cnf":
			c.Confirmation = parseConfirmation(v)
		case "act":
			c.ActorClaim, _ = v.(string)
		case "resource":
			c.Resource, _ = v.(string)
		case "preferred_username":
			c.PreferredUsername, _ = v.(string)
		default:
			c.Extra[k] = v
		}
	}

	if c.RefreshTokenVersion == 0 {
		c.RefreshTokenVersion = 1
	}

	return c
}

// parseAudience handles both the string and array wire shapes per
// spec.md's audience membership design note.
func parseAudience(v interface{}) model.Audience {
	switch val := v.(type) {
	case string:
		return model.Audience{val}
	case []interface{}:
		aud := make(model.Audience, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				aud = append(aud, s)
			}
		}
		return aud
	default:
		return nil
	}
}

func parseConfirmation(v interface{}) *model.Confirmation {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	jkt, _ := m["jkt"].(string)
	if jkt == "" {
		return nil
	}
	return &model.Confirmation{JKT: jkt}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case jwt.NumericDate:
		return float64(n.Unix())
	default:
		return 0
	}
}
