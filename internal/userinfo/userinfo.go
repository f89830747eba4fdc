// Package userinfo implements the UserInfoEngine: scope-driven claim
// projection over a validated token's claims and the bearer's user
// record, with optional JWS signing and nested JWS-then-JWE wrapping
// per the client's registered response alg/enc.
package userinfo

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/tokencodec"
)

// Error is a userinfo-specific failure with an OAuth error code, used
// by the HTTP boundary to pick the right status and WWW-Authenticate
// value.
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Engine projects claims and wraps the response per client config.
type Engine struct {
	issuer string
}

// New builds a userinfo Engine. issuer is used as the "iss" of any
// signed response and must match the server's configured ISSUER_URL.
func New(issuer string) *Engine {
	return &Engine{issuer: issuer}
}

// claimsParameterUserinfo is the shape of the "claims" request
// parameter's userinfo subsection, per spec.md §4.6.
type claimsParameterUserinfo struct {
	Userinfo map[string]interface{} `json:"userinfo"`
}

// Project builds the claim set for user, scoped by scope and
// (optionally) the client's claims parameter, per spec.md's
// projection rules.
func Project(user *model.User, scope string, claimsParam []byte, allowClaimsWithoutScope bool) map[string]interface{} {
	out := map[string]interface{}{"sub": user.ID}

	scopes := strings.Fields(scope)
	has := func(s string) bool {
		for _, v := range scopes {
			if v == s {
				return true
			}
		}
		return false
	}

	if has("profile") {
		addIfNonEmpty(out, "name", user.Name)
		addIfNonEmpty(out, "family_name", user.FamilyName)
		addIfNonEmpty(out, "given_name", user.GivenName)
		addIfNonEmpty(out, "middle_name", user.MiddleName)
		addIfNonEmpty(out, "nickname", user.Nickname)
		addIfNonEmpty(out, "preferred_username", user.PreferredUsername)
		addIfNonEmpty(out, "profile", user.Profile)
		addIfNonEmpty(out, "picture", user.Picture)
		addIfNonEmpty(out, "website", user.Website)
		addIfNonEmpty(out, "gender", user.Gender)
		addIfNonEmpty(out, "birthdate", user.Birthdate)
		addIfNonEmpty(out, "zoneinfo", user.Zoneinfo)
		addIfNonEmpty(out, "locale", user.Locale)
		out["updated_at"] = user.UpdatedAt.Unix()
	}
	if has("email") {
		addIfNonEmpty(out, "email", user.Email)
		out["email_verified"] = user.EmailVerified
	}
	if has("phone") {
		addIfNonEmpty(out, "phone_number", user.PhoneNumber)
		out["phone_number_verified"] = user.PhoneNumberVerified
	}
	if has("address") && len(user.AddressJSON) > 0 {
		var addr interface{}
		if err := json.Unmarshal(user.AddressJSON, &addr); err == nil {
			out["address"] = addr
		}
	}

	if allowClaimsWithoutScope && len(claimsParam) > 0 {
		var parsed claimsParameterUserinfo
		if err := json.Unmarshal(claimsParam, &parsed); err == nil {
			for claim := range parsed.Userinfo {
				addRequestedClaim(out, user, claim)
			}
		}
	}

	return out
}

func addIfNonEmpty(out map[string]interface{}, key, value string) {
	if value != "" {
		out[key] = value
	}
}

// addRequestedClaim adds a single individually-requested claim from
// the user record, used only when allow_claims_without_scope permits
// claims outside the granted scope's claim set.
func addRequestedClaim(out map[string]interface{}, user *model.User, claim string) {
	switch claim {
	case "name":
		addIfNonEmpty(out, claim, user.Name)
	case "family_name":
		addIfNonEmpty(out, claim, user.FamilyName)
	case "given_name":
		addIfNonEmpty(out, claim, user.GivenName)
	case "middle_name":
		addIfNonEmpty(out, claim, user.MiddleName)
	case "nickname":
		addIfNonEmpty(out, claim, user.Nickname)
	case "preferred_username":
		addIfNonEmpty(out, claim, user.PreferredUsername)
	case "profile":
		addIfNonEmpty(out, claim, user.Profile)
	case "picture":
		addIfNonEmpty(out, claim, user.Picture)
	case "website":
		addIfNonEmpty(out, claim, user.Website)
	case "gender":
		addIfNonEmpty(out, claim, user.Gender)
	case "birthdate":
		addIfNonEmpty(out, claim, user.Birthdate)
	case "zoneinfo":
		addIfNonEmpty(out, claim, user.Zoneinfo)
	case "locale":
		addIfNonEmpty(out, claim, user.Locale)
	case "email":
		addIfNonEmpty(out, claim, user.Email)
	case "email_verified":
		out[claim] = user.EmailVerified
	case "phone_number":
		addIfNonEmpty(out, claim, user.PhoneNumber)
	case "phone_number_verified":
		out[claim] = user.PhoneNumberVerified
	case "updated_at":
		out[claim] = user.UpdatedAt.Unix()
	}
}

// Respond wraps claims per the client's response configuration:
// encrypted (sign then JWE-wrap), signed-only (JWT), or plain JSON.
// signingKey/kid are required only for the signed/encrypted paths.
type Respond struct {
	ContentType string // "application/json" or "application/jwt"
	Body        []byte
}

func (e *Engine) Respond(client *model.Client, claims map[string]interface{}, signingKey *rsa.PrivateKey, kid string) (*Respond, error) {
	if client.EncryptedResponseAlg == "" && client.SignedResponseAlg == "" {
		body, err := json.Marshal(claims)
		if err != nil {
			return nil, &Error{Status: 500, Code: "server_error", Description: "claim serialization failed"}
		}
		return &Respond{ContentType: "application/json", Body: body}, nil
	}

	if err := client.Validate(); err != nil {
		return nil, &Error{Status: 400, Code: "invalid_client_metadata", Description: err.Error()}
	}

	if signingKey == nil {
		return nil, &Error{Status: 500, Code: "server_error", Description: "signing key unavailable"}
	}

	signed, err := e.sign(claims, client, signingKey, kid)
	if err != nil {
		return nil, &Error{Status: 500, Code: "server_error", Description: "signing failed"}
	}

	if client.EncryptedResponseAlg == "" {
		return &Respond{ContentType: "application/jwt", Body: []byte(signed)}, nil
	}

	if len(client.PublicKeys) == 0 {
		return nil, &Error{Status: 400, Code: "invalid_client_metadata", Description: "client has no public key registered for encryption"}
	}
	encrypted, err := e.encrypt(signed, client)
	if err != nil {
		return nil, &Error{Status: 500, Code: "server_error", Description: "encryption failed"}
	}
	return &Respond{ContentType: "application/jwt", Body: []byte(encrypted)}, nil
}

func (e *Engine) sign(claims map[string]interface{}, client *model.Client, key *rsa.PrivateKey, kid string) (string, error) {
	wire := map[string]interface{}{
		"iss": e.issuer,
		"aud": client.ClientID,
		"iat": time.Now().Unix(),
	}
	for k, v := range claims {
		wire[k] = v
	}
	return tokencodec.Sign(wire, kid, key)
}

func (e *Engine) encrypt(signedJWT string, client *model.Client) (string, error) {
	pubKey, err := parseRSAPublicJWK(client.PublicKeys[0])
	if err != nil {
		return "", fmt.Errorf("parsing client public key: %w", err)
	}

	recipient := jose.Recipient{Algorithm: jose.KeyAlgorithm(client.EncryptedResponseAlg), Key: pubKey}
	opts := (&jose.EncrypterOptions{}).WithType("JWT").WithContentType("JWT")
	encrypter, err := jose.NewEncrypter(jose.ContentEncryption(client.EncryptedResponseEnc), recipient, opts)
	if err != nil {
		return "", fmt.Errorf("building encrypter: %w", err)
	}

	jwe, err := encrypter.Encrypt([]byte(signedJWT))
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	return jwe.CompactSerialize()
}

// parseRSAPublicJWK reconstructs an RSA public key from a client's
// registered JWK, used to encrypt the nested JWE for that client.
func parseRSAPublicJWK(jwk model.JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decoding JWK modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decoding JWK exponent: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
