// Package model holds the shared domain types for the tenant/client/key/
// token/user substrate. Types here are consulted read-only by most
// engines; only the management API (out of scope) writes them.
package model

import (
	"encoding/json"
	"time"
)

// AuthMethod enumerates the client authentication methods a Client may
// present at the token and introspection endpoints.
type AuthMethod string

const (
	AuthMethodSecretBasic  AuthMethod = "secret_basic"
	AuthMethodSecretPost   AuthMethod = "secret_post"
	AuthMethodPrivateKeyJWT AuthMethod = "private_key_jwt"
	AuthMethodNone         AuthMethod = "none"
)

// PolicyFlags holds per-client behavioral toggles that don't warrant
// their own column.
type PolicyFlags struct {
	RequireDPoP bool `json:"require_dpop,omitempty"`
}

// Client is a tenant-scoped OAuth/OIDC client registration.
type Client struct {
	ClientID              string
	TenantID              string
	SecretHash            string // empty if the client has no shared secret
	AllowedAuthMethods    []AuthMethod
	PublicKeys            []JWK
	SignedResponseAlg     string
	EncryptedResponseAlg  string
	EncryptedResponseEnc  string
	AllowClaimsWithoutScope bool
	PolicyFlags           PolicyFlags
}

// HasAuthMethod reports whether m is among the client's allowed methods.
func (c *Client) HasAuthMethod(m AuthMethod) bool {
	for _, am := range c.AllowedAuthMethods {
		if am == m {
			return true
		}
	}
	return false
}

// Validate enforces the Client invariant from the data model: an
// encryption alg implies an encryption enc and at least one resolvable
// public key.
func (c *Client) Validate() error {
	if c.EncryptedResponseAlg != "" {
		if c.EncryptedResponseEnc == "" {
			return ErrIncompleteEncryptionConfig
		}
		if len(c.PublicKeys) == 0 {
			return ErrNoEncryptionKey
		}
	}
	return nil
}

// KeyStatus is the lifecycle state of a SigningKey.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusOverlap KeyStatus = "overlap"
	KeyStatusRevoked KeyStatus = "revoked"
)

// JWK is a minimal JSON Web Key used for Client public-key registration
// (RSA only, matching the teacher's token material).
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// SigningKey is a tenant-scoped RSA signing key tracked through its
// active/overlap/revoked lifecycle.
type SigningKey struct {
	Kid            string
	TenantID       string
	Status         KeyStatus
	PublicJWK      JWK
	PrivateKeyPEM  string // restricted: only read by the signer, never serialized out
	CreatedAt      time.Time
	OverlapUntil   time.Time // zero if not in overlap
}

// Claims is the open record of token claims described in spec.md §9: a
// strongly typed core plus an extension map for anything else the
// issuer chose to embed.
type Claims struct {
	Issuer               string
	Subject              string
	Audience             Audience
	ExpiresAt            int64
	IssuedAt             int64
	NotBefore            int64 // 0 if absent
	JTI                  string
	Scope                string
	ClientID             string
	RefreshTokenVersion  int // "rtv", defaults to 1 when absent
	Confirmation         *Confirmation
	ActorClaim           string // "act"
	Resource             string
	AuthorizationDetails []byte // raw JSON, left for downstream parsing
	PreferredUsername    string
	ClaimsParameter       []byte // raw JSON "claims" parameter contents
	Extra                map[string]any
}

// Confirmation is the RFC 7800 "cnf" claim, reduced to the jkt thumbprint
// used for DPoP-bound tokens.
type Confirmation struct {
	JKT string `json:"jkt"`
}

// Audience models the "aud" claim, which may arrive as a JSON string or
// a JSON array; Contains implements the membership semantics spec.md
// §4.4 requires instead of strict equality.
type Audience []string

// Contains reports whether target is one of the audience values.
func (a Audience) Contains(target string) bool {
	for _, v := range a {
		if v == target {
			return true
		}
	}
	return false
}

// Primary returns the first audience entry, or "" if there is none.
func (a Audience) Primary() string {
	if len(a) == 0 {
		return ""
	}
	return a[0]
}

// TokenType is the introspection response's RFC 7662 "token_type" value.
type TokenType string

const (
	TokenTypeBearer TokenType = "Bearer"
	TokenTypeDPoP   TokenType = "DPoP"
)

// IntrospectionResponse is the RFC 7662 shape of spec.md §3. When Active
// is false every other field MUST be its zero value and MUST NOT be
// serialized — see MarshalJSON.
type IntrospectionResponse struct {
	Active               bool
	Scope                string
	ClientID             string
	Username             string
	TokenType            TokenType
	Exp                  int64
	Iat                  int64
	Nbf                  int64
	Sub                  string
	Aud                  Audience
	Iss                  string
	JTI                  string
	Confirmation         *Confirmation
	ActorClaim           string
	Resource             string
	AuthorizationDetails []byte
}

// Inactive is the canonical {"active": false} response reused everywhere
// the pipeline decides a token is not live, so the minimality invariant
// (spec.md property 4) always holds by construction.
var Inactive = IntrospectionResponse{Active: false}

// introspectionResponseJSON mirrors IntrospectionResponse field-for-field
// for marshaling; kept separate so MarshalJSON can omit zero fields
// without reflect-tag games over an exported wire shape callers also
// read in Go.
type introspectionResponseJSON struct {
	Active               bool    `json:"active"`
	Scope                string  `json:"scope,omitempty"`
	ClientID             string  `json:"client_id,omitempty"`
	Username             string  `json:"username,omitempty"`
	TokenType            string  `json:"token_type,omitempty"`
	Exp                  int64   `json:"exp,omitempty"`
	Iat                  int64   `json:"iat,omitempty"`
	Nbf                  int64   `json:"nbf,omitempty"`
	Sub                  string  `json:"sub,omitempty"`
	Aud                  Audience `json:"aud,omitempty"`
	Iss                  string  `json:"iss,omitempty"`
	JTI                  string  `json:"jti,omitempty"`
	Confirmation         *Confirmation `json:"cnf,omitempty"`
	ActorClaim           string  `json:"act,omitempty"`
	Resource             string  `json:"resource,omitempty"`
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`
}

// MarshalJSON enforces the minimality invariant: an inactive response
// serializes as exactly {"active":false}, regardless of what other
// fields happen to be set on the Go value.
func (r IntrospectionResponse) MarshalJSON() ([]byte, error) {
	if !r.Active {
		return []byte(`{"active":false}`), nil
	}
	return json.Marshal(introspectionResponseJSON{
		Active:               r.Active,
		Scope:                r.Scope,
		ClientID:             r.ClientID,
		Username:             r.Username,
		TokenType:            string(r.TokenType),
		Exp:                  r.Exp,
		Iat:                  r.Iat,
		Nbf:                  r.Nbf,
		Sub:                  r.Sub,
		Aud:                  r.Aud,
		Iss:                  r.Iss,
		JTI:                  r.JTI,
		Confirmation:         r.Confirmation,
		ActorClaim:           r.ActorClaim,
		Resource:             r.Resource,
		AuthorizationDetails: json.RawMessage(r.AuthorizationDetails),
	})
}

// UserStatus is the lifecycle state of a User record.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusLocked    UserStatus = "locked"
)

// User is the subset of account data the UserInfo and introspection
// engines need.
type User struct {
	ID                  string
	TenantID            string
	Status              UserStatus
	Role                string
	Name                string
	FamilyName          string
	GivenName           string
	MiddleName          string
	Nickname            string
	PreferredUsername   string
	Profile             string
	Picture             string
	Website             string
	Gender              string
	Birthdate           string
	Zoneinfo            string
	Locale              string
	Email               string
	EmailVerified       bool
	PhoneNumber         string
	PhoneNumberVerified bool
	AddressJSON         []byte
	UpdatedAt           time.Time
}

// Active reports whether the user's status permits a live session.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// RefreshTokenRecord is keyed by (tenant, sub, rtv, client_id, jti); its
// presence in storage means the refresh token it represents is live.
type RefreshTokenRecord struct {
	TenantID string
	Subject  string
	RTV      int
	ClientID string
	JTI      string
}

// RateLimitTier selects the rate.Limiter configuration an APIKey's
// holder is bound to.
type RateLimitTier string

const (
	RateLimitStrict   RateLimitTier = "strict"
	RateLimitModerate RateLimitTier = "moderate"
	RateLimitLenient  RateLimitTier = "lenient"
)

// APIKeyOperation enumerates what an APIKey may be used for.
type APIKeyOperation string

const (
	APIKeyOpCheck     APIKeyOperation = "check"
	APIKeyOpBatch     APIKeyOperation = "batch"
	APIKeyOpSubscribe APIKeyOperation = "subscribe"
)

// APIKey authenticates calls to the check/batch_check surface. KeyHash
// is the lowercase-hex SHA-256 digest of the raw key; the raw key is
// never stored.
type APIKey struct {
	ID                string
	TenantID          string
	ClientID          string
	Name              string
	KeyPrefix         string
	KeyHash           string
	AllowedOperations []APIKeyOperation
	RateLimitTier     RateLimitTier
	IsActive          bool
	ExpiresAt         *time.Time
}

// Allows reports whether the key may be used for op.
func (k *APIKey) Allows(op APIKeyOperation) bool {
	for _, a := range k.AllowedOperations {
		if a == op {
			return true
		}
	}
	return false
}

// Live reports whether the key is currently usable: active and, if it
// has an expiry, not yet past it.
func (k *APIKey) Live(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}
