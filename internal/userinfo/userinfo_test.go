package userinfo_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/userinfo"
)

func testUser() *model.User {
	return &model.User{
		ID:                "user-1",
		Name:              "Ada Lovelace",
		Email:             "ada@example.com",
		EmailVerified:     true,
		PhoneNumber:       "+15551234567",
		PhoneNumberVerified: false,
		UpdatedAt:         time.Unix(1700000000, 0),
	}
}

func TestProject_SubAlwaysPresent(t *testing.T) {
	claims := userinfo.Project(testUser(), "", nil, false)
	assert.Equal(t, "user-1", claims["sub"])
	assert.NotContains(t, claims, "email")
}

func TestProject_ProfileScopeAddsProfileClaims(t *testing.T) {
	claims := userinfo.Project(testUser(), "profile", nil, false)
	assert.Equal(t, "Ada Lovelace", claims["name"])
	assert.NotContains(t, claims, "email")
}

func TestProject_EmailScopeAddsEmailClaims(t *testing.T) {
	claims := userinfo.Project(testUser(), "email", nil, false)
	assert.Equal(t, "ada@example.com", claims["email"])
	assert.Equal(t, true, claims["email_verified"])
}

func TestProject_ScopeMonotonicity(t *testing.T) {
	narrow := userinfo.Project(testUser(), "profile", nil, false)
	wide := userinfo.Project(testUser(), "profile email phone", nil, false)
	for k := range narrow {
		assert.Contains(t, wide, k)
	}
}

func TestProject_ClaimsParameterIgnoredWithoutAllowFlag(t *testing.T) {
	claimsParam, _ := json.Marshal(map[string]interface{}{
		"userinfo": map[string]interface{}{"phone_number": nil},
	})
	claims := userinfo.Project(testUser(), "profile", claimsParam, false)
	assert.NotContains(t, claims, "phone_number")
}

func TestProject_ClaimsParameterHonoredWithAllowFlag(t *testing.T) {
	claimsParam, _ := json.Marshal(map[string]interface{}{
		"userinfo": map[string]interface{}{"phone_number": nil},
	})
	claims := userinfo.Project(testUser(), "profile", claimsParam, true)
	assert.Equal(t, "+15551234567", claims["phone_number"])
}

func jwkFromKey(pub *rsa.PublicKey) model.JWK {
	return model.JWK{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func TestRespond_PlainJSONWhenNoResponseAlgConfigured(t *testing.T) {
	engine := userinfo.New("https://issuer.example")
	client := &model.Client{ClientID: "client-a"}

	resp, err := engine.Respond(client, map[string]interface{}{"sub": "user-1"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.ContentType)
}

func TestRespond_SignedOnlyReturnsJWT(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	engine := userinfo.New("https://issuer.example")
	client := &model.Client{ClientID: "client-a", SignedResponseAlg: "RS256"}

	resp, err := engine.Respond(client, map[string]interface{}{"sub": "user-1"}, priv, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "application/jwt", resp.ContentType)
}

func TestRespond_EncryptedWithoutPublicKeyIsInvalidClientMetadata(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	engine := userinfo.New("https://issuer.example")
	client := &model.Client{
		ClientID:             "client-a",
		SignedResponseAlg:    "RS256",
		EncryptedResponseAlg: "RSA-OAEP-256",
		EncryptedResponseEnc: "A256GCM",
	}

	_, err = engine.Respond(client, map[string]interface{}{"sub": "user-1"}, priv, "kid-1")
	var uerr *userinfo.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "invalid_client_metadata", uerr.Code)
}

func TestRespond_EncryptedWrapsSignedJWTInJWE(t *testing.T) {
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	encKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	engine := userinfo.New("https://issuer.example")
	client := &model.Client{
		ClientID:             "client-a",
		SignedResponseAlg:    "RS256",
		EncryptedResponseAlg: "RSA-OAEP-256",
		EncryptedResponseEnc: "A256GCM",
		PublicKeys:           []model.JWK{jwkFromKey(&encKey.PublicKey)},
	}

	resp, err := engine.Respond(client, map[string]interface{}{"sub": "user-1"}, signingKey, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "application/jwt", resp.ContentType)
	// A JWE compact serialization has 5 dot-separated parts.
	parts := 1
	for _, b := range resp.Body {
		if b == '.' {
			parts++
		}
	}
	assert.Equal(t, 5, parts)
}

func TestRespond_SigningKeyUnavailableIsServerError(t *testing.T) {
	engine := userinfo.New("https://issuer.example")
	client := &model.Client{ClientID: "client-a", SignedResponseAlg: "RS256"}

	_, err := engine.Respond(client, map[string]interface{}{"sub": "user-1"}, nil, "")
	var uerr *userinfo.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "server_error", uerr.Code)
}
