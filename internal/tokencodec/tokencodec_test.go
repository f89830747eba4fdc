package tokencodec_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laventecare/corebac/internal/tokencodec"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestParseUnverified_ReadsClaimsWithoutVerifyingSignature(t *testing.T) {
	key := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{
		"iss":   "https://issuer.example",
		"sub":   "user-1",
		"aud":   "client-a",
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
		"jti":   "jti-1",
		"scope": "openid profile",
	}, "kid-1")

	claims, err := tokencodec.ParseUnverified(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "jti-1", claims.JTI)
	assert.True(t, claims.Audience.Contains("client-a"))
}

func TestParseUnverified_AudienceArray(t *testing.T) {
	key := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{
		"sub": "user-1",
		"aud": []interface{}{"client-a", "client-b"},
	}, "kid-1")

	claims, err := tokencodec.ParseUnverified(signed)
	require.NoError(t, err)
	assert.True(t, claims.Audience.Contains("client-a"))
	assert.True(t, claims.Audience.Contains("client-b"))
}

func TestParseUnverified_MalformedTokenErrors(t *testing.T) {
	_, err := tokencodec.ParseUnverified("not-a-jwt")
	assert.ErrorIs(t, err, tokencodec.ErrMalformedToken)
}

func TestPeekHeader_ReturnsKid(t *testing.T) {
	key := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{"sub": "user-1"}, "kid-42")

	header, err := tokencodec.PeekHeader(signed)
	require.NoError(t, err)
	assert.Equal(t, "kid-42", header["kid"])
}

func TestVerify_SucceedsWithCorrectKeyAndIssuer(t *testing.T) {
	key := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}, "kid-1")

	claims, err := tokencodec.Verify(signed, &key.PublicKey, "https://issuer.example")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestVerify_FailsWithWrongKey(t *testing.T) {
	key := generateTestKey(t)
	wrongKey := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}, "kid-1")

	_, err := tokencodec.Verify(signed, &wrongKey.PublicKey, "https://issuer.example")
	assert.Error(t, err)
}

func TestVerify_FailsWithWrongIssuer(t *testing.T) {
	key := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}, "kid-1")

	_, err := tokencodec.Verify(signed, &key.PublicKey, "https://other-issuer.example")
	assert.Error(t, err)
}

func TestVerify_FailsWhenExpired(t *testing.T) {
	key := generateTestKey(t)
	signed := signTestToken(t, key, jwt.MapClaims{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(time.Now().Add(-time.Hour).Unix()),
	}, "kid-1")

	_, err := tokencodec.Verify(signed, &key.PublicKey, "https://issuer.example")
	assert.Error(t, err)
}

func TestSign_ProducesVerifiableToken(t *testing.T) {
	key := generateTestKey(t)
	signed, err := tokencodec.Sign(map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}, "kid-7", key)
	require.NoError(t, err)

	claims, err := tokencodec.Verify(signed, &key.PublicKey, "https://issuer.example")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}
