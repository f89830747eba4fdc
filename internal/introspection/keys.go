package introspection

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/laventecare/corebac/internal/model"
)

// parsePublicKeyFromPEM recovers the RSA public key from a SigningKey's
// decrypted private material, mirroring the teacher's NewJWTProvider
// PKCS1-then-PKCS8 fallback.
func parsePublicKeyFromPEM(key *model.SigningKey) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(key.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("failed to parse private key: %v | %v", err, err2)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not of type *rsa.PrivateKey")
		}
		priv = rsaKey
	}

	return &priv.PublicKey, nil
}

// parsePublicKeyFromJWK reconstructs an RSA public key from a client's
// registered JWK (used for private_key_jwt client assertion
// verification).
func parsePublicKeyFromJWK(jwk model.JWK) (*rsa.PublicKey, error) {
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
