package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/laventecare/corebac/internal/model"
)

var randReader io.Reader = rand.Reader

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func marshalJWK(jwk model.JWK) ([]byte, error) {
	return json.Marshal(jwk)
}

func unmarshalJWK(raw []byte, dest *model.JWK) error {
	return json.Unmarshal(raw, dest)
}
