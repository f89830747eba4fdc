package security_test

import (
	"testing"

	"github.com/laventecare/corebac/internal/security"
	"github.com/stretchr/testify/assert"
)

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, security.ConstantTimeEqual("s3cr3t", "s3cr3t"))
	assert.False(t, security.ConstantTimeEqual("s3cr3t", "wrong"))
	assert.False(t, security.ConstantTimeEqual("s3cr3t", "s3cr3tX"))
}

func TestConstantTimeEqualBytes(t *testing.T) {
	assert.True(t, security.ConstantTimeEqualBytes([]byte{1, 2, 3}, []byte{1, 2, 3}))
	assert.False(t, security.ConstantTimeEqualBytes([]byte{1, 2, 3}, []byte{1, 2, 4}))
}

func TestHashHex(t *testing.T) {
	// SHA-256("") is a well-known constant.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	assert.Equal(t, want, security.HashHex(""))
	assert.Len(t, security.HashHex("jti-value"), 64)
}
