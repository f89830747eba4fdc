// Package crypto provides encryption/decryption utilities for signing-key
// private material at rest. Uses AES-256-GCM for authenticated encryption
// with key versioning support.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// EncryptKeyMaterial encrypts a signing key's PEM-encoded private key
// material using AES-256-GCM before it is written to the authoritative
// store. The master key is loaded from env var SIGNING_KEY_MASTER_KEY
// (32 bytes = 64 hex chars).
//
// Security Notes:
// - Uses GCM (Galois/Counter Mode) for authenticated encryption
// - Generates random nonce per encryption (CRITICAL for security)
// - Returns base64-encoded ciphertext prefixed with "enc:" for storage
// - Master key MUST be rotated periodically (see key versioning)
func EncryptKeyMaterial(plaintext string) (string, error) {
	key, err := loadMasterKey("SIGNING_KEY_MASTER_KEY")
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM mode: %w", err)
	}

	// Nonce MUST be unique for each encryption with the same key.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return "enc:" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptKeyMaterial decrypts AES-256-GCM encrypted signing-key private
// material. Never log the returned plaintext.
func DecryptKeyMaterial(ciphertextB64 string) (string, error) {
	key, err := loadMasterKey("SIGNING_KEY_MASTER_KEY")
	if err != nil {
		return "", err
	}
	return decryptWithKey(ciphertextB64, key)
}

// DecryptKeyMaterialVersioned decrypts using an explicitly versioned key
// instead of mutating process environment state.
//
// Key Rotation Workflow:
//  1. Generate new key: openssl rand -hex 32
//  2. Add to env: SIGNING_KEY_MASTER_KEY_V2=<new-key>
//  3. Deploy code with both V1 and V2 support
//  4. Background job re-encrypts all stored key material with V2
//  5. Bump the stored key_version column to 2
//  6. Remove SIGNING_KEY_MASTER_KEY (V1) once migration completes
func DecryptKeyMaterialVersioned(ciphertextB64 string, keyVersion int) (string, error) {
	envVar, err := masterKeyEnvVar(keyVersion)
	if err != nil {
		return "", err
	}
	key, err := loadMasterKey(envVar)
	if err != nil {
		return "", err
	}
	return decryptWithKey(ciphertextB64, key)
}

func masterKeyEnvVar(keyVersion int) (string, error) {
	switch keyVersion {
	case 1:
		return "SIGNING_KEY_MASTER_KEY", nil
	case 2:
		return "SIGNING_KEY_MASTER_KEY_V2", nil
	case 3:
		return "SIGNING_KEY_MASTER_KEY_V3", nil
	default:
		return "", fmt.Errorf("unsupported key version: %d (max supported: 3)", keyVersion)
	}
}

func loadMasterKey(envVar string) ([]byte, error) {
	keyHex := os.Getenv(envVar)
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("%s must be exactly 32 bytes (64 hex characters)", envVar)
	}
	key := make([]byte, 32)
	n, err := hex.Decode(key, []byte(keyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid %s format (must be hex): %w", envVar, err)
	}
	if n != 32 {
		return nil, fmt.Errorf("%s decoded to %d bytes, expected 32", envVar, n)
	}
	return key, nil
}

func decryptWithKey(ciphertextB64 string, key []byte) (string, error) {
	if len(ciphertextB64) < 4 || ciphertextB64[:4] != "enc:" {
		return "", fmt.Errorf("invalid encrypted format (missing 'enc:' prefix)")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64[4:])
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short (possible corruption or tampering)")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (invalid key or tampered data): %w", err)
	}

	return string(plaintext), nil
}

// GenerateKey generates a new 32-byte AES encryption key in hex format.
// Run during initial setup or key rotation.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
