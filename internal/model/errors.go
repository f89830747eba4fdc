package model

import "errors"

var (
	// ErrIncompleteEncryptionConfig is returned by Client.Validate when
	// EncryptedResponseAlg is set without a matching EncryptedResponseEnc.
	ErrIncompleteEncryptionConfig = errors.New("client: encrypted_response_enc required when encrypted_response_alg is set")
	// ErrNoEncryptionKey is returned by Client.Validate when encryption is
	// configured but no public key can resolve.
	ErrNoEncryptionKey = errors.New("client: encrypted response configured without a resolvable public key")
)
