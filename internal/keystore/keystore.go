// Package keystore implements the KeyStore: tenant-scoped RSA signing
// key lifecycle (active/overlap/revoked), layered lookup caching, and
// the public JWKS view served at .well-known/jwks.json.
package keystore

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laventecare/corebac/internal/cache"
	corecrypto "github.com/laventecare/corebac/internal/crypto"
	"github.com/laventecare/corebac/internal/metrics"
	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/storage"
)

// processCacheTTL and sharedCacheTTL match the values the introspection
// pipeline assumes for key freshness under rotation.
const (
	processCacheTTL = 5 * time.Minute
	sharedCacheTTL  = 60 * time.Second
)

// KeyStore is the authoritative, cached signing-key lifecycle manager
// for a tenant's RSA keys.
type KeyStore struct {
	pool  *pgxpool.Pool
	cache *cache.Layered
}

// New wires a KeyStore on top of pool, with a layered cache: a new
// process tier in front of rdb as the shared tier. Any key prefix is
// the one rdb was built with.
func New(pool *pgxpool.Pool, rdb cache.RequestCache) *KeyStore {
	layered := cache.NewLayered(cache.NewProcessCache(), rdb, processCacheTTL, "keystore")
	return &KeyStore{pool: pool, cache: layered}
}

// ErrNoActiveKey is returned when a tenant has no active signing key.
var ErrNoActiveKey = errors.New("keystore: tenant has no active signing key")

// ActiveKey returns the tenant's current active signing key, consulting
// the layered cache before the authoritative store.
func (k *KeyStore) ActiveKey(ctx context.Context, tenantID string) (*model.SigningKey, error) {
	cacheKey := "active:" + tenantID
	var key model.SigningKey
	if cache.GetJSON(ctx, k.cache, cacheKey, &key) {
		return &key, nil
	}

	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	var found *model.SigningKey
	err = storage.WithTenantContext(ctx, k.pool, tid, func(tx pgx.Tx) error {
		row, scanErr := scanKey(ctx, tx, `
			SELECT kid, tenant_id, status, public_jwk, private_key_pem,
			       created_at, overlap_until
			FROM signing_keys
			WHERE tenant_id = $1 AND status = 'active'
			ORDER BY created_at DESC
			LIMIT 1
		`, tenantID)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil
			}
			return scanErr
		}
		found = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("active key lookup: %w", err)
	}
	if found == nil {
		return nil, ErrNoActiveKey
	}

	cache.SetJSON(ctx, k.cache, cacheKey, found, sharedCacheTTL)
	return found, nil
}

// ByKid resolves a specific key by kid, including overlap/revoked keys
// still needed to verify tokens signed before a rotation.
func (k *KeyStore) ByKid(ctx context.Context, tenantID, kid string) (*model.SigningKey, error) {
	cacheKey := "kid:" + tenantID + ":" + kid
	var key model.SigningKey
	if cache.GetJSON(ctx, k.cache, cacheKey, &key) {
		return &key, nil
	}

	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	var found *model.SigningKey
	err = storage.WithTenantContext(ctx, k.pool, tid, func(tx pgx.Tx) error {
		row, scanErr := scanKey(ctx, tx, `
			SELECT kid, tenant_id, status, public_jwk, private_key_pem,
			       created_at, overlap_until
			FROM signing_keys
			WHERE tenant_id = $1 AND kid = $2
		`, tenantID, kid)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil
			}
			return scanErr
		}
		found = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("key lookup by kid: %w", err)
	}
	if found == nil {
		return nil, nil
	}

	cache.SetJSON(ctx, k.cache, cacheKey, found, sharedCacheTTL)
	return found, nil
}

// Rotate generates a new active key for tenantID, demotes the previous
// active key to overlap status (retained until overlapRetention
// elapses so in-flight tokens it signed keep verifying), and
// invalidates the cache furthest-to-closest (authoritative store is
// already committed by the time this returns; shared tier, then
// process tier).
func (k *KeyStore) Rotate(ctx context.Context, tenantID string, overlapRetention time.Duration) (*model.SigningKey, error) {
	metrics.KeyRotationsTotal.WithLabelValues("scheduled").Inc()
	return k.rotate(ctx, tenantID, overlapRetention, model.KeyStatusOverlap)
}

// EmergencyRotate rotates the key and immediately revokes the previous
// key instead of placing it in overlap, for use when a key is known
// compromised. reason must be at least 10 characters and is expected
// to be audit-logged by the caller.
func (k *KeyStore) EmergencyRotate(ctx context.Context, tenantID, reason string) (*model.SigningKey, error) {
	if len(reason) < 10 {
		return nil, fmt.Errorf("emergency rotate reason must be at least 10 characters, got %d", len(reason))
	}
	metrics.KeyRotationsTotal.WithLabelValues("emergency").Inc()
	return k.rotate(ctx, tenantID, 0, model.KeyStatusRevoked)
}

func (k *KeyStore) rotate(ctx context.Context, tenantID string, overlapRetention time.Duration, previousStatus model.KeyStatus) (*model.SigningKey, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	newKey, err := generateSigningKey(tenantID)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	encryptedPEM, err := corecrypto.EncryptKeyMaterial(newKey.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("encrypting signing key material: %w", err)
	}

	var overlapUntil *time.Time
	if previousStatus == model.KeyStatusOverlap && overlapRetention > 0 {
		until := time.Now().Add(overlapRetention)
		overlapUntil = &until
	}

	err = storage.WithTenantContext(ctx, k.pool, tid, func(tx pgx.Tx) error {
		if _, execErr := tx.Exec(ctx, `
			UPDATE signing_keys SET status = $1, overlap_until = $2
			WHERE tenant_id = $3 AND status = 'active'
		`, string(previousStatus), overlapUntil, tenantID); execErr != nil {
			return execErr
		}

		_, execErr := tx.Exec(ctx, `
			INSERT INTO signing_keys (kid, tenant_id, status, public_jwk, private_key_pem, created_at)
			VALUES ($1, $2, 'active', $3, $4, now())
		`, newKey.Kid, tenantID, jwkJSON(newKey.PublicJWK), encryptedPEM)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("persisting rotated key: %w", err)
	}

	// Invalidate furthest-to-closest: the authoritative store write above
	// already committed, so the shared tier is the next-furthest layer
	// from this process, invalidated before the process-local tier.
	k.invalidateActive(ctx, tenantID)

	return newKey, nil
}

func (k *KeyStore) invalidateActive(ctx context.Context, tenantID string) {
	k.cache.Delete(ctx, "active:"+tenantID)
}

// SweepExpiredOverlap revokes every overlap key whose overlap_until
// has passed, across all tenants. Run periodically by the janitor
// worker; the cached kid lookups for these keys self-expire on their
// own TTL rather than being explicitly invalidated here.
func (k *KeyStore) SweepExpiredOverlap(ctx context.Context) (int64, error) {
	tag, err := k.pool.Exec(ctx, `
		UPDATE signing_keys SET status = 'revoked'
		WHERE status = 'overlap' AND overlap_until IS NOT NULL AND overlap_until < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired overlap keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// JWKS returns the tenant's public key set (active and overlap keys
// only — revoked keys are never published) as a go-jose
// jose.JSONWebKeySet, ready for .well-known/jwks.json.
func (k *KeyStore) JWKS(ctx context.Context, tenantID string) (*jose.JSONWebKeySet, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	var keys []model.SigningKey
	err = storage.WithTenantContext(ctx, k.pool, tid, func(tx pgx.Tx) error {
		rows, queryErr := tx.Query(ctx, `
			SELECT kid, tenant_id, status, public_jwk, private_key_pem, created_at, overlap_until
			FROM signing_keys
			WHERE tenant_id = $1 AND status IN ('active', 'overlap')
		`, tenantID)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			key, scanErr := scanKeyRow(rows)
			if scanErr != nil {
				return scanErr
			}
			keys = append(keys, *key)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("jwks lookup: %w", err)
	}

	set := &jose.JSONWebKeySet{}
	for _, sk := range keys {
		pub, parseErr := parsePublicJWK(sk.PublicJWK)
		if parseErr != nil {
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       pub,
			KeyID:     sk.Kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	return set, nil
}

func generateSigningKey(tenantID string) (*model.SigningKey, error) {
	priv, err := rsa.GenerateKey(randReader, 2048)
	if err != nil {
		return nil, err
	}
	pubJWK := publicJWKFromKey(&priv.PublicKey, "")

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	pemBytes := pem.EncodeToMemory(block)

	kid := uuid.New().String()
	pubJWK.Kid = kid

	return &model.SigningKey{
		Kid:           kid,
		TenantID:      tenantID,
		Status:        model.KeyStatusActive,
		PublicJWK:     pubJWK,
		PrivateKeyPEM: string(pemBytes),
		CreatedAt:     time.Now(),
	}, nil
}

func publicJWKFromKey(pub *rsa.PublicKey, kid string) model.JWK {
	eBuf := big.NewInt(int64(pub.E)).Bytes()
	return model.JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   b64url(pub.N.Bytes()),
		E:   b64url(eBuf),
	}
}

// PublicKey recovers sk's RSA public key from its published JWK, for
// callers (token verification at the HTTP boundary) that only need to
// verify a signature and have no reason to touch PrivateKeyPEM.
func PublicKey(sk *model.SigningKey) (*rsa.PublicKey, error) {
	return parsePublicJWK(sk.PublicJWK)
}

// PrivateKey decodes sk's PEM-encoded private material, for the rare
// caller (the UserInfoEngine's signed/encrypted response path) that
// needs to sign with the tenant's own active key rather than verify
// someone else's.
func PrivateKey(sk *model.SigningKey) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(sk.PrivateKeyPEM))
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
	return priv, nil
}

func parsePublicJWK(jwk model.JWK) (*rsa.PublicKey, error) {
	nBytes, err := b64urlDecode(jwk.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := b64urlDecode(jwk.E)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func jwkJSON(jwk model.JWK) []byte {
	b, _ := marshalJWK(jwk)
	return b
}

func scanKey(ctx context.Context, tx pgx.Tx, query string, args ...interface{}) (*model.SigningKey, error) {
	row := tx.QueryRow(ctx, query, args...)
	return scanKeyRowScanner(row)
}

// rowScanner abstracts pgx.Row and pgx.Rows, both of which implement
// Scan with the same signature.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKeyRow(rows pgx.Rows) (*model.SigningKey, error) {
	return scanKeyRowScanner(rows)
}

func scanKeyRowScanner(row rowScanner) (*model.SigningKey, error) {
	var (
		sk            model.SigningKey
		publicJWKRaw  []byte
		encryptedPEM  string
		overlapUntil  *time.Time
	)
	if err := row.Scan(&sk.Kid, &sk.TenantID, &sk.Status, &publicJWKRaw, &encryptedPEM, &sk.CreatedAt, &overlapUntil); err != nil {
		return nil, err
	}

	if err := unmarshalJWK(publicJWKRaw, &sk.PublicJWK); err != nil {
		return nil, fmt.Errorf("decoding public_jwk: %w", err)
	}

	plaintext, err := corecrypto.DecryptKeyMaterial(encryptedPEM)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key material: %w", err)
	}
	sk.PrivateKeyPEM = plaintext

	if overlapUntil != nil {
		sk.OverlapUntil = *overlapUntil
	}

	return &sk, nil
}
