// Package apikey implements APIKey lookup and validation for the
// check/batch_check surface: keys are looked up by their short prefix,
// then the full presented key's hash is compared to the stored hash in
// constant time, mirroring the teacher's secret-hash verification flow
// adapted from passwords to API keys.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/security"
)

// KeyPrefix is prepended to every issued raw API key, letting callers
// and log lines identify a credential's kind at a glance.
const KeyPrefix = "chk_"

var (
	// ErrInvalidKey covers every validation failure uniformly — unknown
	// prefix, hash mismatch, inactive, expired, or operation not
	// allowed — so a caller probing for valid prefixes learns nothing
	// from the error it gets back.
	ErrInvalidKey = errors.New("apikey: invalid or unauthorized key")
)

// Store is the pgx-backed authoritative API key store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// findByPrefix returns the candidate row matching keyPrefix, or nil if
// none exists. Multiple keys never legitimately share a prefix, but the
// scan only takes the first row defensively.
func (s *Store) findByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, client_id, name, key_prefix, key_hash,
		       allowed_operations, rate_limit_tier, is_active, expires_at
		FROM api_keys
		WHERE key_prefix = $1
	`, prefix)
	return scanAPIKey(row)
}

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var (
		k       model.APIKey
		ops     []string
		tier    string
		expires *time.Time
	)
	err := row.Scan(&k.ID, &k.TenantID, &k.ClientID, &k.Name, &k.KeyPrefix, &k.KeyHash,
		&ops, &tier, &k.IsActive, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	for _, op := range ops {
		k.AllowedOperations = append(k.AllowedOperations, model.APIKeyOperation(op))
	}
	k.RateLimitTier = model.RateLimitTier(tier)
	k.ExpiresAt = expires
	return &k, nil
}

// Revoke flips is_active to false for id, used by key management.
func (s *Store) Revoke(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

// keyPrefixOf extracts the lookup prefix from a raw presented key: the
// scheme tag plus enough leading characters to make the prefix index
// selective without narrowing the search space for an attacker more
// than the full key already does.
func keyPrefixOf(rawKey string) string {
	const prefixLen = 12
	if len(rawKey) < prefixLen {
		return rawKey
	}
	return rawKey[:prefixLen]
}

// Validator resolves a raw presented API key to its record, enforcing
// the active/expiry/operation invariants.
type Validator struct {
	store *Store
}

// New builds a Validator over store.
func New(store *Store) *Validator {
	return &Validator{store: store}
}

// Validate looks up rawKey and confirms it authorizes op. A malformed
// key, unknown prefix, hash mismatch, inactive key, expired key, or a
// key not permitted to perform op all return ErrInvalidKey — the
// caller cannot distinguish "no such key" from "key not allowed here".
func (v *Validator) Validate(ctx context.Context, rawKey string, op model.APIKeyOperation) (*model.APIKey, error) {
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidKey
	}

	candidate, err := v.store.findByPrefix(ctx, keyPrefixOf(rawKey))
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, ErrInvalidKey
	}

	presentedHash := security.HashHex(rawKey)
	if !security.ConstantTimeEqual(presentedHash, candidate.KeyHash) {
		return nil, ErrInvalidKey
	}

	if !candidate.Live(time.Now()) {
		return nil, ErrInvalidKey
	}
	if !candidate.Allows(op) {
		return nil, ErrInvalidKey
	}

	return candidate, nil
}
