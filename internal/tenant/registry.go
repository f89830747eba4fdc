// Package tenant implements the ClientRegistry: tenant-scoped lookup
// of OAuth/OIDC client registrations, backed by Postgres with
// Row-Level-Security tenant scoping per internal/storage's
// WithTenantContext/WithoutRLS helpers.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/storage"
)

// ClientRegistry is the authoritative store for Client records.
type ClientRegistry struct {
	pool *pgxpool.Pool
}

// NewClientRegistry wraps pool for tenant-scoped client lookups.
func NewClientRegistry(pool *pgxpool.Pool) *ClientRegistry {
	return &ClientRegistry{pool: pool}
}

// Find looks up a client by (tenantID, clientID). A missing row and an
// RLS-hidden row are indistinguishable by design: both return (nil,
// nil) so a caller can never use Find to probe for the existence of a
// client belonging to another tenant.
func (r *ClientRegistry) Find(ctx context.Context, tenantID, clientID string) (*model.Client, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, nil
	}

	var client *model.Client
	err = storage.WithTenantContext(ctx, r.pool, tid, func(tx pgx.Tx) error {
		row, scanErr := scanClient(ctx, tx, clientID)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil
			}
			return scanErr
		}
		client = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	return client, nil
}

// FindAcrossTenants performs an administrative lookup that bypasses
// RLS. Reserved for cross-tenant maintenance (key rotation batch jobs);
// every call is expected to be audit-logged by the caller.
func (r *ClientRegistry) FindAcrossTenants(ctx context.Context, clientID string) (*model.Client, error) {
	var client *model.Client
	err := storage.WithoutRLS(ctx, r.pool, func(tx pgx.Tx) error {
		row, scanErr := scanClient(ctx, tx, clientID)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil
			}
			return scanErr
		}
		client = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cross-tenant client lookup: %w", err)
	}
	return client, nil
}

func scanClient(ctx context.Context, tx pgx.Tx, clientID string) (*model.Client, error) {
	var (
		c                model.Client
		authMethodsRaw   []string
		publicKeysRaw    []byte
		policyFlagsRaw   []byte
		secretHash       *string
		signedAlg        *string
		encAlg           *string
		encEnc           *string
	)

	err := tx.QueryRow(ctx, `
		SELECT client_id, tenant_id, secret_hash, allowed_auth_methods,
		       public_keys, signed_response_alg, encrypted_response_alg,
		       encrypted_response_enc, allow_claims_without_scope, policy_flags
		FROM clients
		WHERE client_id = $1
	`, clientID).Scan(
		&c.ClientID, &c.TenantID, &secretHash, &authMethodsRaw,
		&publicKeysRaw, &signedAlg, &encAlg, &encEnc,
		&c.AllowClaimsWithoutScope, &policyFlagsRaw,
	)
	if err != nil {
		return nil, err
	}

	if secretHash != nil {
		c.SecretHash = *secretHash
	}
	if signedAlg != nil {
		c.SignedResponseAlg = *signedAlg
	}
	if encAlg != nil {
		c.EncryptedResponseAlg = *encAlg
	}
	if encEnc != nil {
		c.EncryptedResponseEnc = *encEnc
	}

	for _, m := range authMethodsRaw {
		c.AllowedAuthMethods = append(c.AllowedAuthMethods, model.AuthMethod(m))
	}

	if len(publicKeysRaw) > 0 {
		if err := json.Unmarshal(publicKeysRaw, &c.PublicKeys); err != nil {
			return nil, fmt.Errorf("decoding public_keys: %w", err)
		}
	}
	if len(policyFlagsRaw) > 0 {
		if err := json.Unmarshal(policyFlagsRaw, &c.PolicyFlags); err != nil {
			return nil, fmt.Errorf("decoding policy_flags: %w", err)
		}
	}

	return &c, nil
}
