// Package revocation implements the RevocationStore: access-token
// tombstones and refresh-token liveness records, with a
// time-bounded sweep the worker cmd runs on the teacher's Janitor
// schedule.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/storage"
)

// Store is the authoritative tombstone/liveness store for access and
// refresh tokens.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool for revocation lookups.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// IsAccessRevoked reports whether jti has been explicitly revoked.
// Operates WithoutRLS: revocation tombstones are written by system
// operations (logout, admin revoke) and must be checkable during
// introspection regardless of the request's tenant context.
func (s *Store) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := storage.WithoutRLS(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti = $1)
		`, jti).Scan(&revoked)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return revoked, nil
}

// RevokeAccess tombstones jti until expiresAt, after which the sweep
// may reclaim the row.
func (s *Store) RevokeAccess(ctx context.Context, jti string, expiresAt time.Time) error {
	err := storage.WithoutRLS(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO revoked_access_tokens (jti, expires_at)
			VALUES ($1, $2)
			ON CONFLICT (jti) DO NOTHING
		`, jti, expiresAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// GetRefresh looks up a refresh-token liveness record by the full
// (tenant, sub, rtv, client_id, jti) key from spec.md. A nil, nil
// return means the refresh token is not (or no longer) live.
func (s *Store) GetRefresh(ctx context.Context, rec model.RefreshTokenRecord) (*model.RefreshTokenRecord, error) {
	var found *model.RefreshTokenRecord
	err := storage.WithoutRLS(ctx, s.pool, func(tx pgx.Tx) error {
		var out model.RefreshTokenRecord
		scanErr := tx.QueryRow(ctx, `
			SELECT tenant_id, subject, rtv, client_id, jti
			FROM refresh_tokens
			WHERE tenant_id = $1 AND subject = $2 AND rtv = $3 AND client_id = $4 AND jti = $5
		`, rec.TenantID, rec.Subject, rec.RTV, rec.ClientID, rec.JTI).Scan(
			&out.TenantID, &out.Subject, &out.RTV, &out.ClientID, &out.JTI,
		)
		if scanErr != nil {
			if scanErr == pgx.ErrNoRows {
				return nil
			}
			return scanErr
		}
		found = &out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token lookup: %w", err)
	}
	return found, nil
}

// PutRefresh records a live refresh token, superseding any prior rtv
// generation for the same (tenant, sub, client_id) per the refresh
// token versioning scheme.
func (s *Store) PutRefresh(ctx context.Context, rec model.RefreshTokenRecord) error {
	err := storage.WithoutRLS(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM refresh_tokens
			WHERE tenant_id = $1 AND subject = $2 AND client_id = $3 AND rtv < $4
		`, rec.TenantID, rec.Subject, rec.ClientID, rec.RTV); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO refresh_tokens (tenant_id, subject, rtv, client_id, jti)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, subject, rtv, client_id) DO UPDATE SET jti = EXCLUDED.jti
		`, rec.TenantID, rec.Subject, rec.RTV, rec.ClientID, rec.JTI)
		return err
	})
	if err != nil {
		return fmt.Errorf("put refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefresh invalidates every live refresh token for (tenant,
// sub, client_id) by deleting its liveness row — used when rtv is
// bumped wholesale (e.g. password change, suspected compromise).
func (s *Store) RevokeAllRefresh(ctx context.Context, tenantID, subject, clientID string) error {
	err := storage.WithoutRLS(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM refresh_tokens WHERE tenant_id = $1 AND subject = $2 AND client_id = $3
		`, tenantID, subject, clientID)
		return err
	})
	if err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return nil
}

// SweepExpired deletes access-token tombstones past their expiry. It
// mirrors the teacher's Janitor cleanup cycle and returns the number
// of rows removed for the worker's log line.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	var count int64
	err := storage.WithoutRLS(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM revoked_access_tokens WHERE expires_at < now()`)
		if err != nil {
			return err
		}
		count = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired revocations: %w", err)
	}
	return count, nil
}
