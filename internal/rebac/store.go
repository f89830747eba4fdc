package rebac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the pgx-backed authoritative tuple store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps pool for tuple CRUD and evaluation lookups.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) HasTuple(ctx context.Context, tenantID, fromType, fromID, toType, toID, relation string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM relationship_tuples
			WHERE tenant_id = $1 AND from_type = $2 AND from_id = $3
			  AND to_type = $4 AND to_id = $5 AND relation = $6
			  AND (expires_at IS NULL OR expires_at > now())
		)
	`, tenantID, fromType, fromID, toType, toID, relation).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("tuple existence check: %w", err)
	}
	return exists, nil
}

func (s *PgStore) ObjectsWithRelation(ctx context.Context, tenantID, fromType, fromID, relation string) ([]TupleRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_type, to_id FROM relationship_tuples
		WHERE tenant_id = $1 AND from_type = $2 AND from_id = $3 AND relation = $4
		  AND (expires_at IS NULL OR expires_at > now())
	`, tenantID, fromType, fromID, relation)
	if err != nil {
		return nil, fmt.Errorf("tupleset enumeration: %w", err)
	}
	defer rows.Close()

	var refs []TupleRef
	for rows.Next() {
		var ref TupleRef
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Write upserts a tuple. If t.Bidirectional, the mirror tuple (to ->
// from, same relation) is written in the same transaction.
func (s *PgStore) Write(ctx context.Context, t Tuple) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tuple write: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTuple(ctx, tx, t); err != nil {
		return err
	}
	if t.Bidirectional {
		mirror := t
		mirror.FromType, mirror.ToType = t.ToType, t.FromType
		mirror.FromID, mirror.ToID = t.ToID, t.FromID
		if err := insertTuple(ctx, tx, mirror); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertTuple(ctx context.Context, tx pgx.Tx, t Tuple) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO relationship_tuples (tenant_id, from_type, from_id, to_type, to_id, relation, expires_at, bidirectional)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, from_type, from_id, to_type, to_id, relation)
		DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, t.TenantID, t.FromType, t.FromID, t.ToType, t.ToID, t.Relation, t.ExpiresAt, t.Bidirectional)
	if err != nil {
		return fmt.Errorf("insert tuple: %w", err)
	}
	return nil
}

// Delete removes a tuple (and its mirror, if bidirectional).
func (s *PgStore) Delete(ctx context.Context, tenantID, fromType, fromID, toType, toID, relation string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM relationship_tuples
		WHERE (tenant_id = $1 AND from_type = $2 AND from_id = $3 AND to_type = $4 AND to_id = $5 AND relation = $6)
		   OR (tenant_id = $1 AND bidirectional AND from_type = $4 AND from_id = $5 AND to_type = $2 AND to_id = $3 AND relation = $6)
	`, tenantID, fromType, fromID, toType, toID, relation)
	if err != nil {
		return fmt.Errorf("delete tuple: %w", err)
	}
	return nil
}

// ListObjects returns every (toType, toID) object userType:userID
// holds relation on directly, for the list-objects query surface.
func (s *PgStore) ListObjects(ctx context.Context, tenantID, userType, userID, relation string) ([]TupleRef, error) {
	return s.ObjectsWithRelation(ctx, tenantID, userType, userID, relation)
}

// ListUsers returns every (fromType, fromID) subject holding relation
// on objectType:objectID, for the list-users query surface.
func (s *PgStore) ListUsers(ctx context.Context, tenantID, objectType, objectID, relation string) ([]TupleRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_type, from_id FROM relationship_tuples
		WHERE tenant_id = $1 AND to_type = $2 AND to_id = $3 AND relation = $4
		  AND (expires_at IS NULL OR expires_at > now())
	`, tenantID, objectType, objectID, relation)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var refs []TupleRef
	for rows.Next() {
		var ref TupleRef
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
