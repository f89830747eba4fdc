// Package account implements the User lookups the IntrospectionEngine
// and UnifiedCheckService need: account status (for the suspended/locked
// introspection invariant) and role (for the role/attribute check axis),
// plus the full claim-bearing record the UserInfoEngine projects.
package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laventecare/corebac/internal/model"
	"github.com/laventecare/corebac/internal/storage"
)

// Store is the tenant-scoped, RLS-respecting account store, grounded on
// the teacher's tenant-scoped query pattern (internal/tenant.ClientRegistry).
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool for account lookups.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Status implements introspection.UserLookup: the subject's current
// lifecycle status, used to fail a token inactive when its owner is
// suspended or locked even though the token itself is still valid.
func (s *Store) Status(ctx context.Context, tenantID, userID string) (model.UserStatus, error) {
	user, err := s.find(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}
	return user.Status, nil
}

// RoleFor implements checksvc.RoleLookup: the subject's role within
// tenantID, consulted by the role/attribute check axis only after the
// ReBAC axis has already missed.
func (s *Store) RoleFor(ctx context.Context, tenantID, subject string) (string, error) {
	user, err := s.find(ctx, tenantID, subject)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}
	return user.Role, nil
}

// Get returns the full claim-bearing record for id, used by the
// UserInfoEngine's Project step.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*model.User, error) {
	user, err := s.find(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("account: user not found")
	}
	return user, nil
}

func (s *Store) find(ctx context.Context, tenantID, userID string) (*model.User, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, nil
	}

	var found *model.User
	err = storage.WithTenantContext(ctx, s.pool, tid, func(tx pgx.Tx) error {
		row, scanErr := scanUser(tx.QueryRow(ctx, `
			SELECT id, tenant_id, status, role, name, family_name, given_name,
			       middle_name, nickname, preferred_username, profile, picture,
			       website, gender, birthdate, zoneinfo, locale, email,
			       email_verified, phone_number, phone_number_verified,
			       address_json, updated_at
			FROM users
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, userID))
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
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	return found, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Status, &u.Role, &u.Name, &u.FamilyName, &u.GivenName,
		&u.MiddleName, &u.Nickname, &u.PreferredUsername, &u.Profile, &u.Picture,
		&u.Website, &u.Gender, &u.Birthdate, &u.Zoneinfo, &u.Locale, &u.Email,
		&u.EmailVerified, &u.PhoneNumber, &u.PhoneNumberVerified,
		&u.AddressJSON, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
