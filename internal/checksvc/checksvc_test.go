package checksvc_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laventecare/corebac/internal/cache"
	"github.com/laventecare/corebac/internal/checksvc"
	"github.com/laventecare/corebac/internal/rebac"
)

type fakeTuple struct{ fromType, fromID, toType, toID, relation string }

type fakeStore struct{ tuples []fakeTuple }

func (s *fakeStore) HasTuple(_ context.Context, _, fromType, fromID, toType, toID, relation string) (bool, error) {
	for _, t := range s.tuples {
		if t.fromType == fromType && t.fromID == fromID && t.toType == toType && t.toID == toID && t.relation == relation {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ObjectsWithRelation(context.Context, string, string, string, string) ([]rebac.TupleRef, error) {
	return nil, nil
}

type fakeRoles struct{ role string }

func (f fakeRoles) RoleFor(context.Context, string, string) (string, error) {
	return f.role, nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheck_ExplicitDenyWinsOverEverything(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	svc := checksvc.New(checksvc.Config{
		DenyRules: []checksvc.DenyRule{{SubjectPattern: "alice", PermissionPattern: "document:*:*"}},
		Evaluator: evaluator,
		Roles:     fakeRoles{role: "admin"},
		Weights:   checksvc.RoleWeights{"admin": 3},
		RoleRules: []checksvc.RoleRule{{PermissionPattern: "document:*:*", RequiredRole: "admin"}},
	})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "alice", Permission: "document:doc-1:read", TenantID: "t1",
		Rebac: &checksvc.RebacRef{Relation: "owner", Object: "document:doc-1"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []checksvc.Axis{checksvc.AxisExplicitDeny}, d.ResolvedVia)
}

func TestCheck_ReBACAxisAllows(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	svc := checksvc.New(checksvc.Config{Evaluator: evaluator})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "alice", Permission: "document:doc-1:read", TenantID: "t1",
		Rebac: &checksvc.RebacRef{Relation: "owner", Object: "document:doc-1"},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []checksvc.Axis{checksvc.AxisReBAC}, d.ResolvedVia)
}

func TestCheck_RoleAttributeAxisAllowsWhenReBACMisses(t *testing.T) {
	store := &fakeStore{}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	svc := checksvc.New(checksvc.Config{
		Evaluator: evaluator,
		Roles:     fakeRoles{role: "editor"},
		Weights:   checksvc.RoleWeights{"viewer": 1, "editor": 2, "admin": 3},
		RoleRules: []checksvc.RoleRule{{PermissionPattern: "document:*:read", RequiredRole: "editor"}},
	})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "bob", Permission: "document:doc-2:read", TenantID: "t1",
		Rebac: &checksvc.RebacRef{Relation: "owner", Object: "document:doc-2"},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []checksvc.Axis{checksvc.AxisRoleAttr}, d.ResolvedVia)
}

func TestCheck_RoleAttributeRequiresResourceAttributeMatch(t *testing.T) {
	store := &fakeStore{}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	svc := checksvc.New(checksvc.Config{
		Evaluator: evaluator,
		Roles:     fakeRoles{role: "editor"},
		Weights:   checksvc.RoleWeights{"editor": 2},
		RoleRules: []checksvc.RoleRule{{
			PermissionPattern: "document:*:read", RequiredRole: "editor",
			RequiredAttribute: "department", RequiredValue: "eng",
		}},
	})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "bob", Permission: "document:doc-2:read", TenantID: "t1",
		ResourceContext: map[string]string{"department": "sales"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []checksvc.Axis{checksvc.AxisDefaultDeny}, d.ResolvedVia)
}

func TestCheck_DefaultDenyWhenNoAxisMatches(t *testing.T) {
	store := &fakeStore{}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())
	svc := checksvc.New(checksvc.Config{Evaluator: evaluator})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "nobody", Permission: "document:doc-2:read", TenantID: "t1",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "deny", d.FinalDecision)
	assert.Equal(t, []checksvc.Axis{checksvc.AxisDefaultDeny}, d.ResolvedVia)
}

func TestCheck_DebugModePopulatesPerAxisResults(t *testing.T) {
	store := &fakeStore{}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())
	svc := checksvc.New(checksvc.Config{Evaluator: evaluator, DebugMode: true})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "nobody", Permission: "document:doc-2:read", TenantID: "t1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.Debug)
}

func TestCheck_DebugModeOffLeavesDebugNil(t *testing.T) {
	store := &fakeStore{}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())
	svc := checksvc.New(checksvc.Config{Evaluator: evaluator})

	d, err := svc.Check(context.Background(), checksvc.Request{
		Subject: "nobody", Permission: "document:doc-2:read", TenantID: "t1",
	})
	require.NoError(t, err)
	assert.Nil(t, d.Debug)
}

func TestBatchCheck_StopOnDenyHaltsAtFirstDeny(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())
	svc := checksvc.New(checksvc.Config{Evaluator: evaluator})

	checks := []checksvc.Request{
		{Subject: "alice", Permission: "document:doc-1:read", TenantID: "t1", Rebac: &checksvc.RebacRef{Relation: "owner", Object: "document:doc-1"}},
		{Subject: "alice", Permission: "document:doc-2:read", TenantID: "t1"},
		{Subject: "alice", Permission: "document:doc-3:read", TenantID: "t1", Rebac: &checksvc.RebacRef{Relation: "owner", Object: "document:doc-1"}},
	}

	decisions, err := svc.BatchCheck(context.Background(), checks, true)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)
	assert.True(t, decisions[0].Allowed)
	assert.False(t, decisions[1].Allowed)
}

func TestBatchCheck_ClampsToMaxLimit(t *testing.T) {
	store := &fakeStore{}
	evaluator := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())
	svc := checksvc.New(checksvc.Config{Evaluator: evaluator, BatchSizeLimit: checksvc.MaxBatchLimit + 500})

	checks := make([]checksvc.Request, checksvc.MaxBatchLimit+50)
	for i := range checks {
		checks[i] = checksvc.Request{Subject: "alice", Permission: "document:doc-1:read", TenantID: "t1"}
	}

	decisions, err := svc.BatchCheck(context.Background(), checks, false)
	require.NoError(t, err)
	assert.Len(t, decisions, checksvc.MaxBatchLimit)
}
