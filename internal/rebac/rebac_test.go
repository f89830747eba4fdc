package rebac_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laventecare/corebac/internal/cache"
	"github.com/laventecare/corebac/internal/rebac"
)

type fakeTuple struct {
	fromType, fromID, toType, toID, relation string
}

type fakeStore struct {
	tuples []fakeTuple
	calls  int
}

func (s *fakeStore) HasTuple(_ context.Context, _, fromType, fromID, toType, toID, relation string) (bool, error) {
	s.calls++
	for _, t := range s.tuples {
		if t.fromType == fromType && t.fromID == fromID && t.toType == toType && t.toID == toID && t.relation == relation {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ObjectsWithRelation(_ context.Context, _, fromType, fromID, relation string) ([]rebac.TupleRef, error) {
	s.calls++
	var refs []rebac.TupleRef
	for _, t := range s.tuples {
		if t.fromType == fromType && t.fromID == fromID && t.relation == relation {
			refs = append(refs, rebac.TupleRef{Type: t.toType, ID: t.toID})
		}
	}
	return refs, nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func evalCtx(maxDepth int) *rebac.EvaluationContext {
	return rebac.NewEvaluationContext("tenant-1", "user", "alice", "document", "doc-1", maxDepth)
}

func TestEvaluate_Direct(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	ok, err := eval.Evaluate(context.Background(), rebac.Direct("owner"), evalCtx(5), "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.Evaluate(context.Background(), rebac.Direct("editor"), evalCtx(5), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_UnionShortCircuits(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	expr := rebac.Union(rebac.Direct("owner"), rebac.Direct("editor"))
	ok, err := eval.Evaluate(context.Background(), expr, evalCtx(5), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_IntersectionRequiresAll(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	expr := rebac.Intersection(rebac.Direct("owner"), rebac.Direct("editor"))
	ok, err := eval.Evaluate(context.Background(), expr, evalCtx(5), "")
	require.NoError(t, err)
	assert.False(t, ok)

	expr2 := rebac.Intersection(rebac.Direct("owner"), rebac.Direct("owner"))
	ok, err = eval.Evaluate(context.Background(), expr2, evalCtx(5), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ExclusionBaseMinusMinus(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{
		{"user", "alice", "document", "doc-1", "viewer"},
		{"user", "alice", "document", "doc-1", "banned"},
	}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	expr := rebac.Exclusion(rebac.Direct("viewer"), rebac.Direct("banned"))
	ok, err := eval.Evaluate(context.Background(), expr, evalCtx(5), "")
	require.NoError(t, err)
	assert.False(t, ok)

	store2 := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "viewer"}}}
	eval2 := rebac.New(store2, cache.NewProcessCache(), 0, noopLogger())
	ok, err = eval2.Evaluate(context.Background(), expr, evalCtx(5), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ComputedUsersetDelegatesToDirect(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	ok, err := eval.Evaluate(context.Background(), rebac.ComputedUserset("owner"), evalCtx(5), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_TupleToUsersetRecursesThroughParent(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{
		{"document", "doc-1", "folder", "folder-1", "parent"},
		{"user", "alice", "folder", "folder-1", "editor"},
	}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	expr := rebac.TupleToUserset("parent", "editor")
	ok, err := eval.Evaluate(context.Background(), expr, evalCtx(5), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_TupleToUsersetNoMatchingParent(t *testing.T) {
	store := &fakeStore{}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	expr := rebac.TupleToUserset("parent", "editor")
	ok, err := eval.Evaluate(context.Background(), expr, evalCtx(5), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_DepthBoundStopsWithoutTouchingStorage(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	c := evalCtx(1)
	c.Depth = 2 // one past max_depth

	ok, err := eval.Evaluate(context.Background(), rebac.Direct("owner"), c, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.calls, "evaluation past max depth must not touch storage")
}

func TestEvaluate_CycleThroughTupleToUsersetTerminates(t *testing.T) {
	// folder-1 -> parent -> folder-2 -> parent -> folder-1 (cycle)
	store := &fakeStore{tuples: []fakeTuple{
		{"document", "doc-1", "folder", "folder-1", "parent"},
		{"folder", "folder-1", "folder", "folder-2", "parent"},
		{"folder", "folder-2", "folder", "folder-1", "parent"},
	}}
	eval := rebac.New(store, cache.NewProcessCache(), 0, noopLogger())

	expr := rebac.TupleToUserset("parent", "editor")
	done := make(chan struct{})
	var ok bool
	var err error
	go func() {
		ok, err = eval.Evaluate(context.Background(), expr, evalCtx(50), "")
		close(done)
	}()
	select {
	case <-done:
		require.NoError(t, err)
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("evaluation did not terminate on a cyclic relation graph")
	}
}

func TestEvaluate_DecisionCacheHitSkipsStorage(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	rc := cache.NewProcessCache()
	eval := rebac.New(store, rc, time.Minute, noopLogger())

	ctx := context.Background()
	ok, err := eval.Evaluate(ctx, rebac.Direct("owner"), evalCtx(5), "owner")
	require.NoError(t, err)
	assert.True(t, ok)
	callsAfterFirst := store.calls

	ok, err = eval.Evaluate(ctx, rebac.Direct("owner"), evalCtx(5), "owner")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, callsAfterFirst, store.calls, "cached decision must not re-touch storage")
}

func TestEvaluate_InvalidateRelationClearsCache(t *testing.T) {
	store := &fakeStore{tuples: []fakeTuple{{"user", "alice", "document", "doc-1", "owner"}}}
	rc := cache.NewProcessCache()
	eval := rebac.New(store, rc, time.Minute, noopLogger())

	ctx := context.Background()
	_, err := eval.Evaluate(ctx, rebac.Direct("owner"), evalCtx(5), "owner")
	require.NoError(t, err)
	callsAfterFirst := store.calls

	eval.InvalidateRelation(ctx, "tenant-1", "user", "alice", "document", "doc-1", "owner")

	// Tuple revoked out-of-band; next evaluation must recheck storage.
	store.tuples = nil
	ok, err := eval.Evaluate(ctx, rebac.Direct("owner"), evalCtx(5), "owner")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, store.calls, callsAfterFirst)
}
