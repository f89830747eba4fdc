package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/laventecare/corebac/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()

	c.SetWithTTL(ctx, "k1", []byte("v1"), time.Minute)

	v, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestProcessCache_Miss(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestProcessCache_ExpiredEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()

	c.SetWithTTL(ctx, "k1", []byte("v1"), -time.Second)

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok, "entry with a TTL already in the past must not be served")
}

func TestProcessCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()

	c.SetWithTTL(ctx, "k1", []byte("v1"), time.Minute)
	c.Delete(ctx, "k1")

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

// fanoutRecorder wraps a RequestCache and counts Get calls, so tests
// can assert the process tier is actually consulted before the shared
// tier.
type fanoutRecorder struct {
	cache.RequestCache
	gets int
}

func (f *fanoutRecorder) Get(ctx context.Context, key string) ([]byte, bool) {
	f.gets++
	return f.RequestCache.Get(ctx, key)
}

func TestLayered_HitsProcessTierFirst(t *testing.T) {
	ctx := context.Background()
	process := &fanoutRecorder{RequestCache: cache.NewProcessCache()}
	shared := &fanoutRecorder{RequestCache: cache.NewProcessCache()}
	layered := cache.NewLayered(process, shared, 30*time.Second, "test")

	layered.SetWithTTL(ctx, "k1", []byte("v1"), time.Minute)

	v, ok := layered.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, 0, shared.gets, "process-tier hit must not fall through to the shared tier")
}

func TestLayered_FallsBackToSharedAndRepopulatesProcess(t *testing.T) {
	ctx := context.Background()
	process := cache.NewProcessCache()
	shared := cache.NewProcessCache()
	layered := cache.NewLayered(process, shared, 30*time.Second, "test")

	// Simulate a value that only another node wrote to the shared tier.
	shared.SetWithTTL(ctx, "k1", []byte("v1"), time.Minute)

	v, ok := layered.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	// The process tier should now be warmed from the shared-tier hit.
	pv, ok := process.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), pv)
}

func TestLayered_DeleteClearsBothTiers(t *testing.T) {
	ctx := context.Background()
	process := cache.NewProcessCache()
	shared := cache.NewProcessCache()
	layered := cache.NewLayered(process, shared, 30*time.Second, "test")

	layered.SetWithTTL(ctx, "k1", []byte("v1"), time.Minute)
	layered.Delete(ctx, "k1")

	_, okProcess := process.Get(ctx, "k1")
	_, okShared := shared.Get(ctx, "k1")
	assert.False(t, okProcess)
	assert.False(t, okShared)
}

type jsonPayload struct {
	Value string `json:"value"`
}

func TestSetJSON_GetJSON_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()

	cache.SetJSON(ctx, c, "k1", jsonPayload{Value: "hello"}, time.Minute)

	var out jsonPayload
	ok := cache.GetJSON(ctx, c, "k1", &out)
	require.True(t, ok)
	assert.Equal(t, "hello", out.Value)
}

func TestGetJSON_MissReturnsFalse(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()

	var out jsonPayload
	ok := cache.GetJSON(ctx, c, "missing", &out)
	assert.False(t, ok)
}

func TestGetJSON_MalformedEntryIsTreatedAsAMiss(t *testing.T) {
	ctx := context.Background()
	c := cache.NewProcessCache()
	c.SetWithTTL(ctx, "k1", []byte("not json"), time.Minute)

	var out jsonPayload
	ok := cache.GetJSON(ctx, c, "k1", &out)
	assert.False(t, ok)
}
