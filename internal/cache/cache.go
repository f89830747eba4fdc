// Package cache implements the layered RequestCache used by the
// introspection engine and the ReBAC evaluator's subtree memo; API-key
// validation does not go through it. Each consumer gets an in-process tier
// (microseconds, single node) backed by a shared Redis tier
// (milliseconds, cross-node) so a cache miss on one API instance can
// still be served from another instance's writes.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laventecare/corebac/internal/metrics"
)

// RequestCache is the interface every cache tier, and the layered
// combination of tiers, satisfies.
type RequestCache interface {
	// Get looks up key, returning (value, true) on a hit. A miss, an
	// expired entry, or a backend error are all reported as (nil, false) —
	// callers always have a path to recompute from the authoritative store.
	Get(ctx context.Context, key string) ([]byte, bool)

	// SetWithTTL stores value under key, to expire after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes key from the cache, if present.
	Delete(ctx context.Context, key string)
}

// processEntry is one row of the in-process tier.
type processEntry struct {
	value   []byte
	expires time.Time
}

// ProcessCache is an in-process, single-node cache tier backed by
// sync.Map with lazily-checked TTL expiry. Safe for concurrent use.
type ProcessCache struct {
	entries sync.Map // string -> processEntry
}

// NewProcessCache returns an empty process-local cache tier.
func NewProcessCache() *ProcessCache {
	return &ProcessCache{}
}

func (c *ProcessCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := v.(processEntry)
	if time.Now().After(entry.expires) {
		c.entries.Delete(key)
		return nil, false
	}
	return entry.value, true
}

func (c *ProcessCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.entries.Store(key, processEntry{value: value, expires: time.Now().Add(ttl)})
}

func (c *ProcessCache) Delete(_ context.Context, key string) {
	c.entries.Delete(key)
}

// SharedCache is a Redis-backed cache tier shared across every API
// instance in the tenant's deployment.
type SharedCache struct {
	rdb    *redis.Client
	prefix string
}

// NewSharedCache returns a Redis-backed cache tier. keyPrefix namespaces
// this consumer's keys (e.g. "introspect:", "rebac:subtree:") so
// distinct callers sharing one Redis instance never collide.
func NewSharedCache(rdb *redis.Client, keyPrefix string) *SharedCache {
	return &SharedCache{rdb: rdb, prefix: keyPrefix}
}

func (c *SharedCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		// redis.Nil (miss) and any transport error both fall through to
		// the authoritative store — Redis is an accelerator, not a source
		// of truth.
		return nil, false
	}
	return val, true
}

func (c *SharedCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *SharedCache) Delete(ctx context.Context, key string) {
	_ = c.rdb.Del(ctx, c.prefix+key).Err()
}

// Layered composes a process-local tier in front of a shared tier. Get
// checks process first, then shared, and on a shared hit repopulates
// the process tier with its own (shorter) TTL so the next lookup on
// this node is in-process. SetWithTTL and Delete apply to the shared
// tier first and then to the process tier, so between the two steps a
// reader on this node can still be served the process tier's old entry.
type Layered struct {
	process    RequestCache
	shared     RequestCache
	processTTL time.Duration
	consumer   string
}

// NewLayered builds a two-tier cache. processTTL bounds how long a
// value may be served from the process tier before it is required to
// re-check the shared tier; it should be shorter than whatever TTL the
// caller passes to SetWithTTL for the shared tier. consumer labels this
// cache's hit/miss metrics (e.g. "keystore", "introspection").
func NewLayered(process, shared RequestCache, processTTL time.Duration, consumer string) *Layered {
	return &Layered{process: process, shared: shared, processTTL: processTTL, consumer: consumer}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := l.process.Get(ctx, key); ok {
		metrics.CacheHitsTotal.WithLabelValues("process", l.consumer).Inc()
		return v, true
	}
	v, ok := l.shared.Get(ctx, key)
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues("shared", l.consumer).Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues("shared", l.consumer).Inc()
	l.process.SetWithTTL(ctx, key, v, l.processTTL)
	return v, true
}

func (l *Layered) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) {
	l.shared.SetWithTTL(ctx, key, value, ttl)
	processTTL := ttl
	if l.processTTL < processTTL {
		processTTL = l.processTTL
	}
	l.process.SetWithTTL(ctx, key, value, processTTL)
}

func (l *Layered) Delete(ctx context.Context, key string) {
	l.shared.Delete(ctx, key)
	l.process.Delete(ctx, key)
}

// GetJSON is a convenience wrapper that unmarshals a cache hit into
// dest, reporting false (without error) on a miss or on malformed
// cached data — treating a corrupt entry as a miss lets the caller
// recompute and repair it via SetJSON.
func GetJSON(ctx context.Context, c RequestCache, key string, dest interface{}) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

// SetJSON marshals value and stores it under key with the given TTL.
// Marshal errors are swallowed: caching is best-effort and must never
// fail the caller's primary operation.
func SetJSON(ctx context.Context, c RequestCache, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.SetWithTTL(ctx, key, raw, ttl)
}
