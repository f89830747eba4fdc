// Package rebac implements the Zanzibar-shaped ReBACEvaluator: a
// recursive sum-type relation expression evaluated against a tuple
// store, with depth and cycle guards and a per-tenant evaluation
// cache.
package rebac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/laventecare/corebac/internal/cache"
	"github.com/laventecare/corebac/internal/metrics"
)

// ExprKind discriminates the relation expression sum type.
type ExprKind string

const (
	KindDirect          ExprKind = "direct"
	KindUnion           ExprKind = "union"
	KindIntersection    ExprKind = "intersection"
	KindExclusion       ExprKind = "exclusion"
	KindComputedUserset ExprKind = "computed_userset"
	KindTupleToUserset  ExprKind = "tuple_to_userset"
)

// Expr is the recursive relation expression sum type of spec.md §3.
// Exactly one of the kind-specific fields is populated, selected by
// Kind.
type Expr struct {
	Kind ExprKind

	// Direct, ComputedUserset
	Relation string

	// Union, Intersection
	Children []Expr

	// Exclusion
	Base  *Expr
	Minus *Expr

	// TupleToUserset
	TuplesetRelation string
	ComputedRelation string
}

// Direct builds a Direct{relation} expression.
func Direct(relation string) Expr { return Expr{Kind: KindDirect, Relation: relation} }

// Union builds a Union{children} expression.
func Union(children ...Expr) Expr { return Expr{Kind: KindUnion, Children: children} }

// Intersection builds an Intersection{children} expression.
func Intersection(children ...Expr) Expr { return Expr{Kind: KindIntersection, Children: children} }

// Exclusion builds an Exclusion{base, minus} expression.
func Exclusion(base, minus Expr) Expr {
	return Expr{Kind: KindExclusion, Base: &base, Minus: &minus}
}

// ComputedUserset builds a ComputedUserset{relation} expression.
func ComputedUserset(relation string) Expr {
	return Expr{Kind: KindComputedUserset, Relation: relation}
}

// TupleToUserset builds a TupleToUserset{tupleset_relation,
// computed_relation} expression.
func TupleToUserset(tuplesetRelation, computedRelation string) Expr {
	return Expr{Kind: KindTupleToUserset, TuplesetRelation: tuplesetRelation, ComputedRelation: computedRelation}
}

// Tuple is a stored relationship tuple.
type Tuple struct {
	TenantID     string
	FromType     string
	FromID       string
	ToType       string
	ToID         string
	Relation     string
	ExpiresAt    *time.Time
	Bidirectional bool
}

// TupleStore is the authoritative tuple storage interface the
// evaluator and the tuple CRUD surface both depend on.
type TupleStore interface {
	// HasTuple reports whether a live (tenant, fromType:fromID,
	// toType:toID, relation) tuple exists.
	HasTuple(ctx context.Context, tenantID, fromType, fromID, toType, toID, relation string) (bool, error)

	// ObjectsWithRelation enumerates the (type, id) pairs that
	// fromType:fromID holds relation on — the tupleset enumeration
	// TupleToUserset needs ("object, tupleset_relation, *").
	ObjectsWithRelation(ctx context.Context, tenantID, fromType, fromID, relation string) ([]TupleRef, error)
}

// TupleRef identifies one side of a tuple for enumeration results.
type TupleRef struct {
	Type string
	ID   string
}

// EvaluationContext carries the traversal state for one evaluate()
// call tree. The visited set is shared across the whole evaluation to
// detect cycles across branches, never across requests.
type EvaluationContext struct {
	TenantID   string
	UserType   string
	UserID     string
	ObjectType string
	ObjectID   string
	Depth      int
	MaxDepth   int
	Visited    map[string]struct{}

	// deepest tracks the maximum Depth reached across the whole call
	// tree, shared by pointer across descend(), for the depth metric.
	deepest *int
}

// NewEvaluationContext builds the root context for a fresh evaluation.
func NewEvaluationContext(tenantID, userType, userID, objectType, objectID string, maxDepth int) *EvaluationContext {
	return &EvaluationContext{
		TenantID:   tenantID,
		UserType:   userType,
		UserID:     userID,
		ObjectType: objectType,
		ObjectID:   objectID,
		Depth:      0,
		MaxDepth:   maxDepth,
		Visited:    map[string]struct{}{},
		deepest:    new(int),
	}
}

func (c *EvaluationContext) descend(objectType, objectID string) *EvaluationContext {
	next := &EvaluationContext{
		TenantID:   c.TenantID,
		UserType:   c.UserType,
		UserID:     c.UserID,
		ObjectType: objectType,
		ObjectID:   objectID,
		Depth:      c.Depth + 1,
		MaxDepth:   c.MaxDepth,
		Visited:    c.Visited,
		deepest:    c.deepest,
	}
	if c.deepest != nil && next.Depth > *c.deepest {
		*c.deepest = next.Depth
	}
	return next
}

// visitKey matches spec.md's format exactly: it deliberately omits
// the relation name, so two expressions of the same kind over the
// same (user, object) pair collide even when their relations differ,
// and the later one evaluates to false — a known quirk of the design,
// not a bug.
func visitKey(c *EvaluationContext, exprKind ExprKind) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", c.UserType, c.UserID, exprKind, c.ObjectType, c.ObjectID)
}

const defaultCacheTTL = 60 * time.Second

// Evaluator evaluates relation expressions against a TupleStore, with
// a per-tenant (user, object, relation) decision cache.
type Evaluator struct {
	store    TupleStore
	cache    cache.RequestCache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// New wires an Evaluator. cacheTTL of 0 uses the spec default of 60s.
func New(store TupleStore, requestCache cache.RequestCache, cacheTTL time.Duration, logger *slog.Logger) *Evaluator {
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Evaluator{store: store, cache: requestCache, cacheTTL: cacheTTL, logger: logger}
}

// decisionCacheKey matches spec.md §6's format:
// rebac:<tenant>:<user_type>:<user_id>:<object_type>:<object_id>:<relation>.
func decisionCacheKey(c *EvaluationContext, relation string) string {
	return fmt.Sprintf("rebac:%s:%s:%s:%s:%s:%s", c.TenantID, c.UserType, c.UserID, c.ObjectType, c.ObjectID, relation)
}

// Evaluate is the entry point: evaluate(expression, context, storage)
// -> bool, consulting the decision cache for the root relation only
// (sub-evaluations within one call tree are not independently cached,
// matching the per-(user,object,relation) cache key shape).
func (e *Evaluator) Evaluate(ctx context.Context, expr Expr, evalCtx *EvaluationContext, relation string) (bool, error) {
	if relation != "" {
		key := decisionCacheKey(evalCtx, relation)
		var cached bool
		if cache.GetJSON(ctx, e.cache, key, &cached) {
			return cached, nil
		}

		start := time.Now()
		decision, err := e.evaluate(ctx, expr, evalCtx)
		metrics.ReBACEvaluationDuration.WithLabelValues(relation).Observe(time.Since(start).Seconds())
		if evalCtx.deepest != nil {
			metrics.ReBACEvaluationDepth.WithLabelValues(relation).Observe(float64(*evalCtx.deepest))
		}
		if err != nil {
			return false, err
		}
		cache.SetJSON(ctx, e.cache, key, decision, e.cacheTTL)
		return decision, nil
	}
	return e.evaluate(ctx, expr, evalCtx)
}

// InvalidateRelation clears the decision cache entry for one
// (user, object, relation), called by tuple writes/deletes.
func (e *Evaluator) InvalidateRelation(ctx context.Context, tenantID, userType, userID, objectType, objectID, relation string) {
	evalCtx := &EvaluationContext{TenantID: tenantID, UserType: userType, UserID: userID, ObjectType: objectType, ObjectID: objectID}
	e.cache.Delete(ctx, decisionCacheKey(evalCtx, relation))
}

func (e *Evaluator) evaluate(ctx context.Context, expr Expr, c *EvaluationContext) (bool, error) {
	if c.Depth > c.MaxDepth {
		e.logger.Warn("rebac: max depth exceeded", "depth", c.Depth, "max_depth", c.MaxDepth, "object_type", c.ObjectType, "object_id", c.ObjectID)
		return false, nil
	}

	key := visitKey(c, expr.Kind)
	if _, seen := c.Visited[key]; seen {
		return false, nil
	}
	c.Visited[key] = struct{}{}

	switch expr.Kind {
	case KindDirect:
		return e.store.HasTuple(ctx, c.TenantID, c.UserType, c.UserID, c.ObjectType, c.ObjectID, expr.Relation)

	case KindUnion:
		for _, child := range expr.Children {
			ok, err := e.evaluate(ctx, child, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case KindIntersection:
		for _, child := range expr.Children {
			ok, err := e.evaluate(ctx, child, c)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case KindExclusion:
		base, err := e.evaluate(ctx, *expr.Base, c)
		if err != nil {
			return false, err
		}
		if !base {
			return false, nil
		}
		minus, err := e.evaluate(ctx, *expr.Minus, c)
		if err != nil {
			return false, err
		}
		return !minus, nil

	case KindComputedUserset:
		return e.evaluate(ctx, Direct(expr.Relation), c)

	case KindTupleToUserset:
		refs, err := e.store.ObjectsWithRelation(ctx, c.TenantID, c.ObjectType, c.ObjectID, expr.TuplesetRelation)
		if err != nil {
			return false, err
		}
		for _, ref := range refs {
			child := c.descend(ref.Type, ref.ID)
			ok, err := e.evaluate(ctx, ComputedUserset(expr.ComputedRelation), child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("rebac: unknown expression kind %q", expr.Kind)
	}
}
