// Package checksvc implements the UnifiedCheckService: it fuses
// explicit deny rules, the ReBAC axis, and role/attribute rules into a
// single allow/deny decision, deny-wins, recording which axis produced
// the final answer.
package checksvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/laventecare/corebac/internal/metrics"
	"github.com/laventecare/corebac/internal/rebac"
)

// Axis names an evaluation axis for Decision.ResolvedVia.
type Axis string

const (
	AxisExplicitDeny Axis = "explicit_deny"
	AxisReBAC        Axis = "rebac"
	AxisRoleAttr     Axis = "role_attribute"
	AxisDefaultDeny  Axis = "default_deny"
)

// DefaultBatchLimit and MaxBatchLimit bound batch_check: 100 by default,
// never more than 1000.
const (
	DefaultBatchLimit = 100
	MaxBatchLimit     = 1000
)

// RebacRef is the optional rebac clause of a check Request.
type RebacRef struct {
	Relation string `json:"relation"`
	Object   string `json:"object"` // "objectType:objectID"
}

// Request is one check() call's input.
type Request struct {
	Subject         string            `json:"subject_id"`
	SubjectType     string            `json:"subject_type,omitempty"` // defaults to "user"
	Permission      string            `json:"permission"`
	TenantID        string            `json:"tenant_id,omitempty"`
	ResourceContext map[string]string `json:"resource_context,omitempty"`
	Rebac           *RebacRef         `json:"rebac,omitempty"`
}

// Decision is check()'s output.
type Decision struct {
	Allowed       bool         `json:"allowed"`
	ResolvedVia   []Axis       `json:"resolved_via"`
	FinalDecision string       `json:"final_decision"` // "allow" or "deny"
	Debug         []AxisResult `json:"debug,omitempty"`
}

// AxisResult is one axis's intermediate verdict, populated on Decision
// only when debug mode is requested.
type AxisResult struct {
	Axis    Axis   `json:"axis"`
	Matched bool   `json:"matched"`
	Reason  string `json:"reason,omitempty"`
}

// DenyRule is a subject/permission pattern that always wins over every
// other axis when it matches.
type DenyRule struct {
	SubjectPattern    string // exact subject, or "*" for any
	PermissionPattern string // exact permission, or a "resource:*:action" wildcard on id
}

func (r DenyRule) matches(req Request) bool {
	if r.SubjectPattern != "*" && r.SubjectPattern != req.Subject {
		return false
	}
	return matchPermission(r.PermissionPattern, req.Permission)
}

func matchPermission(pattern, permission string) bool {
	if pattern == permission {
		return true
	}
	pp := strings.Split(pattern, ":")
	rp := strings.Split(permission, ":")
	if len(pp) != len(rp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != rp[i] {
			return false
		}
	}
	return true
}

// RoleWeights ranks roles for hierarchy checks: a higher weight means
// more privilege.
type RoleWeights map[string]int

// RoleRule grants permission when the subject's role weighs at least as
// much as RequiredRole, optionally gated on a resource-context attribute
// match.
type RoleRule struct {
	PermissionPattern string
	RequiredRole      string
	RequiredAttribute string // resource_context key, empty to skip
	RequiredValue     string
}

func (r RoleRule) matches(req Request, role string, weights RoleWeights) bool {
	if !matchPermission(r.PermissionPattern, req.Permission) {
		return false
	}
	if weights[role] < weights[r.RequiredRole] {
		return false
	}
	if r.RequiredAttribute != "" && req.ResourceContext[r.RequiredAttribute] != r.RequiredValue {
		return false
	}
	return true
}

// RoleLookup resolves a subject's role within a tenant, the input the
// role/attribute axis needs.
type RoleLookup interface {
	RoleFor(ctx context.Context, tenantID, subject string) (string, error)
}

// Service fuses the three axes into one Decision.
type Service struct {
	denyRules      []DenyRule
	roleRules      []RoleRule
	weights        RoleWeights
	roles          RoleLookup
	evaluator      *rebac.Evaluator
	maxDepth       int
	debugMode      bool
	batchSizeLimit int
}

// Config wires a Service's rule sets and collaborators.
type Config struct {
	DenyRules []DenyRule
	RoleRules []RoleRule
	Weights   RoleWeights
	Roles     RoleLookup
	Evaluator *rebac.Evaluator
	MaxDepth  int
	DebugMode bool

	// BatchSizeLimit bounds BatchCheck, per spec.md's 100-default,
	// 1000-ceiling CHECK_API_BATCH_SIZE_LIMIT. Zero takes the default;
	// any value is still clamped to MaxBatchLimit.
	BatchSizeLimit int
}

// New builds a Service from cfg.
func New(cfg Config) *Service {
	maxDepth := cfg.MaxDepth
	if maxDepth == 0 {
		maxDepth = 5
	}
	batchSizeLimit := cfg.BatchSizeLimit
	if batchSizeLimit == 0 {
		batchSizeLimit = DefaultBatchLimit
	}
	if batchSizeLimit > MaxBatchLimit {
		batchSizeLimit = MaxBatchLimit
	}
	return &Service{
		denyRules:      cfg.DenyRules,
		roleRules:      cfg.RoleRules,
		weights:        cfg.Weights,
		roles:          cfg.Roles,
		evaluator:      cfg.Evaluator,
		maxDepth:       maxDepth,
		debugMode:      cfg.DebugMode,
		batchSizeLimit: batchSizeLimit,
	}
}

// Check evaluates req through the deny-wins axis order: explicit deny
// rules, then ReBAC (if req.Rebac is set), then role/attribute rules,
// then default deny.
func (s *Service) Check(ctx context.Context, req Request) (*Decision, error) {
	if req.SubjectType == "" {
		req.SubjectType = "user"
	}

	var debug []AxisResult
	record := func(axis Axis, matched bool, reason string) {
		if s.debugMode {
			debug = append(debug, AxisResult{Axis: axis, Matched: matched, Reason: reason})
		}
	}
	decide := func(axis Axis, allowed bool) *Decision {
		final := "deny"
		if allowed {
			final = "allow"
		}
		metrics.CheckDecisionsTotal.WithLabelValues(string(axis), final).Inc()
		return &Decision{Allowed: allowed, ResolvedVia: []Axis{axis}, FinalDecision: final, Debug: debug}
	}

	for _, rule := range s.denyRules {
		if rule.matches(req) {
			record(AxisExplicitDeny, true, "explicit deny rule matched")
			return decide(AxisExplicitDeny, false), nil
		}
	}
	record(AxisExplicitDeny, false, "no deny rule matched")

	if req.Rebac != nil && s.evaluator != nil {
		objectType, objectID, err := splitObject(req.Rebac.Object)
		if err != nil {
			return nil, fmt.Errorf("checksvc: %w", err)
		}
		evalCtx := rebac.NewEvaluationContext(req.TenantID, req.SubjectType, req.Subject, objectType, objectID, s.maxDepth)
		allowed, err := s.evaluator.Evaluate(ctx, rebac.Direct(req.Rebac.Relation), evalCtx, req.Rebac.Relation)
		if err != nil {
			return nil, fmt.Errorf("checksvc: rebac evaluation: %w", err)
		}
		if allowed {
			record(AxisReBAC, true, "rebac relation held")
			return decide(AxisReBAC, true), nil
		}
		record(AxisReBAC, false, "rebac relation not held")
	}

	if s.roles != nil {
		role, err := s.roles.RoleFor(ctx, req.TenantID, req.Subject)
		if err == nil && role != "" {
			for _, rule := range s.roleRules {
				if rule.matches(req, role, s.weights) {
					record(AxisRoleAttr, true, "role/attribute rule matched")
					return decide(AxisRoleAttr, true), nil
				}
			}
		}
	}
	record(AxisRoleAttr, false, "no role/attribute rule matched")

	return decide(AxisDefaultDeny, false), nil
}

func splitObject(object string) (objType, objID string, err error) {
	parts := strings.SplitN(object, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed rebac object %q, want \"type:id\"", object)
	}
	return parts[0], parts[1], nil
}

// BatchCheck evaluates checks in order, honoring stopOnDeny and
// clamping to the service's configured batch size limit.
func (s *Service) BatchCheck(ctx context.Context, checks []Request, stopOnDeny bool) ([]*Decision, error) {
	limit := s.batchSizeLimit
	if limit == 0 {
		limit = DefaultBatchLimit
	}
	if len(checks) > limit {
		checks = checks[:limit]
	}
	decisions := make([]*Decision, 0, len(checks))
	for _, req := range checks {
		d, err := s.Check(ctx, req)
		if err != nil {
			return decisions, err
		}
		decisions = append(decisions, d)
		if stopOnDeny && !d.Allowed {
			break
		}
	}
	return decisions, nil
}
