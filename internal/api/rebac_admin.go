package api

import (
	"net/http"
	"time"

	"github.com/laventecare/corebac/internal/api/helpers"
	customMiddleware "github.com/laventecare/corebac/internal/api/middleware"
	"github.com/laventecare/corebac/internal/audit"
	"github.com/laventecare/corebac/internal/rebac"
)

// requestActor returns the authenticated subject for audit attribution,
// or "unknown" when requireAuth let the request through without one
// (never happens on these routes today, but Log must not be handed an
// empty actor).
func requestActor(r *http.Request) string {
	subject, err := customMiddleware.GetSubject(r.Context())
	if err != nil || subject == "" {
		return "unknown"
	}
	return subject
}

// rebacTupleBody is the wire shape of a relationship tuple, kept
// separate from rebac.Tuple so the admin surface can evolve its JSON
// independently of the evaluator's internal type.
type rebacTupleBody struct {
	FromType      string     `json:"from_type"`
	FromID        string     `json:"from_id"`
	ToType        string     `json:"to_type"`
	ToID          string     `json:"to_id"`
	Relation      string     `json:"relation"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Bidirectional bool       `json:"bidirectional,omitempty"`
}

func (b rebacTupleBody) toTuple(tenantID string) rebac.Tuple {
	return rebac.Tuple{
		TenantID:      tenantID,
		FromType:      b.FromType,
		FromID:        b.FromID,
		ToType:        b.ToType,
		ToID:          b.ToID,
		Relation:      b.Relation,
		ExpiresAt:     b.ExpiresAt,
		Bidirectional: b.Bidirectional,
	}
}

// WriteTupleHandler serves POST /api/rebac/write: upsert a
// relationship tuple and publish a grant event for downstream
// consumers (audit trails, cache invalidation listeners).
func (s *Server) WriteTupleHandler(w http.ResponseWriter, r *http.Request) {
	var body rebacTupleBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FromType == "" || body.FromID == "" || body.ToType == "" || body.ToID == "" || body.Relation == "" {
		helpers.RespondError(w, http.StatusBadRequest, "from_type, from_id, to_type, to_id, and relation are required")
		return
	}

	tenantID := customMiddleware.MustGetTenantID(r.Context())
	tuple := body.toTuple(tenantID)

	if err := s.RebacStore.Write(r.Context(), tuple); err != nil {
		s.Logger.Error("rebac tuple write failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "tuple write failed")
		return
	}
	s.Rebac.InvalidateRelation(r.Context(), tenantID, tuple.FromType, tuple.FromID, tuple.ToType, tuple.ToID, tuple.Relation)

	s.Notify.Publish(r.Context(), "rebac.tuple.granted", map[string]interface{}{
		"op":       "grant",
		"tenant":   tenantID,
		"subject":  tuple.FromType + ":" + tuple.FromID,
		"resource": tuple.ToType + ":" + tuple.ToID,
		"relation": tuple.Relation,
	})
	s.Audit.Log(r.Context(), tenantID, requestActor(r), audit.EventTupleWritten, tuple.ToType+":"+tuple.ToID,
		map[string]string{"subject": tuple.FromType + ":" + tuple.FromID, "relation": tuple.Relation})

	helpers.RespondJSON(w, http.StatusCreated, map[string]string{"status": "written"})
}

// DeleteTupleHandler serves DELETE /api/rebac/tuples: remove a
// relationship tuple (and its mirror, if bidirectional) and publish a
// revoke event.
func (s *Server) DeleteTupleHandler(w http.ResponseWriter, r *http.Request) {
	var body rebacTupleBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FromType == "" || body.FromID == "" || body.ToType == "" || body.ToID == "" || body.Relation == "" {
		helpers.RespondError(w, http.StatusBadRequest, "from_type, from_id, to_type, to_id, and relation are required")
		return
	}

	tenantID := customMiddleware.MustGetTenantID(r.Context())

	if err := s.RebacStore.Delete(r.Context(), tenantID, body.FromType, body.FromID, body.ToType, body.ToID, body.Relation); err != nil {
		s.Logger.Error("rebac tuple delete failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "tuple delete failed")
		return
	}
	s.Rebac.InvalidateRelation(r.Context(), tenantID, body.FromType, body.FromID, body.ToType, body.ToID, body.Relation)

	s.Notify.Publish(r.Context(), "rebac.tuple.revoked", map[string]interface{}{
		"op":       "revoke",
		"tenant":   tenantID,
		"subject":  body.FromType + ":" + body.FromID,
		"resource": body.ToType + ":" + body.ToID,
		"relation": body.Relation,
	})
	s.Audit.Log(r.Context(), tenantID, requestActor(r), audit.EventTupleDeleted, body.ToType+":"+body.ToID,
		map[string]string{"subject": body.FromType + ":" + body.FromID, "relation": body.Relation})

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type rebacCheckRequestBody struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	ObjectType  string `json:"object_type"`
	ObjectID    string `json:"object_id"`
	Relation    string `json:"relation"`
}

// RebacCheckHandler serves POST /api/rebac/check: evaluate a single
// relation expression directly, bypassing the role/attribute and
// explicit-deny axes that checksvc.Service fuses in front of it.
func (s *Server) RebacCheckHandler(w http.ResponseWriter, r *http.Request) {
	var body rebacCheckRequestBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SubjectID == "" || body.ObjectType == "" || body.ObjectID == "" || body.Relation == "" {
		helpers.RespondError(w, http.StatusBadRequest, "subject_id, object_type, object_id, and relation are required")
		return
	}
	if body.SubjectType == "" {
		body.SubjectType = "user"
	}

	tenantID := customMiddleware.MustGetTenantID(r.Context())
	evalCtx := rebac.NewEvaluationContext(tenantID, body.SubjectType, body.SubjectID, body.ObjectType, body.ObjectID, s.RebacMaxDepth)

	allowed, err := s.Rebac.Evaluate(r.Context(), rebac.Direct(body.Relation), evalCtx, body.Relation)
	if err != nil {
		s.Logger.Error("rebac check failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "rebac check failed")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

type rebacListObjectsRequestBody struct {
	UserType string `json:"user_type"`
	UserID   string `json:"user_id"`
	Relation string `json:"relation"`
}

// ListObjectsHandler serves POST /api/rebac/list-objects: every object
// the named subject holds relation on directly (no transitive
// expansion — a flat tupleset enumeration, not a full Evaluate pass).
func (s *Server) ListObjectsHandler(w http.ResponseWriter, r *http.Request) {
	var body rebacListObjectsRequestBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || body.Relation == "" {
		helpers.RespondError(w, http.StatusBadRequest, "user_id and relation are required")
		return
	}
	if body.UserType == "" {
		body.UserType = "user"
	}

	tenantID := customMiddleware.MustGetTenantID(r.Context())
	refs, err := s.RebacStore.ListObjects(r.Context(), tenantID, body.UserType, body.UserID, body.Relation)
	if err != nil {
		s.Logger.Error("rebac list-objects failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "list-objects failed")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{"objects": refs})
}

type rebacListUsersRequestBody struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Relation   string `json:"relation"`
}

// ListUsersHandler serves POST /api/rebac/list-users: every subject
// holding relation on the named object directly.
func (s *Server) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	var body rebacListUsersRequestBody
	if err := helpers.DecodeJSON(r, &body); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ObjectType == "" || body.ObjectID == "" || body.Relation == "" {
		helpers.RespondError(w, http.StatusBadRequest, "object_type, object_id, and relation are required")
		return
	}

	tenantID := customMiddleware.MustGetTenantID(r.Context())
	refs, err := s.RebacStore.ListUsers(r.Context(), tenantID, body.ObjectType, body.ObjectID, body.Relation)
	if err != nil {
		s.Logger.Error("rebac list-users failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "list-users failed")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{"users": refs})
}
