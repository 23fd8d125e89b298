package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/joblock"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/storage"
)

// Store is the read-only slice of the binding store the API needs. The API
// never triggers creation itself; it only enqueues.
type Store interface {
	GetReady(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error)
	Get(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error)
}

type Locks interface {
	IsActive(ctx context.Context, ownerID int64, role domain.OwnerRole, scope string) (bool, error)
}

type Queue interface {
	Enqueue(ctx context.Context, t queue.Task, runAt time.Time) error
}

// Server is the boundary the conversational layer calls. Triggers are
// fire-and-forget; callers poll the binding endpoint instead of awaiting.
type Server struct {
	store Store
	locks Locks
	queue Queue
	log   *zap.Logger
}

func NewServer(store Store, locks Locks, q Queue, log *zap.Logger) *Server {
	return &Server{store: store, locks: locks, queue: q, log: log}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/ensure", s.handleEnsure)
	r.Post("/v1/append", s.handleAppend)
	r.Get("/v1/bindings/{role}/{kind}", s.handleGetBinding)
	return r
}

type triggerRequest struct {
	OwnerID   int64  `json:"owner_id"`
	OwnerRole string `json:"owner_role"`
	Kind      string `json:"resource_kind"`
	RowID     int64  `json:"row_id,omitempty"`
}

func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	req, role, kind, ok := s.decodeTrigger(w, r)
	if !ok {
		return
	}

	active, err := s.locks.IsActive(r.Context(), req.OwnerID, role, joblock.ScopeSheet)
	if err != nil {
		s.fail(w, err)
		return
	}
	if active {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "in_progress",
			"detail": "a sheet job is already running for this owner, please wait",
		})
		return
	}

	t := queue.Task{
		ID:      uuid.NewString(),
		Type:    queue.TaskEnsureResource,
		OwnerID: req.OwnerID,
		Role:    role,
		Kind:    kind,
	}
	if err := s.queue.Enqueue(r.Context(), t, time.Now()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "task_id": t.ID})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	req, role, kind, ok := s.decodeTrigger(w, r)
	if !ok {
		return
	}
	if req.RowID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "row_id is required"})
		return
	}

	t := queue.Task{
		ID:      uuid.NewString(),
		Type:    queue.TaskAppendRow,
		OwnerID: req.OwnerID,
		Role:    role,
		Kind:    kind,
		RowID:   req.RowID,
	}
	if err := s.queue.Enqueue(r.Context(), t, time.Now()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "task_id": t.ID})
}

func (s *Server) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	role, ok := domain.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown owner role"})
		return
	}
	kind, ok := domain.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown resource kind"})
		return
	}
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}

	b, err := s.store.GetReady(r.Context(), ownerID, role, kind)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// expose the lifecycle status so pollers can tell pending from absent
			status := domain.StatusNone
			if cur, cerr := s.store.Get(r.Context(), ownerID, role, kind); cerr == nil {
				status = cur.Status
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"status": string(status)})
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       string(b.Status),
		"external_id":  *b.ExternalID,
		"external_url": *b.ExternalURL,
		"needs_sync":   b.NeedsSync(),
	})
}

func (s *Server) decodeTrigger(w http.ResponseWriter, r *http.Request) (triggerRequest, domain.OwnerRole, domain.ResourceKind, bool) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return req, "", "", false
	}
	role, ok := domain.ParseRole(req.OwnerRole)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown owner role"})
		return req, "", "", false
	}
	kind, ok := domain.ParseKind(req.Kind)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown resource kind"})
		return req, "", "", false
	}
	if req.OwnerID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return req, "", "", false
	}
	return req, role, kind, true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
