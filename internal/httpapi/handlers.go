package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// Health is the body of GET /health.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, Health{Status: "ok", Timestamp: s.now().UTC()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input todo.NewTodo
	if err := decodeJSON(w, r, &input); err != nil {
		s.respondError(w, r, err)
		return
	}
	created, err := s.todos.Create(r.Context(), input)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, created, nil)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	req, err := bindListRequest(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	q, err := req.Query()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, err := s.todos.List(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	setPageHeaders(w, page)
	s.respond(w, http.StatusOK, page.Items, &Metadata{
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.todos.Statistics(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, stats, nil)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.todos.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, t, nil)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch todo.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}
	updated, err := s.todos.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, updated, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.todos.Delete(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, DeleteResult{ID: id, Deleted: true}, nil)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	restored, err := s.todos.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, restored, nil)
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := validateStruct("bulk update", req); err != nil {
		s.respondError(w, r, err)
		return
	}
	result, err := s.todos.BulkUpdate(r.Context(), req.IDs, *req.Update)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, result, nil)
}
