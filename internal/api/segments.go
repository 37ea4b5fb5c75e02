package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/segmentry/internal/catalog"
	"github.com/foxzi/segmentry/internal/models"
)

// SegmentRequest is the request body for creating and updating segments
type SegmentRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Predicates  []catalog.Predicate `json:"predicates"`
	IsDynamic   bool                `json:"is_dynamic"`
}

// SegmentListResponse is the response for GET /api/v1/segments
type SegmentListResponse struct {
	Segments []models.Segment `json:"segments"`
	Total    int              `json:"total"`
}

// ResolveRequest is the request body for POST /api/v1/segments/resolve
type ResolveRequest struct {
	Predicates []catalog.Predicate `json:"predicates"`
}

// ResolveResponse is the response for POST /api/v1/segments/resolve
type ResolveResponse struct {
	Count     int      `json:"count"`
	MemberIDs []string `json:"member_ids"`
}

// RecalculateResponse is the response for POST /api/v1/segments/{id}/recalculate
type RecalculateResponse struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

// handleCreateSegment handles POST /api/v1/segments
func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	seg, err := s.segments.Create(r.Context(), req.Name, req.Description, req.Predicates, req.IsDynamic)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, seg)
}

// handleListSegments handles GET /api/v1/segments
func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	filter := models.SegmentListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	segments, total, err := s.segments.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, SegmentListResponse{Segments: segments, Total: total})
}

// handleGetSegment handles GET /api/v1/segments/{id}. With ?refresh=stale a
// dynamic segment whose cached size is older than the configured window is
// recalculated before being returned.
func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	refreshStale := r.URL.Query().Get("refresh") == "stale"

	seg, err := s.segments.Get(r.Context(), id, refreshStale)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, seg)
}

// handleUpdateSegment handles PUT /api/v1/segments/{id}
func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	seg, err := s.segments.Update(r.Context(), id, req.Name, req.Description, req.Predicates, req.IsDynamic)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, seg)
}

// handleDeleteSegment handles DELETE /api/v1/segments/{id}
func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.segments.Delete(r.Context(), id); err != nil {
		s.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleResolve handles POST /api/v1/segments/resolve. It evaluates an
// ad-hoc predicate list without storing anything; UIs use it to preview an
// audience while the segment is being built.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.segments.Resolve(r.Context(), req.Predicates)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ResolveResponse{Count: result.Count, MemberIDs: result.MemberIDs})
}

// handleRecalculateSegment handles POST /api/v1/segments/{id}/recalculate
func (s *Server) handleRecalculateSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	size, err := s.segments.Recalculate(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, RecalculateResponse{ID: id, Size: size})
}

// handleRecalculateAll handles POST /api/v1/segments/recalculate-all
func (s *Server) handleRecalculateAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.segments.RecalculateAll(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, results)
}

// handleSegmentMembers handles GET /api/v1/segments/{id}/members. It serves
// the member set stored by the last recalculation, not a live resolution.
func (s *Server) handleSegmentMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	set, err := s.segments.Members(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if set == nil {
		s.sendError(w, http.StatusNotFound, "No member set stored; recalculate the segment first")
		return
	}

	s.sendJSON(w, http.StatusOK, set)
}
