package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/segmentry/internal/campaign"
	"github.com/foxzi/segmentry/internal/catalog"
	"github.com/foxzi/segmentry/internal/resolver"
	"github.com/foxzi/segmentry/internal/segment"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
		Uptime:  time.Since(s.startTime).String(),
	})
}

// CatalogResponse is the response for GET /api/v1/catalog
type CatalogResponse struct {
	Fields []catalog.FieldSpec `json:"fields"`
}

// handleCatalog handles GET /api/v1/catalog. It serves the predicate
// vocabulary so UI builders do not hardcode it.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, CatalogResponse{Fields: catalog.Fields()})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendServiceError maps service errors to HTTP statuses. Validation problems
// are 400, missing entities 404, state conflicts 409 and an unreachable fact
// source 503.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	var (
		cfgErr    *catalog.ConfigError
		valueErr  *catalog.ValueError
		segErr    *segment.ValidationError
		campErr   *campaign.ValidationError
		guardErr  *campaign.GuardError
		transErr  *campaign.TransitionError
		sourceErr *resolver.SourceError
	)

	switch {
	case errors.Is(err, segment.ErrNotFound),
		errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, campaign.ErrStepNotFound),
		errors.Is(err, campaign.ErrAudienceNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, segment.ErrRecalculationConflict),
		errors.Is(err, campaign.ErrAlreadyAttached),
		errors.As(err, &guardErr),
		errors.As(err, &transErr):
		s.sendError(w, http.StatusConflict, err.Error())

	case errors.As(err, &cfgErr),
		errors.As(err, &valueErr),
		errors.As(err, &segErr),
		errors.As(err, &campErr):
		s.sendError(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &sourceErr):
		s.sendError(w, http.StatusServiceUnavailable, err.Error())

	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// queryInt parses an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
