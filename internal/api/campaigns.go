package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/segmentry/internal/campaign"
	"github.com/foxzi/segmentry/internal/models"
)

// CampaignRequest is the request body for creating and updating campaigns
type CampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CampaignListResponse is the response for GET /api/v1/campaigns
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

// AddStepRequest is the request body for POST /api/v1/campaigns/{id}/steps
type AddStepRequest struct {
	Channel models.Channel `json:"channel"`
}

// StepListResponse is the ordered step list returned by step mutations
type StepListResponse struct {
	Steps []models.CampaignStep `json:"steps"`
}

// AttachRequest is the request body for POST /api/v1/campaigns/{id}/audiences
type AttachRequest struct {
	SegmentID string `json:"segment_id"`
}

// AttachResponse is the response for audience attach and detach
type AttachResponse struct {
	Audience           *models.CampaignAudience `json:"audience,omitempty"`
	ActualAudienceSize int                      `json:"actual_audience_size"`
}

// ScheduleResponse is the response for GET /api/v1/campaigns/{id}/schedule
type ScheduleResponse struct {
	CampaignID     string                  `json:"campaign_id"`
	EnrollmentTime time.Time               `json:"enrollment_time"`
	Steps          []campaign.StepFireTime `json:"steps"`
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.campaigns.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	campaigns, total, err := s.campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: campaigns, Total: total})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.campaigns.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleActivateCampaign handles POST /api/v1/campaigns/{id}/activate and
// /resume. Activation from draft is guarded; resuming from paused is not.
func (s *Server) handleActivateCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, s.campaigns.Activate)
}

// handlePauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, s.campaigns.Pause)
}

// handleCompleteCampaign handles POST /api/v1/campaigns/{id}/complete
func (s *Server) handleCompleteCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, s.campaigns.Complete)
}

// handleArchiveCampaign handles POST /api/v1/campaigns/{id}/archive
func (s *Server) handleArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, s.campaigns.Archive)
}

func (s *Server) transitionCampaign(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*models.Campaign, error)) {
	c, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleAddStep handles POST /api/v1/campaigns/{id}/steps
func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	var req AddStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	steps, err := s.campaigns.AddStep(r.Context(), chi.URLParam(r, "id"), req.Channel)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, StepListResponse{Steps: steps})
}

// handleUpdateStep handles PUT /api/v1/steps/{id}
func (s *Server) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var req campaign.StepUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	step, err := s.campaigns.UpdateStep(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, step)
}

// handleDeleteStep handles DELETE /api/v1/steps/{id}. The response carries
// the renumbered remainder of the sequence.
func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	steps, err := s.campaigns.DeleteStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, StepListResponse{Steps: steps})
}

// handleAttachAudience handles POST /api/v1/campaigns/{id}/audiences
func (s *Server) handleAttachAudience(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SegmentID == "" {
		s.sendError(w, http.StatusBadRequest, "segment_id is required")
		return
	}

	audience, total, err := s.campaigns.Attach(r.Context(), chi.URLParam(r, "id"), req.SegmentID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, AttachResponse{Audience: audience, ActualAudienceSize: total})
}

// handleDetachAudience handles DELETE /api/v1/audiences/{id}
func (s *Server) handleDetachAudience(w http.ResponseWriter, r *http.Request) {
	total, err := s.campaigns.Detach(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, AttachResponse{ActualAudienceSize: total})
}

// handleCampaignSchedule handles GET /api/v1/campaigns/{id}/schedule. The
// enrollment_time query parameter (RFC 3339) defaults to now.
func (s *Server) handleCampaignSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	enrollment := time.Now().UTC()
	if raw := r.URL.Query().Get("enrollment_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "enrollment_time must be RFC 3339")
			return
		}
		enrollment = parsed
	}

	schedule, err := s.campaigns.Schedule(r.Context(), id, enrollment)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ScheduleResponse{
		CampaignID:     id,
		EnrollmentTime: enrollment,
		Steps:          schedule,
	})
}

// handleCampaignReach handles GET /api/v1/campaigns/{id}/reach
func (s *Server) handleCampaignReach(w http.ResponseWriter, r *http.Request) {
	report, err := s.campaigns.Reach(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}
