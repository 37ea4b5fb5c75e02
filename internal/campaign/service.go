package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/segmentry/internal/metrics"
	"github.com/foxzi/segmentry/internal/models"
	"github.com/foxzi/segmentry/internal/repository"
	"github.com/foxzi/segmentry/internal/snapshot"
)

// transitions defines the lifecycle state machine. Completed and archived
// are terminal; nothing leads out of them.
var transitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.StatusDraft:     {models.StatusActive},
	models.StatusActive:    {models.StatusPaused, models.StatusCompleted, models.StatusArchived},
	models.StatusPaused:    {models.StatusActive, models.StatusCompleted, models.StatusArchived},
	models.StatusCompleted: {},
	models.StatusArchived:  {},
}

func transitionAllowed(from, to models.CampaignStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Service owns campaigns, their step sequences and their audiences.
type Service struct {
	campaigns *repository.CampaignRepository
	segments  *repository.SegmentRepository
	snapshots *snapshot.Storage
	logger    *slog.Logger
	metrics   *metrics.Metrics
	locks     *keyedMutex
}

// NewService creates a campaign service. snapshots may be nil, which
// disables the deduplicated reach report.
func NewService(campaigns *repository.CampaignRepository, segments *repository.SegmentRepository, snapshots *snapshot.Storage, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		campaigns: campaigns,
		segments:  segments,
		snapshots: snapshots,
		logger:    logger.With("component", "campaign"),
		metrics:   m,
		locks:     newKeyedMutex(),
	}
}

// Create creates a campaign in draft status.
func (s *Service) Create(ctx context.Context, name, description string) (*models.Campaign, error) {
	if name == "" {
		return nil, &ValidationError{Reason: "name is required"}
	}

	c := &models.Campaign{Name: name, Description: description}
	if err := s.campaigns.Create(c); err != nil {
		return nil, err
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	return c, nil
}

// Get returns a campaign with its ordered steps and audiences.
func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	if c.Steps, err = s.campaigns.GetSteps(id); err != nil {
		return nil, err
	}
	if c.Audiences, err = s.campaigns.GetAudiences(id); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	return s.campaigns.List(filter)
}

// Update updates a campaign's name and description.
func (s *Service) Update(ctx context.Context, id, name, description string) (*models.Campaign, error) {
	if name == "" {
		return nil, &ValidationError{Reason: "name is required"}
	}

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	c.Name = name
	c.Description = description
	if err := s.campaigns.Update(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete deletes a campaign regardless of status; steps and audiences
// cascade.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	return s.campaigns.Delete(id)
}

// Activate transitions a campaign to active. The guard requires at least one
// step and one audience; the check and the status write run under the
// per-campaign lock so a concurrent detach cannot falsify the precondition
// between them.
func (s *Service) Activate(ctx context.Context, id string) (*models.Campaign, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if !transitionAllowed(c.Status, models.StatusActive) {
		return nil, &TransitionError{From: c.Status, To: models.StatusActive}
	}

	if c.Status == models.StatusDraft {
		steps, err := s.campaigns.CountSteps(id)
		if err != nil {
			return nil, err
		}
		audiences, err := s.campaigns.CountAudiences(id)
		if err != nil {
			return nil, err
		}

		var missing []string
		if steps == 0 {
			missing = append(missing, "no steps")
		}
		if audiences == 0 {
			missing = append(missing, "no audience")
		}
		if len(missing) > 0 {
			for _, reason := range missing {
				s.metrics.IncActivationRejection(reason)
			}
			s.logger.Info("activation rejected", "campaign_id", id, "missing", missing)
			return nil, &GuardError{Missing: missing}
		}
	}

	return s.setStatus(c, models.StatusActive)
}

// Pause transitions an active campaign to paused.
func (s *Service) Pause(ctx context.Context, id string) (*models.Campaign, error) {
	return s.transition(ctx, id, models.StatusPaused)
}

// Complete transitions a campaign to the terminal completed status.
func (s *Service) Complete(ctx context.Context, id string) (*models.Campaign, error) {
	return s.transition(ctx, id, models.StatusCompleted)
}

// Archive transitions a campaign to the terminal archived status.
func (s *Service) Archive(ctx context.Context, id string) (*models.Campaign, error) {
	return s.transition(ctx, id, models.StatusArchived)
}

// transition performs an unguarded status change; only the state machine
// itself constrains it.
func (s *Service) transition(ctx context.Context, id string, to models.CampaignStatus) (*models.Campaign, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if !transitionAllowed(c.Status, to) {
		return nil, &TransitionError{From: c.Status, To: to}
	}

	return s.setStatus(c, to)
}

func (s *Service) setStatus(c *models.Campaign, to models.CampaignStatus) (*models.Campaign, error) {
	if err := s.campaigns.UpdateStatus(c.ID, to); err != nil {
		return nil, err
	}
	s.logger.Info("campaign transitioned", "campaign_id", c.ID, "from", c.Status, "to", to)
	c.Status = to
	c.UpdatedAt = time.Now()
	return c, nil
}

// AddStep appends a step with blank content and zero delay to the end of the
// sequence and returns the updated ordered step list.
func (s *Service) AddStep(ctx context.Context, campaignID string, channel models.Channel) ([]models.CampaignStep, error) {
	if !models.ValidChannel(channel) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown channel %q", channel)}
	}

	unlock := s.locks.lock(campaignID)
	defer unlock()

	c, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	step := &models.CampaignStep{CampaignID: campaignID, Channel: channel}
	if err := s.campaigns.AddStep(step); err != nil {
		return nil, err
	}

	s.logger.Info("step added", "campaign_id", campaignID, "step_id", step.ID, "step_number", step.StepNumber, "channel", channel)
	return s.campaigns.GetSteps(campaignID)
}

// StepUpdate carries the mutable step fields; nil fields are left as is.
// The step number is not here on purpose: renumbering only ever happens
// through deletion.
type StepUpdate struct {
	Channel    *models.Channel `json:"channel,omitempty"`
	DelayDays  *int            `json:"delay_days,omitempty"`
	DelayHours *int            `json:"delay_hours,omitempty"`
	Subject    *string         `json:"subject,omitempty"`
	Body       *string         `json:"body,omitempty"`
	CTA        *string         `json:"cta,omitempty"`
}

// UpdateStep mutates a step's channel, delays and content in place.
func (s *Service) UpdateStep(ctx context.Context, stepID string, update StepUpdate) (*models.CampaignStep, error) {
	step, err := s.campaigns.GetStep(stepID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, ErrStepNotFound
	}

	unlock := s.locks.lock(step.CampaignID)
	defer unlock()

	if update.Channel != nil {
		if !models.ValidChannel(*update.Channel) {
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown channel %q", *update.Channel)}
		}
		step.Channel = *update.Channel
	}
	if update.DelayDays != nil {
		if *update.DelayDays < 0 {
			return nil, &ValidationError{Reason: "delay_days must not be negative"}
		}
		step.DelayDays = *update.DelayDays
	}
	if update.DelayHours != nil {
		if *update.DelayHours < 0 {
			return nil, &ValidationError{Reason: "delay_hours must not be negative"}
		}
		step.DelayHours = *update.DelayHours
	}
	if update.Subject != nil {
		step.Subject = *update.Subject
	}
	if update.Body != nil {
		step.Body = *update.Body
	}
	if update.CTA != nil {
		step.CTA = *update.CTA
	}

	if err := s.campaigns.UpdateStep(step); err != nil {
		return nil, err
	}
	return step, nil
}

// DeleteStep removes a step, renumbers the remainder back to 1..N and
// returns the updated ordered step list.
func (s *Service) DeleteStep(ctx context.Context, stepID string) ([]models.CampaignStep, error) {
	step, err := s.campaigns.GetStep(stepID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, ErrStepNotFound
	}

	unlock := s.locks.lock(step.CampaignID)
	defer unlock()

	if err := s.campaigns.DeleteStep(stepID); err != nil {
		return nil, err
	}

	s.logger.Info("step deleted", "campaign_id", step.CampaignID, "step_id", stepID, "step_number", step.StepNumber)
	return s.campaigns.GetSteps(step.CampaignID)
}

// Attach attaches a segment to a campaign, snapshotting the segment's
// current estimated size. The snapshot is not refreshed when the segment is
// recalculated later. Attaching an already-attached segment is rejected
// before anything is written.
func (s *Service) Attach(ctx context.Context, campaignID, segmentID string) (*models.CampaignAudience, int, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	c, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, 0, err
	}
	if c == nil {
		return nil, 0, ErrNotFound
	}

	seg, err := s.segments.GetByID(segmentID)
	if err != nil {
		return nil, 0, err
	}
	if seg == nil {
		return nil, 0, &ValidationError{Reason: fmt.Sprintf("segment %s does not exist", segmentID)}
	}

	existing, err := s.campaigns.GetAudienceBySegment(campaignID, segmentID)
	if err != nil {
		return nil, 0, err
	}
	if existing != nil {
		return nil, 0, ErrAlreadyAttached
	}

	audience := &models.CampaignAudience{
		CampaignID:            campaignID,
		SegmentID:             segmentID,
		SegmentName:           seg.Name,
		EstimatedSizeSnapshot: seg.EstimatedSize,
	}
	if err := s.campaigns.Attach(audience); err != nil {
		return nil, 0, err
	}

	total, err := s.campaigns.RecalcAudienceSize(campaignID)
	if err != nil {
		return nil, 0, err
	}

	s.logger.Info("audience attached", "campaign_id", campaignID, "segment_id", segmentID, "snapshot", audience.EstimatedSizeSnapshot, "total", total)
	return audience, total, nil
}

// Detach removes an audience entry and returns the recomputed rollup.
func (s *Service) Detach(ctx context.Context, audienceID string) (int, error) {
	audience, err := s.campaigns.GetAudience(audienceID)
	if err != nil {
		return 0, err
	}
	if audience == nil {
		return 0, ErrAudienceNotFound
	}

	unlock := s.locks.lock(audience.CampaignID)
	defer unlock()

	if err := s.campaigns.DeleteAudience(audienceID); err != nil {
		return 0, err
	}

	total, err := s.campaigns.RecalcAudienceSize(audience.CampaignID)
	if err != nil {
		return 0, err
	}

	s.logger.Info("audience detached", "campaign_id", audience.CampaignID, "segment_id", audience.SegmentID, "total", total)
	return total, nil
}

// Schedule computes fire times for every step of a campaign for one
// enrollment time.
func (s *Service) Schedule(ctx context.Context, campaignID string, enrollment time.Time) ([]StepFireTime, error) {
	c, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	steps, err := s.campaigns.GetSteps(campaignID)
	if err != nil {
		return nil, err
	}
	return BuildSchedule(steps, enrollment), nil
}

// ReachReport compares the snapshot-sum rollup with the deduplicated union
// of the attached segments' member sets. The sum double-counts recipients in
// overlapping segments; the union is the honest figure.
type ReachReport struct {
	CampaignID        string   `json:"campaign_id"`
	SnapshotSum       int      `json:"snapshot_sum"`
	DeduplicatedReach int      `json:"deduplicated_reach"`
	MissingMemberSets []string `json:"missing_member_sets,omitempty"`
}

// Reach computes the deduplicated reach of a campaign from the stored
// member sets of its attached segments. Segments without a stored member
// set are listed as missing and excluded from the union.
func (s *Service) Reach(ctx context.Context, campaignID string) (*ReachReport, error) {
	c, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	audiences, err := s.campaigns.GetAudiences(campaignID)
	if err != nil {
		return nil, err
	}

	report := &ReachReport{CampaignID: campaignID, SnapshotSum: c.ActualAudienceSize}
	if s.snapshots == nil {
		for _, a := range audiences {
			report.MissingMemberSets = append(report.MissingMemberSets, a.SegmentID)
		}
		return report, nil
	}

	union := make(map[string]struct{})
	for _, a := range audiences {
		set, err := s.snapshots.Get(ctx, a.SegmentID)
		if err != nil {
			return nil, err
		}
		if set == nil {
			report.MissingMemberSets = append(report.MissingMemberSets, a.SegmentID)
			continue
		}
		for _, id := range set.MemberIDs {
			union[id] = struct{}{}
		}
	}

	report.DeduplicatedReach = len(union)
	return report, nil
}
