package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/segmentry/internal/catalog"
	"github.com/foxzi/segmentry/internal/db"
	"github.com/foxzi/segmentry/internal/models"
	"github.com/foxzi/segmentry/internal/repository"
	"github.com/foxzi/segmentry/internal/snapshot"
)

type testEnv struct {
	service   *Service
	segments  *repository.SegmentRepository
	snapshots *snapshot.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	boltDB, err := bolt.Open(filepath.Join(t.TempDir(), "members.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt db: %v", err)
	}
	t.Cleanup(func() { boltDB.Close() })

	snapshots, err := snapshot.New(boltDB)
	if err != nil {
		t.Fatalf("failed to create snapshot storage: %v", err)
	}

	campaigns := repository.NewCampaignRepository(database.DB)
	segments := repository.NewSegmentRepository(database.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		service:   NewService(campaigns, segments, snapshots, logger, nil),
		segments:  segments,
		snapshots: snapshots,
	}
}

func (e *testEnv) createCampaign(t *testing.T) *models.Campaign {
	t.Helper()
	c, err := e.service.Create(context.Background(), "Welcome drip", "")
	if err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

func (e *testEnv) createSegment(t *testing.T, name string, size int) *models.Segment {
	t.Helper()
	s := &models.Segment{
		Name: name,
		Predicates: []catalog.Predicate{
			{Field: catalog.FieldHasPurchased, Operator: catalog.OpEquals, Value: true},
		},
	}
	if err := e.segments.Create(s); err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	if size > 0 {
		now := time.Now().UTC()
		if _, err := e.segments.UpdateSize(s.ID, size, now, nil); err != nil {
			t.Fatalf("failed to seed segment size: %v", err)
		}
		s.EstimatedSize = size
		s.LastCalculatedAt = &now
	}
	return s
}

func TestActivationGuard(t *testing.T) {
	tests := []struct {
		name      string
		steps     int
		audiences int
		wantOK    bool
		missing   []string
	}{
		{name: "no steps and no audience", missing: []string{"no steps", "no audience"}},
		{name: "audience but no steps", audiences: 1, missing: []string{"no steps"}},
		{name: "steps but no audience", steps: 1, missing: []string{"no audience"}},
		{name: "steps and audience", steps: 1, audiences: 1, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			c := env.createCampaign(t)

			for i := 0; i < tt.steps; i++ {
				if _, err := env.service.AddStep(ctx, c.ID, models.ChannelEmail); err != nil {
					t.Fatalf("failed to add step: %v", err)
				}
			}
			for i := 0; i < tt.audiences; i++ {
				seg := env.createSegment(t, "s", 10)
				if _, _, err := env.service.Attach(ctx, c.ID, seg.ID); err != nil {
					t.Fatalf("failed to attach: %v", err)
				}
			}

			activated, err := env.service.Activate(ctx, c.ID)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("expected activation to succeed, got %v", err)
				}
				if activated.Status != models.StatusActive {
					t.Errorf("expected active status, got %s", activated.Status)
				}
				return
			}

			var guardErr *GuardError
			if !errors.As(err, &guardErr) {
				t.Fatalf("expected *GuardError, got %T: %v", err, err)
			}
			if len(guardErr.Missing) != len(tt.missing) {
				t.Fatalf("expected missing %v, got %v", tt.missing, guardErr.Missing)
			}
			for i, want := range tt.missing {
				if guardErr.Missing[i] != want {
					t.Errorf("expected missing %v, got %v", tt.missing, guardErr.Missing)
				}
			}
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t)
	if _, err := env.service.AddStep(ctx, c.ID, models.ChannelEmail); err != nil {
		t.Fatalf("failed to add step: %v", err)
	}
	seg := env.createSegment(t, "s", 10)
	if _, _, err := env.service.Attach(ctx, c.ID, seg.ID); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	if _, err := env.service.Activate(ctx, c.ID); err != nil {
		t.Fatalf("failed to activate: %v", err)
	}
	if _, err := env.service.Pause(ctx, c.ID); err != nil {
		t.Fatalf("failed to pause: %v", err)
	}

	// Paused -> Active has no data guard.
	if _, err := env.service.Activate(ctx, c.ID); err != nil {
		t.Fatalf("failed to resume: %v", err)
	}

	if _, err := env.service.Complete(ctx, c.ID); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}

	// Completed is terminal.
	_, err := env.service.Activate(ctx, c.ID)
	var trErr *TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected *TransitionError, got %T: %v", err, err)
	}
	if trErr.From != models.StatusCompleted || trErr.To != models.StatusActive {
		t.Errorf("unexpected transition error: %+v", trErr)
	}

	if _, err := env.service.Archive(ctx, c.ID); err == nil {
		t.Error("expected archive from completed to be rejected")
	}
}

func TestDraftCannotPauseOrComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCampaign(t)

	if _, err := env.service.Pause(ctx, c.ID); err == nil {
		t.Error("expected pause from draft to be rejected")
	}
	if _, err := env.service.Complete(ctx, c.ID); err == nil {
		t.Error("expected complete from draft to be rejected")
	}
}

func TestAttachSnapshotsSizeAndRollsUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t)
	first := env.createSegment(t, "big", 120)
	second := env.createSegment(t, "small", 80)

	_, total, err := env.service.Attach(ctx, c.ID, first.ID)
	if err != nil {
		t.Fatalf("failed to attach: %v", err)
	}
	if total != 120 {
		t.Errorf("expected rollup 120, got %d", total)
	}

	audience, total, err := env.service.Attach(ctx, c.ID, second.ID)
	if err != nil {
		t.Fatalf("failed to attach: %v", err)
	}
	if total != 200 {
		t.Errorf("expected rollup 200, got %d", total)
	}
	if audience.EstimatedSizeSnapshot != 80 {
		t.Errorf("expected snapshot 80, got %d", audience.EstimatedSizeSnapshot)
	}

	got, err := env.service.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to get campaign: %v", err)
	}
	if got.ActualAudienceSize != 200 {
		t.Errorf("expected stored rollup 200, got %d", got.ActualAudienceSize)
	}
}

func TestAttachDuplicateRejectedWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t)
	seg := env.createSegment(t, "s", 50)

	if _, _, err := env.service.Attach(ctx, c.ID, seg.ID); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	_, _, err := env.service.Attach(ctx, c.ID, seg.ID)
	if !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}

	got, err := env.service.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to get campaign: %v", err)
	}
	if len(got.Audiences) != 1 {
		t.Errorf("expected 1 audience after rejected duplicate, got %d", len(got.Audiences))
	}
	if got.ActualAudienceSize != 50 {
		t.Errorf("expected rollup unchanged at 50, got %d", got.ActualAudienceSize)
	}
}

func TestAttachUnknownSegmentRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)

	_, _, err := env.service.Attach(context.Background(), c.ID, "ghost")
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestDetachRecomputesRollup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t)
	first := env.createSegment(t, "big", 120)
	second := env.createSegment(t, "small", 80)

	firstAudience, _, err := env.service.Attach(ctx, c.ID, first.ID)
	if err != nil {
		t.Fatalf("failed to attach: %v", err)
	}
	if _, _, err := env.service.Attach(ctx, c.ID, second.ID); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	total, err := env.service.Detach(ctx, firstAudience.ID)
	if err != nil {
		t.Fatalf("failed to detach: %v", err)
	}
	if total != 80 {
		t.Errorf("expected rollup 80 after detach, got %d", total)
	}
}

func TestSnapshotNotRefreshedByLaterRecalculation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t)
	seg := env.createSegment(t, "s", 100)

	audience, _, err := env.service.Attach(ctx, c.ID, seg.ID)
	if err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	// The segment grows later; the attached snapshot must not move.
	stored, err := env.segments.GetByID(seg.ID)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if _, err := env.segments.UpdateSize(seg.ID, 500, time.Now().UTC(), stored.LastCalculatedAt); err != nil {
		t.Fatalf("failed to update segment size: %v", err)
	}

	got, err := env.service.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to get campaign: %v", err)
	}
	if got.Audiences[0].EstimatedSizeSnapshot != audience.EstimatedSizeSnapshot {
		t.Errorf("snapshot drifted: expected %d, got %d", audience.EstimatedSizeSnapshot, got.Audiences[0].EstimatedSizeSnapshot)
	}
	if got.ActualAudienceSize != 100 {
		t.Errorf("expected rollup to keep the attach-time snapshot, got %d", got.ActualAudienceSize)
	}
}

func TestStepSequenceThroughService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCampaign(t)

	steps, err := env.service.AddStep(ctx, c.ID, models.ChannelEmail)
	if err != nil {
		t.Fatalf("failed to add step: %v", err)
	}
	if steps[0].DelayDays != 0 || steps[0].DelayHours != 0 || steps[0].Subject != "" {
		t.Errorf("expected blank step defaults, got %+v", steps[0])
	}

	for _, ch := range []models.Channel{models.ChannelSMS, models.ChannelWhatsApp, models.ChannelEmail} {
		if steps, err = env.service.AddStep(ctx, c.ID, ch); err != nil {
			t.Fatalf("failed to add step: %v", err)
		}
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}

	// Delete step 2: steps 3 and 4 become 2 and 3, order preserved.
	deleted := steps[1]
	remaining, err := env.service.DeleteStep(ctx, deleted.ID)
	if err != nil {
		t.Fatalf("failed to delete step: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(remaining))
	}
	wantChannels := []models.Channel{models.ChannelEmail, models.ChannelWhatsApp, models.ChannelEmail}
	for i, s := range remaining {
		if s.StepNumber != i+1 {
			t.Errorf("step %d: expected number %d, got %d", i, i+1, s.StepNumber)
		}
		if s.Channel != wantChannels[i] {
			t.Errorf("step %d: expected channel %s, got %s", i, wantChannels[i], s.Channel)
		}
	}
}

func TestUpdateStepMutatesInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCampaign(t)

	steps, err := env.service.AddStep(ctx, c.ID, models.ChannelEmail)
	if err != nil {
		t.Fatalf("failed to add step: %v", err)
	}

	days, hours := 3, 12
	subject := "Your pass expires soon"
	updated, err := env.service.UpdateStep(ctx, steps[0].ID, StepUpdate{
		DelayDays:  &days,
		DelayHours: &hours,
		Subject:    &subject,
	})
	if err != nil {
		t.Fatalf("failed to update step: %v", err)
	}
	if updated.DelayDays != 3 || updated.DelayHours != 12 {
		t.Errorf("expected delays 3d12h, got %dd%dh", updated.DelayDays, updated.DelayHours)
	}
	if updated.Subject != subject {
		t.Errorf("expected subject %q, got %q", subject, updated.Subject)
	}
	if updated.StepNumber != 1 {
		t.Errorf("step number must be immutable, got %d", updated.StepNumber)
	}

	negative := -1
	if _, err := env.service.UpdateStep(ctx, steps[0].ID, StepUpdate{DelayDays: &negative}); err == nil {
		t.Error("expected negative delay to be rejected")
	}
}

func TestAddStepRejectsUnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)

	_, err := env.service.AddStep(context.Background(), c.ID, "carrier_pigeon")
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestScheduleUsesStoredSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCampaign(t)

	steps, err := env.service.AddStep(ctx, c.ID, models.ChannelEmail)
	if err != nil {
		t.Fatalf("failed to add step: %v", err)
	}
	days := 1
	if _, err := env.service.UpdateStep(ctx, steps[0].ID, StepUpdate{DelayDays: &days}); err != nil {
		t.Fatalf("failed to update step: %v", err)
	}

	enrollment := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule, err := env.service.Schedule(ctx, c.ID, enrollment)
	if err != nil {
		t.Fatalf("failed to build schedule: %v", err)
	}
	if len(schedule) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(schedule))
	}
	want := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if !schedule[0].FireAt.Equal(want) {
		t.Errorf("expected fire at %v, got %v", want, schedule[0].FireAt)
	}
}

func TestReachDeduplicatesAcrossSegments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t)
	first := env.createSegment(t, "buyers", 3)
	second := env.createSegment(t, "attendees", 2)

	if err := env.snapshots.Save(ctx, &snapshot.MemberSet{
		SegmentID: first.ID, MemberIDs: []string{"r1", "r2", "r3"}, ResolvedAt: time.Now(),
	}); err != nil {
		t.Fatalf("failed to save member set: %v", err)
	}
	if err := env.snapshots.Save(ctx, &snapshot.MemberSet{
		SegmentID: second.ID, MemberIDs: []string{"r2", "r4"}, ResolvedAt: time.Now(),
	}); err != nil {
		t.Fatalf("failed to save member set: %v", err)
	}

	if _, _, err := env.service.Attach(ctx, c.ID, first.ID); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}
	if _, _, err := env.service.Attach(ctx, c.ID, second.ID); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	report, err := env.service.Reach(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to compute reach: %v", err)
	}
	if report.SnapshotSum != 5 {
		t.Errorf("expected snapshot sum 5, got %d", report.SnapshotSum)
	}
	if report.DeduplicatedReach != 4 {
		t.Errorf("expected deduplicated reach 4, got %d", report.DeduplicatedReach)
	}
	if len(report.MissingMemberSets) != 0 {
		t.Errorf("expected no missing member sets, got %v", report.MissingMemberSets)
	}
}
