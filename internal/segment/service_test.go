package segment

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
	"github.com/foxzi/segmentry/internal/repository"
	"github.com/foxzi/segmentry/internal/resolver"
	"github.com/foxzi/segmentry/internal/snapshot"
)

// memorySource is an in-memory FactSource for service tests.
type memorySource struct {
	recipients  []string
	purchasers  []string
	purchases   []resolver.Purchase
	attendance  map[string]int
	passes      map[string]string
	engagements []resolver.Engagement

	failPurchases error
}

func (m *memorySource) RecipientIDs(ctx context.Context) ([]string, error) {
	return m.recipients, nil
}

func (m *memorySource) PurchaserIDs(ctx context.Context) ([]string, error) {
	return m.purchasers, nil
}

func (m *memorySource) Purchases(ctx context.Context) ([]resolver.Purchase, error) {
	if m.failPurchases != nil {
		return nil, m.failPurchases
	}
	return m.purchases, nil
}

func (m *memorySource) AttendanceCounts(ctx context.Context) (map[string]int, error) {
	return m.attendance, nil
}

func (m *memorySource) PassTypes(ctx context.Context) (map[string]string, error) {
	return m.passes, nil
}

func (m *memorySource) Engagements(ctx context.Context) ([]resolver.Engagement, error) {
	return m.engagements, nil
}

type testEnv struct {
	service *Service
	source  *memorySource
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
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

	source := &memorySource{
		recipients: []string{"r1", "r2", "r3"},
		purchasers: []string{"r1", "r2"},
		purchases: []resolver.Purchase{
			{RecipientID: "r1", Amount: 100, PurchasedAt: time.Now().AddDate(0, 0, -1)},
			{RecipientID: "r2", Amount: 10, PurchasedAt: time.Now().AddDate(0, 0, -5)},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := resolver.New(source, logger, nil)
	repo := repository.NewSegmentRepository(database.DB)
	service := NewService(repo, res, snapshots, logger, nil, cfg)

	return &testEnv{service: service, source: source}
}

func purchaserPredicates() []catalog.Predicate {
	return []catalog.Predicate{
		{Field: catalog.FieldHasPurchased, Operator: catalog.OpEquals, Value: true},
	}
}

func TestCreateRequiresPredicates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	_, err := env.service.Create(context.Background(), "empty", "", nil, false)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestCreateRejectsInvalidPredicate(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	_, err := env.service.Create(context.Background(), "bad", "", []catalog.Predicate{
		{Field: "no_such_field", Operator: catalog.OpEquals, Value: true},
	}, false)

	var cfgErr *catalog.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *catalog.ConfigError, got %T: %v", err, err)
	}
}

func TestCreateStartsUncalculated(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	seg, err := env.service.Create(context.Background(), "buyers", "", purchaserPredicates(), false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if seg.EstimatedSize != 0 {
		t.Errorf("expected size 0 before recalculation, got %d", seg.EstimatedSize)
	}
	if seg.LastCalculatedAt != nil {
		t.Error("expected nil last_calculated_at before recalculation")
	}
}

func TestRecalculateWritesSizeAndMembers(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	seg, err := env.service.Create(ctx, "buyers", "", purchaserPredicates(), false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	size, err := env.service.Recalculate(ctx, seg.ID)
	if err != nil {
		t.Fatalf("failed to recalculate: %v", err)
	}
	if size != 2 {
		t.Errorf("expected size 2, got %d", size)
	}

	got, err := env.service.Get(ctx, seg.ID, false)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.EstimatedSize != 2 {
		t.Errorf("expected cached size 2, got %d", got.EstimatedSize)
	}
	if got.LastCalculatedAt == nil {
		t.Fatal("expected last_calculated_at to be set")
	}

	members, err := env.service.Members(ctx, seg.ID)
	if err != nil {
		t.Fatalf("failed to get members: %v", err)
	}
	if members == nil || len(members.MemberIDs) != 2 {
		t.Fatalf("expected 2 stored members, got %+v", members)
	}
}

func TestRecalculateMissingSegment(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	_, err := env.service.Recalculate(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecalculateSourceFailurePropagates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	seg, err := env.service.Create(ctx, "spenders", "", []catalog.Predicate{
		{Field: catalog.FieldTotalSpent, Operator: catalog.OpGreaterThan, Value: 50.0},
	}, false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	env.source.failPurchases = errors.New("timeout")
	_, err = env.service.Recalculate(ctx, seg.ID)

	var srcErr *resolver.SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected *resolver.SourceError, got %T: %v", err, err)
	}

	// The cached size must be untouched, not written as zero.
	got, err := env.service.Get(ctx, seg.ID, false)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.LastCalculatedAt != nil {
		t.Error("expected failed recalculation to leave the cache untouched")
	}
}

func TestRecalculateAllCollectsAndContinues(t *testing.T) {
	env := newTestEnv(t, Config{Concurrency: 2})
	ctx := context.Background()

	good, err := env.service.Create(ctx, "buyers", "", purchaserPredicates(), false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	bad, err := env.service.Create(ctx, "spenders", "", []catalog.Predicate{
		{Field: catalog.FieldTotalSpent, Operator: catalog.OpGreaterThan, Value: 50.0},
	}, false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	env.source.failPurchases = errors.New("connection refused")

	results, err := env.service.RecalculateAll(ctx)
	if err != nil {
		t.Fatalf("batch failed outright: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 report entries, got %d", len(results))
	}

	byID := make(map[string]RecalcResult)
	for _, r := range results {
		byID[r.ID] = r
	}

	if byID[good.ID].Error != "" {
		t.Errorf("expected %q to succeed, got error %q", good.Name, byID[good.ID].Error)
	}
	if byID[good.ID].Size != 2 {
		t.Errorf("expected size 2 for %q, got %d", good.Name, byID[good.ID].Size)
	}
	if byID[bad.ID].Error == "" {
		t.Errorf("expected %q to report its failure", bad.Name)
	}
}

func TestGetRefreshStaleRecalculatesDynamicSegments(t *testing.T) {
	env := newTestEnv(t, Config{Concurrency: 1, StaleAfter: time.Minute})
	ctx := context.Background()

	seg, err := env.service.Create(ctx, "buyers", "", purchaserPredicates(), true)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	// Never calculated counts as stale.
	got, err := env.service.Get(ctx, seg.ID, true)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.EstimatedSize != 2 {
		t.Errorf("expected refresh-on-read to compute size 2, got %d", got.EstimatedSize)
	}
	if got.LastCalculatedAt == nil {
		t.Fatal("expected refresh-on-read to set last_calculated_at")
	}

	// A fresh calculation is not refreshed again.
	env.service.now = func() time.Time { return got.LastCalculatedAt.Add(30 * time.Second) }
	again, err := env.service.Get(ctx, seg.ID, true)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !again.LastCalculatedAt.Equal(*got.LastCalculatedAt) {
		t.Error("expected fresh segment to skip refresh-on-read")
	}
}

func TestGetRefreshStaleIgnoresStaticSegments(t *testing.T) {
	env := newTestEnv(t, Config{Concurrency: 1, StaleAfter: time.Minute})
	ctx := context.Background()

	seg, err := env.service.Create(ctx, "buyers", "", purchaserPredicates(), false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	got, err := env.service.Get(ctx, seg.ID, true)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.LastCalculatedAt != nil {
		t.Error("expected static segment to stay unrefreshed")
	}
}

func TestResolveAdHocRequiresPredicates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	_, err := env.service.Resolve(context.Background(), nil)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestUpdateKeepsCachedSizeUntilRecalculation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	seg, err := env.service.Create(ctx, "buyers", "", purchaserPredicates(), false)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if _, err := env.service.Recalculate(ctx, seg.ID); err != nil {
		t.Fatalf("failed to recalculate: %v", err)
	}

	updated, err := env.service.Update(ctx, seg.ID, "non-buyers", "", []catalog.Predicate{
		{Field: catalog.FieldHasPurchased, Operator: catalog.OpEquals, Value: false},
	}, false)
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if updated.EstimatedSize != 2 {
		t.Errorf("expected stale cached size 2 after update, got %d", updated.EstimatedSize)
	}

	size, err := env.service.Recalculate(ctx, seg.ID)
	if err != nil {
		t.Fatalf("failed to recalculate: %v", err)
	}
	if size != 1 {
		t.Errorf("expected new definition to match 1 recipient, got %d", size)
	}
}
