package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/segmentry/internal/catalog"
	"github.com/foxzi/segmentry/internal/metrics"
	"github.com/foxzi/segmentry/internal/models"
	"github.com/foxzi/segmentry/internal/repository"
	"github.com/foxzi/segmentry/internal/resolver"
	"github.com/foxzi/segmentry/internal/snapshot"
)

// ErrNotFound is returned when a segment does not exist.
var ErrNotFound = errors.New("segment not found")

// ErrRecalculationConflict is returned when a concurrent recalculation
// committed first; the slower result is discarded instead of overwriting
// the newer one.
var ErrRecalculationConflict = errors.New("segment was recalculated concurrently")

// ValidationError reports a segment definition that violates an invariant.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid segment: " + e.Reason
}

// Config holds segment service configuration.
type Config struct {
	// Concurrency bounds the worker pool used by RecalculateAll.
	Concurrency int

	// StaleAfter is the age after which a dynamic segment's cached size is
	// considered stale for refresh-on-read. Zero disables refresh-on-read.
	StaleAfter time.Duration
}

// DefaultConfig returns default segment service configuration
func DefaultConfig() Config {
	return Config{Concurrency: 4}
}

// Service owns segment definitions and their cached sizes.
type Service struct {
	repo      *repository.SegmentRepository
	resolver  *resolver.Resolver
	snapshots *snapshot.Storage
	logger    *slog.Logger
	metrics   *metrics.Metrics

	concurrency int
	staleAfter  time.Duration
	now         func() time.Time
}

// NewService creates a segment service. snapshots may be nil, which disables
// member-set persistence.
func NewService(repo *repository.SegmentRepository, res *resolver.Resolver, snapshots *snapshot.Storage, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Service{
		repo:        repo,
		resolver:    res,
		snapshots:   snapshots,
		logger:      logger.With("component", "segment"),
		metrics:     m,
		concurrency: cfg.Concurrency,
		staleAfter:  cfg.StaleAfter,
		now:         time.Now,
	}
}

func validateDefinition(name string, predicates []catalog.Predicate) error {
	if name == "" {
		return &ValidationError{Reason: "name is required"}
	}
	if len(predicates) == 0 {
		return &ValidationError{Reason: "at least one predicate is required"}
	}
	return catalog.ValidatePredicates(predicates)
}

// Create validates and stores a new segment. The cached size starts at zero
// with no calculation timestamp; callers trigger the first recalculation.
func (s *Service) Create(ctx context.Context, name, description string, predicates []catalog.Predicate, isDynamic bool) (*models.Segment, error) {
	if err := validateDefinition(name, predicates); err != nil {
		return nil, err
	}

	seg := &models.Segment{
		Name:        name,
		Description: description,
		Predicates:  predicates,
		IsDynamic:   isDynamic,
	}
	if err := s.repo.Create(seg); err != nil {
		return nil, err
	}

	s.logger.Info("segment created", "segment_id", seg.ID, "name", seg.Name, "predicates", len(predicates))
	return seg, nil
}

// Update replaces a segment's definition. The cached size is left as is;
// it describes the previous definition until the next recalculation.
func (s *Service) Update(ctx context.Context, id, name, description string, predicates []catalog.Predicate, isDynamic bool) (*models.Segment, error) {
	if err := validateDefinition(name, predicates); err != nil {
		return nil, err
	}

	seg, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, ErrNotFound
	}

	seg.Name = name
	seg.Description = description
	seg.Predicates = predicates
	seg.IsDynamic = isDynamic
	if err := s.repo.Update(seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// Get returns a segment. When refreshStale is set and the segment is dynamic
// with a cached size older than the configured staleness window, it is
// recalculated first (refresh-on-read; there is no background scheduler).
func (s *Service) Get(ctx context.Context, id string, refreshStale bool) (*models.Segment, error) {
	seg, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, ErrNotFound
	}

	if refreshStale && s.isStale(seg) {
		if _, err := s.Recalculate(ctx, id); err != nil && !errors.Is(err, ErrRecalculationConflict) {
			return nil, fmt.Errorf("refreshing stale segment: %w", err)
		}
		return s.Get(ctx, id, false)
	}
	return seg, nil
}

func (s *Service) isStale(seg *models.Segment) bool {
	if !seg.IsDynamic || s.staleAfter <= 0 {
		return false
	}
	if seg.LastCalculatedAt == nil {
		return true
	}
	return s.now().Sub(*seg.LastCalculatedAt) > s.staleAfter
}

// List returns segments matching the filter.
func (s *Service) List(ctx context.Context, filter models.SegmentListFilter) ([]models.Segment, int, error) {
	return s.repo.List(filter)
}

// Delete removes a segment and its stored member set.
func (s *Service) Delete(ctx context.Context, id string) error {
	seg, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if seg == nil {
		return ErrNotFound
	}

	if err := s.repo.Delete(id); err != nil {
		return err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete member set", "segment_id", id, "error", err)
		}
	}
	return nil
}

// Resolve evaluates an ad-hoc predicate list without touching any stored
// segment.
func (s *Service) Resolve(ctx context.Context, predicates []catalog.Predicate) (*resolver.Result, error) {
	if len(predicates) == 0 {
		return nil, &ValidationError{Reason: "at least one predicate is required"}
	}
	return s.resolver.Resolve(ctx, predicates)
}

// Recalculate resolves the segment's predicates and writes the new size and
// timestamp. The write is a compare-and-swap keyed on the previous
// last_calculated_at, so when two recalculations race only the first commit
// wins and the loser reports ErrRecalculationConflict.
func (s *Service) Recalculate(ctx context.Context, id string) (int, error) {
	seg, err := s.repo.GetByID(id)
	if err != nil {
		return 0, err
	}
	if seg == nil {
		return 0, ErrNotFound
	}

	start := time.Now()
	result, err := s.resolver.Resolve(ctx, seg.Predicates)
	if err != nil {
		s.metrics.ObserveRecalculation("error", time.Since(start))
		return 0, err
	}

	calculatedAt := s.now().UTC()
	ok, err := s.repo.UpdateSize(id, result.Count, calculatedAt, seg.LastCalculatedAt)
	if err != nil {
		s.metrics.ObserveRecalculation("error", time.Since(start))
		return 0, err
	}
	if !ok {
		s.metrics.ObserveRecalculation("conflict", time.Since(start))
		s.logger.Warn("recalculation lost the swap", "segment_id", id)
		return 0, ErrRecalculationConflict
	}

	if s.snapshots != nil {
		set := &snapshot.MemberSet{SegmentID: id, MemberIDs: result.MemberIDs, ResolvedAt: calculatedAt}
		if err := s.snapshots.Save(ctx, set); err != nil {
			// The size is already committed; a failed member-set write
			// only loses the cached membership detail.
			s.logger.Warn("failed to save member set", "segment_id", id, "error", err)
		}
	}

	s.metrics.ObserveRecalculation("ok", time.Since(start))
	s.metrics.SetSegmentSize(id, result.Count)
	s.logger.Info("segment recalculated", "segment_id", id, "name", seg.Name, "size", result.Count, "duration", time.Since(start))
	return result.Count, nil
}

// RecalcResult is one entry of a batch recalculation report.
type RecalcResult struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Size  int    `json:"size"`
	Error string `json:"error,omitempty"`
}

// RecalculateAll recalculates every stored segment with a bounded worker
// pool, directly in process. A failure on one segment is recorded in its
// report entry and never aborts the rest of the batch.
func (s *Service) RecalculateAll(ctx context.Context) ([]RecalcResult, error) {
	segments, _, err := s.repo.List(models.SegmentListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	results := make([]RecalcResult, len(segments))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, seg := range segments {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(i int, seg models.Segment) {
			defer func() {
				<-sem
				wg.Done()
			}()

			res := RecalcResult{ID: seg.ID, Name: seg.Name}
			size, err := s.Recalculate(ctx, seg.ID)
			if err != nil {
				res.Error = err.Error()
				s.logger.Error("batch recalculation item failed", "segment_id", seg.ID, "error", err)
			} else {
				res.Size = size
			}
			results[i] = res
		}(i, seg)
	}

	wg.Wait()

	s.logger.Info("batch recalculation finished", "segments", len(results))
	return results, nil
}

// Members returns the last stored member set for a segment, or nil when no
// recalculation has run since the store was enabled.
func (s *Service) Members(ctx context.Context, id string) (*snapshot.MemberSet, error) {
	seg, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, ErrNotFound
	}
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.Get(ctx, id)
}
