package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/foxzi/segmentry/internal/catalog"
	"github.com/foxzi/segmentry/internal/metrics"
)

// FactSource is the read-only contract over the raw fact data the resolvers
// consume. Implementations should apply their own timeouts and surface a
// failure rather than hang; a failed fetch is reported as a *SourceError,
// never as zero matches.
type FactSource interface {
	// RecipientIDs returns the full recipient universe.
	RecipientIDs(ctx context.Context) ([]string, error)

	// PurchaserIDs returns the distinct recipients with at least one purchase.
	PurchaserIDs(ctx context.Context) ([]string, error)

	// Purchases returns all purchase facts.
	Purchases(ctx context.Context) ([]Purchase, error)

	// AttendanceCounts returns the number of attended events per recipient.
	AttendanceCounts(ctx context.Context) (map[string]int, error)

	// PassTypes returns the pass category per pass-holding recipient.
	PassTypes(ctx context.Context) (map[string]string, error)

	// Engagements returns the latest engagement snapshot per recipient.
	Engagements(ctx context.Context) ([]Engagement, error)
}

// Purchase is one purchase fact.
type Purchase struct {
	RecipientID string
	Amount      float64
	PurchasedAt time.Time
}

// Engagement is one engagement snapshot.
type Engagement struct {
	RecipientID string
	Level       string
	EmailOpens  int
	EmailClicks int
}

// Set is a set of recipient IDs.
type Set map[string]struct{}

// Result is the outcome of resolving a predicate list.
type Result struct {
	MemberIDs []string `json:"member_ids"`
	Count     int      `json:"count"`
}

// sourceFunc resolves a single (operator, value) pair against one data
// source into the set of qualifying recipient IDs.
type sourceFunc func(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error)

// Resolver evaluates segment predicate lists against a FactSource.
type Resolver struct {
	src     FactSource
	sources map[catalog.FieldID]sourceFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	// now is the clock used for recency cutoffs; overridden in tests.
	now func() time.Time
}

// New creates a resolver over the given fact source. Passing nil metrics
// disables instrumentation.
func New(src FactSource, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	r := &Resolver{
		src:     src,
		logger:  logger.With("component", "resolver"),
		metrics: m,
		now:     time.Now,
	}
	r.sources = r.sourceRegistry()
	return r
}

// Resolve evaluates the predicates in order, intersecting per-predicate
// matches. An empty intersection short-circuits: the result is empty and no
// further sources are fetched. Every predicate is validated against the
// catalog before any fetch happens, so an unknown field or illegal operator
// fails the whole call loudly.
func (r *Resolver) Resolve(ctx context.Context, predicates []catalog.Predicate) (*Result, error) {
	if err := catalog.ValidatePredicates(predicates); err != nil {
		return nil, err
	}

	var candidate Set
	for _, p := range predicates {
		source, ok := r.sources[p.Field]
		if !ok {
			// Catalog and registry must stay in sync; a field with no
			// source is a configuration error, not an empty match.
			return nil, &catalog.ConfigError{Field: p.Field, Reason: "no source resolver registered"}
		}

		start := time.Now()
		matched, err := source(ctx, r.src, p.Operator, p.Value)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", p.Field, err)
		}
		r.metrics.ObserveResolverFetch(string(p.Field), time.Since(start))

		if candidate == nil {
			candidate = matched
		} else {
			candidate = intersect(candidate, matched)
		}

		if len(candidate) == 0 {
			r.metrics.IncResolverShortCircuit()
			r.logger.Debug("resolve short-circuited", "field", p.Field)
			return &Result{MemberIDs: []string{}, Count: 0}, nil
		}
	}

	if candidate == nil {
		// Unreachable through the public surface: segments require at
		// least one predicate.
		return &Result{MemberIDs: []string{}, Count: 0}, nil
	}

	ids := make([]string, 0, len(candidate))
	for id := range candidate {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &Result{MemberIDs: ids, Count: len(ids)}, nil
}

func intersect(a, b Set) Set {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(Set, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func setOf(ids []string) Set {
	out := make(Set, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
