package resolver

import (
	"context"
	"math"
	"time"

	"github.com/foxzi/segmentry/internal/catalog"
)

// sourceRegistry maps every catalog field to its source resolver. Adding a
// field means adding a catalog entry and registering its source here.
// days_since_last_purchase is bound to the resolver instance because it
// needs the resolver clock.
func (r *Resolver) sourceRegistry() map[catalog.FieldID]sourceFunc {
	return map[catalog.FieldID]sourceFunc{
		catalog.FieldHasPurchased:          resolveHasPurchased,
		catalog.FieldTotalSpent:            resolveTotalSpent,
		catalog.FieldEventsAttended:        resolveEventsAttended,
		catalog.FieldDaysSinceLastPurchase: r.resolveDaysSinceLastPurchase,
		catalog.FieldPassType:              resolvePassType,
		catalog.FieldEngagementLevel:       resolveEngagementLevel,
		catalog.FieldEmailOpens:            resolveEmailOpens,
		catalog.FieldEmailClicks:           resolveEmailClicks,
	}
}

// resolveHasPurchased handles the direct-flag shape. equals=true is the
// distinct purchaser set; equals=false must be computed explicitly as the
// recipients absent from that set, which requires the full universe.
func resolveHasPurchased(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	want, err := catalog.BoolValue(value)
	if err != nil {
		return nil, &catalog.ValueError{Field: catalog.FieldHasPurchased, Reason: err.Error()}
	}

	purchasers, err := src.PurchaserIDs(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldHasPurchased, Err: err}
	}
	purchaserSet := setOf(purchasers)

	if want {
		return purchaserSet, nil
	}

	universe, err := src.RecipientIDs(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldHasPurchased, Err: err}
	}
	out := make(Set, len(universe))
	for _, id := range universe {
		if _, ok := purchaserSet[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// resolveTotalSpent handles the aggregate-numeric shape: sum purchase
// amounts per recipient, then filter the reduced map by the operator.
func resolveTotalSpent(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	purchases, err := src.Purchases(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldTotalSpent, Err: err}
	}

	totals := make(map[string]float64)
	for _, p := range purchases {
		totals[p.RecipientID] += p.Amount
	}
	return filterNumeric(catalog.FieldTotalSpent, totals, op, value)
}

func resolveEventsAttended(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	counts, err := src.AttendanceCounts(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldEventsAttended, Err: err}
	}

	agg := make(map[string]float64, len(counts))
	for id, n := range counts {
		agg[id] = float64(n)
	}
	return filterNumeric(catalog.FieldEventsAttended, agg, op, value)
}

// resolveDaysSinceLastPurchase handles the recency shape. The value is a
// number of days; greater_than matches recipients whose most recent purchase
// is OLDER than N days ago, less_than matches newer. This is inverted
// relative to a naive numeric comparison on the timestamp and is deliberate.
// Recipients with no purchases never match.
func (r *Resolver) resolveDaysSinceLastPurchase(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	purchases, err := src.Purchases(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldDaysSinceLastPurchase, Err: err}
	}

	latest := make(map[string]time.Time)
	for _, p := range purchases {
		if p.PurchasedAt.After(latest[p.RecipientID]) {
			latest[p.RecipientID] = p.PurchasedAt
		}
	}

	days := make(map[string]float64, len(latest))
	now := r.now()
	for id, at := range latest {
		days[id] = math.Floor(now.Sub(at).Hours() / 24)
	}
	return filterNumeric(catalog.FieldDaysSinceLastPurchase, days, op, value)
}

// resolvePassType handles the categorical shape over pass ownership.
// not_equals is evaluated over pass holders only: recipients without any
// pass are not "holders of a different pass".
func resolvePassType(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	want, err := catalog.StringValue(value)
	if err != nil {
		return nil, &catalog.ValueError{Field: catalog.FieldPassType, Reason: err.Error()}
	}

	passes, err := src.PassTypes(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldPassType, Err: err}
	}
	return filterCategorical(catalog.FieldPassType, passes, op, want)
}

func resolveEngagementLevel(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	want, err := catalog.StringValue(value)
	if err != nil {
		return nil, &catalog.ValueError{Field: catalog.FieldEngagementLevel, Reason: err.Error()}
	}

	engagements, err := src.Engagements(ctx)
	if err != nil {
		return nil, &SourceError{Field: catalog.FieldEngagementLevel, Err: err}
	}

	levels := make(map[string]string, len(engagements))
	for _, e := range engagements {
		levels[e.RecipientID] = e.Level
	}
	return filterCategorical(catalog.FieldEngagementLevel, levels, op, want)
}

func resolveEmailOpens(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	return resolveEngagementMetric(ctx, src, catalog.FieldEmailOpens, op, value, func(e Engagement) float64 {
		return float64(e.EmailOpens)
	})
}

func resolveEmailClicks(ctx context.Context, src FactSource, op catalog.Operator, value any) (Set, error) {
	return resolveEngagementMetric(ctx, src, catalog.FieldEmailClicks, op, value, func(e Engagement) float64 {
		return float64(e.EmailClicks)
	})
}

func resolveEngagementMetric(ctx context.Context, src FactSource, field catalog.FieldID, op catalog.Operator, value any, metric func(Engagement) float64) (Set, error) {
	engagements, err := src.Engagements(ctx)
	if err != nil {
		return nil, &SourceError{Field: field, Err: err}
	}

	agg := make(map[string]float64, len(engagements))
	for _, e := range engagements {
		agg[e.RecipientID] = metric(e)
	}
	return filterNumeric(field, agg, op, value)
}

// filterNumeric filters a per-recipient aggregate by a numeric operator.
func filterNumeric(field catalog.FieldID, agg map[string]float64, op catalog.Operator, value any) (Set, error) {
	var match func(float64) bool

	switch op {
	case catalog.OpBetween:
		low, high, err := catalog.RangeValue(value)
		if err != nil {
			return nil, &catalog.ValueError{Field: field, Reason: err.Error()}
		}
		match = func(n float64) bool { return n >= low && n <= high }
	case catalog.OpGreaterThan, catalog.OpLessThan, catalog.OpEquals:
		want, err := catalog.NumberValue(value)
		if err != nil {
			return nil, &catalog.ValueError{Field: field, Reason: err.Error()}
		}
		switch op {
		case catalog.OpGreaterThan:
			match = func(n float64) bool { return n > want }
		case catalog.OpLessThan:
			match = func(n float64) bool { return n < want }
		default:
			match = func(n float64) bool { return n == want }
		}
	default:
		return nil, &catalog.ConfigError{Field: field, Operator: op, Reason: "operator not legal for numeric field"}
	}

	out := make(Set)
	for id, n := range agg {
		if match(n) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// filterCategorical filters a per-recipient category by equals/not_equals.
func filterCategorical(field catalog.FieldID, categories map[string]string, op catalog.Operator, want string) (Set, error) {
	out := make(Set)
	switch op {
	case catalog.OpEquals:
		for id, cat := range categories {
			if cat == want {
				out[id] = struct{}{}
			}
		}
	case catalog.OpNotEquals:
		for id, cat := range categories {
			if cat != want {
				out[id] = struct{}{}
			}
		}
	default:
		return nil, &catalog.ConfigError{Field: field, Operator: op, Reason: "operator not legal for categorical field"}
	}
	return out, nil
}
