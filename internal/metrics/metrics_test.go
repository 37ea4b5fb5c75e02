package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	// All helpers must be no-ops on a nil receiver.
	m.ObserveResolverFetch("has_purchased", time.Millisecond)
	m.IncResolverShortCircuit()
	m.ObserveRecalculation("ok", time.Millisecond)
	m.SetSegmentSize("seg-1", 42)
	m.IncActivationRejection("no steps")
	m.ObserveAPIRequest("GET", "/api/v1/segments", 200, time.Millisecond)
}

func TestCountersRecord(t *testing.T) {
	m := New()

	m.ObserveResolverFetch("has_purchased", time.Millisecond)
	m.ObserveResolverFetch("has_purchased", time.Millisecond)
	if got := testutil.ToFloat64(m.ResolverFetchesTotal.WithLabelValues("has_purchased")); got != 2 {
		t.Errorf("ResolverFetchesTotal = %v, want 2", got)
	}

	m.ObserveRecalculation("ok", time.Millisecond)
	m.ObserveRecalculation("conflict", time.Millisecond)
	if got := testutil.ToFloat64(m.RecalculationsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("RecalculationsTotal[conflict] = %v, want 1", got)
	}

	m.SetSegmentSize("seg-1", 42)
	if got := testutil.ToFloat64(m.SegmentEstimatedSize.WithLabelValues("seg-1")); got != 42 {
		t.Errorf("SegmentEstimatedSize = %v, want 42", got)
	}

	m.IncActivationRejection("no audience")
	if got := testutil.ToFloat64(m.ActivationRejectionsTotal.WithLabelValues("no audience")); got != 1 {
		t.Errorf("ActivationRejectionsTotal = %v, want 1", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.IncResolverShortCircuit()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "segmentry_resolver_short_circuits_total 1") {
		t.Error("exported metrics missing short circuit counter")
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.status); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
