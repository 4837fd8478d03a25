package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/hevelius/hevelius/pkg/storage"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil))
	}

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/tasks/{id}", "404")); got != 3 {
		t.Fatalf("hevelius_http_requests_total = %v, want 3", got)
	}
	if n := histogramSampleCount(t, reg, "hevelius_http_request_duration_seconds"); n != 3 {
		t.Fatalf("hevelius_http_request_duration_seconds sample_count = %d, want 3", n)
	}
}

func TestLifecycleAndPlanMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.TaskTransition(storage.StateNew, storage.StateClaimed)
	c.TaskTransition(storage.StateNew, storage.StateClaimed)
	c.ClaimConflict()
	c.PlanBuilt(4, map[string]int{"never-visible": 2, "claim-conflict": 1}, 120*time.Millisecond)
	c.PlanBuilt(2, map[string]int{"never-visible": 1}, 80*time.Millisecond)

	if got := testutil.ToFloat64(c.Transitions.WithLabelValues("new", "claimed")); got != 2 {
		t.Fatalf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ClaimConflicts); got != 1 {
		t.Fatalf("claim conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PlanEntries); got != 2 {
		t.Fatalf("plan entries = %v, want 2 (last plan)", got)
	}
	if got := testutil.ToFloat64(c.PlanSkips.WithLabelValues("never-visible")); got != 3 {
		t.Fatalf("never-visible skips = %v, want 3", got)
	}
	if n := histogramSampleCount(t, reg, "hevelius_plan_duration_seconds"); n != 2 {
		t.Fatalf("plan duration samples = %d, want 2", n)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.TaskTransition(storage.StateNew, storage.StateClaimed)
	c.ClaimConflict()
	c.PlanBuilt(1, nil, time.Second)
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	b, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.ClaimConflict()
	if got := testutil.ToFloat64(b.ClaimConflicts); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.PlanBuilt(3, nil, time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, "hevelius_plan_entries 3") {
		t.Fatalf("metrics output missing plan gauge:\n%s", body)
	}
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total uint64
	for _, mf := range families {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_HISTOGRAM {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
	}
	return total
}
