// Package metrics holds the Prometheus collectors of the planner, the task
// lifecycle and the REST API.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hevelius/hevelius/pkg/storage"
)

// Collector satisfies tasks.Recorder and planner.Recorder.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	Transitions    *prometheus.CounterVec
	ClaimConflicts prometheus.Counter

	Plans         prometheus.Counter
	PlanEntries   prometheus.Gauge
	PlanSkips     *prometheus.CounterVec
	PlanDurations prometheus.Histogram
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}
	var err error

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hevelius_http_requests_total",
		Help: "Handled API requests by method, route and status code.",
	}, []string{"method", "route", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hevelius_http_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}
	if c.Transitions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hevelius_task_transitions_total",
		Help: "Successful task state changes.",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if c.ClaimConflicts, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hevelius_claim_conflicts_total",
		Help: "Claims lost to another plan.",
	})); err != nil {
		return nil, err
	}
	if c.Plans, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hevelius_plans_total",
		Help: "Night plans computed.",
	})); err != nil {
		return nil, err
	}
	if c.PlanEntries, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hevelius_plan_entries",
		Help: "Tasks scheduled by the most recent night plan.",
	})); err != nil {
		return nil, err
	}
	if c.PlanSkips, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hevelius_plan_skipped_total",
		Help: "Tasks left out of night plans, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.PlanDurations, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hevelius_plan_duration_seconds",
		Help:    "Time spent computing a night plan.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// TaskTransition counts a state change.
func (c *Collector) TaskTransition(from, to storage.TaskState) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) ClaimConflict() {
	if c == nil {
		return
	}
	c.ClaimConflicts.Inc()
}

// PlanBuilt records the outcome of a planning run.
func (c *Collector) PlanBuilt(entries int, skipped map[string]int, took time.Duration) {
	if c == nil {
		return
	}
	c.Plans.Inc()
	c.PlanEntries.Set(float64(entries))
	for reason, n := range skipped {
		c.PlanSkips.WithLabelValues(reason).Add(float64(n))
	}
	c.PlanDurations.Observe(took.Seconds())
}

// Middleware records request counts and latencies. Routes are labeled with
// their chi pattern so path parameters do not explode the label space.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func alreadyRegistered[T prometheus.Collector](err error, name string) (T, error) {
	var zero T
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return zero, err
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.CounterVec](err, "counter vec")
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.HistogramVec](err, "histogram vec")
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		return alreadyRegistered[prometheus.Counter](err, "counter")
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		return alreadyRegistered[prometheus.Gauge](err, "gauge")
	}
	return g, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		return alreadyRegistered[prometheus.Histogram](err, "histogram")
	}
	return h, nil
}
