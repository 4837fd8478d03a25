// Package planner selects and claims the observation tasks that can be done
// on a given night.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hevelius/hevelius/pkg/logging"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
	"github.com/hevelius/hevelius/pkg/validation"
)

// SkipReason tells why an eligible task is not part of a plan.
type SkipReason string

const (
	SkipUnresolved     SkipReason = "unresolved-target"
	SkipNeverVisible   SkipReason = "never-visible"
	SkipClaimConflict  SkipReason = "claim-conflict"
	SkipDateConstraint SkipReason = "date-constraint"
)

const (
	DefaultMinAlt = 20.0
	DefaultSunAlt = -12.0
	DefaultStep   = 5 * time.Minute
)

// Tasks is what the planner needs from the task lifecycle.
type Tasks interface {
	List(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
	Claim(ctx context.Context, id int64, planID string) error
	ReleasePlan(ctx context.Context, planID string) (int, error)
}

// Resolver maps an object name to catalog coordinates.
type Resolver interface {
	Resolve(ctx context.Context, name string) (storage.CatalogObject, error)
}

// Recorder receives a summary of every planning run.
type Recorder interface {
	PlanBuilt(entries int, skipped map[string]int, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) PlanBuilt(int, map[string]int, time.Duration) {}

// Config wires a Planner. Tasks and Resolver are required.
type Config struct {
	Tasks    Tasks
	Resolver Resolver
	Log      logging.Logger // optional; nil = no logging
	Metrics  Recorder       // optional
	NewID    func() string  // optional; defaults to random UUIDs
}

type Planner struct {
	tasks    Tasks
	resolver Resolver
	log      logging.Logger
	metrics  Recorder
	newID    func() string
}

func New(cfg Config) *Planner {
	p := &Planner{tasks: cfg.Tasks, resolver: cfg.Resolver, log: logging.OrNop(cfg.Log), metrics: cfg.Metrics, newID: cfg.NewID}
	if p.metrics == nil {
		p.metrics = nopRecorder{}
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p
}

// Request describes the night to plan.
type Request struct {
	Site sky.Site
	// Date is the calendar day on which the night starts (UTC date).
	Date time.Time
	// MinAlt is the altitude a target must exceed, in degrees. A task's own
	// minimum altitude applies when it is stricter.
	MinAlt float64
	// SunAlt is the Sun altitude below which it is dark enough to observe.
	SunAlt   float64
	MaxTasks int // 0 = no limit
	Step     time.Duration
	// DryRun computes the plan without claiming anything.
	DryRun bool
}

// NewRequest returns a request with the default thresholds.
func NewRequest(site sky.Site, date time.Time) Request {
	return Request{Site: site, Date: date, MinAlt: DefaultMinAlt, SunAlt: DefaultSunAlt, Step: DefaultStep}
}

func (r Request) validate() error {
	if err := r.Site.Validate(); err != nil {
		return err
	}
	if r.Date.IsZero() {
		return validation.Field("date", "is required")
	}
	if math.IsNaN(r.MinAlt) || r.MinAlt < -90 || r.MinAlt >= 90 {
		return validation.Field("min_alt", "must be in [-90, 90) degrees, got %v", r.MinAlt)
	}
	if math.IsNaN(r.SunAlt) || r.SunAlt < -90 || r.SunAlt > 90 {
		return validation.Field("sun_alt", "must be in [-90, 90] degrees, got %v", r.SunAlt)
	}
	if r.MaxTasks < 0 {
		return validation.Field("max_tasks", "must not be negative, got %d", r.MaxTasks)
	}
	if r.Step < 0 || (r.Step > 0 && r.Step < time.Minute) {
		return validation.Field("step", "must be at least one minute, got %s", r.Step)
	}
	return nil
}

// Entry is one scheduled task. Order starts at 1.
type Entry struct {
	Order    int       `json:"order"`
	TaskID   int64     `json:"task_id"`
	Object   string    `json:"object,omitempty"`
	Target   sky.Point `json:"target"`
	Priority int       `json:"priority"`
	MinAlt   float64   `json:"min_alt"`
	Rise     time.Time `json:"rise"`
	Set      time.Time `json:"set"`
	Best     time.Time `json:"best"`
	BestAlt  float64   `json:"best_alt"`
}

// Skip is a task left out of the plan.
type Skip struct {
	TaskID int64      `json:"task_id"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Plan is a projection: the claims it made are the source of truth.
type Plan struct {
	ID      string       `json:"plan_id"`
	Site    sky.Site     `json:"site"`
	Date    string       `json:"date"`
	Night   sky.Interval `json:"night"`
	Dark    bool         `json:"dark"`
	DryRun  bool         `json:"dry_run"`
	Entries []Entry      `json:"entries"`
	Skipped []Skip       `json:"skipped"`
}

// Plan builds the plan for req and, unless req.DryRun, claims every selected
// task for it. A task lost to a concurrent claim is reported as skipped and
// its slot is not refilled.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	started := time.Now()
	if req.Step == 0 {
		req.Step = DefaultStep
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:      p.newID(),
		Site:    req.Site,
		Date:    req.Date.UTC().Format("2006-01-02"),
		DryRun:  req.DryRun,
		Entries: []Entry{},
		Skipped: []Skip{},
	}
	plan.Night, plan.Dark = sky.NightWindow(req.Site, req.Date, req.SunAlt, req.Step)
	midnight := sky.LocalMidnight(req.Site, req.Date)

	pool, err := p.tasks.List(ctx, storage.TaskFilter{States: []storage.TaskState{storage.StateNew}})
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}

	skip := func(id int64, reason SkipReason, detail string) {
		p.log.Debugf("plan %s: skipping task %d (%s) %s", plan.ID, id, reason, detail)
		plan.Skipped = append(plan.Skipped, Skip{TaskID: id, Reason: reason, Detail: detail})
	}

	var candidates []Entry
	for _, t := range pool {
		if t.SkipBefore != nil && !t.SkipBefore.Before(midnight) {
			skip(t.ID, SkipDateConstraint, "not before "+t.SkipBefore.UTC().Format(time.RFC3339))
			continue
		}
		if t.SkipAfter != nil && !t.SkipAfter.After(midnight) {
			skip(t.ID, SkipDateConstraint, "not after "+t.SkipAfter.UTC().Format(time.RFC3339))
			continue
		}

		target, err := p.target(ctx, t)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || validation.IsValidationError(err) {
				skip(t.ID, SkipUnresolved, err.Error())
				continue
			}
			return nil, err
		}

		minAlt := req.MinAlt
		if t.MinAlt != nil && *t.MinAlt > minAlt {
			minAlt = *t.MinAlt
		}
		if !plan.Dark {
			skip(t.ID, SkipNeverVisible, "no dark time")
			continue
		}
		w, ok := sky.VisibleWindow(target, req.Site, plan.Night, minAlt, req.Step)
		if !ok {
			skip(t.ID, SkipNeverVisible, fmt.Sprintf("stays below %.1f deg", minAlt))
			continue
		}
		candidates = append(candidates, Entry{
			TaskID:   t.ID,
			Object:   t.Object,
			Target:   target,
			Priority: t.Priority,
			MinAlt:   minAlt,
			Rise:     w.Rise,
			Set:      w.Set,
			Best:     w.Best,
			BestAlt:  w.BestAlt,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Best.Equal(b.Best) {
			return a.Best.Before(b.Best)
		}
		return a.TaskID < b.TaskID
	})
	if req.MaxTasks > 0 && len(candidates) > req.MaxTasks {
		candidates = candidates[:req.MaxTasks]
	}

	for _, e := range candidates {
		if !req.DryRun {
			if err := p.tasks.Claim(ctx, e.TaskID, plan.ID); err != nil {
				if errors.Is(err, tasks.ErrClaimConflict) || errors.Is(err, tasks.ErrInvalidTransition) {
					skip(e.TaskID, SkipClaimConflict, err.Error())
					continue
				}
				p.abandon(plan.ID)
				return nil, fmt.Errorf("claiming task %d: %w", e.TaskID, err)
			}
		}
		e.Order = len(plan.Entries) + 1
		plan.Entries = append(plan.Entries, e)
	}

	sort.SliceStable(plan.Skipped, func(i, j int) bool { return plan.Skipped[i].TaskID < plan.Skipped[j].TaskID })

	counts := make(map[string]int)
	for _, s := range plan.Skipped {
		counts[string(s.Reason)]++
	}
	took := time.Since(started)
	p.metrics.PlanBuilt(len(plan.Entries), counts, took)
	p.log.Infof("plan %s for %s: %d scheduled, %d skipped out of %d pending (%s)",
		plan.ID, plan.Date, len(plan.Entries), len(plan.Skipped), len(pool), took.Round(time.Millisecond))
	return plan, nil
}

func (p *Planner) target(ctx context.Context, t storage.Task) (sky.Point, error) {
	if t.HasCoordinates() {
		return sky.Point{RA: *t.RA, Dec: *t.Dec}, nil
	}
	obj, err := p.resolver.Resolve(ctx, t.Object)
	if err != nil {
		return sky.Point{}, err
	}
	return sky.Point{RA: obj.RA, Dec: obj.Dec}, nil
}

// abandon releases whatever a failed run already claimed.
func (p *Planner) abandon(planID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := p.tasks.ReleasePlan(ctx, planID); err != nil {
		p.log.Errorf("plan %s: releasing claims after failure: %v", planID, err)
	}
}

// Discard releases every task still claimed by planID.
func (p *Planner) Discard(ctx context.Context, planID string) (int, error) {
	return p.tasks.ReleasePlan(ctx, planID)
}
