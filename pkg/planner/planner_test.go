package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
	"github.com/hevelius/hevelius/pkg/validation"
)

var (
	krakow = sky.Site{Name: "krakow", Lat: 50, Lon: 20}
	night  = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db    *storage.DB
	tasks *tasks.Lifecycle
	index *catalog.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "plan.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tag, objs, err := catalog.Builtin("messier")
	require.NoError(t, err)
	_, err = db.LoadCatalog(context.Background(), tag, objs)
	require.NoError(t, err)

	return &fixture{db: db, tasks: tasks.New(db, tasks.Config{}), index: catalog.New(db, nil)}
}

func (f *fixture) planner(t Tasks) *Planner {
	if t == nil {
		t = f.tasks
	}
	return New(Config{Tasks: t, Resolver: f.index})
}

func (f *fixture) add(t *testing.T, task storage.Task) int64 {
	t.Helper()
	created, err := f.tasks.Create(context.Background(), task)
	require.NoError(t, err)
	return created.ID
}

func fp(v float64) *float64 { return &v }

func ids(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.TaskID
	}
	return out
}

func TestPriorityScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.add(t, storage.Task{Object: "circumpolar", RA: fp(37.95), Dec: fp(80), Priority: 1})
	a := f.add(t, storage.Task{Object: "M1", Priority: 5})

	plan, err := f.planner(nil).Plan(ctx, NewRequest(krakow, night))
	require.NoError(t, err)
	require.True(t, plan.Dark)
	assert.Equal(t, "2024-01-15", plan.Date)
	require.Equal(t, []int64{a, b}, ids(plan.Entries))
	assert.Empty(t, plan.Skipped)

	m1 := plan.Entries[0]
	assert.Equal(t, 1, m1.Order)
	assert.Equal(t, 2, plan.Entries[1].Order)
	assert.InDelta(t, 83.633, m1.Target.RA, 0.001)
	assert.True(t, plan.Night.Contains(m1.Best))
	assert.Greater(t, m1.BestAlt, 55.0)
	assert.False(t, m1.Rise.After(m1.Best))
	assert.False(t, m1.Best.After(m1.Set))

	for _, id := range []int64{a, b} {
		task, err := f.tasks.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.StateClaimed, task.State)
		assert.Equal(t, plan.ID, task.ClaimOwner)
	}
}

func TestSkipReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visible := f.add(t, storage.Task{Object: "M42", Priority: 2})
	unresolved := f.add(t, storage.Task{Object: "nonexistent-xyz"})
	southern := f.add(t, storage.Task{Object: "south", RA: fp(100), Dec: fp(-60)})
	strict := f.add(t, storage.Task{Object: "M31", MinAlt: fp(85)})
	tooLate := f.add(t, storage.Task{Object: "M1", SkipAfter: timePtr(night.AddDate(0, 0, -5))})
	tooEarly := f.add(t, storage.Task{Object: "M1", SkipBefore: timePtr(night.AddDate(0, 0, 3))})
	window := f.add(t, storage.Task{Object: "M1", SkipBefore: timePtr(night.AddDate(0, 0, -1)), SkipAfter: timePtr(night.AddDate(0, 0, 2))})
	template := f.add(t, storage.Task{Object: "M1", State: storage.StateTemplate})

	plan, err := f.planner(nil).Plan(ctx, NewRequest(krakow, night))
	require.NoError(t, err)

	assert.Equal(t, []int64{visible, window}, ids(plan.Entries))
	reasons := map[int64]SkipReason{}
	for _, s := range plan.Skipped {
		reasons[s.TaskID] = s.Reason
	}
	assert.Equal(t, map[int64]SkipReason{
		unresolved: SkipUnresolved,
		southern:   SkipNeverVisible,
		strict:     SkipNeverVisible,
		tooLate:    SkipDateConstraint,
		tooEarly:   SkipDateConstraint,
	}, reasons)
	assert.NotContains(t, reasons, template)

	task, err := f.tasks.Get(ctx, unresolved)
	require.NoError(t, err)
	assert.Equal(t, storage.StateNew, task.State, "skipped tasks stay unclaimed")
}

func timePtr(t time.Time) *time.Time { return &t }

func TestNoDarkTime(t *testing.T) {
	f := newFixture(t)
	f.add(t, storage.Task{Object: "pole", RA: fp(0), Dec: fp(89)})
	f.add(t, storage.Task{Object: "M1"})

	tromso := sky.Site{Lat: 69.6, Lon: 18.9}
	plan, err := f.planner(nil).Plan(context.Background(), NewRequest(tromso, time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.False(t, plan.Dark)
	assert.Empty(t, plan.Entries)
	require.Len(t, plan.Skipped, 2)
	for _, s := range plan.Skipped {
		assert.Equal(t, SkipNeverVisible, s.Reason)
	}
}

// racingTasks lets a rival plan claim victim just before the planner does.
type racingTasks struct {
	*tasks.Lifecycle
	victim int64
}

func (r racingTasks) Claim(ctx context.Context, id int64, planID string) error {
	if id == r.victim {
		if err := r.Lifecycle.Claim(ctx, id, "rival"); err != nil {
			return err
		}
	}
	return r.Lifecycle.Claim(ctx, id, planID)
}

func TestClaimConflictIsNotRefilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.add(t, storage.Task{Object: "M1", Priority: 9})
	second := f.add(t, storage.Task{Object: "M42", Priority: 8})
	third := f.add(t, storage.Task{Object: "M45", Priority: 7})

	req := NewRequest(krakow, night)
	req.MaxTasks = 2
	plan, err := f.planner(racingTasks{Lifecycle: f.tasks, victim: second}).Plan(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []int64{first}, ids(plan.Entries))
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, second, plan.Skipped[0].TaskID)
	assert.Equal(t, SkipClaimConflict, plan.Skipped[0].Reason)

	got, err := f.tasks.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "rival", got.ClaimOwner)
	got, err = f.tasks.Get(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, storage.StateNew, got.State)
}

func TestDeterminism(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, name := range []string{"M1", "M31", "M42", "M45", "M81", "M82", "M101", "M13", "M7", "nowhere"} {
		f.add(t, storage.Task{Object: name, Priority: i % 3})
	}
	f.add(t, storage.Task{RA: fp(83.633), Dec: fp(22.0145), Priority: 1})

	p := f.planner(nil)
	req := NewRequest(krakow, night)
	first, err := p.Plan(ctx, req)
	require.NoError(t, err)
	released, err := p.Discard(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, len(first.Entries), released)

	second, err := p.Plan(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, first.Skipped, second.Skipped)

	for i := 1; i < len(second.Entries); i++ {
		a, b := second.Entries[i-1], second.Entries[i]
		require.GreaterOrEqual(t, a.Priority, b.Priority)
		if a.Priority == b.Priority {
			require.False(t, b.Best.Before(a.Best), "entries %d and %d out of order", a.TaskID, b.TaskID)
		}
	}
}

func TestDryRunClaimsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.add(t, storage.Task{Object: "M1"})

	req := NewRequest(krakow, night)
	req.DryRun = true
	plan, err := New(Config{Tasks: f.tasks, Resolver: f.index, NewID: func() string { return "fixed" }}).Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "fixed", plan.ID)
	assert.Equal(t, []int64{id}, ids(plan.Entries))

	task, err := f.tasks.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StateNew, task.State)
}

type failingTasks struct {
	*tasks.Lifecycle
	failOn int64
}

func (ft failingTasks) Claim(ctx context.Context, id int64, planID string) error {
	if id == ft.failOn {
		return errors.New("disk I/O error")
	}
	return ft.Lifecycle.Claim(ctx, id, planID)
}

func TestStoreFailureReleasesClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, storage.Task{Object: "M1", Priority: 2})
	b := f.add(t, storage.Task{Object: "M42", Priority: 1})

	_, err := f.planner(failingTasks{Lifecycle: f.tasks, failOn: b}).Plan(ctx, NewRequest(krakow, night))
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("task %d", b))

	task, err := f.tasks.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, storage.StateNew, task.State)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	p := f.planner(nil)
	for field, mutate := range map[string]func(*Request){
		"lat":       func(r *Request) { r.Site.Lat = 95 },
		"date":      func(r *Request) { r.Date = time.Time{} },
		"min_alt":   func(r *Request) { r.MinAlt = 90 },
		"max_tasks": func(r *Request) { r.MaxTasks = -1 },
		"step":      func(r *Request) { r.Step = time.Second },
	} {
		req := NewRequest(krakow, night)
		mutate(&req)
		_, err := p.Plan(context.Background(), req)
		var ve *validation.Error
		require.ErrorAs(t, err, &ve, field)
		assert.Equal(t, field, ve.Field)
	}
}
