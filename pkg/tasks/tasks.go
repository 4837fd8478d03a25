// Package tasks drives observation tasks through their lifecycle:
//
//	template -> new -> claimed -> in-progress -> completed
//	                      |  \                \-> failed
//	                      |   \-> failed
//	                      \-> new (release)
//
// Every state change is a single compare-and-set against the task store, so
// concurrent callers (other goroutines or other processes sharing the
// database) can never both win the same transition.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hevelius/hevelius/pkg/logging"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/validation"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrClaimConflict is returned when another caller holds or won the claim.
	ErrClaimConflict = errors.New("task already claimed")
	// ErrConcurrentUpdate is returned when the task kept changing state under
	// an update and the retries ran out.
	ErrConcurrentUpdate = errors.New("task modified concurrently")
)

// InvalidTransitionError reports a rejected state change. The task is left
// unchanged; From is its state at the time of the attempt.
type InvalidTransitionError struct {
	TaskID int64
	From   storage.TaskState
	To     storage.TaskState
}

func (e *InvalidTransitionError) Error() string {
	if e.From == e.To && e.From.Terminal() {
		return fmt.Sprintf("task %d is %s and can no longer be modified", e.TaskID, e.From)
	}
	return fmt.Sprintf("task %d: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var transitions = map[storage.TaskState][]storage.TaskState{
	storage.StateTemplate:   {storage.StateNew},
	storage.StateNew:        {storage.StateClaimed},
	storage.StateClaimed:    {storage.StateInProgress, storage.StateNew, storage.StateFailed},
	storage.StateInProgress: {storage.StateCompleted, storage.StateFailed},
}

// Allowed reports whether the lifecycle permits from -> to.
func Allowed(from, to storage.TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next lists the states reachable from s in one step.
func Next(s storage.TaskState) []storage.TaskState {
	return append([]storage.TaskState(nil), transitions[s]...)
}

// Store is the task side of the storage layer.
type Store interface {
	CreateTask(ctx context.Context, t storage.Task) (storage.Task, error)
	GetTask(ctx context.Context, id int64) (storage.Task, error)
	ListTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
	SetTaskState(ctx context.Context, c storage.StateChange) (bool, error)
	UpdateTaskFields(ctx context.Context, id int64, expected storage.TaskState, f storage.TaskFields) (bool, error)
	TaskStateCounts(ctx context.Context) ([]storage.StateCount, error)
}

// Recorder receives lifecycle events for metrics.
type Recorder interface {
	TaskTransition(from, to storage.TaskState)
	ClaimConflict()
}

type nopRecorder struct{}

func (nopRecorder) TaskTransition(storage.TaskState, storage.TaskState) {}
func (nopRecorder) ClaimConflict()                                      {}

// Config holds the optional collaborators of a Lifecycle.
type Config struct {
	Log     logging.Logger   // optional; nil = no logging
	Metrics Recorder         // optional
	Now     func() time.Time // optional; defaults to time.Now
}

// updateAttempts bounds how often a field update or transition is retried
// when the task changes state between the read and the conditional write.
const updateAttempts = 3

// Lifecycle is safe for concurrent use.
type Lifecycle struct {
	store   Store
	log     logging.Logger
	metrics Recorder
	now     func() time.Time
}

func New(store Store, cfg Config) *Lifecycle {
	l := &Lifecycle{store: store, log: logging.OrNop(cfg.Log), metrics: cfg.Metrics, now: cfg.Now}
	if l.metrics == nil {
		l.metrics = nopRecorder{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Create stores a new task. Tasks start in new unless template is asked for.
func (l *Lifecycle) Create(ctx context.Context, t storage.Task) (storage.Task, error) {
	if t.State == "" {
		t.State = storage.StateNew
	}
	created, err := l.store.CreateTask(ctx, t)
	if err != nil {
		return storage.Task{}, err
	}
	l.log.Debugf("task %d created (%s, %s)", created.ID, created.State, target(created))
	return created, nil
}

func (l *Lifecycle) Get(ctx context.Context, id int64) (storage.Task, error) {
	return l.store.GetTask(ctx, id)
}

func (l *Lifecycle) List(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error) {
	for _, s := range f.States {
		if !s.Valid() {
			return nil, validation.Field("state", "unknown state %q", s)
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, validation.Field("limit", "limit and offset must not be negative")
	}
	return l.store.ListTasks(ctx, f)
}

// Stats returns the number of tasks per state.
func (l *Lifecycle) Stats(ctx context.Context) ([]storage.StateCount, error) {
	return l.store.TaskStateCounts(ctx)
}

// Update edits the non-state fields of a task that has not reached a
// terminal state.
func (l *Lifecycle) Update(ctx context.Context, id int64, f storage.TaskFields) (storage.Task, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		cur, err := l.store.GetTask(ctx, id)
		if err != nil {
			return storage.Task{}, err
		}
		if cur.State.Terminal() {
			return storage.Task{}, &InvalidTransitionError{TaskID: id, From: cur.State, To: cur.State}
		}
		if err := checkFields(cur, f); err != nil {
			return storage.Task{}, err
		}
		ok, err := l.store.UpdateTaskFields(ctx, id, cur.State, f)
		if err != nil {
			return storage.Task{}, err
		}
		if ok {
			return l.store.GetTask(ctx, id)
		}
		l.log.Debugf("task %d left %s during update, retrying", id, cur.State)
	}
	return storage.Task{}, fmt.Errorf("task %d: %w", id, ErrConcurrentUpdate)
}

// checkFields rejects edits that would leave the task without a usable target.
func checkFields(cur storage.Task, f storage.TaskFields) error {
	ra, dec := cur.RA, cur.Dec
	if f.RA != nil {
		ra = f.RA
	}
	if f.Dec != nil {
		dec = f.Dec
	}
	if (ra == nil) != (dec == nil) {
		return validation.Field("ra", "ra and decl must be given together")
	}
	object := cur.Object
	if f.Object != nil {
		object = *f.Object
	}
	if ra == nil && strings.TrimSpace(object) == "" {
		return validation.Field("object", "either an object name or ra/decl is required")
	}
	before, after := cur.SkipBefore, cur.SkipAfter
	if f.SkipBefore != nil {
		before = f.SkipBefore
	}
	if f.SkipAfter != nil {
		after = f.SkipAfter
	}
	if before != nil && after != nil && after.Before(*before) {
		return validation.Field("skip_after", "must not be before skip_before")
	}
	return nil
}

// Transition moves a task to state to. Claims carry a plan id and are only
// made through Claim; a reason is required when failing a task.
func (l *Lifecycle) Transition(ctx context.Context, id int64, to storage.TaskState, reason string) (storage.Task, error) {
	return l.Edit(ctx, id, storage.TaskFields{}, to, reason)
}

// Edit applies field edits and, when to is set, a state change in one
// conditional write. If either is rejected the task is left unchanged.
func (l *Lifecycle) Edit(ctx context.Context, id int64, f storage.TaskFields, to storage.TaskState, reason string) (storage.Task, error) {
	if to == "" {
		return l.Update(ctx, id, f)
	}
	switch {
	case !to.Valid():
		return storage.Task{}, validation.Field("state", "unknown state %q", to)
	case to == storage.StateClaimed:
		return storage.Task{}, validation.Field("state", "tasks are claimed by night plans")
	case to == storage.StateFailed && strings.TrimSpace(reason) == "":
		return storage.Task{}, validation.Field("reason", "is required when failing a task")
	}

	for attempt := 0; attempt < updateAttempts; attempt++ {
		cur, err := l.store.GetTask(ctx, id)
		if err != nil {
			return storage.Task{}, err
		}
		if !Allowed(cur.State, to) {
			return storage.Task{}, &InvalidTransitionError{TaskID: id, From: cur.State, To: to}
		}
		if err := checkFields(cur, f); err != nil {
			return storage.Task{}, err
		}
		change := storage.StateChange{
			TaskID:        id,
			From:          cur.State,
			To:            to,
			ExpectedOwner: cur.ClaimOwner,
			Owner:         cur.ClaimOwner,
			At:            l.now(),
			Fields:        f,
		}
		if to == storage.StateFailed {
			change.Reason = reason
		}
		if to == storage.StateNew {
			// Submitting a template or releasing a claim leaves no owner.
			change.Owner = ""
		}
		ok, err := l.store.SetTaskState(ctx, change)
		if err != nil {
			return storage.Task{}, err
		}
		if ok {
			l.metrics.TaskTransition(cur.State, to)
			l.log.Debugf("task %d: %s -> %s", id, cur.State, to)
			return l.store.GetTask(ctx, id)
		}
		l.log.Debugf("task %d changed under %s -> %s, retrying", id, cur.State, to)
	}
	return storage.Task{}, fmt.Errorf("task %d: %w", id, ErrConcurrentUpdate)
}

// Submit turns a template into a schedulable task.
func (l *Lifecycle) Submit(ctx context.Context, id int64) (storage.Task, error) {
	return l.moveFrom(ctx, id, storage.StateTemplate, storage.StateNew)
}

// Start marks a claimed task as being observed.
func (l *Lifecycle) Start(ctx context.Context, id int64) (storage.Task, error) {
	return l.Transition(ctx, id, storage.StateInProgress, "")
}

func (l *Lifecycle) Complete(ctx context.Context, id int64) (storage.Task, error) {
	return l.Transition(ctx, id, storage.StateCompleted, "")
}

func (l *Lifecycle) Fail(ctx context.Context, id int64, reason string) (storage.Task, error) {
	return l.Transition(ctx, id, storage.StateFailed, reason)
}

// Claim reserves a new task for planID. Exactly one of several concurrent
// claims on the same task succeeds; the others get ErrClaimConflict. Claiming
// a task that is neither new nor claimed is an invalid transition.
func (l *Lifecycle) Claim(ctx context.Context, id int64, planID string) error {
	if strings.TrimSpace(planID) == "" {
		return validation.Field("plan_id", "is required")
	}
	ok, err := l.store.SetTaskState(ctx, storage.StateChange{
		TaskID: id,
		From:   storage.StateNew,
		To:     storage.StateClaimed,
		Owner:  planID,
		At:     l.now(),
	})
	if err != nil {
		return err
	}
	if ok {
		l.metrics.TaskTransition(storage.StateNew, storage.StateClaimed)
		return nil
	}

	cur, err := l.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	switch cur.State {
	case storage.StateClaimed, storage.StateNew:
		// new again means it was claimed and released in between.
		l.metrics.ClaimConflict()
		if cur.ClaimOwner != "" {
			return fmt.Errorf("task %d held by plan %s: %w", id, cur.ClaimOwner, ErrClaimConflict)
		}
		return fmt.Errorf("task %d: %w", id, ErrClaimConflict)
	default:
		return &InvalidTransitionError{TaskID: id, From: cur.State, To: storage.StateClaimed}
	}
}

// Release returns a claimed task to new and clears its owner. Any other
// state is an invalid transition.
func (l *Lifecycle) Release(ctx context.Context, id int64) (storage.Task, error) {
	return l.moveFrom(ctx, id, storage.StateClaimed, storage.StateNew)
}

// moveFrom changes a task from exactly from to to, whoever owns it.
func (l *Lifecycle) moveFrom(ctx context.Context, id int64, from, to storage.TaskState) (storage.Task, error) {
	ok, err := l.store.SetTaskState(ctx, storage.StateChange{TaskID: id, From: from, To: to, At: l.now()})
	if err != nil {
		return storage.Task{}, err
	}
	cur, err := l.store.GetTask(ctx, id)
	if err != nil {
		return storage.Task{}, err
	}
	if !ok {
		return storage.Task{}, &InvalidTransitionError{TaskID: id, From: cur.State, To: to}
	}
	l.metrics.TaskTransition(from, to)
	l.log.Debugf("task %d: %s -> %s", id, from, to)
	return cur, nil
}

// ReleasePlan releases every task still claimed by planID and returns how
// many were released. Tasks the plan already started are left alone.
func (l *Lifecycle) ReleasePlan(ctx context.Context, planID string) (int, error) {
	if strings.TrimSpace(planID) == "" {
		return 0, validation.Field("plan_id", "is required")
	}
	claimed, err := l.store.ListTasks(ctx, storage.TaskFilter{
		States:     []storage.TaskState{storage.StateClaimed},
		ClaimOwner: planID,
	})
	if err != nil {
		return 0, err
	}
	released := 0
	for _, t := range claimed {
		ok, err := l.store.SetTaskState(ctx, storage.StateChange{
			TaskID:        t.ID,
			From:          storage.StateClaimed,
			To:            storage.StateNew,
			ExpectedOwner: planID,
			At:            l.now(),
		})
		if err != nil {
			return released, err
		}
		if ok {
			released++
			l.metrics.TaskTransition(storage.StateClaimed, storage.StateNew)
		}
	}
	l.log.Infof("plan %s: released %d of %d claimed tasks", planID, released, len(claimed))
	return released, nil
}

func target(t storage.Task) string {
	if t.HasCoordinates() {
		return fmt.Sprintf("ra=%.4f decl=%.4f", *t.RA, *t.Dec)
	}
	return t.Object
}
