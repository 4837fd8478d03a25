package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hevelius/hevelius/pkg/validation"
)

const taskColumns = `task_id, user_id, object, ra, decl, exposure, filter, binning, guiding, priority, min_alt,
skip_before, skip_after, descr, comment, state, fail_reason, claim_owner, created, updated, performed`

// CreateTask validates t and stores it. Binning defaults to 1 and the state to
// new; template is accepted only when asked for explicitly. The stored task,
// with its id and timestamps, is returned.
func (d *DB) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.Binning == 0 {
		t.Binning = 1
	}
	if t.State == "" {
		t.State = StateNew
	}
	if t.State != StateNew && t.State != StateTemplate {
		return Task{}, validation.Field("state", "a task can only be created as %s or %s, not %q", StateNew, StateTemplate, t.State)
	}
	if err := validation.Struct(t); err != nil {
		return Task{}, err
	}
	if (t.RA == nil) != (t.Dec == nil) {
		return Task{}, validation.Field("ra", "ra and decl must be given together")
	}
	if !t.HasCoordinates() && strings.TrimSpace(t.Object) == "" {
		return Task{}, validation.Field("object", "either an object name or ra/decl is required")
	}
	if t.SkipBefore != nil && t.SkipAfter != nil && t.SkipAfter.Before(*t.SkipBefore) {
		return Task{}, validation.Field("skip_after", "must not be before skip_before")
	}

	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.ClaimOwner, t.FailReason, t.PerformedAt = "", "", nil

	res, err := d.sql.ExecContext(ctx, `INSERT INTO tasks(user_id, object, ra, decl, exposure, filter, binning, guiding, priority, min_alt,
skip_before, skip_after, descr, comment, state, created, updated) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.UserID, nullIfEmpty(t.Object), nullFloat(t.RA), nullFloat(t.Dec), t.Exposure, nullIfEmpty(t.Filter), t.Binning,
		boolToInt(t.Guiding), t.Priority, nullFloat(t.MinAlt), nullTime(t.SkipBefore), nullTime(t.SkipAfter),
		nullIfEmpty(t.Descr), nullIfEmpty(t.Comment), string(t.State), formatTime(now), formatTime(now))
	if err != nil {
		return Task{}, err
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// GetTask returns the task with the given id or ErrNotFound.
func (d *DB) GetTask(ctx context.Context, id int64) (Task, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE task_id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

// TaskFilter selects tasks for ListTasks. Zero values do not filter.
type TaskFilter struct {
	States     []TaskState
	UserID     *int64
	Object     string // substring, case-insensitive
	ClaimOwner string
	RAMin      *float64
	RAMax      *float64
	DecMin     *float64
	DecMax     *float64
	Descending bool
	Limit      int
	Offset     int
}

// ListTasks returns the tasks matching f ordered by id.
func (d *DB) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, s := range f.States {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where += " AND state IN (" + strings.Join(marks, ",") + ")"
	}
	if f.UserID != nil {
		where += " AND user_id = ?"
		args = append(args, *f.UserID)
	}
	if f.Object != "" {
		where += " AND object LIKE ?"
		args = append(args, fmt.Sprintf("%%%s%%", f.Object))
	}
	if f.ClaimOwner != "" {
		where += " AND claim_owner = ?"
		args = append(args, f.ClaimOwner)
	}
	for _, c := range []struct {
		cond string
		v    *float64
	}{
		{" AND ra >= ?", f.RAMin},
		{" AND ra <= ?", f.RAMax},
		{" AND decl >= ?", f.DecMin},
		{" AND decl <= ?", f.DecMax},
	} {
		if c.v != nil {
			where += c.cond
			args = append(args, *c.v)
		}
	}

	q := "SELECT " + taskColumns + " FROM tasks " + where + " ORDER BY task_id"
	if f.Descending {
		q += " DESC"
	}
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetTaskState applies c as a single conditional update. It reports false,
// without error, when the task is not in c.From (or not owned by
// c.ExpectedOwner) at the time of the update.
func (d *DB) SetTaskState(ctx context.Context, c StateChange) (bool, error) {
	if !c.To.Valid() {
		return false, validation.Field("state", "unknown state %q", c.To)
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	if err := validation.Struct(c.Fields); err != nil {
		return false, err
	}

	sets, args := fieldAssignments(c.Fields)
	sets = append(sets, "state = ?", "claim_owner = ?", "updated = ?")
	args = append(args, string(c.To), nullIfEmpty(c.Owner), formatTime(at))
	set := strings.Join(sets, ", ")
	if c.Reason != "" {
		set += ", fail_reason = ?"
		args = append(args, c.Reason)
	}
	if c.To.Terminal() {
		set += ", performed = ?"
		args = append(args, formatTime(at))
	}

	where := "task_id = ? AND state = ?"
	args = append(args, c.TaskID, string(c.From))
	if c.ExpectedOwner != "" {
		where += " AND claim_owner = ?"
		args = append(args, c.ExpectedOwner)
	}

	res, err := d.sql.ExecContext(ctx, "UPDATE tasks SET "+set+" WHERE "+where, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateTaskFields edits the non-nil fields of f, provided the task is still
// in state expected. It reports false if the task moved on in the meantime.
func (d *DB) UpdateTaskFields(ctx context.Context, id int64, expected TaskState, f TaskFields) (bool, error) {
	if err := validation.Struct(f); err != nil {
		return false, err
	}
	if f.Empty() {
		return true, nil
	}

	sets, args := fieldAssignments(f)
	sets = append(sets, "updated = ?")
	args = append(args, formatTime(time.Now()))
	args = append(args, id, string(expected))

	res, err := d.sql.ExecContext(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE task_id = ? AND state = ?", args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// fieldAssignments renders the non-nil fields of f as SET clauses.
func fieldAssignments(f TaskFields) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if f.Object != nil {
		add("object", nullIfEmpty(*f.Object))
	}
	if f.RA != nil {
		add("ra", *f.RA)
	}
	if f.Dec != nil {
		add("decl", *f.Dec)
	}
	if f.Exposure != nil {
		add("exposure", *f.Exposure)
	}
	if f.Filter != nil {
		add("filter", nullIfEmpty(*f.Filter))
	}
	if f.Binning != nil {
		add("binning", *f.Binning)
	}
	if f.Guiding != nil {
		add("guiding", boolToInt(*f.Guiding))
	}
	if f.Priority != nil {
		add("priority", *f.Priority)
	}
	if f.MinAlt != nil {
		add("min_alt", *f.MinAlt)
	}
	if f.SkipBefore != nil {
		add("skip_before", formatTime(*f.SkipBefore))
	}
	if f.SkipAfter != nil {
		add("skip_after", formatTime(*f.SkipAfter))
	}
	if f.Descr != nil {
		add("descr", nullIfEmpty(*f.Descr))
	}
	if f.Comment != nil {
		add("comment", nullIfEmpty(*f.Comment))
	}
	return sets, args
}

// TaskStateCounts returns the number of tasks in every state, including
// states with no tasks, in lifecycle order.
func (d *DB) TaskStateCounts(ctx context.Context) ([]StateCount, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT state, COUNT(*) FROM tasks GROUP BY state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[TaskState]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[TaskState(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]StateCount, 0, len(AllStates))
	for _, s := range AllStates {
		out = append(out, StateCount{State: s, Count: counts[s]})
	}
	return out, nil
}

func scanTask(r rowScanner) (Task, error) {
	var (
		t                                       Task
		object, filter, descr, comment, reason  sql.NullString
		owner, skipBefore, skipAfter, performed sql.NullString
		ra, dec, minAlt                         sql.NullFloat64
		guiding                                 int
		state, created, updated                 string
	)
	err := r.Scan(&t.ID, &t.UserID, &object, &ra, &dec, &t.Exposure, &filter, &t.Binning, &guiding, &t.Priority, &minAlt,
		&skipBefore, &skipAfter, &descr, &comment, &state, &reason, &owner, &created, &updated, &performed)
	if err != nil {
		return t, err
	}
	t.Object = object.String
	t.RA = floatPtr(ra)
	t.Dec = floatPtr(dec)
	t.Filter = filter.String
	t.Guiding = guiding == 1
	t.MinAlt = floatPtr(minAlt)
	t.Descr = descr.String
	t.Comment = comment.String
	t.State = TaskState(state)
	t.FailReason = reason.String
	t.ClaimOwner = owner.String

	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	if t.SkipBefore, err = parseNullTime(skipBefore); err != nil {
		return t, err
	}
	if t.SkipAfter, err = parseNullTime(skipAfter); err != nil {
		return t, err
	}
	if t.PerformedAt, err = parseNullTime(performed); err != nil {
		return t, err
	}
	return t, nil
}
