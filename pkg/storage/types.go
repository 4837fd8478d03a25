package storage

import "time"

// TaskState is the lifecycle state of an observation task as persisted in the tasks table.
type TaskState string

const (
	StateTemplate   TaskState = "template"
	StateNew        TaskState = "new"
	StateClaimed    TaskState = "claimed"
	StateInProgress TaskState = "in-progress"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
)

// AllStates lists every state in lifecycle order.
var AllStates = []TaskState{StateTemplate, StateNew, StateClaimed, StateInProgress, StateCompleted, StateFailed}

// Terminal reports whether no transition leaves s.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	for _, st := range AllStates {
		if s == st {
			return true
		}
	}
	return false
}

// CatalogObject is a single entry of a bulk-loaded sky catalog.
type CatalogObject struct {
	ID            int64    `json:"object_id"`
	Catalog       string   `json:"catalog" validate:"required,max=16"`
	Name          string   `json:"name" validate:"required,max=64"`
	AltName       string   `json:"altname,omitempty" validate:"max=64"`
	RA            float64  `json:"ra" validate:"gte=0,lt=360"`
	Dec           float64  `json:"decl" validate:"gte=-90,lte=90"`
	Magnitude     *float64 `json:"magn,omitempty"`
	Size          *float64 `json:"size,omitempty"` // arcmin
	Type          string   `json:"type,omitempty"`
	Constellation string   `json:"const,omitempty"`
	Descr         string   `json:"descr,omitempty"`
}

// CatalogInfo summarizes one loaded catalog tag.
type CatalogInfo struct {
	Catalog string `json:"catalog"`
	Objects int    `json:"objects"`
}

// Frame is a captured and plate-solved image.
type Frame struct {
	ID           int64     `json:"frame_id"`
	TaskID       int64     `json:"task_id,omitempty"`
	Filename     string    `json:"filename" validate:"required"`
	Object       string    `json:"object,omitempty"`
	RA           float64   `json:"ra" validate:"gte=0,lt=360"`
	Dec          float64   `json:"decl" validate:"gte=-90,lte=90"`
	CapturedAt   time.Time `json:"captured_at"`
	Exposure     float64   `json:"exposure,omitempty" validate:"gte=0"`
	Filter       string    `json:"filter,omitempty"`
	FWHM         float64   `json:"fwhm,omitempty" validate:"gte=0"`
	Eccentricity float64   `json:"eccentricity,omitempty" validate:"gte=0"`
	Solved       bool      `json:"solved"`
	Quality      string    `json:"quality,omitempty" validate:"omitempty,oneof=good poor bad"`
	Comment      string    `json:"comment,omitempty"`
}

// Task is an observation request.
// A nil RA/Dec means the target is resolved from Object through the catalogs.
type Task struct {
	ID          int64      `json:"task_id"`
	UserID      int64      `json:"user_id" validate:"gte=0"`
	Object      string     `json:"object,omitempty" validate:"max=64"`
	RA          *float64   `json:"ra,omitempty" validate:"omitempty,gte=0,lt=360"`
	Dec         *float64   `json:"decl,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Exposure    float64    `json:"exposure" validate:"gte=0"`
	Filter      string     `json:"filter,omitempty" validate:"max=16"`
	Binning     int        `json:"binning" validate:"gte=1,lte=4"`
	Guiding     bool       `json:"guiding"`
	Priority    int        `json:"priority"`
	MinAlt      *float64   `json:"min_alt,omitempty" validate:"omitempty,gte=-90,lte=90"`
	SkipBefore  *time.Time `json:"skip_before,omitempty"`
	SkipAfter   *time.Time `json:"skip_after,omitempty"`
	Descr       string     `json:"descr,omitempty" validate:"max=1024"`
	Comment     string     `json:"comment,omitempty"`
	State       TaskState  `json:"state"`
	FailReason  string     `json:"fail_reason,omitempty"`
	ClaimOwner  string     `json:"claim_owner,omitempty"`
	CreatedAt   time.Time  `json:"created"`
	UpdatedAt   time.Time  `json:"updated"`
	PerformedAt *time.Time `json:"performed,omitempty"`
}

// HasCoordinates reports whether the task carries an explicit target.
func (t Task) HasCoordinates() bool {
	return t.RA != nil && t.Dec != nil
}

// TaskFields carries editable, non-state task fields. Nil members are left unchanged.
type TaskFields struct {
	Object     *string    `json:"object,omitempty" validate:"omitempty,max=64"`
	RA         *float64   `json:"ra,omitempty" validate:"omitempty,gte=0,lt=360"`
	Dec        *float64   `json:"decl,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Exposure   *float64   `json:"exposure,omitempty" validate:"omitempty,gte=0"`
	Filter     *string    `json:"filter,omitempty" validate:"omitempty,max=16"`
	Binning    *int       `json:"binning,omitempty" validate:"omitempty,gte=1,lte=4"`
	Guiding    *bool      `json:"guiding,omitempty"`
	Priority   *int       `json:"priority,omitempty"`
	MinAlt     *float64   `json:"min_alt,omitempty" validate:"omitempty,gte=-90,lte=90"`
	SkipBefore *time.Time `json:"skip_before,omitempty"`
	SkipAfter  *time.Time `json:"skip_after,omitempty"`
	Descr      *string    `json:"descr,omitempty" validate:"omitempty,max=1024"`
	Comment    *string    `json:"comment,omitempty"`
}

// Empty reports whether no field is set.
func (f TaskFields) Empty() bool {
	return f.Object == nil && f.RA == nil && f.Dec == nil && f.Exposure == nil &&
		f.Filter == nil && f.Binning == nil && f.Guiding == nil && f.Priority == nil &&
		f.MinAlt == nil && f.SkipBefore == nil && f.SkipAfter == nil &&
		f.Descr == nil && f.Comment == nil
}

// StateChange is a conditional state update: it applies only if the task is
// currently in From (and, when ExpectedOwner is set, claimed by that owner).
type StateChange struct {
	TaskID        int64
	From          TaskState
	To            TaskState
	ExpectedOwner string
	Owner         string // claim owner after the change; empty clears it
	Reason        string
	At            time.Time
	// Fields are edits written by the same conditional update.
	Fields TaskFields
}

// StateCount is the number of tasks in one state.
type StateCount struct {
	State TaskState `json:"state"`
	Count int       `json:"count"`
}
