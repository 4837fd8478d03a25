package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task, object or frame does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS objects (
  object_id INTEGER PRIMARY KEY,
  catalog   TEXT NOT NULL,
  name      TEXT NOT NULL,
  name_key  TEXT NOT NULL,
  altname   TEXT,
  alt_key   TEXT,
  ra        REAL NOT NULL CHECK (ra >= 0 AND ra < 360),
  decl      REAL NOT NULL CHECK (decl >= -90 AND decl <= 90),
  magn      REAL,
  size      REAL,
  type      TEXT,
  const     TEXT,
  descr     TEXT,
  run_id    INTEGER NOT NULL DEFAULT 0,
  UNIQUE(catalog, name)
);
CREATE INDEX IF NOT EXISTS idx_objects_name ON objects(name_key);
CREATE INDEX IF NOT EXISTS idx_objects_alt ON objects(alt_key);
CREATE INDEX IF NOT EXISTS idx_objects_pos ON objects(decl, ra);
CREATE TABLE IF NOT EXISTS frames (
  frame_id     INTEGER PRIMARY KEY,
  task_id      INTEGER,
  filename     TEXT NOT NULL UNIQUE,
  object       TEXT,
  ra           REAL NOT NULL CHECK (ra >= 0 AND ra < 360),
  decl         REAL NOT NULL CHECK (decl >= -90 AND decl <= 90),
  captured_at  TEXT NOT NULL,
  exposure     REAL,
  filter       TEXT,
  fwhm         REAL,
  eccentricity REAL,
  solved       INTEGER NOT NULL DEFAULT 0 CHECK (solved IN (0,1)),
  quality      TEXT,
  comment      TEXT
);
CREATE INDEX IF NOT EXISTS idx_frames_pos ON frames(decl, ra);
CREATE INDEX IF NOT EXISTS idx_frames_task ON frames(task_id);
CREATE TABLE IF NOT EXISTS tasks (
  task_id     INTEGER PRIMARY KEY,
  user_id     INTEGER NOT NULL DEFAULT 0,
  object      TEXT,
  ra          REAL,
  decl        REAL,
  exposure    REAL NOT NULL DEFAULT 0,
  filter      TEXT,
  binning     INTEGER NOT NULL DEFAULT 1,
  guiding     INTEGER NOT NULL DEFAULT 0 CHECK (guiding IN (0,1)),
  priority    INTEGER NOT NULL DEFAULT 0,
  min_alt     REAL,
  skip_before TEXT,
  skip_after  TEXT,
  descr       TEXT,
  comment     TEXT,
  state       TEXT NOT NULL CHECK (state IN ('template','new','claimed','in-progress','completed','failed')),
  fail_reason TEXT,
  claim_owner TEXT,
  created     TEXT NOT NULL,
  updated     TEXT NOT NULL,
  performed   TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(claim_owner);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Stats summarizes the database contents.
type Stats struct {
	Catalogs []CatalogInfo `json:"catalogs"`
	Frames   int           `json:"frames"`
	Tasks    []StateCount  `json:"tasks"`
}

func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Catalogs, err = d.ListCatalogs(ctx); err != nil {
		return s, err
	}
	if s.Frames, err = d.CountFrames(ctx); err != nil {
		return s, err
	}
	if s.Tasks, err = d.TaskStateCounts(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime accepts what formatTime writes plus SQLite's CURRENT_TIMESTAMP
// layout, for rows inserted by hand from `db shell`.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseNullTime(n sql.NullString) (*time.Time, error) {
	if !n.Valid || n.String == "" {
		return nil, nil
	}
	t, err := parseTime(n.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
