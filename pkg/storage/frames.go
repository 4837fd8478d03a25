package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/validation"
)

const frameColumns = "frame_id, task_id, filename, object, ra, decl, captured_at, exposure, filter, fwhm, eccentricity, solved, quality, comment"

// AddFrames appends frames. The store is append-only: a frame whose filename
// is already known is left untouched. Returns how many rows were inserted.
func (d *DB) AddFrames(ctx context.Context, frames []Frame) (added int, err error) {
	for i := range frames {
		if verr := validation.Struct(frames[i]); verr != nil {
			return 0, fmt.Errorf("frame %d (%s): %w", i, frames[i].Filename, verr)
		}
		if frames[i].CapturedAt.IsZero() {
			return 0, fmt.Errorf("frame %d (%s): %w", i, frames[i].Filename, validation.Field("captured_at", "is required"))
		}
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO frames(task_id, filename, object, ra, decl, captured_at, exposure, filter, fwhm, eccentricity, solved, quality, comment)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, f := range frames {
		var taskID interface{}
		if f.TaskID > 0 {
			taskID = f.TaskID
		}
		var res sql.Result
		res, err = stmt.ExecContext(ctx, taskID, f.Filename, nullIfEmpty(f.Object), f.RA, f.Dec, formatTime(f.CapturedAt),
			f.Exposure, nullIfEmpty(f.Filter), f.FWHM, f.Eccentricity, boolToInt(f.Solved), nullIfEmpty(f.Quality), nullIfEmpty(f.Comment))
		if err != nil {
			return 0, err
		}
		var n int64
		if n, err = res.RowsAffected(); err != nil {
			return 0, err
		}
		added += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// FramesInBox returns the frames inside the rectangular pre-filter box.
func (d *DB) FramesInBox(ctx context.Context, box sky.Box) ([]Frame, error) {
	where, args := boxClause(box)
	return d.queryFrames(ctx, "SELECT "+frameColumns+" FROM frames WHERE "+where, args...)
}

// FramesForTask returns the frames recorded against a task, oldest first.
func (d *DB) FramesForTask(ctx context.Context, taskID int64) ([]Frame, error) {
	return d.queryFrames(ctx, "SELECT "+frameColumns+" FROM frames WHERE task_id = ? ORDER BY captured_at, frame_id", taskID)
}

// ScanFrames calls fn with the coordinates of every frame. It stops at the
// first error fn returns.
func (d *DB) ScanFrames(ctx context.Context, fn func(ra, dec float64) error) error {
	rows, err := d.sql.QueryContext(ctx, "SELECT ra, decl FROM frames")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ra, dec float64
		if err := rows.Scan(&ra, &dec); err != nil {
			return err
		}
		if err := fn(ra, dec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) CountFrames(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM frames").Scan(&n)
	return n, err
}

func (d *DB) queryFrames(ctx context.Context, q string, args ...interface{}) ([]Frame, error) {
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanFrame(r rowScanner) (Frame, error) {
	var (
		f                                Frame
		taskID                           sql.NullInt64
		object, filter, quality, comment sql.NullString
		captured                         string
		exposure, fwhm, ecc              sql.NullFloat64
		solved                           int
	)
	if err := r.Scan(&f.ID, &taskID, &f.Filename, &object, &f.RA, &f.Dec, &captured, &exposure, &filter, &fwhm, &ecc, &solved, &quality, &comment); err != nil {
		return f, err
	}
	t, err := parseTime(captured)
	if err != nil {
		return f, err
	}
	f.CapturedAt = t
	f.TaskID = taskID.Int64
	f.Object = object.String
	f.Exposure = exposure.Float64
	f.Filter = filter.String
	f.FWHM = fwhm.Float64
	f.Eccentricity = ecc.Float64
	f.Solved = solved == 1
	f.Quality = quality.String
	f.Comment = comment.String
	return f, nil
}
