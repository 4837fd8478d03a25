package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/validation"
)

// CatalogLoad reports what a bulk load changed.
type CatalogLoad struct {
	Catalog string `json:"catalog"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
}

const objectColumns = "object_id, catalog, name, altname, ra, decl, magn, size, type, const, descr"

// LoadCatalog replaces the contents of catalog with objs. Objects already
// present (same catalog and name) are updated in place, new ones inserted, and
// anything not part of this load is swept away, all in one transaction.
func (d *DB) LoadCatalog(ctx context.Context, catalog string, objs []CatalogObject) (res CatalogLoad, err error) {
	catalog = NormalizeCatalog(catalog)
	res.Catalog = catalog
	if catalog == "" {
		return res, validation.Field("catalog", "is required")
	}
	for i := range objs {
		objs[i].Catalog = catalog
		if verr := validation.Struct(objs[i]); verr != nil {
			return res, fmt.Errorf("object %d (%s): %w", i, objs[i].Name, verr)
		}
	}

	runID := time.Now().UnixNano()

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT name FROM objects WHERE catalog = ?", catalog)
	if err != nil {
		return res, err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			rows.Close()
			return res, err
		}
		existing[name] = true
	}
	if err = rows.Close(); err != nil {
		return res, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO objects(catalog, name, name_key, altname, alt_key, ra, decl, magn, size, type, const, descr, run_id)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(catalog, name) DO UPDATE SET
  name_key = excluded.name_key, altname = excluded.altname, alt_key = excluded.alt_key,
  ra = excluded.ra, decl = excluded.decl, magn = excluded.magn, size = excluded.size,
  type = excluded.type, const = excluded.const, descr = excluded.descr, run_id = excluded.run_id`)
	if err != nil {
		return res, err
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(objs))
	for _, o := range objs {
		_, err = stmt.ExecContext(ctx, catalog, o.Name, NormalizeName(o.Name), nullIfEmpty(o.AltName), nullIfEmpty(NormalizeName(o.AltName)),
			o.RA, o.Dec, nullFloat(o.Magnitude), nullFloat(o.Size), nullIfEmpty(o.Type), nullIfEmpty(o.Constellation), nullIfEmpty(o.Descr), runID)
		if err != nil {
			return res, err
		}
		if seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		if existing[o.Name] {
			res.Updated++
		} else {
			res.Added++
		}
	}

	// Sweep: anything not touched by this run is gone from the catalog.
	r, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE catalog = ? AND run_id != ?", catalog, runID)
	if err != nil {
		return res, err
	}
	removed, err := r.RowsAffected()
	if err != nil {
		return res, err
	}
	res.Removed = int(removed)

	if err = tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// FindObjects returns the objects whose designation or alternative name
// normalizes to key. Primary-name matches sort first.
func (d *DB) FindObjects(ctx context.Context, key string) ([]CatalogObject, error) {
	key = NormalizeName(key)
	if key == "" {
		return nil, nil
	}
	q := "SELECT " + objectColumns + " FROM objects WHERE name_key = ? OR alt_key = ? ORDER BY (name_key = ?) DESC, catalog, name"
	return d.queryObjects(ctx, q, key, key, key)
}

// ObjectsInBox returns the objects inside the rectangular pre-filter box,
// optionally restricted to some catalogs. Callers confirm with the exact
// angular distance.
func (d *DB) ObjectsInBox(ctx context.Context, box sky.Box, catalogs []string) ([]CatalogObject, error) {
	where, args := boxClause(box)
	if len(catalogs) > 0 {
		marks := make([]string, len(catalogs))
		for i, c := range catalogs {
			marks[i] = "?"
			args = append(args, NormalizeCatalog(c))
		}
		where += " AND catalog IN (" + strings.Join(marks, ",") + ")"
	}
	return d.queryObjects(ctx, "SELECT "+objectColumns+" FROM objects WHERE "+where, args...)
}

// boxClause renders box as a condition on the decl/ra columns. A wrapping RA
// band turns into an OR of the two halves.
func boxClause(box sky.Box) (string, []interface{}) {
	where := "decl BETWEEN ? AND ?"
	args := []interface{}{box.DecMin, box.DecMax}
	switch {
	case box.AllRA:
	case box.Wraps():
		where += " AND (ra >= ? OR ra <= ?)"
		args = append(args, box.RAMin, box.RAMax)
	default:
		where += " AND ra BETWEEN ? AND ?"
		args = append(args, box.RAMin, box.RAMax)
	}
	return where, args
}

// ObjectFilter selects objects for ListObjects.
type ObjectFilter struct {
	Catalog       string
	Constellation string
	Name          string // substring of name or altname
	Limit         int
	Offset        int
}

func (d *DB) ListObjects(ctx context.Context, f ObjectFilter) ([]CatalogObject, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if f.Catalog != "" {
		where += " AND catalog = ?"
		args = append(args, NormalizeCatalog(f.Catalog))
	}
	if f.Constellation != "" {
		where += " AND const = ? COLLATE NOCASE"
		args = append(args, f.Constellation)
	}
	if f.Name != "" {
		where += " AND (name_key LIKE ? OR alt_key LIKE ?)"
		like := fmt.Sprintf("%%%s%%", NormalizeName(f.Name))
		args = append(args, like, like)
	}
	q := "SELECT " + objectColumns + " FROM objects " + where + " ORDER BY catalog, object_id"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return d.queryObjects(ctx, q, args...)
}

// ListCatalogs returns every loaded catalog tag with its object count.
func (d *DB) ListCatalogs(ctx context.Context) ([]CatalogInfo, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT catalog, COUNT(*) FROM objects GROUP BY catalog ORDER BY catalog")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogInfo
	for rows.Next() {
		var c CatalogInfo
		if err := rows.Scan(&c.Catalog, &c.Objects); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) queryObjects(ctx context.Context, q string, args ...interface{}) ([]CatalogObject, error) {
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogObject
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanObject(r rowScanner) (CatalogObject, error) {
	var (
		o                     CatalogObject
		alt, typ, cons, descr sql.NullString
		magn, size            sql.NullFloat64
	)
	if err := r.Scan(&o.ID, &o.Catalog, &o.Name, &alt, &o.RA, &o.Dec, &magn, &size, &typ, &cons, &descr); err != nil {
		return o, err
	}
	o.AltName = alt.String
	o.Magnitude = floatPtr(magn)
	o.Size = floatPtr(size)
	o.Type = typ.String
	o.Constellation = cons.String
	o.Descr = descr.String
	return o, nil
}
