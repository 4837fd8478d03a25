package catalogsrc

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/hevelius/hevelius/pkg/storage"
)

// ParseJSON reads either an array of objects keyed by column name, or a
// VizieR/TAP style document with "metadata" (column descriptions) and "data"
// (rows as arrays). opts.JSONPath selects the array or document when it is
// nested. Bare numeric RAs default to degrees.
func ParseJSON(data []byte, opts Options) ([]storage.CatalogObject, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	if opts.RAUnit == "" {
		opts.RAUnit = RADegrees
	}
	root := gjson.ParseBytes(data)
	if opts.JSONPath != "" {
		root = root.Get(opts.JSONPath)
		if !root.Exists() {
			return nil, fmt.Errorf("path %q not found", opts.JSONPath)
		}
	}

	if names := root.Get("metadata.#.name"); names.IsArray() {
		return parseColumnar(names.Array(), root.Get("data"), opts.RAUnit)
	}
	if !root.IsArray() {
		return nil, errors.New("expected an array of records")
	}

	var out []storage.CatalogObject
	cols := make(map[field]bool)
	for i, item := range root.Array() {
		rec := make(record)
		item.ForEach(func(key, value gjson.Result) bool {
			if f := columnFor(key.String()); f != fieldNone {
				rec[f] = jsonText(value)
				cols[f] = true
			}
			return true
		})
		if i == 0 {
			if err := hasRequiredColumns(cols); err != nil {
				return nil, fmt.Errorf("record 0: %w", err)
			}
		}
		obj, err := rec.object(opts.RAUnit)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, obj)
	}
	return out, nil
}

func parseColumnar(names []gjson.Result, rows gjson.Result, unit RAUnit) ([]storage.CatalogObject, error) {
	fields := make([]field, len(names))
	cols := make(map[field]bool)
	for i, n := range names {
		fields[i] = columnFor(n.String())
		cols[fields[i]] = true
	}
	if err := hasRequiredColumns(cols); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	var out []storage.CatalogObject
	for i, row := range rows.Array() {
		rec := make(record)
		for j, v := range row.Array() {
			if j < len(fields) && fields[j] != fieldNone {
				rec[fields[j]] = jsonText(v)
			}
		}
		obj, err := rec.object(unit)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, obj)
	}
	return out, nil
}

func jsonText(v gjson.Result) string {
	if v.Type == gjson.Null {
		return ""
	}
	return v.String()
}
