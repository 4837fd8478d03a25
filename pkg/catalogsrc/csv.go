package catalogsrc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hevelius/hevelius/pkg/storage"
)

// ParseCSV reads a delimited file whose first non-comment line is a header.
// Lines starting with '#' are skipped. Unknown columns are ignored.
func ParseCSV(r io.Reader, opts Options) ([]storage.CatalogObject, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	if opts.RAUnit == "" {
		opts.RAUnit = RAHours
	}

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty catalog file")
	}
	if err != nil {
		return nil, err
	}
	fields := make([]field, len(header))
	cols := make(map[field]bool)
	for i, h := range header {
		fields[i] = columnFor(h)
		cols[fields[i]] = true
	}
	if err := hasRequiredColumns(cols); err != nil {
		return nil, fmt.Errorf("header %q: %w", strings.Join(header, ","), err)
	}

	var out []storage.CatalogObject
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(record, len(row))
		for i, v := range row {
			if i < len(fields) && fields[i] != fieldNone {
				rec[fields[i]] = v
			}
		}
		line, _ := cr.FieldPos(0)
		obj, err := rec.object(opts.RAUnit)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, obj)
	}
	return out, nil
}
