package catalogsrc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
)

var frameTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseFrames reads a list of solved frames from a delimited file with a
// header row. filename, ra, decl and captured_at are required; bare numeric
// RA is read in degrees unless opts.RAUnit says hours.
func ParseFrames(r io.Reader, opts Options) ([]storage.Frame, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	if opts.RAUnit == "" {
		opts.RAUnit = RADegrees
	}

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty frame list")
	}
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["dec"]; ok {
		if _, ok := idx["decl"]; !ok {
			idx["decl"] = idx["dec"]
		}
	}
	for _, col := range []string{"filename", "ra", "decl", "captured_at"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("no %s column found", col)
		}
	}

	var out []storage.Frame
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			if i, ok := idx[col]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		line, _ := cr.FieldPos(0)
		f, err := frameRow(get, opts.RAUnit)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func frameRow(get func(string) string, unit RAUnit) (storage.Frame, error) {
	var f storage.Frame
	var err error
	if f.Filename = get("filename"); f.Filename == "" {
		return f, errors.New("missing filename")
	}
	if f.RA, err = parseRA(get("ra"), unit); err != nil {
		return f, err
	}
	if f.Dec, err = sky.ParseDec(get("decl")); err != nil {
		return f, err
	}
	if f.CapturedAt, err = parseFrameTime(get("captured_at")); err != nil {
		return f, err
	}
	if s := get("task_id"); s != "" {
		if f.TaskID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return f, fmt.Errorf("task_id: %w", err)
		}
	}
	for col, dst := range map[string]*float64{"exposure": &f.Exposure, "fwhm": &f.FWHM, "eccentricity": &f.Eccentricity} {
		v, err := optionalFloat(get(col))
		if err != nil {
			return f, fmt.Errorf("%s: %w", col, err)
		}
		if v != nil {
			*dst = *v
		}
	}
	if s := get("solved"); s != "" {
		if f.Solved, err = strconv.ParseBool(s); err != nil {
			return f, fmt.Errorf("solved: %w", err)
		}
	}
	f.Object = get("object")
	f.Filter = get("filter")
	f.Quality = strings.ToLower(get("quality"))
	f.Comment = get("comment")
	return f, nil
}

func parseFrameTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing captured_at")
	}
	for _, layout := range frameTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("captured_at: cannot parse %q", s)
}
