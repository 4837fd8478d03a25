// Package catalogsrc turns external catalog dumps (CSV, JSON, HTML tables)
// into catalog objects ready for a bulk load.
package catalogsrc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/whttp"
)

// Format of a catalog source.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// RAUnit tells how bare numeric right ascensions are to be read. Sexagesimal
// values ("05 34 31.9", "5h34m") are always hours.
type RAUnit string

const (
	RAHours   RAUnit = "hours"
	RADegrees RAUnit = "deg"
)

// Options control parsing.
type Options struct {
	Format Format
	RAUnit RAUnit
	// Comma is the CSV field separator, ',' when zero.
	Comma rune
	// JSONPath is a gjson path to the array of records, root when empty.
	JSONPath string
	// Table is the zero-based index of the HTML table to read.
	Table int
}

var ErrUnknownFormat = errors.New("unknown catalog format")

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatCSV, FormatJSON, FormatHTML:
		return f, nil
	case "tsv", "txt":
		return FormatCSV, nil
	case "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// DetectFormat guesses the format from a file name or URL and, if present,
// an HTTP content type.
func DetectFormat(name, contentType string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return FormatJSON
	case strings.Contains(ct, "html"):
		return FormatHTML
	case strings.Contains(ct, "csv"):
		return FormatCSV
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".html", ".htm":
		return FormatHTML
	case ".tsv":
		return FormatCSV
	}
	return FormatCSV
}

// Parse reads all objects from r according to opts. opts.Format must not be
// FormatAuto.
func Parse(r io.Reader, opts Options) ([]storage.CatalogObject, error) {
	switch opts.Format {
	case FormatCSV:
		return ParseCSV(r, opts)
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return ParseJSON(data, opts)
	case FormatHTML:
		return ParseHTMLTable(r, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

// LoadFile parses a local catalog file.
func LoadFile(path string, opts Options) ([]storage.CatalogObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if opts.Format == FormatAuto {
		opts.Format = DetectFormat(path, "")
	}
	if opts.Comma == 0 && strings.EqualFold(filepath.Ext(path), ".tsv") {
		opts.Comma = '\t'
	}
	return Parse(f, opts)
}

// Fetcher downloads catalogs over HTTP.
type Fetcher struct {
	client *whttp.Client
}

func NewFetcher(client *whttp.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads url and parses it. The format is taken from opts, then the
// response content type, then the URL extension.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) ([]storage.CatalogObject, error) {
	res, err := f.client.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: url, Method: "GET"})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, res.StatusCode)
	}
	if opts.Format == FormatAuto {
		opts.Format = DetectFormat(url, res.ContentType)
	}
	return Parse(bytes.NewReader(res.Body), opts)
}

// field is a CatalogObject attribute a source column maps to.
type field int

const (
	fieldNone field = iota
	fieldName
	fieldAltName
	fieldRA
	fieldDec
	fieldMagnitude
	fieldSize
	fieldType
	fieldConst
	fieldDescr
)

var columnAliases = map[string]field{
	"name":          fieldName,
	"designation":   fieldName,
	"id":            fieldName,
	"altname":       fieldAltName,
	"alt":           fieldAltName,
	"other":         fieldAltName,
	"ngc":           fieldAltName,
	"ra":            fieldRA,
	"raj2000":       fieldRA,
	"ra_j2000":      fieldRA,
	"_raj2000":      fieldRA,
	"dec":           fieldDec,
	"decl":          fieldDec,
	"dej2000":       fieldDec,
	"de_j2000":      fieldDec,
	"_dej2000":      fieldDec,
	"magn":          fieldMagnitude,
	"mag":           fieldMagnitude,
	"vmag":          fieldMagnitude,
	"size":          fieldSize,
	"diam":          fieldSize,
	"type":          fieldType,
	"const":         fieldConst,
	"constellation": fieldConst,
	"descr":         fieldDescr,
	"description":   fieldDescr,
	"common":        fieldDescr,
	"comment":       fieldDescr,
}

func columnFor(header string) field {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.TrimSuffix(strings.TrimSuffix(h, " (deg)"), " (h)")
	return columnAliases[h]
}

// record collects the raw text of one source row by field.
type record map[field]string

func (r record) object(unit RAUnit) (storage.CatalogObject, error) {
	var o storage.CatalogObject
	o.Name = strings.TrimSpace(r[fieldName])
	if o.Name == "" {
		return o, errors.New("missing name")
	}
	ra, err := parseRA(r[fieldRA], unit)
	if err != nil {
		return o, err
	}
	dec, err := sky.ParseDec(r[fieldDec])
	if err != nil {
		return o, err
	}
	o.RA, o.Dec = ra, dec
	o.AltName = strings.TrimSpace(r[fieldAltName])
	if o.Magnitude, err = optionalFloat(r[fieldMagnitude]); err != nil {
		return o, fmt.Errorf("magnitude: %w", err)
	}
	if o.Size, err = optionalFloat(r[fieldSize]); err != nil {
		return o, fmt.Errorf("size: %w", err)
	}
	o.Type = strings.TrimSpace(r[fieldType])
	o.Constellation = strings.TrimSpace(r[fieldConst])
	o.Descr = strings.TrimSpace(r[fieldDescr])
	return o, nil
}

func parseRA(s string, unit RAUnit) (float64, error) {
	s = strings.TrimSpace(s)
	if unit == RADegrees {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return sky.ParseRA(strconv.FormatFloat(v, 'f', -1, 64) + "d")
		}
	}
	return sky.ParseRA(s)
}

// optionalFloat parses s, treating empty and NULL markers as absent.
func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == `\N` || strings.EqualFold(s, "null") || s == "-" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func hasRequiredColumns(cols map[field]bool) error {
	for _, f := range []struct {
		f    field
		name string
	}{{fieldName, "name"}, {fieldRA, "ra"}, {fieldDec, "decl"}} {
		if !cols[f.f] {
			return fmt.Errorf("no %s column found", f.name)
		}
	}
	return nil
}
