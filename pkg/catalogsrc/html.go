package catalogsrc

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hevelius/hevelius/pkg/storage"
)

// ParseHTMLTable reads the opts.Table-th <table> of an HTML page. The header
// is the first row holding <th> cells, or the first row if there is none.
func ParseHTMLTable(r io.Reader, opts Options) ([]storage.CatalogObject, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	if opts.RAUnit == "" {
		opts.RAUnit = RAHours
	}

	tables := doc.Find("table")
	if opts.Table < 0 || opts.Table >= tables.Length() {
		return nil, fmt.Errorf("table %d not found (page has %d)", opts.Table, tables.Length())
	}
	rows := tables.Eq(opts.Table).Find("tr")

	headerRow := -1
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.Find("th").Length() > 0 {
			headerRow = i
			return false
		}
		return true
	})
	if headerRow < 0 {
		headerRow = 0
	}

	var fields []field
	cols := make(map[field]bool)
	rows.Eq(headerRow).Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		f := columnFor(cell.Text())
		fields = append(fields, f)
		cols[f] = true
	})
	if err := hasRequiredColumns(cols); err != nil {
		return nil, fmt.Errorf("table header: %w", err)
	}

	var out []storage.CatalogObject
	var parseErr error
	rows.Slice(headerRow+1, rows.Length()).EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return true
		}
		rec := make(record)
		cells.Each(func(j int, cell *goquery.Selection) {
			if j < len(fields) && fields[j] != fieldNone {
				rec[fields[j]] = strings.TrimSpace(cell.Text())
			}
		})
		obj, err := rec.object(opts.RAUnit)
		if err != nil {
			parseErr = fmt.Errorf("row %d: %w", i+1, err)
			return false
		}
		out = append(out, obj)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}
