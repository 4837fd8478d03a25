// Package report renders catalog search results and frame lists for the
// command line.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/sky"
)

// Format selects how frames are printed.
type Format string

const (
	FormatNone       Format = "none"
	FormatFilenames  Format = "filenames"
	FormatCSV        Format = "csv"
	FormatBrief      Format = "brief"
	FormatFull       Format = "full"
	FormatPixInsight Format = "pixinsight"
)

var formats = []Format{FormatNone, FormatFilenames, FormatCSV, FormatBrief, FormatFull, FormatPixInsight}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range formats {
		if f == known {
			return f, nil
		}
	}
	names := make([]string, len(formats))
	for i, known := range formats {
		names[i] = string(known)
	}
	return "", fmt.Errorf("unsupported format %q, allowed are: %s", s, strings.Join(names, ", "))
}

// Machine reports whether the output is meant for another program, in which
// case no human-readable summary should surround it.
func (f Format) Machine() bool {
	return f == FormatCSV || f == FormatFilenames || f == FormatPixInsight
}

// csvHeader is the column list of FormatCSV.
var csvHeader = []string{"frame_id", "task_id", "object", "filename", "fwhm", "ra", "decl", "distance", "captured_at", "comment"}

// WriteFrames prints frames in format f.
func WriteFrames(w io.Writer, frames []catalog.FrameMatch, f Format) error {
	switch f {
	case FormatNone:
		return nil
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, m := range frames {
			fr := m.Frame
			if err := cw.Write([]string{
				strconv.FormatInt(fr.ID, 10),
				strconv.FormatInt(fr.TaskID, 10),
				fr.Object,
				fr.Filename,
				formatFloat(fr.FWHM),
				formatFloat(fr.RA),
				formatFloat(fr.Dec),
				formatFloat(m.Distance),
				fr.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
				fr.Comment,
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatBrief:
		ids := make([]string, len(frames))
		for i, m := range frames {
			ids[i] = strconv.FormatInt(m.Frame.ID, 10)
		}
		_, err := fmt.Fprintln(w, strings.Join(ids, " "))
		return err
	case FormatPixInsight:
		// A JavaScript array literal of file paths, ready to paste into a
		// PixInsight script.
		if _, err := fmt.Fprintln(w, "var files = ["); err != nil {
			return err
		}
		for i, m := range frames {
			sep := ","
			if i == len(frames)-1 {
				sep = ""
			}
			if _, err := fmt.Fprintf(w, "  %s%s\n", strconv.Quote(m.Frame.Filename), sep); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(w, "];")
		return err
	}

	for _, m := range frames {
		line := createFrameLine(m, f)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func createFrameLine(m catalog.FrameMatch, f Format) string {
	fr := m.Frame
	switch f {
	case FormatFilenames:
		return fr.Filename
	default:
		line := fmt.Sprintf("Frame %d: RA %s DEC %s (%.3f deg away), ", fr.ID, sky.FormatRA(fr.RA), sky.FormatDec(fr.Dec), m.Distance)
		if fr.TaskID > 0 {
			line += fmt.Sprintf("task: %d, ", fr.TaskID)
		}
		if fr.Object != "" {
			line += "object: " + fr.Object + ", "
		}
		line += "file: " + fr.Filename
		if fr.FWHM > 0 {
			line += fmt.Sprintf(", fwhm: %.2f", fr.FWHM)
		}
		line += ", captured: " + fr.CapturedAt.UTC().Format("2006-01-02 15:04")
		return line
	}
}

// WriteObjects prints catalog matches one per line.
func WriteObjects(w io.Writer, matches []catalog.Match) error {
	for _, m := range matches {
		o := m.Object
		line := fmt.Sprintf("%-10s RA %s DEC %s  %7.3f deg", o.Name, sky.FormatRA(o.RA), sky.FormatDec(o.Dec), m.Distance)
		if o.Magnitude != nil {
			line += fmt.Sprintf("  mag %.1f", *o.Magnitude)
		}
		if o.Type != "" {
			line += "  " + o.Type
		}
		if o.Constellation != "" {
			line += "  " + o.Constellation
		}
		if o.Descr != "" {
			line += "  " + o.Descr
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
