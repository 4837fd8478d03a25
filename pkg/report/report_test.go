package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/storage"
)

func sampleFrames() []catalog.FrameMatch {
	at := time.Date(2024, 1, 15, 21, 30, 0, 0, time.UTC)
	return []catalog.FrameMatch{
		{Frame: storage.Frame{ID: 12, TaskID: 3, Object: "M1", Filename: "/data/m1-001.fits", RA: 83.633, Dec: 22.0145, FWHM: 2.5, CapturedAt: at}, Distance: 0},
		{Frame: storage.Frame{ID: 15, Filename: "/data/m1, second.fits", RA: 83.7, Dec: 22.1, CapturedAt: at, Comment: "clouds"}, Distance: 0.1},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"none", "filenames", "CSV", " brief ", "full", "pixinsight"} {
		if _, err := ParseFormat(s); err != nil {
			t.Fatalf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil || !strings.Contains(err.Error(), "allowed are") {
		t.Fatalf("expected a helpful error, got %v", err)
	}
	if !FormatCSV.Machine() || FormatFull.Machine() {
		t.Fatalf("Machine() misclassifies formats")
	}
}

func TestWriteFrames(t *testing.T) {
	frames := sampleFrames()
	render := func(f Format) string {
		var buf bytes.Buffer
		if err := WriteFrames(&buf, frames, f); err != nil {
			t.Fatalf("WriteFrames(%s): %v", f, err)
		}
		return buf.String()
	}

	if got := render(FormatNone); got != "" {
		t.Fatalf("none printed %q", got)
	}
	if got := render(FormatFilenames); got != "/data/m1-001.fits\n/data/m1, second.fits\n" {
		t.Fatalf("filenames = %q", got)
	}
	if got := render(FormatBrief); got != "12 15\n" {
		t.Fatalf("brief = %q", got)
	}

	csvOut := render(FormatCSV)
	lines := strings.Split(strings.TrimSpace(csvOut), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv has %d lines:\n%s", len(lines), csvOut)
	}
	if !strings.HasPrefix(lines[0], "frame_id,task_id,object,filename") {
		t.Fatalf("csv header = %q", lines[0])
	}
	if !strings.Contains(lines[2], `"/data/m1, second.fits"`) {
		t.Fatalf("csv did not quote a filename with a comma: %q", lines[2])
	}

	full := render(FormatFull)
	if !strings.Contains(full, "Frame 12: RA 05 34 31.9 DEC +22 00 52.2") || !strings.Contains(full, "task: 3") {
		t.Fatalf("full = %q", full)
	}

	pi := render(FormatPixInsight)
	want := "var files = [\n  \"/data/m1-001.fits\",\n  \"/data/m1, second.fits\"\n];\n"
	if pi != want {
		t.Fatalf("pixinsight = %q, want %q", pi, want)
	}
}

func TestWriteObjects(t *testing.T) {
	mag := 8.4
	var buf bytes.Buffer
	err := WriteObjects(&buf, []catalog.Match{{Object: storage.CatalogObject{
		Catalog: "M", Name: "M1", RA: 83.633, Dec: 22.0145, Magnitude: &mag, Type: "SNR", Constellation: "Tau", Descr: "Crab Nebula",
	}}})
	if err != nil {
		t.Fatalf("WriteObjects: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "M1") || !strings.Contains(got, "mag 8.4") || !strings.Contains(got, "Crab Nebula") {
		t.Fatalf("unexpected output %q", got)
	}
}
