package catalogsrc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hevelius/hevelius/pkg/whttp"
)

const sampleCSV = `# comment line
name,altname,ra,decl,magn,type,const,descr,unused
M1,NGC 1952,05 34 31.94,+22 00 52.2,8.4,SNR,Tau,Crab Nebula,x
M42,NGC 1976,5h35m17.3s,-05 23 28,4.0,EN,Ori,Orion Nebula,y
NGC7000,,20.9833,44.37,\N,EN,Cyg,North America Nebula,z
`

func TestParseCSV(t *testing.T) {
	objs, err := ParseCSV(strings.NewReader(sampleCSV), Options{})
	require.NoError(t, err)
	require.Len(t, objs, 3)

	assert.Equal(t, "M1", objs[0].Name)
	assert.Equal(t, "NGC 1952", objs[0].AltName)
	assert.InDelta(t, 83.633, objs[0].RA, 0.001)
	assert.InDelta(t, 22.0145, objs[0].Dec, 0.0001)
	require.NotNil(t, objs[0].Magnitude)
	assert.Equal(t, 8.4, *objs[0].Magnitude)
	assert.Equal(t, "Tau", objs[0].Constellation)

	assert.InDelta(t, 83.822, objs[1].RA, 0.001)
	assert.InDelta(t, -5.391, objs[1].Dec, 0.001)

	assert.InDelta(t, 314.75, objs[2].RA, 0.001)
	assert.Nil(t, objs[2].Magnitude)
}

func TestParseCSVDegreesAndTabs(t *testing.T) {
	in := "name\tra\tdec\nA\t314.75\t44.37\n"
	objs, err := ParseCSV(strings.NewReader(in), Options{Comma: '\t', RAUnit: RADegrees})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, 314.75, objs[0].RA)
}

func TestParseCSVErrors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("name,decl\nA,10\n"), Options{})
	assert.ErrorContains(t, err, "no ra column")

	_, err = ParseCSV(strings.NewReader("name,ra,decl\nA,25,10\n"), Options{})
	assert.ErrorContains(t, err, "line 2")

	_, err = ParseCSV(strings.NewReader(""), Options{})
	assert.Error(t, err)
}

func TestParseJSONRecords(t *testing.T) {
	in := `{"result": {"objects": [
		{"name": "M31", "ra": 10.6847, "decl": 41.2687, "mag": 3.4, "type": "G"},
		{"name": "M33", "RAJ2000": "01 33 50.9", "DEJ2000": "+30 39 36", "mag": null}
	]}}`
	objs, err := ParseJSON([]byte(in), Options{JSONPath: "result.objects"})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, 10.6847, objs[0].RA)
	assert.Equal(t, "G", objs[0].Type)
	assert.InDelta(t, 23.462, objs[1].RA, 0.001)
	assert.Nil(t, objs[1].Magnitude)
}

func TestParseJSONColumnar(t *testing.T) {
	in := `{
		"metadata": [{"name": "Name"}, {"name": "RAJ2000"}, {"name": "DEJ2000"}, {"name": "Vmag"}],
		"data": [["NGC 7000", 314.75, 44.37, 4.0], ["NGC 7001", 315.12, 44.45, null]]
	}`
	objs, err := ParseJSON([]byte(in), Options{})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "NGC 7001", objs[1].Name)
	assert.Equal(t, 315.12, objs[1].RA)
	assert.Equal(t, 4.0, *objs[0].Magnitude)
}

func TestParseJSONErrors(t *testing.T) {
	_, err := ParseJSON([]byte(`{`), Options{})
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`{"a": 1}`), Options{})
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`[{"name": "x"}]`), Options{})
	assert.ErrorContains(t, err, "no ra column")
}

const sampleHTML = `<html><head><title>Objects</title></head><body>
<table><tr><td>navigation</td></tr></table>
<table>
  <thead><tr><th>Name</th><th>RA (h)</th><th>Dec (deg)</th><th>Mag</th><th>Const</th></tr></thead>
  <tbody>
    <tr><td>M57</td><td>18 53 35.1</td><td>+33 01 45</td><td>8.8</td><td>Lyr</td></tr>
    <tr><td>M27</td><td>19 59 36.3</td><td>+22 43 16</td><td>7.4</td><td>Vul</td></tr>
  </tbody>
</table></body></html>`

func TestParseHTMLTable(t *testing.T) {
	objs, err := ParseHTMLTable(strings.NewReader(sampleHTML), Options{Table: 1})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "M57", objs[0].Name)
	assert.InDelta(t, 283.396, objs[0].RA, 0.001)
	assert.Equal(t, "Vul", objs[1].Constellation)

	_, err = ParseHTMLTable(strings.NewReader(sampleHTML), Options{Table: 5})
	assert.Error(t, err)
	_, err = ParseHTMLTable(strings.NewReader(sampleHTML), Options{Table: 0})
	assert.Error(t, err)
}

func TestDetectAndParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat("x.csv", "application/json"))
	assert.Equal(t, FormatHTML, DetectFormat("https://example.com/list.html?page=2", ""))
	assert.Equal(t, FormatCSV, DetectFormat("catalog.dat", ""))

	f, err := ParseFormat("TSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("xml")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objs.tsv")
	require.NoError(t, os.WriteFile(path, []byte("name\tra\tdecl\nA\t01 00 00\t+10 00 00\n"), 0o644))
	objs, err := LoadFile(path, Options{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, 15.0, objs[0].RA)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/objects":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"name": "M31", "ra": 10.6847, "decl": 41.2687}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := whttp.NewClient(0, 5*time.Second, "")
	require.NoError(t, err)
	f := NewFetcher(client)

	objs, err := f.Fetch(context.Background(), srv.URL+"/objects", Options{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "M31", objs[0].Name)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing", Options{})
	assert.ErrorContains(t, err, "404")
}

func TestParseFrames(t *testing.T) {
	in := `# exported from the solver
filename,task_id,object,ra,dec,captured_at,exposure,filter,fwhm,solved,quality
night1/m1_001.fits,12,M1,83.63,22.01,2024-01-15T21:04:05Z,120,L,2.4,true,Good
night1/m1_002.fits,,M1,05h34m32s,+22 00 52,2024-01-15 21:06:10,120,L,,false,
`
	frames, err := ParseFrames(strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, "night1/m1_001.fits", frames[0].Filename)
	assert.Equal(t, int64(12), frames[0].TaskID)
	assert.InDelta(t, 83.63, frames[0].RA, 1e-9)
	assert.Equal(t, time.Date(2024, 1, 15, 21, 4, 5, 0, time.UTC), frames[0].CapturedAt)
	assert.Equal(t, 2.4, frames[0].FWHM)
	assert.True(t, frames[0].Solved)
	assert.Equal(t, "good", frames[0].Quality)

	assert.InDelta(t, 83.633, frames[1].RA, 0.001)
	assert.InDelta(t, 22.0144, frames[1].Dec, 0.001)
	assert.Zero(t, frames[1].TaskID)
	assert.Zero(t, frames[1].FWHM)

	_, err = ParseFrames(strings.NewReader("filename,ra,decl\na.fits,1,2\n"), Options{})
	assert.ErrorContains(t, err, "captured_at")

	_, err = ParseFrames(strings.NewReader("filename,ra,decl,captured_at\na.fits,1,2,yesterday\n"), Options{})
	assert.ErrorContains(t, err, "line 2")
}
