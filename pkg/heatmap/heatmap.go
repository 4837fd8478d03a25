// Package heatmap aggregates frame positions into an RA/Dec grid.
//
// Bins are plain degree cells: bin (i, j) covers RA [i*res, (i+1)*res) and
// Dec [j*res-90, (j+1)*res-90). Cells near the poles cover far less sky than
// equatorial ones; CellArea gives the true solid angle when that matters.
package heatmap

import (
	"context"
	"math"
	"sort"

	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/validation"
)

const (
	DefaultResolution = 1.0
	MinResolution     = 0.1
	MaxResolution     = 90.0
)

// Store is the full-scan read side of the frame store.
type Store interface {
	ScanFrames(ctx context.Context, fn func(ra, dec float64) error) error
}

// Cell identifies one grid bin.
type Cell struct {
	RABin  int `json:"ra_bin"`
	DecBin int `json:"dec_bin"`
}

// CellCount is a cell with its frame count.
type CellCount struct {
	Cell
	Count int `json:"count"`
}

// Map is the result of one aggregation pass. It is never updated after Build
// returns.
type Map struct {
	Resolution float64      `json:"resolution"`
	RABins     int          `json:"ra_bins"`
	DecBins    int          `json:"dec_bins"`
	Total      int          `json:"total"`
	Counts     map[Cell]int `json:"-"`
}

// ValidateResolution checks a bin size in degrees.
func ValidateResolution(res float64) error {
	if math.IsNaN(res) || res < MinResolution || res > MaxResolution {
		return validation.Field("resolution", "must be in [%v, %v] degrees, got %v", MinResolution, MaxResolution, res)
	}
	return nil
}

// New returns an empty map with the given bin size.
func New(res float64) (*Map, error) {
	if err := ValidateResolution(res); err != nil {
		return nil, err
	}
	return &Map{
		Resolution: res,
		RABins:     int(math.Ceil(360/res - 1e-9)),
		DecBins:    int(math.Ceil(180/res - 1e-9)),
		Counts:     make(map[Cell]int),
	}, nil
}

// Build makes a single pass over every frame in store.
func Build(ctx context.Context, store Store, res float64) (*Map, error) {
	m, err := New(res)
	if err != nil {
		return nil, err
	}
	err = store.ScanFrames(ctx, func(ra, dec float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Add(ra, dec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Add counts one frame.
func (m *Map) Add(ra, dec float64) {
	m.Counts[m.CellOf(sky.Point{RA: ra, Dec: dec})]++
	m.Total++
}

// CellOf returns the bin containing p. Dec = +90 falls in the top row.
func (m *Map) CellOf(p sky.Point) Cell {
	ra := int(math.Floor(sky.NormalizeRA(p.RA) / m.Resolution))
	dec := int(math.Floor((p.Dec + 90) / m.Resolution))
	return Cell{RABin: clamp(ra, 0, m.RABins-1), DecBin: clamp(dec, 0, m.DecBins-1)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Count returns the number of frames in c.
func (m *Map) Count(c Cell) int {
	return m.Counts[c]
}

// Bounds returns the RA and Dec ranges covered by c, in degrees.
func (m *Map) Bounds(c Cell) (raMin, raMax, decMin, decMax float64) {
	raMin = float64(c.RABin) * m.Resolution
	raMax = math.Min(raMin+m.Resolution, 360)
	decMin = float64(c.DecBin)*m.Resolution - 90
	decMax = math.Min(decMin+m.Resolution, 90)
	return raMin, raMax, decMin, decMax
}

// Center returns the middle of c.
func (m *Map) Center(c Cell) sky.Point {
	raMin, raMax, decMin, decMax := m.Bounds(c)
	return sky.Point{RA: (raMin + raMax) / 2, Dec: (decMin + decMax) / 2}
}

// CellArea returns the solid angle of c in square degrees.
func (m *Map) CellArea(c Cell) float64 {
	raMin, raMax, decMin, decMax := m.Bounds(c)
	band := math.Sin(sky.Deg2Rad(decMax)) - math.Sin(sky.Deg2Rad(decMin))
	return (raMax - raMin) * sky.Rad2Deg(band)
}

// TopN returns the k most populated cells, ties broken by lower RA bin then
// lower Dec bin. k <= 0 returns every non-empty cell.
func (m *Map) TopN(k int) []CellCount {
	out := m.sorted(1)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Groups returns every cell holding at least min frames, ordered like TopN.
func (m *Map) Groups(min int) []CellCount {
	if min < 1 {
		min = 1
	}
	return m.sorted(min)
}

func (m *Map) sorted(min int) []CellCount {
	out := make([]CellCount, 0, len(m.Counts))
	for c, n := range m.Counts {
		if n >= min {
			out = append(out, CellCount{Cell: c, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.RABin != b.RABin {
			return a.RABin < b.RABin
		}
		return a.DecBin < b.DecBin
	})
	return out
}

// Dense returns the full grid indexed [decBin][raBin].
func (m *Map) Dense() [][]int {
	grid := make([][]int, m.DecBins)
	for j := range grid {
		grid[j] = make([]int, m.RABins)
	}
	for c, n := range m.Counts {
		grid[c.DecBin][c.RABin] = n
	}
	return grid
}
