package sky

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	krakow = Site{Name: "test", Lat: 50, Lon: 20}
	night  = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	m1     = Point{RA: 83.633, Dec: 22.0145}
)

func TestGreenwichSiderealTime(t *testing.T) {
	// 2024-01-01 00:00 UTC: GMST 6h 40m 36.6s.
	gmst := GreenwichSiderealTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, 100.153, gmst, 0.01)
}

func TestTransitIsCulmination(t *testing.T) {
	tr := Transit(m1.RA, krakow, night)
	assert.InDelta(t, 0, HourAngle(m1.RA, krakow, tr), 0.01)
	assert.False(t, tr.Before(night))
	assert.True(t, tr.Before(night.Add(24*time.Hour)))
	assert.InDelta(t, 90-(50-22.0145), Altitude(m1, krakow, tr), 0.01)
}

func TestEquatorialToHorizontalAzimuth(t *testing.T) {
	tr := Transit(m1.RA, krakow, night)
	h := EquatorialToHorizontal(m1, krakow, tr)
	// Upper culmination south of the zenith.
	assert.InDelta(t, 180, h.Az, 0.1)

	before := EquatorialToHorizontal(m1, krakow, tr.Add(-2*time.Hour))
	after := EquatorialToHorizontal(m1, krakow, tr.Add(2*time.Hour))
	assert.Less(t, before.Az, 180.0)
	assert.Greater(t, after.Az, 180.0)
	assert.InDelta(t, before.Alt, after.Alt, 0.05)
}

func TestRiseSetTimes(t *testing.T) {
	rs := RiseSetTimes(m1, krakow, night, 20)
	require.Equal(t, RisesAndSets, rs.Kind)
	assert.True(t, rs.Rise.Before(rs.Transit))
	assert.True(t, rs.Set.After(rs.Transit))
	assert.InDelta(t, 20, Altitude(m1, krakow, rs.Rise), 0.05)
	assert.InDelta(t, 20, Altitude(m1, krakow, rs.Set), 0.05)
	assert.InDelta(t, rs.Transit.Sub(rs.Rise).Seconds(), rs.Set.Sub(rs.Transit).Seconds(), 1)
}

func TestRiseSetDegenerate(t *testing.T) {
	tests := []struct {
		name      string
		p         Point
		site      Site
		threshold float64
		want      RiseSetKind
	}{
		{"southern target never rises", Point{100, -60}, krakow, 0, NeverRises},
		{"circumpolar above limit", Point{37.95, 89.26}, krakow, 20, AlwaysAbove},
		{"circumpolar but below raised limit", Point{37.95, 80}, krakow, 45, RisesAndSets},
		{"observer at north pole, northern target", Point{10, 30}, Site{Lat: 90}, 0, AlwaysAbove},
		{"observer at north pole, southern target", Point{10, -10}, Site{Lat: 90}, 0, NeverRises},
		{"target at celestial pole", Point{0, 90}, krakow, 20, AlwaysAbove},
		{"culmination just below threshold", Point{0, 10}, krakow, 50.5, NeverRises},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := RiseSetTimes(tt.p, tt.site, night, tt.threshold)
			assert.Equal(t, tt.want, rs.Kind, rs.Kind.String())
			if rs.Kind != RisesAndSets {
				assert.True(t, rs.Rise.IsZero())
				assert.True(t, rs.Set.IsZero())
			}
			assert.False(t, math.IsNaN(rs.TransitAlt))
		})
	}
}

func TestSiteValidate(t *testing.T) {
	assert.NoError(t, krakow.Validate())
	assert.Error(t, Site{Lat: 91}.Validate())
	assert.Error(t, Site{Lat: 0, Lon: -181}.Validate())
}

func TestSunPosition(t *testing.T) {
	equinox := time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC)
	assert.Less(t, AngularDistance(SunPosition(equinox), Point{0, 0}), 0.05)

	solstice := time.Date(2024, 6, 20, 20, 51, 0, 0, time.UTC)
	sun := SunPosition(solstice)
	assert.InDelta(t, 23.44, sun.Dec, 0.02)
	assert.InDelta(t, 90, sun.RA, 0.05)
}

func TestLocalMidnight(t *testing.T) {
	want := time.Date(2024, 1, 15, 22, 40, 0, 0, time.UTC)
	assert.Equal(t, want, LocalMidnight(krakow, night))
	assert.Equal(t, time.Date(2024, 1, 16, 5, 0, 0, 0, time.UTC),
		LocalMidnight(Site{Lat: 40, Lon: -75}, night))
}

func TestNightWindow(t *testing.T) {
	iv, ok := NightWindow(krakow, night, -12, 5*time.Minute)
	require.True(t, ok)
	assert.True(t, iv.Contains(LocalMidnight(krakow, night)))
	assert.Greater(t, iv.Duration(), 12*time.Hour)
	assert.Less(t, iv.Duration(), 15*time.Hour)
	assert.InDelta(t, -12, SunAltitude(krakow, iv.Start), 0.05)
	assert.InDelta(t, -12, SunAltitude(krakow, iv.End), 0.05)
}

func TestNightWindowPolar(t *testing.T) {
	summer := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	_, ok := NightWindow(Site{Lat: 70, Lon: 20}, summer, -12, 10*time.Minute)
	assert.False(t, ok)

	winter := time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)
	iv, ok := NightWindow(Site{Lat: 80, Lon: 15}, winter, -6, 10*time.Minute)
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, iv.Duration())
}

func TestVisibleWindow(t *testing.T) {
	iv, ok := NightWindow(krakow, night, -12, 5*time.Minute)
	require.True(t, ok)

	w, ok := VisibleWindow(m1, krakow, iv, 20, 5*time.Minute)
	require.True(t, ok)
	assert.False(t, w.Rise.After(w.Best))
	assert.False(t, w.Best.After(w.Set))
	assert.Greater(t, w.BestAlt, 61.0)
	assert.LessOrEqual(t, w.BestAlt, 90-(50-22.0145)+1e-6)
	assert.GreaterOrEqual(t, Altitude(m1, krakow, w.Rise), 20.0)

	_, ok = VisibleWindow(Point{100, -60}, krakow, iv, 20, 5*time.Minute)
	assert.False(t, ok)

	polaris := Point{37.95, 89.26}
	w, ok = VisibleWindow(polaris, krakow, iv, 20, 5*time.Minute)
	require.True(t, ok)
	assert.Equal(t, iv.Start, w.Rise)
	assert.Equal(t, iv.End, w.Set)
}
