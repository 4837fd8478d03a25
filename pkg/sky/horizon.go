package sky

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/hevelius/hevelius/pkg/validation"
)

// SiderealRate is how many degrees of hour angle a star covers per UTC hour.
const SiderealRate = 15.04106864

// Site is an observer location. Longitude is positive east.
type Site struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Validate checks the site coordinates.
func (s Site) Validate() error {
	if math.IsNaN(s.Lat) || s.Lat < -90 || s.Lat > 90 {
		return validation.Field("lat", "must be in [-90, 90] degrees, got %v", s.Lat)
	}
	if math.IsNaN(s.Lon) || s.Lon < -180 || s.Lon > 360 {
		return validation.Field("lon", "must be in [-180, 360] degrees, got %v", s.Lon)
	}
	return nil
}

// Horizontal is an altitude/azimuth pair. Azimuth is measured from north
// through east, in [0, 360).
type Horizontal struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

func julianDay(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	return jd + float64(t.Nanosecond())/1e9/86400.0
}

// GreenwichSiderealTime returns the Greenwich mean sidereal time at t in degrees.
func GreenwichSiderealTime(t time.Time) float64 {
	return NormalizeRA(Rad2Deg(satellite.ThetaG_JD(julianDay(t))))
}

// LocalSiderealTime returns the local mean sidereal time at longitude lon, in degrees.
func LocalSiderealTime(t time.Time, lon float64) float64 {
	return NormalizeRA(GreenwichSiderealTime(t) + lon)
}

// HourAngle returns the hour angle of ra at the site in degrees, within (-180, 180].
func HourAngle(ra float64, site Site, t time.Time) float64 {
	h := NormalizeRA(LocalSiderealTime(t, site.Lon) - ra)
	if h > 180 {
		h -= 360
	}
	return h
}

// EquatorialToHorizontal converts p to altitude/azimuth for the site at t.
func EquatorialToHorizontal(p Point, site Site, t time.Time) Horizontal {
	ha := Deg2Rad(HourAngle(p.RA, site, t))
	dec := Deg2Rad(p.Dec)
	lat := Deg2Rad(site.Lat)

	sinAlt := math.Sin(lat)*math.Sin(dec) + math.Cos(lat)*math.Cos(dec)*math.Cos(ha)
	if sinAlt > 1 {
		sinAlt = 1
	} else if sinAlt < -1 {
		sinAlt = -1
	}
	alt := math.Asin(sinAlt)

	y := -math.Cos(dec) * math.Sin(ha)
	x := math.Sin(dec)*math.Cos(lat) - math.Cos(dec)*math.Sin(lat)*math.Cos(ha)
	az := 0.0
	if x != 0 || y != 0 {
		az = NormalizeRA(Rad2Deg(math.Atan2(y, x)))
	}
	return Horizontal{Alt: Rad2Deg(alt), Az: az}
}

// Altitude is a shortcut for EquatorialToHorizontal(p, site, t).Alt.
func Altitude(p Point, site Site, t time.Time) float64 {
	return EquatorialToHorizontal(p, site, t).Alt
}

// Observable reports whether p is strictly above minAlt at t.
func Observable(p Point, site Site, t time.Time, minAlt float64) bool {
	return Altitude(p, site, t) > minAlt
}

// RiseSetKind tells whether a target crosses the altitude threshold.
type RiseSetKind int

const (
	RisesAndSets RiseSetKind = iota
	NeverRises
	AlwaysAbove
)

func (k RiseSetKind) String() string {
	switch k {
	case NeverRises:
		return "never-rises"
	case AlwaysAbove:
		return "always-above"
	default:
		return "rises-and-sets"
	}
}

// RiseSet is the result of RiseSetTimes. Rise and Set are zero unless Kind is
// RisesAndSets; Transit and TransitAlt are always filled.
type RiseSet struct {
	Kind       RiseSetKind
	Rise       time.Time
	Transit    time.Time
	Set        time.Time
	TransitAlt float64
}

// Transit returns the first upper culmination of ra at the site on or after
// the start of date's UTC day.
func Transit(ra float64, site Site, date time.Time) time.Time {
	y, m, d := date.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := NormalizeRA(ra - site.Lon - GreenwichSiderealTime(day))
	return day.Add(time.Duration(offset / SiderealRate * float64(time.Hour)))
}

// RiseSetTimes solves for the moments p crosses threshold altitude around its
// transit on date. Targets that stay below or above the threshold all day are
// reported through Kind instead of producing undefined times.
func RiseSetTimes(p Point, site Site, date time.Time, threshold float64) RiseSet {
	lat := Deg2Rad(site.Lat)
	dec := Deg2Rad(p.Dec)
	h0 := Deg2Rad(threshold)

	rs := RiseSet{
		Transit:    Transit(p.RA, site, date),
		TransitAlt: 90 - math.Abs(site.Lat-p.Dec),
	}

	denom := math.Cos(lat) * math.Cos(dec)
	if math.Abs(denom) < 1e-12 {
		// Observer at a pole or target at a pole: altitude never changes.
		alt := Rad2Deg(math.Asin(math.Sin(lat) * math.Sin(dec)))
		rs.TransitAlt = alt
		if alt > threshold {
			rs.Kind = AlwaysAbove
		} else {
			rs.Kind = NeverRises
		}
		return rs
	}

	cosH0 := (math.Sin(h0) - math.Sin(lat)*math.Sin(dec)) / denom
	switch {
	case cosH0 >= 1:
		rs.Kind = NeverRises
		return rs
	case cosH0 <= -1:
		rs.Kind = AlwaysAbove
		return rs
	}

	half := Rad2Deg(math.Acos(cosH0)) / SiderealRate
	halfDur := time.Duration(half * float64(time.Hour))
	rs.Kind = RisesAndSets
	rs.Rise = rs.Transit.Add(-halfDur)
	rs.Set = rs.Transit.Add(halfDur)
	return rs
}
