// Package sky implements the spherical geometry used by catalog search and
// night planning. All angles are in degrees unless a name says otherwise;
// right ascension is stored in degrees in [0, 360).
package sky

import (
	"math"

	"github.com/hevelius/hevelius/pkg/validation"
)

// Point is an equatorial (J2000) position.
type Point struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"decl"`
}

// Deg2Rad converts degrees to radians.
func Deg2Rad(d float64) float64 { return d * math.Pi / 180.0 }

// Rad2Deg converts radians to degrees.
func Rad2Deg(r float64) float64 { return r * 180.0 / math.Pi }

// NormalizeRA folds any angle into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360.0)
	if ra < 0 {
		ra += 360.0
	}
	if ra >= 360.0 {
		ra = 0
	}
	return ra
}

// ValidatePoint checks that p is a finite position with Dec in [-90, 90] and
// RA in [0, 360).
func ValidatePoint(p Point) error {
	if math.IsNaN(p.RA) || math.IsInf(p.RA, 0) || p.RA < 0 || p.RA >= 360 {
		return validation.Field("ra", "must be in [0, 360) degrees, got %v", p.RA)
	}
	if math.IsNaN(p.Dec) || p.Dec < -90 || p.Dec > 90 {
		return validation.Field("decl", "must be in [-90, 90] degrees, got %v", p.Dec)
	}
	return nil
}

// AngularDistance returns the great-circle separation of a and b in degrees,
// always within [0, 180].
//
// The haversine term is evaluated with atan2 rather than asin so precision
// holds for both tiny and near-antipodal separations. Only differences of
// coordinates enter through sin², which makes RA wrap-around at 0/360 and the
// poles harmless.
func AngularDistance(a, b Point) float64 {
	dec1, dec2 := Deg2Rad(a.Dec), Deg2Rad(b.Dec)
	dDec := dec2 - dec1
	dRA := Deg2Rad(b.RA - a.RA)

	sDec := math.Sin(dDec / 2)
	sRA := math.Sin(dRA / 2)
	h := sDec*sDec + math.Cos(dec1)*math.Cos(dec2)*sRA*sRA
	if h < 0 {
		h = 0
	} else if h > 1 {
		h = 1
	}
	d := Rad2Deg(2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)))
	if d > 180 {
		d = 180
	}
	return d
}

// Box is a declination band plus a right-ascension band used as a cheap
// rectangular pre-filter. When RAMin > RAMax the RA band wraps through 0.
type Box struct {
	DecMin, DecMax float64
	RAMin, RAMax   float64
	AllRA          bool
}

// boxPad widens every bound slightly so float rounding at the edges never
// drops a candidate the exact distance check would accept.
const boxPad = 1e-9

// BoundingBox returns a Box that contains every point within radius degrees
// of center. It degrades to a full RA band when the circle touches a pole.
func BoundingBox(center Point, radius float64) Box {
	if radius >= 180 {
		return Box{DecMin: -90, DecMax: 90, RAMin: 0, RAMax: 360, AllRA: true}
	}
	b := Box{
		DecMin: center.Dec - radius - boxPad,
		DecMax: center.Dec + radius + boxPad,
	}
	if b.DecMin <= -90 || b.DecMax >= 90 {
		b.DecMin = math.Max(b.DecMin, -90)
		b.DecMax = math.Min(b.DecMax, 90)
		b.RAMin, b.RAMax, b.AllRA = 0, 360, true
		return b
	}

	// Widest RA extent of a small circle that does not contain a pole.
	ratio := math.Sin(Deg2Rad(radius)) / math.Cos(Deg2Rad(center.Dec))
	if ratio >= 1 {
		b.RAMin, b.RAMax, b.AllRA = 0, 360, true
		return b
	}
	dRA := Rad2Deg(math.Asin(ratio)) + boxPad
	if dRA >= 180 {
		b.RAMin, b.RAMax, b.AllRA = 0, 360, true
		return b
	}
	b.RAMin = NormalizeRA(center.RA - dRA)
	b.RAMax = NormalizeRA(center.RA + dRA)
	return b
}

// Wraps reports whether the RA band crosses RA 0.
func (b Box) Wraps() bool {
	return !b.AllRA && b.RAMin > b.RAMax
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	if p.Dec < b.DecMin || p.Dec > b.DecMax {
		return false
	}
	if b.AllRA {
		return true
	}
	if b.Wraps() {
		return p.RA >= b.RAMin || p.RA <= b.RAMax
	}
	return p.RA >= b.RAMin && p.RA <= b.RAMax
}
