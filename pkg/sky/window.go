package sky

import (
	"math"
	"time"
)

// SunPosition returns the apparent equatorial position of the Sun at t using
// the low-precision almanac formulae (good to about 0.01 deg, plenty for
// twilight limits).
func SunPosition(t time.Time) Point {
	n := julianDay(t) - 2451545.0
	L := NormalizeRA(280.460 + 0.9856474*n)
	g := Deg2Rad(NormalizeRA(357.528 + 0.9856003*n))
	lambda := Deg2Rad(L + 1.915*math.Sin(g) + 0.020*math.Sin(2*g))
	eps := Deg2Rad(23.439 - 0.0000004*n)

	ra := NormalizeRA(Rad2Deg(math.Atan2(math.Cos(eps)*math.Sin(lambda), math.Cos(lambda))))
	dec := Rad2Deg(math.Asin(math.Sin(eps) * math.Sin(lambda)))
	return Point{RA: ra, Dec: dec}
}

// SunAltitude returns the altitude of the Sun at the site.
func SunAltitude(site Site, t time.Time) float64 {
	return Altitude(SunPosition(t), site, t)
}

// LocalMidnight returns the local mean-solar midnight that ends date's
// evening at the site, i.e. the middle of the night that starts on date.
func LocalMidnight(site Site, date time.Time) time.Time {
	y, m, d := date.UTC().Date()
	utcMidnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	lon := site.Lon
	if lon > 180 {
		lon -= 360
	}
	return utcMidnight.Add(-time.Duration(lon / 15.0 * float64(time.Hour)))
}

// Interval is a closed UTC time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// bisect narrows the boundary between a and b, where inside(a) != inside(b),
// and returns the endpoint that lies inside.
func bisect(a, b time.Time, inside func(time.Time) bool) time.Time {
	ina := inside(a)
	for i := 0; i < 24 && b.Sub(a) > time.Second; i++ {
		mid := a.Add(b.Sub(a) / 2)
		if inside(mid) == ina {
			a = mid
		} else {
			b = mid
		}
	}
	if ina {
		return a
	}
	return b
}

// runs samples [from, to] every step (always including to) and returns the maximal runs of
// consecutive samples for which inside holds, with edges refined by bisection.
func runs(from, to time.Time, step time.Duration, inside func(time.Time) bool) []Interval {
	var out []Interval
	var cur *Interval
	prev := from
	prevIn := false
	for t := from; ; t = t.Add(step) {
		if t.After(to) {
			t = to
		}
		in := inside(t)
		switch {
		case in && cur == nil:
			start := t
			if t != from && !prevIn {
				start = bisect(prev, t, inside)
			}
			cur = &Interval{Start: start, End: t}
		case in:
			cur.End = t
		case !in && cur != nil:
			cur.End = bisect(prev, t, inside)
			out = append(out, *cur)
			cur = nil
		}
		prev, prevIn = t, in
		if t.Equal(to) {
			break
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// NightWindow returns the dark interval of the night starting on date: the
// run of time around local midnight during which the Sun is below sunAlt.
// ok is false when the Sun never gets that low (e.g. polar summer).
func NightWindow(site Site, date time.Time, sunAlt float64, step time.Duration) (Interval, bool) {
	if step <= 0 {
		step = 5 * time.Minute
	}
	midnight := LocalMidnight(site, date)
	dark := func(t time.Time) bool { return SunAltitude(site, t) < sunAlt }
	rs := runs(midnight.Add(-12*time.Hour), midnight.Add(12*time.Hour), step, dark)
	if len(rs) == 0 {
		return Interval{}, false
	}
	best := rs[0]
	for _, r := range rs {
		if r.Contains(midnight) {
			return r, true
		}
		if r.Duration() > best.Duration() {
			best = r
		}
	}
	return best, true
}

// Window describes when a target is above an altitude limit within a night.
type Window struct {
	Rise    time.Time `json:"rise"`
	Set     time.Time `json:"set"`
	Best    time.Time `json:"best"`
	BestAlt float64   `json:"best_alt"`
}

// VisibleWindow samples the target over night and returns the span between
// the first and the last moment it is above minAlt, plus the sample of
// highest altitude. ok is false if it never clears minAlt.
func VisibleWindow(p Point, site Site, night Interval, minAlt float64, step time.Duration) (Window, bool) {
	if step <= 0 {
		step = 5 * time.Minute
	}
	above := func(t time.Time) bool { return Altitude(p, site, t) > minAlt }
	rs := runs(night.Start, night.End, step, above)
	if len(rs) == 0 {
		return Window{}, false
	}
	w := Window{Rise: rs[0].Start, Set: rs[len(rs)-1].End, BestAlt: math.Inf(-1)}
	for _, r := range rs {
		for t := r.Start; !t.After(r.End); t = t.Add(step) {
			if alt := Altitude(p, site, t); alt > w.BestAlt {
				w.BestAlt, w.Best = alt, t
			}
		}
		if alt := Altitude(p, site, r.End); alt > w.BestAlt {
			w.BestAlt, w.Best = alt, r.End
		}
	}
	return w, true
}
