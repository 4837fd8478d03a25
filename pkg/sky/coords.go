package sky

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hevelius/hevelius/pkg/validation"
)

// ParseRA parses a right ascension and returns it in degrees. Supported forms:
//
//	11 22 33      11 22      11h22m33s      11h22m33.4s      11.2345
//
// which are all hours, plus "83.63d" / "83.63deg" for plain degrees.
func ParseRA(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, validation.Field("ra", "empty value")
	}

	if deg, ok := strings.CutSuffix(s, "deg"); ok {
		return parseRADegrees(deg)
	}
	if deg, ok := strings.CutSuffix(s, "d"); ok {
		return parseRADegrees(deg)
	}

	r := strings.NewReplacer("h", " ", "m", " ", "s", " ", ":", " ")
	tokens := strings.Fields(r.Replace(s))
	hours, err := sexagesimal(tokens)
	if err != nil {
		return 0, validation.Field("ra", "cannot parse %q", s)
	}
	if hours < 0 || hours >= 24 {
		return 0, validation.Field("ra", "%q is not a valid right ascension (0 ... 23.99999h)", s)
	}
	return hours * 15.0, nil
}

func parseRADegrees(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, validation.Field("ra", "cannot parse %q", s)
	}
	if v < 0 || v >= 360 {
		return 0, validation.Field("ra", "%v is not a valid right ascension (0 ... 360deg)", v)
	}
	return v, nil
}

// ParseDec parses a declination in degrees. Supported forms:
//
//	+11 22 33   -11 22   11d22m33s   -11d22m33.4s   11.2345
func ParseDec(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, validation.Field("decl", "empty value")
	}
	r := strings.NewReplacer("deg", " ", "d", " ", "m", " ", "s", " ", ":", " ", "'", " ", "\"", " ")
	tokens := strings.Fields(r.Replace(s))
	v, err := sexagesimal(tokens)
	if err != nil {
		return 0, validation.Field("decl", "cannot parse %q", s)
	}
	if v > 90 || v < -90 {
		return 0, validation.Field("decl", "%q is not a valid declination (-90 ... 90)", s)
	}
	return v, nil
}

// sexagesimal turns "a", "a b" or "a b c" into a + b/60 + c/3600, carrying
// the sign of the first token (including "-0").
func sexagesimal(tokens []string) (float64, error) {
	if len(tokens) == 0 || len(tokens) > 3 {
		return 0, fmt.Errorf("expected 1 to 3 fields, got %d", len(tokens))
	}
	negative := strings.HasPrefix(tokens[0], "-")
	var total float64
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, err
		}
		if i > 0 && (v < 0 || v >= 60) {
			return 0, fmt.Errorf("field %q out of range", tok)
		}
		total += math.Abs(v) / math.Pow(60, float64(i))
	}
	if negative {
		total = -total
	}
	return total, nil
}

// FormatRA renders an RA given in degrees as "HH MM SS.S".
func FormatRA(ra float64) string {
	// Whole tenths of a second, so rounding carries into minutes and hours.
	tenths := int64(math.Round(NormalizeRA(ra) / 15 * 36000))
	tenths %= 24 * 36000
	return fmt.Sprintf("%02d %02d %02d.%d", tenths/36000, tenths/600%60, tenths/10%60, tenths%10)
}

// FormatDec renders a declination as "+DD MM SS.S".
func FormatDec(dec float64) string {
	tenths := int64(math.Round(math.Abs(dec) * 36000))
	sign := "+"
	if dec < 0 && tenths > 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%02d %02d %02d.%d", sign, tenths/36000, tenths/600%60, tenths/10%60, tenths%10)
}

// Deg2RAh renders an RA in degrees as "5h34m (83.63deg)".
func Deg2RAh(ra float64) string {
	h := int(ra / 15)
	m := int((ra - float64(h)*15) * 4)
	return fmt.Sprintf("%dh%02dm (%.02fdeg)", h, m, ra)
}
