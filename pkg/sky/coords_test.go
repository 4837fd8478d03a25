package sky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRA(t *testing.T) {
	tests := []struct {
		in   string
		want float64 // degrees
	}{
		{"11 22 33", 11.37583333 * 15},
		{"11 22", 11.36666667 * 15},
		{"11h22m33s", 11.37583333 * 15},
		{"11h22m33.4s", 11.37594444 * 15},
		{"11:22:33", 11.37583333 * 15},
		{"11.2345", 11.2345 * 15},
		{"0", 0},
		{"83.633d", 83.633},
		{"83.633deg", 83.633},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRA(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-5)
		})
	}
}

func TestParseRAInvalid(t *testing.T) {
	for _, in := range []string{"", "24", "25 00 00", "11 61 00", "abc", "1 2 3 4", "360d", "-1d"} {
		_, err := ParseRA(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseDec(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"+11 22 33", 11.37583333},
		{"-11 22", -11.36666667},
		{"11d22m33s", 11.37583333},
		{"-11d22m33.4s", -11.37594444},
		{"-0 30", -0.5},
		{"-11.5", -11.5},
		{"90", 90},
		{"-90", -90},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDec(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestParseDecInvalid(t *testing.T) {
	for _, in := range []string{"", "91", "-90 30", "10 60", "x"} {
		_, err := ParseDec(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "05 34 31.9", FormatRA(83.633))
	assert.Equal(t, "+22 00 52.2", FormatDec(22.0145))
	assert.Equal(t, "-05 23 28.0", FormatDec(-5.391111111))
	assert.Equal(t, "5h34m (83.63deg)", Deg2RAh(83.633))
}

func TestFormatCarriesRoundedSeconds(t *testing.T) {
	// 5h34m59.96s and 10d59m59.96s round up into the next minute.
	assert.Equal(t, "05 35 00.0", FormatRA(15*(5+34.0/60+59.96/3600)))
	assert.Equal(t, "+11 00 00.0", FormatDec(10+59.0/60+59.96/3600))
	assert.Equal(t, "-11 00 00.0", FormatDec(-(10 + 59.0/60 + 59.96/3600)))
	assert.Equal(t, "00 00 00.0", FormatRA(359.99999))
	assert.Equal(t, "+00 00 00.0", FormatDec(-0.000001))
	assert.Equal(t, "+90 00 00.0", FormatDec(90))
}
