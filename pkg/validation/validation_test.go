package validation

import (
	"errors"
	"fmt"
	"testing"
)

type sample struct {
	Name     string  `json:"name" validate:"required,max=5"`
	Priority int     `json:"priority" validate:"gte=0,lte=10"`
	Internal float64 `validate:"gte=0"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	cases := []struct {
		in      sample
		field   string
		message string
	}{
		{sample{Priority: 1}, "name", "is required"},
		{sample{Name: "toolong", Priority: 1}, "name", "must be at most 5 characters"},
		{sample{Name: "M1", Priority: 11}, "priority", "must be <= 10"},
		{sample{Name: "M1", Internal: -1}, "Internal", "must be >= 0"},
	}
	for _, c := range cases {
		err := Struct(c.in)
		var ve *Error
		if !errors.As(err, &ve) {
			t.Fatalf("Struct(%+v) = %v, want *Error", c.in, err)
		}
		if ve.Field != c.field || ve.Message != c.message {
			t.Fatalf("Struct(%+v) = {%q %q}, want {%q %q}", c.in, ve.Field, ve.Message, c.field, c.message)
		}
	}
	if err := Struct(sample{Name: "M1", Priority: 3}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}
}

func TestIsValidationErrorThroughWrapping(t *testing.T) {
	err := fmt.Errorf("creating task: %w", Field("ra", "out of range"))
	if !IsValidationError(err) {
		t.Fatalf("wrapped error not recognised")
	}
	if !errors.Is(err, &Error{}) {
		t.Fatalf("errors.Is should match any *Error")
	}
	if IsValidationError(errors.New("boom")) {
		t.Fatalf("plain error recognised as validation error")
	}
	if got := err.Error(); got != "creating task: invalid ra: out of range" {
		t.Fatalf("Error() = %q", got)
	}
}
