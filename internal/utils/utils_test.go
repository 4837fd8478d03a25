package utils

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"":           time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"tonight":    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"Tomorrow":   time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		"2024-03-01": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDate(in, now)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseDate("15/01/2024", now); err == nil {
		t.Fatalf("expected an error for a non ISO date")
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-01-15T21:04:05+01:00")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if want := time.Date(2024, 1, 15, 20, 4, 5, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := ParseTimestamp("2024-01-15"); err != nil {
		t.Fatalf("bare date rejected: %v", err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestWithLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hevelius.sqlite")
	ran := false
	if err := WithLock(dbPath, func() error {
		// A second handle must not get the lock while it is held.
		other, err := NewDBLock(dbPath)
		if err != nil {
			return err
		}
		locked, err := other.lock.TryLock()
		if err != nil {
			return err
		}
		if locked {
			t.Fatalf("second handle acquired a held lock")
		}
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatalf("callback not run")
	}

	l, err := NewDBLock(dbPath)
	if err != nil {
		t.Fatalf("NewDBLock: %v", err)
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}
