package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Fatalf("OrNop(nil) should fall back to Nop")
	}
	Nop{}.Errorf("dropped %d", 1)

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	OrNop(l).Warnf("dome %s", "closed")
	if !strings.Contains(buf.String(), "dome closed") {
		t.Fatalf("logrus logger not used, got %q", buf.String())
	}
}
