package output

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestConsole_Prefixes(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	c.Info("probing %s", "tree")
	c.OK("done")
	c.Warn("tolerated")
	c.Error("boom")
	c.Debug("hidden")

	out := buf.String()
	for _, want := range []string{"info  probing tree", "ok    done", "warn  tolerated", "error boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line printed without verbose")
	}
}

func TestConsole_Verbose(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf, true).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("verbose debug missing: %q", buf.String())
	}
}

func TestHours(t *testing.T) {
	if got := Hours(math.Inf(1)); got != "never" {
		t.Errorf("Hours(+Inf) = %q, want never", got)
	}
	if got := Hours(30); !strings.Contains(got, "ago") {
		t.Errorf("Hours(30) = %q, want relative time", got)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{1500 * time.Microsecond, "2ms"},
		{2345 * time.Millisecond, "2.3s"},
		{90*time.Second + 400*time.Millisecond, "1m30s"},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScoreBar(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	got := ScoreBar(50, 10)
	if !strings.HasPrefix(got, "█████░░░░░") {
		t.Errorf("ScoreBar(50, 10) = %q", got)
	}
	if !strings.Contains(got, "50/100") {
		t.Errorf("ScoreBar(50, 10) missing label: %q", got)
	}
}

func TestBytes(t *testing.T) {
	if got := Bytes(-1); got != "0 B" {
		t.Errorf("Bytes(-1) = %q", got)
	}
	if got := Bytes(1500000); got != "1.5 MB" {
		t.Errorf("Bytes(1500000) = %q", got)
	}
}
