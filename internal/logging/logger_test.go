package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, true},
		{"debug", zerolog.DebugLevel, true},
		{"WARN", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("%q: err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: got %v want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWritesFile(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := Setup(Options{Level: "info", JSON: true, LogDir: dir})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	log.Info().Str("cycle_id", "c1").Msg("cycle committed")
	log.Debug().Msg("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "learncycle_*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one log file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), `"cycle_id":"c1"`) || strings.Contains(string(data), "hidden") {
		t.Fatalf("unexpected log content: %s", data)
	}
}

func TestSetupBadLevel(t *testing.T) {
	if _, closer, err := Setup(Options{Level: "loud"}); err == nil || closer == nil {
		t.Fatalf("expected error and non-nil closer, got %v", err)
	}
}
