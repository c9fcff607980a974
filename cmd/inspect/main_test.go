package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/VeloF2025/PAI-sub000/internal/logging"
)

func TestParseErrors(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{`["a failed: timeout","history: disk full"]`, []string{"a failed: timeout", "history: disk full"}},
		{"not json", []string{"not json"}},
	}
	for _, c := range cases {
		if got := parseErrors(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("parseErrors(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestToRow(t *testing.T) {
	r := toRow(logging.CycleEntry{
		CycleID:    "c1",
		Decision:   "rollback",
		RolledBack: true,
		ErrorsJSON: `["rules failed: timeout"]`,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if r.CreatedAt != "2026-03-01T12:00:00Z" || !r.RolledBack || len(r.Errors) != 1 {
		t.Fatalf("unexpected row: %+v", r)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}
