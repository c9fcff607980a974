package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/VeloF2025/PAI-sub000/internal/events"
	"github.com/VeloF2025/PAI-sub000/internal/proposal"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a starting
// configuration root, a window of events and the sources' answers for each
// cycle, with the outcome every cycle is expected to reach.
type Fixture struct {
	Description string                `json:"description"`
	Now         time.Time             `json:"now,omitempty"`
	Config      map[string]string     `json:"config,omitempty"`
	Artifacts   map[string]string     `json:"artifacts,omitempty"`
	Events      []events.SessionEvent `json:"events"`
	Cycles      []FixtureCycle        `json:"cycles"`
}

// FixtureCycle is one cycle's scripted source answers and expectations.
type FixtureCycle struct {
	Sources  []FixtureSource `json:"sources"`
	Expected FixtureExpected `json:"expected"`
}

// FixtureSource scripts one source. Exactly one of Proposal, Error, Panic is
// meant to be set; none yields an empty proposal.
type FixtureSource struct {
	Name     string             `json:"name"`
	Kind     proposal.Kind      `json:"kind"`
	Proposal *proposal.Proposal `json:"proposal,omitempty"`
	Error    string             `json:"error,omitempty"`
	Panic    string             `json:"panic,omitempty"`
}

// FixtureExpected captures the expected outcome. Unset fields are not checked.
type FixtureExpected struct {
	Decision          string              `json:"decision,omitempty"`
	Success           *bool               `json:"success,omitempty"`
	RollbackPerformed *bool               `json:"rollback_performed,omitempty"`
	Errors            []string            `json:"errors,omitempty"`
	Active            map[string][]string `json:"active,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Cycles) == 0 {
		return nil, fmt.Errorf("fixture %s: no cycles", path)
	}
	return &f, nil
}

// clock returns the fixture's reference time: Now when given, otherwise one
// minute past the newest event.
func (f *Fixture) clock() time.Time {
	if !f.Now.IsZero() {
		return f.Now.UTC()
	}
	var latest time.Time
	for _, e := range f.Events {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	if latest.IsZero() {
		return time.Now().UTC()
	}
	return latest.Add(time.Minute).UTC()
}

// configEnv renders Config as KEY=value lines in key order.
func (f *Fixture) configEnv() string {
	keys := make([]string, 0, len(f.Config))
	for k := range f.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, f.Config[k])
	}
	return b.String()
}

// #endregion fixture-loader
