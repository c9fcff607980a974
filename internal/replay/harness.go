package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/VeloF2025/PAI-sub000/internal/config"
	"github.com/VeloF2025/PAI-sub000/internal/events"
	"github.com/VeloF2025/PAI-sub000/internal/history"
	"github.com/VeloF2025/PAI-sub000/internal/orchestrator"
	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/report"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region types

// CycleResult is one replayed cycle and how it differed from the fixture.
type CycleResult struct {
	Index      int                      `json:"index"`
	Record     orchestrator.CycleRecord `json:"record"`
	Mismatches []string                 `json:"mismatches,omitempty"`
}

// ReplayResult is the whole run.
type ReplayResult struct {
	Cycles  []CycleResult  `json:"cycles"`
	Summary report.Summary `json:"summary"`
}

// Passed reports whether every cycle matched its expectations.
func (r ReplayResult) Passed() bool {
	for _, c := range r.Cycles {
		if len(c.Mismatches) > 0 {
			return false
		}
	}
	return true
}

// #endregion types

// #region replay

// Replay materializes f under root (which should be empty) and runs its cycles
// in order against it with the real executor. Only fixture setup problems are
// returned as errors; cycle failures are results.
func Replay(ctx context.Context, f *Fixture, root string, log zerolog.Logger) (ReplayResult, error) {
	if err := seed(f, root); err != nil {
		return ReplayResult{}, err
	}
	store, err := state.NewStore(root, log)
	if err != nil {
		return ReplayResult{}, err
	}
	backups := state.NewBackups(store, log)
	rec := history.NewRecorder[orchestrator.CycleRecord](filepath.Join(root, history.FileName), history.DefaultLimit)
	cfg := config.Load(filepath.Join(root, config.FileName))
	for _, w := range cfg.Warnings {
		log.Warn().Msg("fixture config: " + w)
	}
	now := f.clock()

	var out ReplayResult
	var records []orchestrator.CycleRecord
	for i, fc := range f.Cycles {
		n := i + 1
		exec := orchestrator.New(orchestrator.Deps{
			Store:   store,
			Backups: backups,
			Events:  events.NewDirSource(filepath.Join(root, "events"), log),
			Sources: scripted(fc.Sources),
			History: rec,
			Logger:  log,
			Now:     func() time.Time { return now },
			NewID:   func() string { return fmt.Sprintf("replay-%03d", n) },
		})
		r := exec.RunLearningCycle(ctx, cfg.Config)
		records = append(records, r)
		out.Cycles = append(out.Cycles, CycleResult{
			Index:      i,
			Record:     r,
			Mismatches: compare(store, fc.Expected, r),
		})
	}
	out.Summary = report.Summarize(records)
	return out, nil
}

// seed writes the fixture's config, artifacts and events under root.
func seed(f *Fixture, root string) error {
	if err := os.MkdirAll(filepath.Join(root, "events"), 0o755); err != nil {
		return fmt.Errorf("seed root: %w", err)
	}
	if len(f.Config) > 0 {
		if err := os.WriteFile(filepath.Join(root, config.FileName), []byte(f.configEnv()), 0o644); err != nil {
			return fmt.Errorf("seed config: %w", err)
		}
	}
	for name, body := range f.Artifacts {
		if !state.Known(state.Artifact(name)) {
			return fmt.Errorf("seed artifact %q: %w", name, state.ErrUnknownArtifact)
		}
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			return fmt.Errorf("seed artifact %s: %w", name, err)
		}
	}
	if len(f.Events) == 0 {
		return nil
	}
	file, err := os.Create(filepath.Join(root, "events", "fixture.jsonl"))
	if err != nil {
		return fmt.Errorf("seed events: %w", err)
	}
	enc := json.NewEncoder(file)
	for _, e := range f.Events {
		if err := enc.Encode(e); err != nil {
			file.Close()
			return fmt.Errorf("seed events: %w", err)
		}
	}
	return file.Close()
}

// scripted turns fixture sources into proposal sources.
func scripted(specs []FixtureSource) []proposal.Source {
	out := make([]proposal.Source, 0, len(specs))
	for _, s := range specs {
		out = append(out, proposal.Func{SourceName: s.Name, Fn: func(context.Context, proposal.Window) (proposal.Proposal, error) {
			switch {
			case s.Panic != "":
				panic(s.Panic)
			case s.Error != "":
				return proposal.Proposal{}, errors.New(s.Error)
			case s.Proposal != nil:
				return *s.Proposal, nil
			}
			return proposal.Empty(s.Kind), nil
		}})
	}
	return out
}

// #endregion replay

// #region compare

func compare(store *state.Store, want FixtureExpected, got orchestrator.CycleRecord) []string {
	var diffs []string
	if want.Decision != "" && want.Decision != got.Decision {
		diffs = append(diffs, fmt.Sprintf("decision: want %s, got %s (%s)", want.Decision, got.Decision, got.Reason))
	}
	if want.Success != nil && *want.Success != got.Success {
		diffs = append(diffs, fmt.Sprintf("success: want %v, got %v", *want.Success, got.Success))
	}
	if want.RollbackPerformed != nil && *want.RollbackPerformed != got.RollbackPerformed {
		diffs = append(diffs, fmt.Sprintf("rollback_performed: want %v, got %v", *want.RollbackPerformed, got.RollbackPerformed))
	}
	if want.Errors != nil && !slices.Equal(want.Errors, got.Errors) {
		diffs = append(diffs, fmt.Sprintf("errors: want %q, got %q", want.Errors, got.Errors))
	}

	names := make([]string, 0, len(want.Active))
	for name := range want.Active {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ids, err := activeIDs(store, state.Artifact(name))
		if err != nil {
			diffs = append(diffs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		expected := slices.Clone(want.Active[name])
		sort.Strings(expected)
		if !slices.Equal(expected, ids) {
			diffs = append(diffs, fmt.Sprintf("%s active: want %v, got %v", name, expected, ids))
		}
	}
	return diffs
}

// activeIDs lists the non-deprecated entry ids of a, sorted.
func activeIDs(store *state.Store, a state.Artifact) ([]string, error) {
	doc, err := store.Load(a)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, e := range doc.Entries {
		if e.Status != state.StatusDeprecated {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// #endregion compare
