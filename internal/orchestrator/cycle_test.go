package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeloF2025/PAI-sub000/internal/config"
	"github.com/VeloF2025/PAI-sub000/internal/events"
	"github.com/VeloF2025/PAI-sub000/internal/history"
	"github.com/VeloF2025/PAI-sub000/internal/logging"
	"github.com/VeloF2025/PAI-sub000/internal/metrics"
	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region helpers

type fakeEvents struct {
	evs   []events.SessionEvent
	err   error
	panic bool
}

func (f *fakeEvents) Collect(context.Context, time.Time) ([]events.SessionEvent, error) {
	if f.panic {
		panic("collector exploded")
	}
	return f.evs, f.err
}

type harness struct {
	exec    *Executor
	store   *state.Store
	backups *state.Backups
	history *history.Recorder[CycleRecord]
	events  *fakeEvents
	ledger  *logging.Ledger
}

func newHarness(t *testing.T, sources ...proposal.Source) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := state.NewStore(root, zerolog.Nop())
	require.NoError(t, err)
	backups := state.NewBackups(store, zerolog.Nop())
	rec := history.NewRecorder[CycleRecord](filepath.Join(root, history.FileName), history.DefaultLimit)
	ledger, err := logging.OpenLedger(store.WorkPath(logging.LedgerFile))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	evs := &fakeEvents{evs: []events.SessionEvent{
		{Timestamp: time.Now().Add(-time.Hour), Type: "tool", Session: "s1"},
		{Timestamp: time.Now().Add(-time.Minute), Type: "edit", Session: "s2"},
	}}
	var n atomic.Int64
	exec := New(Deps{
		Store:   store,
		Backups: backups,
		Events:  evs,
		Sources: sources,
		History: rec,
		Ledger:  ledger,
		Metrics: metrics.New(),
		Logger:  zerolog.Nop(),
		NewID:   func() string { return fmt.Sprintf("cycle-%03d", n.Add(1)) },
	})
	return &harness{exec: exec, store: store, backups: backups, history: rec, events: evs, ledger: ledger}
}

// files captures every artifact's bytes; absent artifacts map to "<absent>".
func (h *harness) files(t *testing.T) map[state.Artifact]string {
	t.Helper()
	out := map[state.Artifact]string{}
	for _, a := range state.Artifacts {
		data, ok, err := h.store.ReadRaw(a)
		require.NoError(t, err)
		if !ok {
			out[a] = "<absent>"
			continue
		}
		out[a] = string(data)
	}
	return out
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.store.Path(state.PatternRules), []byte("version: 4\nentries:\n  - id: old-pattern\n    status: active\n"), 0o644))
	require.NoError(t, os.WriteFile(h.store.Path(state.ValidationRules), []byte("version: 2\nentries:\n  - id: old-rule\n"), 0o644))
	require.NoError(t, os.WriteFile(h.store.Path(state.LearningLog), []byte("{\"cycle_id\":\"earlier\"}\n"), 0o644))
}

func (h *harness) historyLen(t *testing.T) int {
	t.Helper()
	recs, err := h.history.Load()
	require.NoError(t, err)
	return len(recs)
}

func staticSource(name string, p proposal.Proposal, calls *atomic.Int32) proposal.Source {
	return proposal.Func{SourceName: name, Fn: func(context.Context, proposal.Window) (proposal.Proposal, error) {
		if calls != nil {
			calls.Add(1)
		}
		return p, nil
	}}
}

func failingSource(name, msg string) proposal.Source {
	return proposal.Func{SourceName: name, Fn: func(context.Context, proposal.Window) (proposal.Proposal, error) {
		return proposal.Proposal{}, errors.New(msg)
	}}
}

func patternSource() proposal.Source {
	return staticSource("patterns", proposal.Proposal{
		Kind:       proposal.KindPattern,
		Confidence: 0.8,
		New:        []state.Entry{{ID: "retry-flaky", Description: "retry flaky network tests once"}},
		Deprecated: []string{"old-pattern"},
		Anomalies:  []string{"suspicious assertion removal"},
	}, nil)
}

func ruleSource() proposal.Source {
	return staticSource("validation", proposal.Proposal{
		Kind:       proposal.KindRule,
		Confidence: 0.9,
		New:        []state.Entry{{ID: "no-skip", Description: "tests may not be skipped"}},
	}, nil)
}

func behaviorSource() proposal.Source {
	return staticSource("agents", proposal.Proposal{
		Kind:       proposal.KindBehavior,
		Confidence: 0.8,
		New: []state.Entry{
			{ID: "planner-depth", Value: 3, Confidence: 0.9},
			{ID: "coder-temp", Value: 0.2, Confidence: 0.5},
		},
		Insights: []string{"planner succeeded more with deeper plans"},
	}, nil)
}

// #endregion

// #region scenarios

func TestZeroEventsSucceedsAndRecords(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, staticSource("patterns", proposal.Empty(proposal.KindPattern), &calls))
	h.events.evs = nil
	before := h.historyLen(t)

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	assert.True(t, rec.Success)
	assert.Empty(t, rec.Errors)
	assert.Equal(t, DecisionNoOp, rec.Decision)
	assert.Zero(t, rec.Proposals.Total())
	assert.Equal(t, before+1, h.historyLen(t))
	assert.Zero(t, calls.Load(), "sources must not run without events")

	snaps, err := h.backups.List()
	require.NoError(t, err)
	assert.Empty(t, snaps, "no backup for a no-signal cycle")
}

func TestAtomicRollbackOnSourceFailure(t *testing.T) {
	h := newHarness(t, patternSource(), failingSource("rules", "timeout"), ruleSource(), behaviorSource())
	h.seed(t)
	before := h.files(t)

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	assert.Equal(t, before, h.files(t), "artifacts must equal their pre-cycle state")
	assert.Equal(t, []string{"rules failed: timeout"}, rec.Errors)
	assert.True(t, rec.RollbackPerformed)
	assert.False(t, rec.Committed)
	assert.False(t, rec.Success)
	assert.Equal(t, DecisionRollback, rec.Decision)
	assert.NotEmpty(t, rec.SnapshotID)
	assert.Equal(t, []string{"rules"}, rec.FailedSources())
}

func TestUnbuildableRegistryEntryVetoesCommit(t *testing.T) {
	factories := map[string]proposal.Factory{
		"static": func(proposal.Spec) (proposal.Source, error) { return ruleSource(), nil },
	}
	load := func(t *testing.T, body string) []proposal.Source {
		t.Helper()
		path := filepath.Join(t.TempDir(), proposal.RegistryFile)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		srcs, _ := proposal.LoadRegistry(path, factories, zerolog.Nop())
		return srcs
	}

	t.Run("unknown transport", func(t *testing.T) {
		srcs := load(t, `sources:
  - name: validation
    transport: static
    proposes: rule
  - name: carrier-pigeon
    transport: pigeon
    proposes: behavior
`)
		h := newHarness(t, srcs...)
		h.seed(t)
		before := h.files(t)

		rec := h.exec.RunLearningCycle(context.Background(), config.Default())

		assert.Equal(t, []string{`carrier-pigeon failed: unknown transport "pigeon"`}, rec.Errors)
		assert.Equal(t, DecisionRollback, rec.Decision)
		assert.True(t, rec.RollbackPerformed)
		assert.False(t, rec.Success)
		assert.Equal(t, before, h.files(t))
		assert.Equal(t, []string{"carrier-pigeon"}, rec.FailedSources())
	})

	t.Run("malformed registry", func(t *testing.T) {
		h := newHarness(t, load(t, "sources: [\n")...)

		rec := h.exec.RunLearningCycle(context.Background(), config.Default())

		assert.False(t, rec.Success)
		assert.False(t, rec.Committed)
		assert.Equal(t, []string{proposal.RegistryFile}, rec.FailedSources())
		require.Len(t, rec.Errors, 1)
		assert.True(t, strings.HasPrefix(rec.Errors[0], proposal.RegistryFile+" failed: parse registry"), rec.Errors[0])
	})
}

func TestNonAtomicKeepsOtherSources(t *testing.T) {
	h := newHarness(t, patternSource(), failingSource("rules", "timeout"), ruleSource())
	h.seed(t)
	cfg := config.Default()
	cfg.AtomicUpdates = false

	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	assert.Equal(t, []string{"rules failed: timeout"}, rec.Errors)
	assert.False(t, rec.RollbackPerformed)
	assert.True(t, rec.Committed)
	assert.False(t, rec.Success)

	patterns, err := h.store.Load(state.PatternRules)
	require.NoError(t, err)
	require.GreaterOrEqual(t, patterns.Index("retry-flaky"), 0)
	old := patterns.Entries[patterns.Index("old-pattern")]
	assert.Equal(t, state.StatusDeprecated, old.Status)

	rules, err := h.store.Load(state.ValidationRules)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rules.Index("no-skip"), 0)

	assert.Equal(t, 1, rec.Proposals.Patterns.New)
	assert.Equal(t, 1, rec.Proposals.Patterns.Deprecated)
	assert.Equal(t, 1, rec.Proposals.Patterns.Anomalies)
	assert.Equal(t, 1, rec.Proposals.Rules.New)

	log, _, err := h.store.ReadRaw(state.LearningLog)
	require.NoError(t, err)
	assert.Contains(t, string(log), `"cycle_id":"`+rec.ID+`"`)
}

func TestCommitAllSucceed(t *testing.T) {
	h := newHarness(t, patternSource(), ruleSource(), behaviorSource())
	h.seed(t)

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	require.True(t, rec.Success, "errors: %v", rec.Errors)
	assert.True(t, rec.Committed)
	assert.Equal(t, DecisionCommit, rec.Decision)
	assert.ElementsMatch(t, []state.Artifact{state.PatternRules, state.ValidationRules, state.AgentConfigs, state.LearningLog}, rec.Written)
	assert.Len(t, rec.Sources, 3)
	for _, s := range rec.Sources {
		assert.Equal(t, SourceOK, s.Status)
		assert.NotNil(t, s.Applied, s.Name)
	}

	outcomes, err := h.ledger.SourceOutcomes(rec.ID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
	_, err = os.Stat(h.store.WorkPath(metrics.TextfileName))
	assert.NoError(t, err)
}

func TestBehaviorBelowThresholdIsDeferred(t *testing.T) {
	h := newHarness(t, behaviorSource())

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())
	require.True(t, rec.Success, "errors: %v", rec.Errors)

	agents, err := h.store.Load(state.AgentConfigs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, agents.Index("planner-depth"), 0)
	assert.Equal(t, -1, agents.Index("coder-temp"))

	assert.Equal(t, 1, rec.Proposals.Behaviors.New)
	assert.Equal(t, 1, rec.Proposals.Behaviors.Deferred)
	assert.Contains(t, rec.Insights, "planner succeeded more with deeper plans")
	found := false
	for _, in := range rec.Insights {
		if strings.HasPrefix(in, "deferred coder-temp") {
			found = true
		}
	}
	assert.True(t, found, "insights: %v", rec.Insights)
}

func TestEmptyProposalsAreIdempotent(t *testing.T) {
	h := newHarness(t,
		staticSource("patterns", proposal.Empty(proposal.KindPattern), nil),
		staticSource("rules", proposal.Empty(proposal.KindRule), nil),
	)
	h.seed(t)
	before := h.files(t)

	for i := 0; i < 2; i++ {
		rec := h.exec.RunLearningCycle(context.Background(), config.Default())
		assert.True(t, rec.Success)
		assert.Equal(t, DecisionNoOp, rec.Decision)
		assert.False(t, rec.Committed)
		assert.Empty(t, rec.SnapshotID)
	}
	assert.Equal(t, before, h.files(t))
	assert.Equal(t, 2, h.historyLen(t))
}

func TestHistoryKeepsLatestFifty(t *testing.T) {
	h := newHarness(t)
	h.events.evs = nil
	for i := 0; i < 60; i++ {
		h.exec.RunLearningCycle(context.Background(), config.Default())
	}
	recs, err := h.history.Load()
	require.NoError(t, err)
	require.Len(t, recs, 50)
	assert.Equal(t, "cycle-011", recs[0].ID)
	assert.Equal(t, "cycle-060", recs[49].ID)
}

// #endregion

// #region failure-isolation

func TestPanickingSourceIsIsolated(t *testing.T) {
	boom := proposal.Func{SourceName: "boom", Fn: func(context.Context, proposal.Window) (proposal.Proposal, error) {
		panic("index out of range")
	}}
	h := newHarness(t, boom, ruleSource())
	cfg := config.Default()
	cfg.AtomicUpdates = false

	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	assert.Equal(t, []string{"boom failed: panic: index out of range"}, rec.Errors)
	assert.True(t, rec.Committed)
	rules, err := h.store.Load(state.ValidationRules)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rules.Index("no-skip"), 0)
}

func TestMalformedProposalFailsSource(t *testing.T) {
	bad := staticSource("bad", proposal.Proposal{Kind: "mood"}, nil)
	h := newHarness(t, bad, ruleSource())
	cfg := config.Default()
	cfg.AtomicUpdates = false

	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	require.Len(t, rec.Errors, 1)
	assert.True(t, strings.HasPrefix(rec.Errors[0], "bad failed: malformed proposal"), rec.Errors[0])
	assert.True(t, rec.Committed)
}

func TestHangingSourceTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	hang := proposal.Func{SourceName: "slow", Fn: func(context.Context, proposal.Window) (proposal.Proposal, error) {
		<-release
		return proposal.Proposal{}, nil
	}}
	h := newHarness(t, hang, ruleSource())
	cfg := config.Default()
	cfg.SourceTimeoutSeconds = 1

	start := time.Now()
	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, []string{"slow failed: timeout"}, rec.Errors)
	assert.True(t, rec.RollbackPerformed)
	assert.Equal(t, "<absent>", h.files(t)[state.ValidationRules], "created artifact removed by rollback")
}

func TestRollbackKeepsCreatedWhenConfigured(t *testing.T) {
	h := newHarness(t, failingSource("x", "boom"), ruleSource())
	cfg := config.Default()
	cfg.RollbackRemovesCreated = false

	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	assert.True(t, rec.RollbackPerformed)
	assert.NotEqual(t, "<absent>", h.files(t)[state.ValidationRules])
}

func TestRollbackWithoutBackupKeepsPartialCommit(t *testing.T) {
	h := newHarness(t, failingSource("x", "boom"), ruleSource())
	cfg := config.Default()
	cfg.BackupBeforeUpdate = false

	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	assert.False(t, rec.RollbackPerformed)
	assert.True(t, rec.Committed)
	assert.Equal(t, DecisionRollback, rec.Decision)
	assert.False(t, rec.Success)
	assert.Empty(t, rec.SnapshotID)
}

// #endregion

// #region fatal-and-skips

func TestFatalFailureIsRecorded(t *testing.T) {
	h := newHarness(t, ruleSource())
	h.events.panic = true

	var rec CycleRecord
	require.NotPanics(t, func() {
		rec = h.exec.RunLearningCycle(context.Background(), config.Default())
	})
	assert.False(t, rec.Success)
	assert.Equal(t, DecisionFailed, rec.Decision)
	require.NotEmpty(t, rec.Errors)
	assert.Equal(t, "fatal: collector exploded", rec.Errors[0])
	assert.Equal(t, 1, h.historyLen(t))

	// the lock was released
	lock, err := state.AcquireLock(h.store)
	require.NoError(t, err)
	lock.Release()
}

func TestFatalFailureAfterSnapshotRestores(t *testing.T) {
	// yaml cannot encode a channel, so saving this entry panics mid-commit
	poison := staticSource("poison", proposal.Proposal{
		Kind: proposal.KindPattern,
		New:  []state.Entry{{ID: "bad", Value: make(chan int)}},
	}, nil)
	h := newHarness(t, ruleSource(), poison)
	h.seed(t)
	before := h.files(t)

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	assert.False(t, rec.Success)
	assert.True(t, rec.RollbackPerformed)
	assert.NotEmpty(t, rec.SnapshotID)
	assert.Equal(t, before, h.files(t))
	assert.True(t, strings.HasPrefix(rec.Errors[len(rec.Errors)-1], "fatal: "), "errors: %v", rec.Errors)
}

func TestPanickingIDGeneratorIsRecovered(t *testing.T) {
	h := newHarness(t, ruleSource())
	exec := New(Deps{
		Store:   h.store,
		Backups: h.backups,
		Events:  h.events,
		History: h.history,
		Logger:  zerolog.Nop(),
		NewID:   func() string { panic("no entropy") },
	})

	var rec CycleRecord
	require.NotPanics(t, func() {
		rec = exec.RunLearningCycle(context.Background(), config.Default())
	})
	assert.False(t, rec.Success)
	assert.Equal(t, DecisionFailed, rec.Decision)
	assert.Contains(t, rec.Errors, "fatal: no entropy")

	lock, err := state.AcquireLock(h.store)
	require.NoError(t, err)
	lock.Release()
}

func TestCorruptHistoryKeepsCommit(t *testing.T) {
	h := newHarness(t, patternSource(), ruleSource())
	h.seed(t)
	require.NoError(t, os.WriteFile(h.history.Path(), []byte("{not json"), 0o644))

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	assert.True(t, rec.Committed)
	assert.True(t, rec.Success, "errors: %v", rec.Errors)
	assert.False(t, rec.RollbackPerformed)

	recs, err := h.history.Load()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, rec.Committed, recs[0].Committed)
	assert.Equal(t, rec.RollbackPerformed, recs[0].RollbackPerformed)

	rules, err := h.store.Load(state.ValidationRules)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rules.Index("no-skip"), 0, "commit must survive the history rewrite")
}

func TestLegacyLogLineDoesNotBlockCommits(t *testing.T) {
	h := newHarness(t, ruleSource())
	legacy := "legacy plain text note\n"
	require.NoError(t, os.WriteFile(h.store.Path(state.LearningLog), []byte(legacy), 0o644))

	for i := 0; i < 3; i++ {
		rec := h.exec.RunLearningCycle(context.Background(), config.Default())
		require.True(t, rec.Committed, "cycle %d: %v", i, rec.Errors)
		require.True(t, rec.Success, "cycle %d: %v", i, rec.Errors)
		assert.Equal(t, DecisionCommit, rec.Decision)
	}

	log, _, err := h.store.ReadRaw(state.LearningLog)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(log), legacy))
	assert.Equal(t, 3, strings.Count(string(log), `"cycle_id"`))
}

func TestHeldLockSkipsCycle(t *testing.T) {
	h := newHarness(t, ruleSource())
	lock, err := state.AcquireLock(h.store)
	require.NoError(t, err)
	defer lock.Release()

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	assert.Equal(t, SkipLocked, rec.Skipped)
	assert.True(t, rec.Success)
	assert.Zero(t, h.historyLen(t))
	assert.Equal(t, "<absent>", h.files(t)[state.ValidationRules])
}

func TestDisabledSkipsCycle(t *testing.T) {
	h := newHarness(t, ruleSource())
	cfg := config.Default()
	cfg.Enabled = false

	rec := h.exec.RunLearningCycle(context.Background(), cfg)

	assert.Equal(t, SkipDisabled, rec.Skipped)
	assert.Zero(t, h.historyLen(t))
}

func TestEventFailureIsRecorded(t *testing.T) {
	h := newHarness(t, ruleSource())
	h.events.err = errors.New("permission denied")

	rec := h.exec.RunLearningCycle(context.Background(), config.Default())

	assert.False(t, rec.Success)
	assert.Equal(t, []string{"events: permission denied"}, rec.Errors)
	assert.Equal(t, 1, h.historyLen(t))
}

func TestSnapshotsPrunedAfterSuccess(t *testing.T) {
	h := newHarness(t, ruleSource())
	cfg := config.Default()
	cfg.BackupRetention = 2
	for i := 0; i < 4; i++ {
		// re-proposing the same rule bumps its frequency, so each cycle commits
		rec := h.exec.RunLearningCycle(context.Background(), cfg)
		require.True(t, rec.Committed, "cycle %d: %v", i, rec.Errors)
	}
	snaps, err := h.backups.List()
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

// #endregion
