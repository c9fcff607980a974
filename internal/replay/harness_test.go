package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region fixture-tests

func replayFixture(t *testing.T, name string) (ReplayResult, string) {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	require.NoError(t, err)
	root := t.TempDir()
	res, err := Replay(context.Background(), f, root, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, res.Cycles, len(f.Cycles))
	return res, root
}

func TestFixture_Evolve(t *testing.T) {
	res, _ := replayFixture(t, "evolve.json")
	for _, c := range res.Cycles {
		assert.Empty(t, c.Mismatches, "cycle %d", c.Index)
	}
	assert.True(t, res.Passed())
	assert.Equal(t, 2, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Committed)
	assert.Equal(t, 1, res.Summary.NoOps)
	assert.Equal(t, "replay-001", res.Cycles[0].Record.ID)
	assert.Equal(t, 1, res.Cycles[0].Record.Proposals.Behaviors.Deferred)
}

func TestFixture_Rollback(t *testing.T) {
	res, root := replayFixture(t, "rollback.json")
	assert.True(t, res.Passed(), "mismatches: %v", res.Cycles[0].Mismatches)
	assert.Equal(t, 1, res.Summary.RolledBack)

	data, err := os.ReadFile(filepath.Join(root, string(state.PatternRules)))
	require.NoError(t, err)
	assert.Equal(t, "version: 4\nentries:\n  - id: old-pattern\n    status: active\n", string(data))
}

func TestReplayReportsMismatch(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "rollback.json"))
	require.NoError(t, err)
	f.Cycles[0].Expected.Decision = "commit"

	res, err := Replay(context.Background(), f, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, res.Passed())
	require.Len(t, res.Cycles[0].Mismatches, 1)
	assert.Contains(t, res.Cycles[0].Mismatches[0], "decision: want commit, got rollback")
}

// #endregion fixture-tests

// #region setup-tests

func TestLoadFixtureRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"description":"nothing"}`), 0o644))
	_, err := LoadFixture(path)
	assert.Error(t, err)
}

func TestSeedRejectsUnknownArtifact(t *testing.T) {
	f := &Fixture{
		Artifacts: map[string]string{"secrets.yaml": "x"},
		Cycles:    []FixtureCycle{{}},
	}
	_, err := Replay(context.Background(), f, t.TempDir(), zerolog.Nop())
	assert.ErrorIs(t, err, state.ErrUnknownArtifact)
}

func TestScriptedPanicIsIsolated(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "evolve.json"))
	require.NoError(t, err)
	f.Cycles = f.Cycles[:1]
	f.Cycles[0].Sources = append(f.Cycles[0].Sources, FixtureSource{Name: "crash", Kind: "rule", Panic: "boom"})
	f.Cycles[0].Expected.Decision = ""
	f.Cycles[0].Expected.Success = nil
	f.Cycles[0].Expected.RollbackPerformed = nil
	f.Cycles[0].Expected.Errors = []string{"crash failed: panic: boom"}
	f.Cycles[0].Expected.Active = map[string][]string{"pattern-rules.yaml": {"old-pattern"}}

	res, err := Replay(context.Background(), f, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, res.Passed(), "mismatches: %v", res.Cycles[0].Mismatches)
	assert.True(t, res.Cycles[0].Record.RollbackPerformed)
}

func TestConfigEnvIsSorted(t *testing.T) {
	f := &Fixture{Config: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, "a=1\nb=2\n", f.configEnv())
}

// #endregion setup-tests
