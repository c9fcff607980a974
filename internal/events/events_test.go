package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	evs, err := src.Collect(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestCollectFiltersBySince(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "2026-03")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	lines := `{"timestamp":"2026-03-01T10:00:00Z","type":"tool","session":"s1"}
not json
{"timestamp":"2026-03-08T10:00:00Z","type":"edit","session":"s2","payload":{"file":"a.go"}}

{"timestamp":"2026-03-05T10:00:00Z","type":"tool","session":"s1"}
`
	require.NoError(t, os.WriteFile(filepath.Join(sub, "s.jsonl"), []byte(lines), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte(lines), 0o644))

	src := NewDirSource(dir, zerolog.Nop())
	evs, stats, err := src.collect(context.Background(), time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, evs, 2)
	assert.Equal(t, "tool", evs[0].Type)
	assert.Equal(t, "edit", evs[1].Type)
	assert.JSONEq(t, `{"file":"a.go"}`, string(evs[1].Payload))
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 4, stats.Lines)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Kept)
}

func TestCollectSkipsStaleFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"x"}`+"\n"), 0o644))
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	src := NewDirSource(dir, zerolog.Nop())
	evs, err := src.Collect(context.Background(), time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestCollectUsesMtimeWhenUnstamped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte(`{"type":"x"}`+"\n"), 0o644))

	src := NewDirSource(dir, zerolog.Nop())
	evs, err := src.Collect(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Timestamp.IsZero())
}

func TestCollectCanceled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte(`{"type":"x"}`+"\n"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirSource(dir, zerolog.Nop()).Collect(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}
