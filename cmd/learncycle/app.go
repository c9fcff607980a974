package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/VeloF2025/PAI-sub000/internal/history"
	"github.com/VeloF2025/PAI-sub000/internal/logging"
	"github.com/VeloF2025/PAI-sub000/internal/orchestrator"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// app holds what every subcommand opens against the root.
type app struct {
	flags   *globalFlags
	log     zerolog.Logger
	store   *state.Store
	backups *state.Backups
	history *history.Recorder[orchestrator.CycleRecord]
	closers []io.Closer
}

func openApp(g *globalFlags) (*app, error) {
	root, err := filepath.Abs(g.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	g.root = root

	log, closer, err := logging.Setup(logging.Options{
		Level:  g.logLevel,
		JSON:   g.logJSON,
		LogDir: filepath.Join(root, state.WorkDir, "logs"),
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	a := &app{flags: g, log: log, closers: []io.Closer{closer}}

	store, err := state.NewStore(root, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.backups = state.NewBackups(store, log)
	a.history = history.NewRecorder[orchestrator.CycleRecord](filepath.Join(root, history.FileName), history.DefaultLimit)
	return a, nil
}

func (a *app) eventsDir() string {
	if a.flags.events != "" {
		return a.flags.events
	}
	return filepath.Join(a.flags.root, "history", "events")
}

// Close releases everything opened, newest first.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
