package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VeloF2025/PAI-sub000/internal/config"
	"github.com/VeloF2025/PAI-sub000/internal/eval"
	"github.com/VeloF2025/PAI-sub000/internal/events"
	"github.com/VeloF2025/PAI-sub000/internal/logging"
	"github.com/VeloF2025/PAI-sub000/internal/metrics"
	"github.com/VeloF2025/PAI-sub000/internal/orchestrator"
	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/remote"
	"github.com/VeloF2025/PAI-sub000/internal/report"
)

// #region run
func newRunCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one learning cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rec := runCycle(ctx, a)
			if jsonOut {
				if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), report.Render(report.Build(rec)))
			}
			if !rec.Success {
				return errUnsuccessful
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the cycle record as JSON")
	return cmd
}

// runCycle wires the executor from the root's files and runs one cycle. Setup
// problems past the store are logged and degrade the cycle rather than abort it.
func runCycle(ctx context.Context, a *app) orchestrator.CycleRecord {
	loaded := config.Load(filepath.Join(a.flags.root, config.FileName))
	for _, w := range loaded.Warnings {
		a.log.Warn().Str("path", loaded.Path).Msg("config: " + w)
	}

	dialer := &remote.Dialer{}
	defer dialer.Close()
	sources, err := proposal.LoadRegistry(filepath.Join(a.flags.root, proposal.RegistryFile), map[string]proposal.Factory{
		"exec": proposal.ExecFactory(a.flags.root),
		"grpc": dialer.Factory,
	}, a.log)
	if err != nil {
		a.log.Warn().Err(err).Msg("source registry unusable, the cycle will record it as a failed source")
	}

	ledger, err := logging.OpenLedger(a.store.WorkPath(logging.LedgerFile))
	if err != nil {
		a.log.Warn().Err(err).Msg("ledger unavailable")
		ledger = nil
	} else {
		defer ledger.Close()
	}

	exec := orchestrator.New(orchestrator.Deps{
		Store:   a.store,
		Backups: a.backups,
		Events:  events.NewDirSource(a.eventsDir(), a.log),
		Sources: sources,
		History: a.history,
		Ledger:  ledger,
		Metrics: metrics.New(),
		Eval:    eval.NewEvalHarness(eval.DefaultEvalConfig()),
		Logger:  a.log,
	})
	return exec.RunLearningCycle(ctx, loaded.Config)
}

// #endregion run
