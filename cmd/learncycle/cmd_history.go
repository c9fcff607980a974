package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/VeloF2025/PAI-sub000/internal/orchestrator"
	"github.com/VeloF2025/PAI-sub000/internal/report"
)

// #region report
func newReportCmd(g *globalFlags) *cobra.Command {
	var id string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the report for the latest cycle, or one by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.history.Load()
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			rec, ok := pickRecord(recs, id)
			if !ok {
				if id != "" {
					return fmt.Errorf("cycle %q not in history", id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "no cycles recorded")
				return nil
			}
			r := report.Build(rec)
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), r)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Render(r))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "cycle id (default latest)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

// pickRecord returns the record with id, or the newest when id is empty.
func pickRecord(recs []orchestrator.CycleRecord, id string) (orchestrator.CycleRecord, bool) {
	if id == "" {
		if len(recs) == 0 {
			return orchestrator.CycleRecord{}, false
		}
		return recs[len(recs)-1], true
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].ID == id {
			return recs[i], true
		}
	}
	return orchestrator.CycleRecord{}, false
}

// #endregion report

// #region history
type historyOutput struct {
	Summary report.Summary             `json:"summary"`
	Cycles  []orchestrator.CycleRecord `json:"cycles"`
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var last int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.history.Last(last)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), historyOutput{Summary: report.Summarize(recs), Cycles: recs})
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no cycles recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderHistory(recs, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 10, "show N most recent cycles")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

// #endregion history

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
