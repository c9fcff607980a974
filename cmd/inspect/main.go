package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/VeloF2025/PAI-sub000/internal/logging"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to ledger.db (usually <root>/.learning/ledger.db)")
	last := flag.Int("last", 20, "show N most recent cycles")
	cycle := flag.String("cycle", "", "show single cycle detail")
	failures := flag.Bool("failures", false, "show per-source failure counts")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/ledger.db [--last N] [--cycle id] [--failures] [--json]")
		os.Exit(2)
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}

	ledger, err := logging.OpenLedger(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	switch {
	case *cycle != "":
		err = runDetailMode(ledger, *cycle, *jsonOut)
	case *failures:
		err = runFailureMode(ledger, *jsonOut)
	default:
		err = runListMode(ledger, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	CycleID    string   `json:"cycle_id"`
	Decision   string   `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
	Events     int      `json:"events_processed"`
	Success    bool     `json:"success"`
	RolledBack bool     `json:"rolled_back"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	CreatedAt  string   `json:"created_at"`
}

func toRow(c logging.CycleEntry) listRow {
	return listRow{
		CycleID:    c.CycleID,
		Decision:   c.Decision,
		Reason:     c.Reason,
		Events:     c.EventsProcessed,
		Success:    c.Success,
		RolledBack: c.RolledBack,
		Errors:     parseErrors(c.ErrorsJSON),
		DurationMs: c.DurationMs,
		CreatedAt:  c.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func runListMode(ledger *logging.Ledger, last int, jsonOut bool) error {
	cycles, err := ledger.RecentCycles(last)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(os.Stderr, "no cycles found")
		return nil
	}

	// ledger returns newest first; print chronologically
	rows := make([]listRow, len(cycles))
	for i, c := range cycles {
		rows[len(cycles)-1-i] = toRow(c)
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-9s  %6s  %-7s  %6s  %8s  %s\n",
		"Cycle", "Decision", "Events", "Success", "Errors", "Duration", "Time")
	fmt.Printf("%-12s+-%-9s+-%6s+-%-7s+-%6s+-%8s+-%s\n",
		"------------", "---------", "------", "-------", "------", "--------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-12s  %-9s  %6d  %-7v  %6d  %6dms  %s\n",
			shortID(r.CycleID), r.Decision, r.Events, r.Success, len(r.Errors), r.DurationMs, r.CreatedAt)
	}

	latest := rows[len(rows)-1]
	if latest.Reason != "" {
		fmt.Printf("\nLatest reason: %s\n", latest.Reason)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	listRow
	SnapshotID string         `json:"snapshot_id,omitempty"`
	Committed  bool           `json:"committed"`
	Sources    []sourceDetail `json:"sources"`
}

type sourceDetail struct {
	Source     string `json:"source"`
	Kind       string `json:"kind,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Deprecated int    `json:"deprecated"`
	Deferred   int    `json:"deferred"`
	DurationMs int64  `json:"duration_ms"`
}

func runDetailMode(ledger *logging.Ledger, cycleID string, jsonOut bool) error {
	c, err := ledger.Cycle(cycleID)
	if err != nil {
		return err
	}
	srcs, err := ledger.SourceOutcomes(cycleID)
	if err != nil {
		return err
	}

	out := detailOutput{listRow: toRow(c), SnapshotID: c.SnapshotID, Committed: c.Committed, Sources: []sourceDetail{}}
	for _, s := range srcs {
		out.Sources = append(out.Sources, sourceDetail{
			Source: s.Source, Kind: s.Kind, Status: s.Status, Error: s.Error,
			Added: s.Added, Updated: s.Updated, Deprecated: s.Deprecated, Deferred: s.Deferred,
			DurationMs: s.DurationMs,
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Cycle:      %s\n", out.CycleID)
	fmt.Printf("Created:    %s\n", out.CreatedAt)
	fmt.Printf("Decision:   %s\n", out.Decision)
	fmt.Printf("Reason:     %s\n", out.Reason)
	fmt.Printf("Events:     %d\n", out.Events)
	fmt.Printf("Committed:  %v\n", out.Committed)
	fmt.Printf("Success:    %v\n", out.Success)
	fmt.Printf("Rollback:   %v\n", out.RolledBack)
	if out.SnapshotID != "" {
		fmt.Printf("Snapshot:   %s\n", out.SnapshotID)
	}

	if len(out.Sources) > 0 {
		fmt.Printf("\nSources:\n")
		for _, s := range out.Sources {
			fmt.Printf("  %-16s %-8s %-6s +%d ~%d -%d deferred=%d %dms",
				s.Source, s.Kind, s.Status, s.Added, s.Updated, s.Deprecated, s.Deferred, s.DurationMs)
			if s.Error != "" {
				fmt.Printf("  (%s)", s.Error)
			}
			fmt.Println()
		}
	}
	if len(out.Errors) > 0 {
		fmt.Printf("\nErrors:\n")
		for _, e := range out.Errors {
			fmt.Printf("  %s\n", e)
		}
	}
	return nil
}

// #endregion detail-mode

// #region failure-mode

type failureRow struct {
	Source   string `json:"source"`
	Failures int    `json:"failures"`
}

func runFailureMode(ledger *logging.Ledger, jsonOut bool) error {
	counts, err := ledger.FailureCounts()
	if err != nil {
		return err
	}
	rows := make([]failureRow, 0, len(counts))
	for name, n := range counts {
		rows = append(rows, failureRow{Source: name, Failures: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Failures != rows[j].Failures {
			return rows[i].Failures > rows[j].Failures
		}
		return rows[i].Source < rows[j].Source
	})

	if jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("no source failures recorded")
		return nil
	}
	for _, r := range rows {
		fmt.Printf("  %-24s %d\n", r.Source, r.Failures)
	}
	return nil
}

// #endregion failure-mode

// #region output

func parseErrors(errorsJSON string) []string {
	if strings.TrimSpace(errorsJSON) == "" {
		return nil
	}
	var errs []string
	if err := json.Unmarshal([]byte(errorsJSON), &errs); err != nil {
		return []string{errorsJSON}
	}
	return errs
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion output
