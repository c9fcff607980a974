package report

import (
	"fmt"

	"github.com/VeloF2025/PAI-sub000/internal/orchestrator"
)

// #region build
// Build buckets a record into improvements and warnings. Improvements count
// only changes that were actually committed.
func Build(rec orchestrator.CycleRecord) CycleReport {
	r := CycleReport{
		CycleID:      rec.ID,
		Success:      rec.Success,
		Decision:     rec.Decision,
		Skipped:      rec.Skipped,
		Events:       rec.EventsProcessed,
		Improvements: []Line{},
		Warnings:     []Line{},
		Errors:       rec.Errors,
	}

	p := rec.Proposals
	if rec.Committed {
		add(&r.Improvements, "patterns", p.Patterns.Total(), "pattern rule change(s) applied")
		add(&r.Improvements, "rules", p.Rules.Total(), "validation rule change(s) applied")
		add(&r.Improvements, "behaviors", p.Behaviors.Total(), "agent tuning(s) applied")
	}

	add(&r.Warnings, "new_patterns", p.Patterns.New, "new pattern(s) detected")
	add(&r.Warnings, "anomalies", p.Patterns.Anomalies+p.Rules.Anomalies+p.Behaviors.Anomalies, "anomaly(ies) flagged")
	add(&r.Warnings, "failed_sources", len(rec.FailedSources()), "analysis source(s) failed")
	add(&r.Warnings, "deferred", p.Behaviors.Deferred, "agent tuning(s) deferred for low confidence")
	if rec.RollbackPerformed {
		add(&r.Warnings, "rollback", 1, fmt.Sprintf("changes rolled back to snapshot %s", rec.SnapshotID))
	}
	return r
}

func add(lines *[]Line, category string, n int, msg string) {
	if n <= 0 {
		return
	}
	*lines = append(*lines, Line{Category: category, Count: n, Message: fmt.Sprintf("%d %s", n, msg)})
}

// #endregion build

// #region summarize
// Summarize computes aggregate stats from a run of records.
func Summarize(recs []orchestrator.CycleRecord) Summary {
	s := Summary{Total: len(recs)}
	for _, r := range recs {
		switch {
		case r.Skipped != "":
			s.Skipped++
		case r.RollbackPerformed:
			s.RolledBack++
		case r.Committed:
			s.Committed++
			s.Changes += r.Proposals.Total()
		default:
			s.NoOps++
		}
		if !r.Success {
			s.Failed++
		}
	}
	return s
}

// #endregion summarize
