package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/VeloF2025/PAI-sub000/internal/orchestrator"
)

// #region styles
var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// #endregion styles

// #region render
// Render formats a report for a terminal.
func Render(r CycleReport) string {
	var b strings.Builder

	status := okStyle.Render("success")
	switch {
	case r.Skipped != "":
		status = dimStyle.Render("skipped: " + r.Skipped)
	case !r.Success:
		status = errStyle.Render("unsuccessful")
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Learning cycle"), dimStyle.Render(r.CycleID))
	fmt.Fprintf(&b, "%s, %s, %d event(s)\n", status, r.Decision, r.Events)

	if len(r.Improvements) > 0 {
		b.WriteString(titleStyle.Render("Improvements") + "\n")
		for _, l := range r.Improvements {
			b.WriteString(okStyle.Render("  + "+l.Message) + "\n")
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString(titleStyle.Render("Warnings") + "\n")
		for _, l := range r.Warnings {
			b.WriteString(warnStyle.Render("  ! "+l.Message) + "\n")
		}
	}
	for _, e := range r.Errors {
		b.WriteString(errStyle.Render("  x "+e) + "\n")
	}
	if len(r.Improvements) == 0 && len(r.Warnings) == 0 && len(r.Errors) == 0 {
		b.WriteString(dimStyle.Render("  nothing to report") + "\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderHistory formats records as a table, newest last.
func RenderHistory(recs []orchestrator.CycleRecord, now time.Time) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%-36s  %-14s  %-9s  %6s  %7s  %s", "ID", "WHEN", "DECISION", "EVENTS", "CHANGES", "STATUS")) + "\n")
	for _, r := range recs {
		status := okStyle.Render("ok")
		switch {
		case r.Skipped != "":
			status = dimStyle.Render("skipped")
		case r.RollbackPerformed:
			status = warnStyle.Render("rolled back")
		case !r.Success:
			status = errStyle.Render(fmt.Sprintf("%d error(s)", len(r.Errors)))
		}
		fmt.Fprintf(&b, "%-36s  %-14s  %-9s  %6d  %7d  %s\n",
			r.ID, humanize.RelTime(r.Timestamp, now, "ago", "from now"), r.Decision, r.EventsProcessed, r.Proposals.Total(), status)
	}
	s := Summarize(recs)
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d cycle(s): %d committed, %d rolled back, %d no-op, %d skipped, %d unsuccessful",
		s.Total, s.Committed, s.RolledBack, s.NoOps, s.Skipped, s.Failed)))
	return b.String()
}

// #endregion render
