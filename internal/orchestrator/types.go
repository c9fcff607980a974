package orchestrator

// #region imports
import (
	"time"

	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/state"
	"github.com/VeloF2025/PAI-sub000/internal/update"
)

// #endregion

// #region phase

// Phase names a step of the cycle state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCollecting Phase = "collecting"
	PhaseProposing  Phase = "proposing"
	PhaseBackingUp  Phase = "backing_up"
	PhaseCommitting Phase = "committing"
	PhaseCommitted  Phase = "committed"
	PhaseRolledBack Phase = "rolled_back"
	PhaseRecorded   Phase = "recorded"
)

// #endregion

// #region decision

// Decision values stored on a record, a superset of the gate actions.
const (
	DecisionCommit   = "commit"
	DecisionRollback = "rollback"
	DecisionNoOp     = "no_op"
	DecisionSkipped  = "skipped"
	DecisionFailed   = "failed"
)

// Skip reasons.
const (
	SkipDisabled = "disabled"
	SkipLocked   = "locked"
)

// #endregion

// #region source-outcome

// Source outcome status values.
const (
	SourceOK     = "ok"
	SourceFailed = "failed"
)

// SourceOutcome is what one proposal source produced in a cycle.
type SourceOutcome struct {
	Name       string         `json:"name"`
	Kind       proposal.Kind  `json:"kind,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Applied    *update.Counts `json:"applied,omitempty"`
	Deferred   int            `json:"deferred,omitempty"`
}

// #endregion

// #region proposal-summary

// KindSummary aggregates the proposals of one kind.
type KindSummary struct {
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Deprecated int `json:"deprecated"`
	Deferred   int `json:"deferred"`
	Anomalies  int `json:"anomalies"`
}

// Total counts the entry changes.
func (k KindSummary) Total() int {
	return k.New + k.Updated + k.Deprecated
}

// ProposalSummary aggregates applied proposals per artifact kind.
type ProposalSummary struct {
	Patterns  KindSummary `json:"patterns"`
	Rules     KindSummary `json:"rules"`
	Behaviors KindSummary `json:"behaviors"`
}

// For returns the summary slot of kind k.
func (p *ProposalSummary) For(k proposal.Kind) *KindSummary {
	switch k {
	case proposal.KindPattern:
		return &p.Patterns
	case proposal.KindRule:
		return &p.Rules
	default:
		return &p.Behaviors
	}
}

// Total counts entry changes across kinds.
func (p ProposalSummary) Total() int {
	return p.Patterns.Total() + p.Rules.Total() + p.Behaviors.Total()
}

// #endregion

// #region cycle-record

// CycleRecord is the immutable outcome of one cycle, as stored in history.
type CycleRecord struct {
	ID                string             `json:"id"`
	Timestamp         time.Time          `json:"timestamp"`
	Since             time.Time          `json:"since"`
	EventsProcessed   int                `json:"events_processed"`
	Insights          []string           `json:"insights"`
	Proposals         ProposalSummary    `json:"proposals"`
	Sources           []SourceOutcome    `json:"sources"`
	SnapshotID        string             `json:"snapshot_id,omitempty"`
	Backup            []state.FileResult `json:"backup,omitempty"`
	Decision          string             `json:"decision"`
	Reason            string             `json:"reason,omitempty"`
	Committed         bool               `json:"committed"`
	Written           []state.Artifact   `json:"written,omitempty"`
	Success           bool               `json:"success"`
	RollbackPerformed bool               `json:"rollback_performed"`
	Errors            []string           `json:"errors"`
	DurationMs        int64              `json:"duration_ms"`
	Skipped           string             `json:"skipped,omitempty"`
}

// FailedSources lists the names of sources that failed.
func (r CycleRecord) FailedSources() []string {
	var out []string
	for _, s := range r.Sources {
		if s.Status == SourceFailed {
			out = append(out, s.Name)
		}
	}
	return out
}

// #endregion
