package gate

import "github.com/VeloF2025/PAI-sub000/internal/config"

// #region action
// Action values a gate decision can take.
const (
	ActionCommit   = "commit"
	ActionRollback = "rollback"
	ActionNoOp     = "no_op"
)

// #endregion action

// #region veto-type
// VetoType enumerates the failure classes that can veto a commit.
type VetoType string

const (
	VetoSourceFailure VetoType = "source_failure"
	VetoBackupFailure VetoType = "backup_failure"
	VetoCommitFailure VetoType = "commit_failure"
	VetoEvalFailure   VetoType = "eval_failure"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal is one failure observed during the cycle.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds the commit policy.
type GateConfig struct {
	Atomic            bool    // any veto reverts the whole cycle
	BehaviorThreshold float64 // behavior entries below this are deferred
}

// FromLearningConfig derives the gate policy from the cycle's tunables.
func FromLearningConfig(c config.LearningConfig) GateConfig {
	return GateConfig{
		Atomic:            c.AtomicUpdates,
		BehaviorThreshold: c.AgentOptimizationConfidenceThreshold,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "commit" | "rollback" | "no_op"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal
}

// #endregion gate-decision
