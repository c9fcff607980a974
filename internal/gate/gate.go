package gate

import (
	"fmt"

	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region gate
// Gate screens proposals before commit and decides whether a commit stands.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Screen drops behavior entries whose confidence is below the threshold and
// returns one insight line per dropped entry. Other kinds pass through. An entry
// without its own confidence is judged by the proposal's.
func (g *Gate) Screen(p proposal.Proposal) (proposal.Proposal, []string) {
	if p.Kind != proposal.KindBehavior {
		return p, nil
	}
	var deferred []string
	keep := func(in []state.Entry) []state.Entry {
		var out []state.Entry
		for _, e := range in {
			conf := e.Confidence
			if conf == 0 {
				conf = p.Confidence
			}
			if conf < g.config.BehaviorThreshold {
				deferred = append(deferred, fmt.Sprintf("deferred %s: confidence %.2f below %.2f", e.ID, conf, g.config.BehaviorThreshold))
				continue
			}
			out = append(out, e)
		}
		return out
	}
	p.New = keep(p.New)
	p.Updated = keep(p.Updated)
	if len(p.Deprecated) > 0 && p.Confidence < g.config.BehaviorThreshold {
		for _, id := range p.Deprecated {
			deferred = append(deferred, fmt.Sprintf("deferred deprecation of %s: confidence %.2f below %.2f", id, p.Confidence, g.config.BehaviorThreshold))
		}
		p.Deprecated = nil
	}
	return p, deferred
}

// Evaluate decides the fate of a cycle's writes. Nothing written is a no-op. With
// vetoes present an atomic gate rolls back; a non-atomic gate lets the partial
// commit stand and reports the vetoes.
func (g *Gate) Evaluate(changes int, vetoes []VetoSignal) GateDecision {
	if len(vetoes) > 0 && g.config.Atomic && changes > 0 {
		return GateDecision{
			Action:      ActionRollback,
			Reason:      fmt.Sprintf("atomic veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}
	if changes == 0 {
		return GateDecision{
			Action:      ActionNoOp,
			Reason:      "no qualifying changes",
			Vetoed:      len(vetoes) > 0,
			VetoSignals: vetoes,
		}
	}
	reason := fmt.Sprintf("%d artifact(s) changed", changes)
	if len(vetoes) > 0 {
		reason = fmt.Sprintf("%s, %d failure(s) kept as partial commit", reason, len(vetoes))
	}
	return GateDecision{
		Action:      ActionCommit,
		Reason:      reason,
		VetoSignals: vetoes,
	}
}

// #endregion gate
