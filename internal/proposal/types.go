package proposal

import (
	"context"
	"errors"
	"time"

	"github.com/VeloF2025/PAI-sub000/internal/config"
	"github.com/VeloF2025/PAI-sub000/internal/events"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// ErrMalformed marks a proposal that cannot be applied.
var ErrMalformed = errors.New("malformed proposal")

// #region kind
// Kind selects which artifact a proposal targets.
type Kind string

const (
	KindPattern  Kind = "pattern"
	KindRule     Kind = "rule"
	KindBehavior Kind = "behavior"
)

// Kinds lists every kind in commit order.
var Kinds = []Kind{KindPattern, KindRule, KindBehavior}

// Artifact returns the artifact k writes to.
func (k Kind) Artifact() (state.Artifact, bool) {
	switch k {
	case KindPattern:
		return state.PatternRules, true
	case KindRule:
		return state.ValidationRules, true
	case KindBehavior:
		return state.AgentConfigs, true
	}
	return "", false
}

// #endregion kind

// #region proposal
// Proposal is what one analyzer wants changed. Deprecated carries entry IDs.
// Anomalies and Insights are informational and never committed as entries.
type Proposal struct {
	Kind       Kind          `json:"kind" yaml:"kind"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
	New        []state.Entry `json:"new,omitempty" yaml:"new,omitempty"`
	Updated    []state.Entry `json:"updated,omitempty" yaml:"updated,omitempty"`
	Deprecated []string      `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
	Anomalies  []string      `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Insights   []string      `json:"insights,omitempty" yaml:"insights,omitempty"`
}

// Empty returns the no-op proposal of kind k.
func Empty(k Kind) Proposal {
	return Proposal{Kind: k}
}

// Changes counts entries that would touch an artifact.
func (p Proposal) Changes() int {
	return len(p.New) + len(p.Updated) + len(p.Deprecated)
}

// #endregion proposal

// #region source
// Window is the input handed to every source for one cycle.
type Window struct {
	Events []events.SessionEvent `json:"events"`
	Since  time.Time             `json:"since"`
	Config config.LearningConfig `json:"config"`
}

// Source derives a proposal from a window of session events. A source must
// return an empty proposal for an empty window and must never write artifacts.
type Source interface {
	Name() string
	Propose(ctx context.Context, w Window) (Proposal, error)
}

// Func adapts a plain function to Source.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context, w Window) (Proposal, error)
}

func (f Func) Name() string { return f.SourceName }

func (f Func) Propose(ctx context.Context, w Window) (Proposal, error) {
	return f.Fn(ctx, w)
}

// #endregion source
