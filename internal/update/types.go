package update

import (
	"time"

	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region update-context
// UpdateContext carries per-cycle context into the pure update function.
type UpdateContext struct {
	CycleID string
	Source  string
	Now     time.Time
}

// #endregion update-context

// #region counts
// Counts records what Apply did to one document.
type Counts struct {
	Added      int `json:"added"`
	Updated    int `json:"updated"`
	Deprecated int `json:"deprecated"`
	Skipped    int `json:"skipped"` // deprecations of unknown or already-deprecated ids
}

// Changed reports whether the document differs from its input.
func (c Counts) Changed() bool {
	return c.Added+c.Updated+c.Deprecated > 0
}

// Add sums two counts.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Added:      c.Added + o.Added,
		Updated:    c.Updated + o.Updated,
		Deprecated: c.Deprecated + o.Deprecated,
		Skipped:    c.Skipped + o.Skipped,
	}
}

// #endregion counts

// #region update-result
// UpdateResult bundles everything returned by Apply.
type UpdateResult struct {
	Doc    state.Document
	Counts Counts
}

// #endregion update-result
