package proposal

import (
	"fmt"
	"math"

	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region validate
// Validate checks that p can be applied as-is.
func (p Proposal) Validate() error {
	if _, ok := p.Kind.Artifact(); !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, p.Kind)
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrMalformed, p.Confidence)
	}
	seen := map[string]bool{}
	for _, list := range [][]string{ids(p.New), ids(p.Updated), p.Deprecated} {
		for _, id := range list {
			if id == "" {
				return fmt.Errorf("%w: entry without id", ErrMalformed)
			}
			if seen[id] {
				return fmt.Errorf("%w: id %q appears twice", ErrMalformed, id)
			}
			seen[id] = true
		}
	}
	return nil
}

func ids(entries []state.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// #endregion validate
