package update

import (
	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region apply
// Apply is a pure function that merges p into doc. The input document is never
// modified. Entries are matched by id:
//   - new: appended, or refreshed in place when the id already exists
//   - updated: replaces the entry's content, keeping its creation time
//   - deprecated: marks the entry deprecated; unknown ids are skipped
//
// An entry without its own confidence inherits the proposal's.
func Apply(doc state.Document, p proposal.Proposal, ctx UpdateContext) UpdateResult {
	out := doc
	out.Entries = append([]state.Entry(nil), doc.Entries...)
	var c Counts

	for _, e := range p.New {
		e = stamp(e, p, ctx)
		if i := out.Index(e.ID); i >= 0 {
			out.Entries[i] = refresh(out.Entries[i], e)
			c.Updated++
			continue
		}
		if e.Frequency == 0 {
			e.Frequency = 1
		}
		out.Entries = append(out.Entries, e)
		c.Added++
	}

	for _, e := range p.Updated {
		e = stamp(e, p, ctx)
		if i := out.Index(e.ID); i >= 0 {
			e.CreatedAt = out.Entries[i].CreatedAt
			if e.Frequency == 0 {
				e.Frequency = out.Entries[i].Frequency
			}
			out.Entries[i] = e
			c.Updated++
			continue
		}
		out.Entries = append(out.Entries, e)
		c.Added++
	}

	for _, id := range p.Deprecated {
		i := out.Index(id)
		if i < 0 || out.Entries[i].Status == state.StatusDeprecated {
			c.Skipped++
			continue
		}
		at := ctx.Now
		out.Entries[i].Status = state.StatusDeprecated
		out.Entries[i].DeprecatedAt = &at
		out.Entries[i].UpdatedAt = ctx.Now
		c.Deprecated++
	}

	return UpdateResult{Doc: out, Counts: c}
}

// stamp fills the fields the orchestrator owns.
func stamp(e state.Entry, p proposal.Proposal, ctx UpdateContext) state.Entry {
	if e.Confidence == 0 {
		e.Confidence = p.Confidence
	}
	if e.Source == "" {
		e.Source = ctx.Source
	}
	e.Status = state.StatusActive
	e.DeprecatedAt = nil
	e.CreatedAt = ctx.Now
	e.UpdatedAt = ctx.Now
	return e
}

// refresh folds a re-proposed entry into the existing one: content is replaced,
// the sighting count accumulates and the original creation time is kept.
func refresh(old, e state.Entry) state.Entry {
	freq := e.Frequency
	if freq == 0 {
		freq = 1
	}
	e.Frequency = old.Frequency + freq
	e.CreatedAt = old.CreatedAt
	return e
}

// #endregion apply
