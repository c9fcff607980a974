package state

import (
	"fmt"
)

// #region transaction
// TxPlan describes one guarded mutation: optional snapshot, apply, then a decision
// to keep the result or restore the snapshot.
type TxPlan struct {
	// Snapshot takes a backup before Apply runs.
	Snapshot bool
	// RemoveCreated deletes artifacts the snapshot recorded as absent on rollback.
	RemoveCreated bool
	// Apply stages the mutation.
	Apply func(*Tx) error
	// Decide reports whether the written state stands. Nil keeps it when Apply
	// succeeded.
	Decide func(written []Artifact, applyErr error) bool
	// OnSnapshot is called as soon as the snapshot exists, before Apply.
	OnSnapshot func(Snapshot)
}

// TxOutcome is what Transaction did.
type TxOutcome struct {
	Snapshot    *Snapshot
	SnapshotErr error
	Written     []Artifact
	ApplyErr    error
	RolledBack  bool
	Restore     []FileResult
	RestoreErr  error
}

// Transaction runs plan as the store's single writer. A snapshot failure does not
// stop Apply; the caller sees SnapshotErr and a rollback becomes impossible.
// Rollback is global: the whole snapshot is restored, never a subset.
func (s *Store) Transaction(b *Backups, plan TxPlan) TxOutcome {
	var out TxOutcome

	if plan.Snapshot && b != nil {
		snap, err := b.Snapshot()
		if err != nil {
			out.SnapshotErr = err
			s.log.Warn().Err(err).Msg("snapshot failed, continuing without rollback")
		} else {
			out.Snapshot = &snap
			if plan.OnSnapshot != nil {
				plan.OnSnapshot(snap)
			}
		}
	}

	apply := plan.Apply
	if apply == nil {
		apply = func(*Tx) error { return nil }
	}
	out.Written, out.ApplyErr = s.Tx(apply)

	keep := out.ApplyErr == nil
	if plan.Decide != nil {
		keep = plan.Decide(out.Written, out.ApplyErr)
	}
	if keep {
		return out
	}
	if out.Snapshot == nil {
		s.log.Warn().Int("written", len(out.Written)).Msg("rollback requested without snapshot, partial commit stands")
		return out
	}

	out.Restore, out.RestoreErr = b.Restore(out.Snapshot.ID, plan.RemoveCreated)
	out.RolledBack = out.RestoreErr == nil
	if out.RestoreErr != nil {
		out.RestoreErr = fmt.Errorf("restore %s: %w", out.Snapshot.ID, out.RestoreErr)
	}
	return out
}

// #endregion transaction
