package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	manifestName = "manifest.json"
	idLayout     = "20060102T150405.000000000Z"
)

// #region backups-struct
// Backups snapshots and restores the store's artifacts. One directory per
// snapshot under <root>/.learning/backups, written once.
type Backups struct {
	store *Store
	dir   string
	log   zerolog.Logger
	now   func() time.Time
}

// NewBackups creates a backup manager rooted in the store's work directory.
func NewBackups(store *Store, log zerolog.Logger) *Backups {
	return &Backups{
		store: store,
		dir:   store.WorkPath("backups"),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the directory holding all snapshots.
func (b *Backups) Dir() string { return b.dir }

// #endregion backups-struct

// #region snapshot
// Snapshot copies every known artifact into a fresh timestamp-named directory.
// Per-file problems never fail the call: a missing source is recorded as absent and
// a copy error as failed. The error return is reserved for the snapshot directory
// itself being uncreatable.
func (b *Backups) Snapshot() (Snapshot, error) {
	created := b.now()
	dir, id, err := b.mkSnapshotDir(created)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	snap := Snapshot{ID: id, Dir: dir, CreatedAt: created}
	for _, a := range Artifacts {
		res := FileResult{Artifact: a}
		data, exists, err := b.store.ReadRaw(a)
		switch {
		case err != nil:
			res.Status, res.Reason = FileFailed, err.Error()
		case !exists:
			res.Status = FileAbsent
		default:
			if err := os.WriteFile(filepath.Join(dir, string(a)), data, 0o644); err != nil {
				res.Status, res.Reason = FileFailed, err.Error()
			} else {
				res.Status = FileCopied
			}
		}
		if res.Status == FileFailed {
			b.log.Warn().Str("snapshot", id).Str("artifact", string(a)).Str("reason", res.Reason).Msg("snapshot copy failed")
		}
		snap.Files = append(snap.Files, res)
	}

	if err := writeManifest(dir, snap); err != nil {
		b.log.Warn().Err(err).Str("snapshot", id).Msg("snapshot manifest not written")
	}
	b.log.Debug().Str("snapshot", id).Msg("snapshot taken")
	return snap, nil
}

func (b *Backups) mkSnapshotDir(at time.Time) (string, string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", "", err
	}
	base := at.Format(idLayout)
	for i := 0; i < 100; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(b.dir, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, id, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("no free snapshot id for %s", base)
}

func writeManifest(dir string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0o644)
}

// #endregion snapshot

// #region get
// Get loads a snapshot by id. Snapshots without a manifest are reconstructed from
// the files present, treating every other artifact as absent.
func (b *Backups) Get(id string) (Snapshot, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
	}
	dir := filepath.Join(b.dir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}

	snap := Snapshot{ID: id, Dir: dir, CreatedAt: parseID(id, info.ModTime())}
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err == nil && json.Unmarshal(data, &snap) == nil {
		snap.ID, snap.Dir = id, dir
		return snap, nil
	}

	snap.Files = nil
	for _, a := range Artifacts {
		status := FileAbsent
		if _, err := os.Stat(filepath.Join(dir, string(a))); err == nil {
			status = FileCopied
		}
		snap.Files = append(snap.Files, FileResult{Artifact: a, Status: status})
	}
	return snap, nil
}

func parseID(id string, fallback time.Time) time.Time {
	if i := strings.LastIndex(id, "-"); i > 0 {
		id = id[:i]
	}
	t, err := time.Parse(idLayout, id)
	if err != nil {
		return fallback.UTC()
	}
	return t
}

// #endregion get

// #region restore
// Restore copies every captured artifact back over its live location. Artifacts the
// snapshot recorded as absent are deleted when removeCreated is set and left alone
// otherwise. Artifacts whose snapshot copy failed cannot be restored and are
// reported as failed. Only an unknown snapshot id is an error.
func (b *Backups) Restore(id string, removeCreated bool) ([]FileResult, error) {
	snap, err := b.Get(id)
	if err != nil {
		return nil, err
	}

	var results []FileResult
	for _, a := range Artifacts {
		res := FileResult{Artifact: a}
		status := FileAbsent
		for _, f := range snap.Files {
			if f.Artifact == a {
				status = f.Status
			}
		}

		switch status {
		case FileCopied:
			data, err := os.ReadFile(filepath.Join(snap.Dir, string(a)))
			if err == nil {
				err = writeFileAtomic(b.store.Path(a), data)
			}
			if err != nil {
				res.Status, res.Reason = FileFailed, err.Error()
			} else {
				res.Status = FileCopied
			}
		case FileAbsent:
			res.Status = FileAbsent
			if removeCreated {
				err := os.Remove(b.store.Path(a))
				switch {
				case err == nil:
					res.Status = FileRemoved
				case !errors.Is(err, fs.ErrNotExist):
					res.Status, res.Reason = FileFailed, err.Error()
				}
			}
		default:
			res.Status, res.Reason = FileFailed, "not captured by snapshot"
		}

		if res.Status == FileFailed {
			b.log.Warn().Str("snapshot", id).Str("artifact", string(a)).Str("reason", res.Reason).Msg("restore failed")
		}
		results = append(results, res)
	}

	b.log.Info().Str("snapshot", id).Int("failed", len(Failed(results))).Msg("snapshot restored")
	return results, nil
}

// #endregion restore

// #region list-prune
// List returns every snapshot, newest first.
func (b *Backups) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, err := b.Get(e.Name())
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].ID > snaps[j].ID
	})
	return snaps, nil
}

// Prune deletes all but the keep newest snapshots. keep <= 0 keeps everything.
func (b *Backups) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	snaps, err := b.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range snaps[min(keep, len(snaps)):] {
		if err := os.RemoveAll(s.Dir); err != nil {
			b.log.Warn().Err(err).Str("snapshot", s.ID).Msg("prune failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		b.log.Debug().Int("removed", removed).Int("kept", keep).Msg("snapshots pruned")
	}
	return removed, nil
}

// #endregion list-prune
