package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	// FileName is the history file under the configuration root.
	FileName = "learning-history.json"
	// DefaultLimit is the number of records kept.
	DefaultLimit = 50
)

// ErrDiscarded reports that an unreadable history was replaced. The record
// passed to Append was still written.
var ErrDiscarded = errors.New("previous history discarded")

// #region recorder
// Recorder keeps a bounded JSON array of records on disk, oldest first. T is the
// record type; the recorder only needs it to round-trip through encoding/json.
type Recorder[T any] struct {
	path  string
	limit int
	mu    sync.Mutex
}

// NewRecorder returns a recorder writing to path. limit <= 0 uses DefaultLimit.
func NewRecorder[T any](path string, limit int) *Recorder[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recorder[T]{path: path, limit: limit}
}

// Path returns the history file location.
func (r *Recorder[T]) Path() string { return r.path }

// Load returns every stored record, oldest first. A missing or empty file is an
// empty history.
func (r *Recorder[T]) Load() ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *Recorder[T]) load() ([]T, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var recs []T
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return recs, nil
}

// Append adds rec and evicts the oldest records past the limit. It returns the
// resulting length. An unreadable history is replaced rather than blocking the
// append; the returned error then wraps ErrDiscarded and rec is on disk.
func (r *Recorder[T]) Append(rec T) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, loadErr := r.load()
	recs = append(recs, rec)
	if over := len(recs) - r.limit; over > 0 {
		recs = recs[over:]
	}

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode history: %w", err)
	}
	if err := writeAtomic(r.path, data); err != nil {
		return 0, fmt.Errorf("write history: %w", err)
	}
	if loadErr != nil {
		return len(recs), fmt.Errorf("%w: %w", ErrDiscarded, loadErr)
	}
	return len(recs), nil
}

// Last returns up to n most recent records, oldest first.
func (r *Recorder[T]) Last(n int) ([]T, error) {
	recs, err := r.Load()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

// #endregion recorder

// #region atomic-write
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// #endregion atomic-write
