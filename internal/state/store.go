package state

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// WorkDir is the store's private directory under the root: backups, lock, ledger, logs.
const WorkDir = ".learning"

// #region store-struct
// Store owns the artifact files under a configuration root. All mutation goes
// through Tx so there is exactly one writer per cycle.
type Store struct {
	root string
	log  zerolog.Logger
	now  func() time.Time

	mu   sync.Mutex
	inTx bool
}

// #endregion store-struct

// #region constructor
// NewStore prepares root (and its work directory) for use.
func NewStore(root string, log zerolog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is empty")
	}
	if err := os.MkdirAll(filepath.Join(root, WorkDir), 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Store{root: root, log: log, now: func() time.Time { return time.Now().UTC() }}, nil
}

// #endregion constructor

// #region accessors
// Root returns the configuration root.
func (s *Store) Root() string { return s.root }

// WorkPath joins elem under the store's work directory.
func (s *Store) WorkPath(elem ...string) string {
	return filepath.Join(append([]string{s.root, WorkDir}, elem...)...)
}

// Path returns the live location of a.
func (s *Store) Path(a Artifact) string {
	return filepath.Join(s.root, string(a))
}

// ReadRaw returns the bytes of a and whether it exists.
func (s *Store) ReadRaw(a Artifact) ([]byte, bool, error) {
	if !Known(a) {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownArtifact, a)
	}
	data, err := os.ReadFile(s.Path(a))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", a, err)
	}
	return data, true, nil
}

// Load parses a YAML artifact. A missing artifact loads as an empty document.
func (s *Store) Load(a Artifact) (Document, error) {
	data, _, err := s.ReadRaw(a)
	if err != nil {
		return Document{}, err
	}
	return decodeDocument(a, data)
}

func decodeDocument(a Artifact, data []byte) (Document, error) {
	if a == LearningLog {
		return Document{}, fmt.Errorf("%s is a log, not a document", a)
	}
	var doc Document
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", a, err)
	}
	return doc, nil
}

// #endregion accessors

// #region tx
// Tx stages artifact writes in memory. Nothing reaches disk until the function
// passed to Store.Tx returns nil.
type Tx struct {
	store  *Store
	staged map[Artifact][]byte
	order  []Artifact
	closed bool
}

// Load returns the staged version of a if any, else the live one.
func (tx *Tx) Load(a Artifact) (Document, error) {
	if tx.closed {
		return Document{}, ErrTxClosed
	}
	if data, ok := tx.staged[a]; ok {
		return decodeDocument(a, data)
	}
	return tx.store.Load(a)
}

// Save stages doc as the new content of a.
func (tx *Tx) Save(a Artifact, doc Document) error {
	if tx.closed {
		return ErrTxClosed
	}
	if !Known(a) || a == LearningLog {
		return fmt.Errorf("%w: %s", ErrUnknownArtifact, a)
	}
	doc.Version++
	doc.UpdatedAt = tx.store.now()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", a, err)
	}
	tx.stage(a, data)
	return nil
}

// AppendLog stages one line appended to the companion learning log.
func (tx *Tx) AppendLog(line []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	cur, ok := tx.staged[LearningLog]
	if !ok {
		raw, _, err := tx.store.ReadRaw(LearningLog)
		if err != nil {
			return err
		}
		cur = raw
	}
	next := make([]byte, 0, len(cur)+len(line)+1)
	next = append(next, cur...)
	if len(next) > 0 && next[len(next)-1] != '\n' {
		next = append(next, '\n')
	}
	next = append(next, bytes.TrimRight(line, "\n")...)
	next = append(next, '\n')
	tx.stage(LearningLog, next)
	return nil
}

func (tx *Tx) stage(a Artifact, data []byte) {
	if _, ok := tx.staged[a]; !ok {
		tx.order = append(tx.order, a)
	}
	tx.staged[a] = data
}

// Tx runs fn against a fresh transaction and, if fn succeeds, writes every staged
// artifact whose bytes differ from disk. It returns the artifacts actually written.
// A write failure part-way leaves earlier artifacts written; callers that need
// all-or-nothing pair Tx with a snapshot.
func (s *Store) Tx(fn func(*Tx) error) ([]Artifact, error) {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return nil, errors.New("nested transaction")
	}
	s.inTx = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inTx = false
		s.mu.Unlock()
	}()

	tx := &Tx{store: s, staged: map[Artifact][]byte{}}
	err := fn(tx)
	tx.closed = true
	if err != nil {
		return nil, err
	}

	var written []Artifact
	for _, a := range tx.order {
		data := tx.staged[a]
		cur, exists, err := s.ReadRaw(a)
		if err != nil {
			return written, err
		}
		if exists && bytes.Equal(cur, data) {
			continue
		}
		if err := writeFileAtomic(s.Path(a), data); err != nil {
			return written, fmt.Errorf("write %s: %w", a, err)
		}
		s.log.Debug().Str("artifact", string(a)).Int("bytes", len(data)).Msg("artifact written")
		written = append(written, a)
	}
	return written, nil
}

// #endregion tx

// #region atomic-write
// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// #endregion atomic-write
