package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func writeRaw(t *testing.T, s *Store, a Artifact, content string) {
	t.Helper()
	if err := os.WriteFile(s.Path(a), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", a, err)
	}
}

func readRaw(t *testing.T, s *Store, a Artifact) (string, bool) {
	t.Helper()
	data, ok, err := s.ReadRaw(a)
	if err != nil {
		t.Fatalf("ReadRaw %s: %v", a, err)
	}
	return string(data), ok
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s := tempStore(t)
	doc, err := s.Load(PatternRules)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Version != 0 || len(doc.Entries) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
	if _, err := s.Load(LearningLog); err == nil {
		t.Fatal("expected error loading the log as a document")
	}
	if _, _, err := s.ReadRaw("other.yaml"); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("expected ErrUnknownArtifact, got %v", err)
	}
}

func TestTxSaveAndReload(t *testing.T) {
	s := tempStore(t)

	written, err := s.Tx(func(tx *Tx) error {
		doc, err := tx.Load(PatternRules)
		if err != nil {
			return err
		}
		doc.Entries = append(doc.Entries, Entry{ID: "p1", Status: StatusActive, Confidence: 0.9})
		if err := tx.Save(PatternRules, doc); err != nil {
			return err
		}
		// staged content is visible inside the same transaction
		again, err := tx.Load(PatternRules)
		if err != nil {
			return err
		}
		if again.Index("p1") != 0 {
			t.Errorf("staged entry not visible")
		}
		return tx.AppendLog([]byte(`{"cycle":"c1"}`))
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 artifacts written, got %v", written)
	}

	doc, err := s.Load(PatternRules)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Version != 1 || doc.Index("p1") != 0 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	log, _ := readRaw(t, s, LearningLog)
	if log != "{\"cycle\":\"c1\"}\n" {
		t.Fatalf("unexpected log: %q", log)
	}
}

func TestTxErrorWritesNothing(t *testing.T) {
	s := tempStore(t)
	boom := errors.New("boom")
	_, err := s.Tx(func(tx *Tx) error {
		if err := tx.Save(AgentConfigs, Document{Entries: []Entry{{ID: "a"}}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := readRaw(t, s, AgentConfigs); ok {
		t.Fatal("artifact written despite failed transaction")
	}
}

func TestTxSkipsUnchangedBytes(t *testing.T) {
	s := tempStore(t)
	writeRaw(t, s, LearningLog, "line\n")

	written, err := s.Tx(func(tx *Tx) error {
		raw, _, err := tx.store.ReadRaw(LearningLog)
		if err != nil {
			return err
		}
		tx.stage(LearningLog, raw)
		return nil
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if len(written) != 0 {
		t.Fatalf("expected no writes, got %v", written)
	}
}

func TestTxClosedAfterReturn(t *testing.T) {
	s := tempStore(t)
	var leaked *Tx
	if _, err := s.Tx(func(tx *Tx) error { leaked = tx; return nil }); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if err := leaked.Save(PatternRules, Document{}); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
}

func TestNestedTxRejected(t *testing.T) {
	s := tempStore(t)
	_, err := s.Tx(func(*Tx) error {
		_, inner := s.Tx(func(*Tx) error { return nil })
		return inner
	})
	if err == nil {
		t.Fatal("expected nested transaction error")
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Tx(func(tx *Tx) error {
		return tx.Save(ValidationRules, Document{Entries: []Entry{{ID: "v1"}}})
	}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".*.tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}
