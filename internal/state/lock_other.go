//go:build !unix

package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Lock is an exclusive lock file on platforms without flock.
type Lock struct {
	path string
}

// AcquireLock creates the lock file exclusively. A leftover file from a crashed
// run must be removed by hand.
func AcquireLock(s *Store) (*Lock, error) {
	path := s.WorkPath("cycle.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	return os.Remove(path)
}
