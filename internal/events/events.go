package events

import (
	"bufio"
	"bytes"
	"context"
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

const maxLine = 4 << 20

// #region dir-source
// DirSource reads session events from *.jsonl files under a directory tree.
type DirSource struct {
	dir string
	log zerolog.Logger
}

// NewDirSource returns a reader over dir. The directory need not exist.
func NewDirSource(dir string, log zerolog.Logger) *DirSource {
	return &DirSource{dir: dir, log: log}
}

// Collect returns every event at or after since, oldest first. Lines that do not
// parse are skipped. Events without a timestamp take their file's mtime.
func (d *DirSource) Collect(ctx context.Context, since time.Time) ([]SessionEvent, error) {
	evs, stats, err := d.collect(ctx, since)
	if err != nil {
		return nil, err
	}
	d.log.Debug().
		Str("dir", d.dir).
		Int("files", stats.Files).
		Int("lines", stats.Lines).
		Int("skipped", stats.Skipped).
		Int("kept", stats.Kept).
		Msg("session events collected")
	return evs, nil
}

func (d *DirSource) collect(ctx context.Context, since time.Time) ([]SessionEvent, Stats, error) {
	var stats Stats
	var out []SessionEvent

	err := filepath.WalkDir(d.dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if path == d.dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(since) {
			return nil
		}
		stats.Files++
		evs, err := readFile(path, info.ModTime(), &stats)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		for _, ev := range evs {
			if !ev.Timestamp.Before(since) {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("collect events: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	stats.Kept = len(out)
	return out, stats, nil
}

func readFile(path string, mtime time.Time, stats *Stats) ([]SessionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []SessionEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++
		var ev SessionEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			stats.Skipped++
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = mtime
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

// #endregion dir-source
