package logging

import "time"

// #region cycle-entry
// CycleEntry is a single row in the cycles table.
type CycleEntry struct {
	CycleID         string
	Decision        string // "commit" | "rollback" | "no_op" | "skipped"
	Reason          string
	EventsProcessed int
	Committed       bool
	Success         bool
	RolledBack      bool
	SnapshotID      string
	ErrorsJSON      string
	DurationMs      int64
	CreatedAt       time.Time
}

// #endregion cycle-entry

// #region source-entry
// SourceEntry is one proposal source's outcome within a cycle.
type SourceEntry struct {
	CycleID    string
	Source     string
	Kind       string
	Status     string // "ok" | "failed"
	Error      string
	Added      int
	Updated    int
	Deprecated int
	Deferred   int
	DurationMs int64
}

// #endregion source-entry

// #region options
// Options controls the process logger built by Setup.
type Options struct {
	Level   string // debug | info | warn | error
	JSON    bool   // raw JSON on stderr instead of the console writer
	LogDir  string // when set, a dated log file is written there as well
	Service string
}

// #endregion options
