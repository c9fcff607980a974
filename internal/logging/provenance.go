package logging

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// LedgerFile is the ledger's name inside the work directory.
const LedgerFile = "ledger.db"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle_id         TEXT PRIMARY KEY,
	decision         TEXT NOT NULL,
	reason           TEXT,
	events_processed INTEGER NOT NULL,
	committed        INTEGER NOT NULL,
	success          INTEGER NOT NULL,
	rolled_back      INTEGER NOT NULL,
	snapshot_id      TEXT,
	errors_json      TEXT,
	duration_ms      INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id    TEXT NOT NULL,
	source      TEXT NOT NULL,
	kind        TEXT,
	status      TEXT NOT NULL,
	error       TEXT,
	added       INTEGER NOT NULL,
	updated     INTEGER NOT NULL,
	deprecated  INTEGER NOT NULL,
	deferred    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	FOREIGN KEY (cycle_id) REFERENCES cycles(cycle_id)
);

CREATE INDEX IF NOT EXISTS idx_cycles_created ON cycles(created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_cycle ON source_outcomes(cycle_id);
`

// #endregion schema

// #region ledger
// Ledger is the SQLite record of every cycle and every source outcome. Unlike
// the JSON history it is not capped.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the ledger at path and runs migrations.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Ledger{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (l *Ledger) DB() *sql.DB { return l.db }

// Close closes the underlying database connection.
func (l *Ledger) Close() error { return l.db.Close() }

// Record writes a cycle and its source outcomes in one transaction.
func (l *Ledger) Record(cycle CycleEntry, sources []SourceEntry) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := LogCycle(tx, cycle); err != nil {
		return err
	}
	for _, s := range sources {
		s.CycleID = cycle.CycleID
		if err := LogSource(tx, s); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion ledger

// #region log-cycle
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// LogCycle writes one row to the cycles table.
func LogCycle(db execer, entry CycleEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO cycles (cycle_id, decision, reason, events_processed, committed, success, rolled_back, snapshot_id, errors_json, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CycleID,
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.EventsProcessed,
		boolInt(entry.Committed),
		boolInt(entry.Success),
		boolInt(entry.RolledBack),
		nullIfEmpty(entry.SnapshotID),
		nullIfEmpty(entry.ErrorsJSON),
		entry.DurationMs,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log cycle: %w", err)
	}
	return nil
}

// LogSource writes one row to the source_outcomes table.
func LogSource(db execer, entry SourceEntry) error {
	_, err := db.Exec(
		`INSERT INTO source_outcomes (cycle_id, source, kind, status, error, added, updated, deprecated, deferred, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CycleID,
		entry.Source,
		nullIfEmpty(entry.Kind),
		entry.Status,
		nullIfEmpty(entry.Error),
		entry.Added,
		entry.Updated,
		entry.Deprecated,
		entry.Deferred,
		entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("log source: %w", err)
	}
	return nil
}

// #endregion log-cycle

// #region queries
// RecentCycles returns up to limit cycles, newest first.
func (l *Ledger) RecentCycles(limit int) ([]CycleEntry, error) {
	rows, err := l.db.Query(
		`SELECT cycle_id, decision, COALESCE(reason, ''), events_processed, committed, success, rolled_back,
		        COALESCE(snapshot_id, ''), COALESCE(errors_json, ''), duration_ms, created_at
		 FROM cycles ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleEntry
	for rows.Next() {
		e, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cycle returns one cycle row. A missing id yields sql.ErrNoRows.
func (l *Ledger) Cycle(id string) (CycleEntry, error) {
	row := l.db.QueryRow(
		`SELECT cycle_id, decision, COALESCE(reason, ''), events_processed, committed, success, rolled_back,
		        COALESCE(snapshot_id, ''), COALESCE(errors_json, ''), duration_ms, created_at
		 FROM cycles WHERE cycle_id = ?`, id)
	e, err := scanCycle(row)
	if err != nil {
		return CycleEntry{}, fmt.Errorf("get cycle %s: %w", id, err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(r scanner) (CycleEntry, error) {
	var e CycleEntry
	var committed, success, rolledBack int
	var created string
	if err := r.Scan(&e.CycleID, &e.Decision, &e.Reason, &e.EventsProcessed, &committed, &success, &rolledBack,
		&e.SnapshotID, &e.ErrorsJSON, &e.DurationMs, &created); err != nil {
		return CycleEntry{}, fmt.Errorf("scan cycle: %w", err)
	}
	e.Committed, e.Success, e.RolledBack = committed != 0, success != 0, rolledBack != 0
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return e, nil
}

// SourceOutcomes returns the source rows of one cycle in insertion order.
func (l *Ledger) SourceOutcomes(cycleID string) ([]SourceEntry, error) {
	rows, err := l.db.Query(
		`SELECT cycle_id, source, COALESCE(kind, ''), status, COALESCE(error, ''), added, updated, deprecated, deferred, duration_ms
		 FROM source_outcomes WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceEntry
	for rows.Next() {
		var e SourceEntry
		if err := rows.Scan(&e.CycleID, &e.Source, &e.Kind, &e.Status, &e.Error, &e.Added, &e.Updated, &e.Deprecated, &e.Deferred, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FailureCounts returns how often each source failed across the whole ledger.
func (l *Ledger) FailureCounts() (map[string]int, error) {
	rows, err := l.db.Query(`SELECT source, COUNT(*) FROM source_outcomes WHERE status = 'failed' GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan failures: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// #endregion queries

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
