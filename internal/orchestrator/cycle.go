package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VeloF2025/PAI-sub000/internal/config"
	"github.com/VeloF2025/PAI-sub000/internal/eval"
	"github.com/VeloF2025/PAI-sub000/internal/events"
	"github.com/VeloF2025/PAI-sub000/internal/gate"
	"github.com/VeloF2025/PAI-sub000/internal/history"
	"github.com/VeloF2025/PAI-sub000/internal/logging"
	"github.com/VeloF2025/PAI-sub000/internal/metrics"
	"github.com/VeloF2025/PAI-sub000/internal/proposal"
	"github.com/VeloF2025/PAI-sub000/internal/state"
	"github.com/VeloF2025/PAI-sub000/internal/update"
)

// #endregion

// #region deps

// Collector supplies the session events of a window.
type Collector interface {
	Collect(ctx context.Context, since time.Time) ([]events.SessionEvent, error)
}

// Deps wires an Executor. Store, Backups, Events and History are required;
// the rest may be nil.
type Deps struct {
	Store   *state.Store
	Backups *state.Backups
	Events  Collector
	Sources []proposal.Source
	History *history.Recorder[CycleRecord]
	Ledger  *logging.Ledger
	Metrics *metrics.Metrics
	Eval    *eval.EvalHarness
	Logger  zerolog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Executor runs learning cycles against one configuration root.
type Executor struct {
	store   *state.Store
	backups *state.Backups
	events  Collector
	sources []proposal.Source
	history *history.Recorder[CycleRecord]
	ledger  *logging.Ledger
	metrics *metrics.Metrics
	eval    *eval.EvalHarness
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates an executor from d, filling defaults for optional parts.
func New(d Deps) *Executor {
	e := &Executor{
		store:   d.Store,
		backups: d.Backups,
		events:  d.Events,
		sources: d.Sources,
		history: d.History,
		ledger:  d.Ledger,
		metrics: d.Metrics,
		eval:    d.Eval,
		log:     d.Logger,
		now:     d.Now,
		newID:   d.NewID,
	}
	if e.eval == nil {
		e.eval = eval.NewEvalHarness(eval.DefaultEvalConfig())
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}
	return e
}

// #endregion

// #region run

// errNoSnapshot aborts an atomic commit whose snapshot could not be taken.
var errNoSnapshot = errors.New("snapshot unavailable, atomic commit skipped")

// cycle carries the mutable state of one run.
type cycle struct {
	cfg      config.LearningConfig
	rec      *CycleRecord
	log      zerolog.Logger
	snap     *state.Snapshot
	lock     *state.Lock
	recorded bool
}

// RunLearningCycle executes one cycle and returns its record. It never returns
// an error and never panics: every failure ends up in the record.
func (e *Executor) RunLearningCycle(ctx context.Context, cfg config.LearningConfig) (rec CycleRecord) {
	var start time.Time
	rec = CycleRecord{Insights: []string{}, Errors: []string{}}
	c := &cycle{cfg: cfg, rec: &rec, log: e.log}

	// The lock is released last so an emergency restore still runs under it.
	defer func() {
		if r := recover(); r != nil {
			e.recoverFatal(c, start, r)
		}
		if c.lock != nil {
			if err := c.lock.Release(); err != nil {
				c.log.Warn().Err(err).Msg("lock release failed")
			}
		}
	}()

	start = e.now()
	rec.ID = e.newID()
	rec.Timestamp = start
	rec.Since = cfg.Since(start)
	c.log = e.log.With().Str("cycle_id", rec.ID).Logger()

	if !cfg.Enabled {
		rec.Decision, rec.Skipped, rec.Success = DecisionSkipped, SkipDisabled, true
		c.log.Info().Msg("learning disabled, cycle skipped")
		e.observe(c, start)
		return rec
	}

	lock, err := state.AcquireLock(e.store)
	if errors.Is(err, state.ErrLocked) {
		rec.Decision, rec.Skipped, rec.Success = DecisionSkipped, SkipLocked, true
		c.log.Warn().Msg("another cycle holds the lock, cycle skipped")
		e.observe(c, start)
		return rec
	}
	if err != nil {
		rec.Decision = DecisionFailed
		rec.Errors = append(rec.Errors, fmt.Sprintf("lock: %v", err))
		e.finish(c, start)
		return rec
	}
	c.lock = lock

	e.run(ctx, c)
	e.finish(c, start)
	return rec
}

// recoverFatal turns a panic anywhere in the cycle into a recorded failure.
// Skipped cycles stay out of history.
func (e *Executor) recoverFatal(c *cycle, start time.Time, r any) {
	rec := c.rec
	c.log.Error().Str("panic", fmt.Sprint(r)).Str("stack", string(debug.Stack())).Msg("fatal cycle failure")
	rec.Errors = append(rec.Errors, fmt.Sprintf("fatal: %v", r))
	rec.Success = false
	if rec.Skipped != "" {
		return
	}
	rec.Decision = DecisionFailed
	e.emergencyRestore(c)
	if !c.recorded {
		e.safeFinish(c, start)
	}
}

func (e *Executor) run(ctx context.Context, c *cycle) {
	rec := c.rec

	// Collecting
	c.log.Debug().Str("phase", string(PhaseCollecting)).Time("since", rec.Since).Msg("phase")
	evs, err := e.events.Collect(ctx, rec.Since)
	if err != nil {
		rec.Decision = DecisionFailed
		rec.Errors = append(rec.Errors, fmt.Sprintf("events: %v", err))
		c.log.Warn().Err(err).Msg("event collection failed")
		return
	}
	rec.EventsProcessed = len(evs)
	if len(evs) == 0 {
		rec.Decision, rec.Reason = DecisionNoOp, "no session events in window"
		c.log.Info().Msg("no session events, nothing to learn")
		return
	}

	// Proposing
	c.log.Debug().Str("phase", string(PhaseProposing)).Int("sources", len(e.sources)).Msg("phase")
	results := e.propose(ctx, c, proposal.Window{Events: evs, Since: rec.Since, Config: c.cfg})

	g := gate.NewGate(gate.FromLearningConfig(c.cfg))
	var vetoes []gate.VetoSignal
	var accepted []*slot
	for _, r := range results {
		if r.err != nil {
			msg := fmt.Sprintf("%s failed: %s", r.outcome.Name, r.outcome.Error)
			rec.Errors = append(rec.Errors, msg)
			vetoes = append(vetoes, gate.VetoSignal{Type: gate.VetoSourceFailure, Reason: msg})
			continue
		}
		screened, deferred := g.Screen(r.proposal)
		r.proposal = screened
		r.outcome.Deferred = len(deferred)
		sum := rec.Proposals.For(screened.Kind)
		sum.Deferred += len(deferred)
		sum.Anomalies += len(screened.Anomalies)
		rec.Insights = append(rec.Insights, screened.Insights...)
		rec.Insights = append(rec.Insights, deferred...)
		accepted = append(accepted, r)
	}
	c.setSources(results)
	defer c.setSources(results)

	changes := 0
	for _, r := range accepted {
		changes += r.proposal.Changes()
	}
	if changes == 0 {
		rec.Decision, rec.Reason = DecisionNoOp, "no qualifying changes"
		c.log.Info().Int("failed_sources", len(vetoes)).Msg("no qualifying changes, nothing committed")
		return
	}

	// Backing-up and Committing run as one store transaction
	c.log.Debug().Str("phase", string(PhaseBackingUp)).Bool("backup", c.cfg.BackupBeforeUpdate).Msg("phase")
	var decision gate.GateDecision
	logFrom := 0
	out := e.store.Transaction(e.backups, state.TxPlan{
		Snapshot:      c.cfg.BackupBeforeUpdate,
		RemoveCreated: c.cfg.RollbackRemovesCreated,
		OnSnapshot: func(s state.Snapshot) {
			c.snap = &s
			rec.SnapshotID = s.ID
			rec.Backup = s.Files
			for _, f := range state.Failed(s.Files) {
				rec.Errors = append(rec.Errors, fmt.Sprintf("backup %s: %s", f.Artifact, f.Reason))
			}
			c.log.Debug().Str("phase", string(PhaseCommitting)).Str("snapshot", s.ID).Msg("phase")
		},
		Apply: func(tx *state.Tx) error {
			if c.cfg.BackupBeforeUpdate && c.cfg.AtomicUpdates && c.snap == nil {
				return errNoSnapshot
			}
			if raw, _, err := e.store.ReadRaw(state.LearningLog); err == nil {
				logFrom = len(raw)
			}
			vetoes = append(vetoes, e.apply(tx, c, accepted)...)
			return nil
		},
		Decide: func(written []state.Artifact, applyErr error) bool {
			if applyErr != nil {
				vetoes = append(vetoes, gate.VetoSignal{Type: gate.VetoCommitFailure, Reason: applyErr.Error()})
			}
			if len(written) > 0 {
				res := e.eval.Run(e.store, written, logFrom)
				for _, f := range res.Failures {
					vetoes = append(vetoes, gate.VetoSignal{Type: gate.VetoEvalFailure, Reason: "eval: " + f})
				}
			}
			decision = g.Evaluate(len(written), vetoes)
			return decision.Action != gate.ActionRollback
		},
	})

	if out.SnapshotErr != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("backup failed: %v", out.SnapshotErr))
	}
	for _, v := range vetoes {
		if v.Type == gate.VetoCommitFailure || v.Type == gate.VetoEvalFailure {
			rec.Errors = append(rec.Errors, v.Reason)
		}
	}
	rec.Written = out.Written
	rec.Decision, rec.Reason = decision.Action, decision.Reason
	rec.Committed = len(out.Written) > 0 && !out.RolledBack
	rec.RollbackPerformed = out.RolledBack

	switch {
	case out.RolledBack:
		for _, f := range state.Failed(out.Restore) {
			rec.Errors = append(rec.Errors, fmt.Sprintf("restore %s: %s", f.Artifact, f.Reason))
		}
		c.log.Info().Str("phase", string(PhaseRolledBack)).Str("snapshot", rec.SnapshotID).Str("reason", decision.Reason).Msg("cycle rolled back")
	case out.RestoreErr != nil:
		rec.Errors = append(rec.Errors, out.RestoreErr.Error())
		c.log.Error().Err(out.RestoreErr).Msg("rollback failed")
	case decision.Action == gate.ActionRollback:
		c.log.Warn().Int("written", len(out.Written)).Msg("rollback needed but no snapshot was taken, partial commit stands")
	default:
		c.log.Info().Str("phase", string(PhaseCommitted)).Int("written", len(out.Written)).Str("reason", decision.Reason).Msg("cycle committed")
	}
}

// #endregion

// #region apply

// apply merges every accepted proposal inside tx. A proposal that cannot be
// merged is skipped and reported; the others still apply.
func (e *Executor) apply(tx *state.Tx, c *cycle, accepted []*slot) []gate.VetoSignal {
	var vetoes []gate.VetoSignal
	var total update.Counts
	for _, r := range accepted {
		p := r.proposal
		if p.Changes() == 0 {
			continue
		}
		a, _ := p.Kind.Artifact()
		doc, err := tx.Load(a)
		if err == nil {
			res := update.Apply(doc, p, update.UpdateContext{CycleID: c.rec.ID, Source: r.outcome.Name, Now: c.rec.Timestamp})
			counts := res.Counts
			r.outcome.Applied = &counts
			if counts.Changed() {
				err = tx.Save(a, res.Doc)
			}
			if err == nil {
				sum := c.rec.Proposals.For(p.Kind)
				sum.New += counts.Added
				sum.Updated += counts.Updated
				sum.Deprecated += counts.Deprecated
				total = total.Add(counts)
			}
		}
		if err != nil {
			msg := fmt.Sprintf("%s commit failed: %v", r.outcome.Name, err)
			vetoes = append(vetoes, gate.VetoSignal{Type: gate.VetoCommitFailure, Reason: msg})
			c.log.Warn().Str("source", r.outcome.Name).Str("artifact", string(a)).Err(err).Msg("proposal not applied")
		}
	}

	if total.Changed() {
		line, err := json.Marshal(logLine{
			CycleID:   c.rec.ID,
			Timestamp: c.rec.Timestamp,
			Events:    c.rec.EventsProcessed,
			Applied:   total,
			Insights:  c.rec.Insights,
		})
		if err == nil {
			err = tx.AppendLog(line)
		}
		if err != nil {
			vetoes = append(vetoes, gate.VetoSignal{Type: gate.VetoCommitFailure, Reason: fmt.Sprintf("learning log: %v", err)})
		}
	}
	return vetoes
}

// logLine is one entry of the companion learning log.
type logLine struct {
	CycleID   string        `json:"cycle_id"`
	Timestamp time.Time     `json:"timestamp"`
	Events    int           `json:"events"`
	Applied   update.Counts `json:"applied"`
	Insights  []string      `json:"insights,omitempty"`
}

func (c *cycle) setSources(results []*slot) {
	c.rec.Sources = make([]SourceOutcome, len(results))
	for i, r := range results {
		c.rec.Sources[i] = r.outcome
	}
}

// #endregion

// #region finish

// emergencyRestore puts the snapshot back after a fatal failure.
func (e *Executor) emergencyRestore(c *cycle) {
	rec := c.rec
	if c.snap == nil || rec.RollbackPerformed {
		return
	}
	results, err := e.backups.Restore(c.snap.ID, c.cfg.RollbackRemovesCreated)
	if err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("emergency restore: %v", err))
		c.log.Error().Err(err).Msg("emergency restore failed")
		return
	}
	for _, f := range state.Failed(results) {
		rec.Errors = append(rec.Errors, fmt.Sprintf("restore %s: %s", f.Artifact, f.Reason))
	}
	rec.RollbackPerformed = true
	rec.Committed = false
	c.log.Warn().Str("snapshot", c.snap.ID).Msg("emergency restore performed")
}

// finish appends the record to history and the ledger, exports metrics and
// prunes old snapshots.
func (e *Executor) finish(c *cycle, start time.Time) {
	rec := c.rec
	rec.DurationMs = e.now().Sub(start).Milliseconds()
	rec.Success = len(rec.Errors) == 0
	c.log.Debug().Str("phase", string(PhaseRecorded)).Msg("phase")

	c.recorded = true
	n, err := e.history.Append(*rec)
	switch {
	case errors.Is(err, history.ErrDiscarded):
		// rec is stored; only older records were lost, so the commit stands
		c.log.Warn().Err(err).Int("history_len", n).Msg("unreadable history replaced")
	case err != nil:
		c.log.Error().Err(err).Msg("history append failed")
		rec.Errors = append(rec.Errors, fmt.Sprintf("history: %v", err))
		rec.Success = false
		if c.cfg.AtomicUpdates && rec.Committed {
			e.emergencyRestore(c)
		}
	default:
		c.log.Debug().Int("history_len", n).Msg("cycle recorded")
	}

	if e.ledger != nil {
		if err := e.ledger.Record(ledgerEntries(*rec)); err != nil {
			c.log.Warn().Err(err).Msg("ledger write failed")
		}
	}
	e.observe(c, start)

	if rec.Success && !rec.RollbackPerformed && rec.SnapshotID != "" && c.cfg.BackupRetention > 0 {
		if _, err := e.backups.Prune(c.cfg.BackupRetention); err != nil {
			c.log.Warn().Err(err).Msg("snapshot prune failed")
		}
	}

	ev := c.log.Info()
	if !rec.Success {
		ev = c.log.Warn().Strs("errors", rec.Errors)
	}
	ev.Str("decision", rec.Decision).
		Bool("success", rec.Success).
		Bool("rollback", rec.RollbackPerformed).
		Int("events", rec.EventsProcessed).
		Int64("duration_ms", rec.DurationMs).
		Msg("learning cycle finished")
}

// safeFinish runs finish from the panic path, where a second panic must not
// escape to the host.
func (e *Executor) safeFinish(c *cycle, start time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("panic", fmt.Sprint(r)).Msg("recording failed after fatal error")
			c.rec.Success = false
		}
	}()
	e.finish(c, start)
}

func (e *Executor) observe(c *cycle, start time.Time) {
	if e.metrics == nil {
		return
	}
	rec := c.rec
	outcome := rec.Decision
	if outcome == "" {
		outcome = DecisionFailed
	}
	applied := map[string]int{}
	for _, k := range proposal.Kinds {
		if rec.Committed {
			applied[string(k)] = rec.Proposals.For(k).Total()
		}
	}
	e.metrics.Observe(metrics.Observation{
		Outcome:         outcome,
		Duration:        e.now().Sub(start),
		EventsProcessed: rec.EventsProcessed,
		FailedSources:   rec.FailedSources(),
		Applied:         applied,
		Deferred:        rec.Proposals.Patterns.Deferred + rec.Proposals.Rules.Deferred + rec.Proposals.Behaviors.Deferred,
		Success:         rec.Success,
		At:              rec.Timestamp,
	})
	if err := e.metrics.WriteTextfile(e.store.WorkPath(metrics.TextfileName)); err != nil {
		c.log.Warn().Err(err).Msg("metrics export failed")
	}
}

func ledgerEntries(rec CycleRecord) (logging.CycleEntry, []logging.SourceEntry) {
	errs, _ := json.Marshal(rec.Errors)
	if len(rec.Errors) == 0 {
		errs = nil
	}
	entry := logging.CycleEntry{
		CycleID:         rec.ID,
		Decision:        rec.Decision,
		Reason:          rec.Reason,
		EventsProcessed: rec.EventsProcessed,
		Committed:       rec.Committed,
		Success:         rec.Success,
		RolledBack:      rec.RollbackPerformed,
		SnapshotID:      rec.SnapshotID,
		ErrorsJSON:      string(errs),
		DurationMs:      rec.DurationMs,
		CreatedAt:       rec.Timestamp,
	}
	var sources []logging.SourceEntry
	for _, s := range rec.Sources {
		se := logging.SourceEntry{
			Source:     s.Name,
			Kind:       string(s.Kind),
			Status:     s.Status,
			Error:      s.Error,
			Deferred:   s.Deferred,
			DurationMs: s.DurationMs,
		}
		if s.Applied != nil {
			se.Added, se.Updated, se.Deprecated = s.Applied.Added, s.Applied.Updated, s.Applied.Deprecated
		}
		sources = append(sources, se)
	}
	return entry, sources
}

// #endregion
