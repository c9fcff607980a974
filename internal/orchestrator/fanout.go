package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VeloF2025/PAI-sub000/internal/proposal"
)

// #endregion

// #region slot

// slot holds one source's result. Each goroutine writes only its own slot.
type slot struct {
	outcome  SourceOutcome
	proposal proposal.Proposal
	err      error
}

// #endregion

// #region propose

// propose runs every source concurrently and waits for all of them. A source
// that errors, panics, returns a malformed proposal or outlives its deadline
// fails alone; the others are unaffected.
func (e *Executor) propose(ctx context.Context, c *cycle, w proposal.Window) []*slot {
	results := make([]*slot, len(e.sources))
	timeout := c.cfg.SourceTimeout()

	var g errgroup.Group
	for i, src := range e.sources {
		results[i] = &slot{outcome: SourceOutcome{Name: src.Name()}}
		g.Go(func() error {
			r := results[i]
			start := time.Now()
			p, err := callSource(ctx, src, w, timeout)
			r.outcome.DurationMs = time.Since(start).Milliseconds()
			if err == nil {
				err = p.Validate()
			}
			if err != nil {
				r.err = err
				r.outcome.Status = SourceFailed
				r.outcome.Error = errorText(err)
				c.log.Warn().Str("source", r.outcome.Name).Err(err).Int64("duration_ms", r.outcome.DurationMs).Msg("proposal source failed")
				return nil
			}
			r.proposal = p
			r.outcome.Status = SourceOK
			r.outcome.Kind = p.Kind
			c.log.Debug().Str("source", r.outcome.Name).Str("kind", string(p.Kind)).Int("changes", p.Changes()).Msg("proposal received")
			return nil
		})
	}
	g.Wait()
	return results
}

// callSource runs src under its own deadline. The call is abandoned, not
// awaited, once the deadline passes, so a source that ignores its context
// cannot hold up the cycle.
func callSource(ctx context.Context, src proposal.Source, w proposal.Window, timeout time.Duration) (proposal.Proposal, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		p   proposal.Proposal
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		p, err := src.Propose(ctx, w)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		return r.p, r.err
	case <-ctx.Done():
		return proposal.Proposal{}, ctx.Err()
	}
}

// errorText is the short form stored in records.
func errorText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return err.Error()
}

// #endregion
