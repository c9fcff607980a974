package proposal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const maxStderr = 512

// #region exec-source
// ExecSource runs an analyzer as a subprocess. The window goes to stdin as JSON
// and a Proposal is read back from stdout as JSON. Empty stdout means no change.
type ExecSource struct {
	SourceName string
	Produces   Kind
	Command    []string
	Dir        string
	Env        []string
	Timeout    time.Duration
}

func (s *ExecSource) Name() string { return s.SourceName }

func (s *ExecSource) Propose(ctx context.Context, w Window) (Proposal, error) {
	if len(s.Command) == 0 {
		return Proposal{}, errors.New("no command configured")
	}
	input, err := json.Marshal(w)
	if err != nil {
		return Proposal{}, fmt.Errorf("encode window: %w", err)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Proposal{}, ctxErr
	}
	if err != nil {
		msg := tail(strings.TrimSpace(stderr.String()), maxStderr)
		if msg == "" {
			return Proposal{}, fmt.Errorf("run %s: %w", s.Command[0], err)
		}
		return Proposal{}, fmt.Errorf("run %s: %w: %s", s.Command[0], err, msg)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return Empty(s.Produces), nil
	}
	var p Proposal
	if err := json.Unmarshal(out, &p); err != nil {
		return Proposal{}, fmt.Errorf("%w: decode output: %v", ErrMalformed, err)
	}
	if p.Kind == "" {
		p.Kind = s.Produces
	}
	if s.Produces != "" && p.Kind != s.Produces {
		return Proposal{}, fmt.Errorf("%w: kind %q, want %q", ErrMalformed, p.Kind, s.Produces)
	}
	return p, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// #endregion exec-source
