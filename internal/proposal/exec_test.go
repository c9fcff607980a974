//go:build unix

package proposal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeloF2025/PAI-sub000/internal/events"
)

func shSource(script string, produces Kind) *ExecSource {
	return &ExecSource{SourceName: "sh", Produces: produces, Command: []string{"sh", "-c", script}}
}

func TestExecSourceReadsProposal(t *testing.T) {
	src := shSource(`cat >/dev/null; echo '{"confidence":0.9,"new":[{"id":"p1","description":"retry flaky tests"}]}'`, KindPattern)
	p, err := src.Propose(context.Background(), Window{Events: []events.SessionEvent{{Type: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, KindPattern, p.Kind)
	require.Len(t, p.New, 1)
	assert.Equal(t, "p1", p.New[0].ID)
}

func TestExecSourceSeesWindow(t *testing.T) {
	src := shSource(`grep -q '"type":"edit"' && echo '{"insights":["saw edit"]}'`, KindRule)
	p, err := src.Propose(context.Background(), Window{Events: []events.SessionEvent{{Type: "edit"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"saw edit"}, p.Insights)
}

func TestExecSourceEmptyOutput(t *testing.T) {
	p, err := shSource(`cat >/dev/null`, KindBehavior).Propose(context.Background(), Window{})
	require.NoError(t, err)
	assert.Equal(t, Empty(KindBehavior), p)
}

func TestExecSourceFailure(t *testing.T) {
	_, err := shSource(`echo "analyzer exploded" >&2; exit 3`, KindRule).Propose(context.Background(), Window{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer exploded")
}

func TestExecSourceGarbage(t *testing.T) {
	_, err := shSource(`echo nope`, KindRule).Propose(context.Background(), Window{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExecSourceWrongKind(t *testing.T) {
	_, err := shSource(`echo '{"kind":"behavior"}'`, KindRule).Propose(context.Background(), Window{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExecSourceTimeout(t *testing.T) {
	src := shSource(`sleep 5`, KindRule)
	src.Timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := src.Propose(context.Background(), Window{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 4*time.Second)
}
