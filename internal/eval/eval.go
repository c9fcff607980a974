package eval

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region eval-harness
// EvalHarness re-reads artifacts after a commit and checks they are usable.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates every artifact in written as it now sits on disk: documents must
// parse, ids must be unique and non-empty, and the entry count stays bounded.
// The learning log is append-only, so only the bytes from logFrom on are checked.
func (h *EvalHarness) Run(s *state.Store, written []state.Artifact, logFrom int) EvalResult {
	var metrics []EvalMetric
	var failures []string

	for _, a := range written {
		if a == state.LearningLog {
			if !h.config.CheckLog {
				continue
			}
			bad, err := h.checkLog(s, logFrom)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			metrics = append(metrics, EvalMetric{Name: "log_bad_lines", Value: bad, Pass: bad == 0})
			if bad > 0 {
				failures = append(failures, fmt.Sprintf("%s has %d invalid appended line(s)", a, bad))
			}
			continue
		}

		doc, err := s.Load(a)
		if err != nil {
			metrics = append(metrics, EvalMetric{Name: string(a) + "_parse", Pass: false})
			failures = append(failures, err.Error())
			continue
		}

		dups := duplicates(doc)
		metrics = append(metrics, EvalMetric{Name: string(a) + "_duplicate_ids", Value: dups, Pass: dups == 0})
		if dups > 0 {
			failures = append(failures, fmt.Sprintf("%s has %d duplicate or empty id(s)", a, dups))
		}

		n := len(doc.Entries)
		sizePass := h.config.MaxEntries <= 0 || n <= h.config.MaxEntries
		metrics = append(metrics, EvalMetric{Name: string(a) + "_entries", Value: n, Pass: sizePass})
		if !sizePass {
			failures = append(failures, fmt.Sprintf("%s has %d entries, limit %d", a, n, h.config.MaxEntries))
		}
	}

	reason := "all checks passed"
	if len(failures) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failures[0])
		if len(failures) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failures), failures[0])
		}
	}
	return EvalResult{
		Passed:   len(failures) == 0,
		Metrics:  metrics,
		Failures: failures,
		Reason:   reason,
	}
}

// #endregion eval-harness

// #region helpers
func duplicates(doc state.Document) int {
	seen := make(map[string]bool, len(doc.Entries))
	n := 0
	for _, e := range doc.Entries {
		if e.ID == "" || seen[e.ID] {
			n++
			continue
		}
		seen[e.ID] = true
	}
	return n
}

func (h *EvalHarness) checkLog(s *state.Store, from int) (int, error) {
	data, _, err := s.ReadRaw(state.LearningLog)
	if err != nil {
		return 0, err
	}
	if from < 0 || from > len(data) {
		from = 0
	}
	data = data[from:]
	bad := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if json.Unmarshal(line, &obj) != nil {
			bad++
		}
	}
	if err := sc.Err(); err != nil {
		return bad, fmt.Errorf("scan %s: %w", state.LearningLog, err)
	}
	return bad, nil
}

// #endregion helpers
