package eval

// #region eval-config
// EvalConfig holds limits for post-commit validation.
type EvalConfig struct {
	MaxEntries int  // per document; 0 disables the check
	CheckLog   bool // appended learning-log lines must be JSON objects
}

// DefaultEvalConfig returns the limits used by the learning cycle.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxEntries: 10000,
		CheckLog:   true,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value int
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-commit validation.
type EvalResult struct {
	Passed   bool
	Metrics  []EvalMetric
	Failures []string
	Reason   string
}

// #endregion eval-result
