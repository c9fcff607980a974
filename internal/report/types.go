package report

// #region line
// Line is one bucketed count with its human message.
type Line struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	Message  string `json:"message"`
}

// #endregion line

// #region cycle-report
// CycleReport is the read-only view of one finished cycle.
type CycleReport struct {
	CycleID      string   `json:"cycle_id"`
	Success      bool     `json:"success"`
	Decision     string   `json:"decision"`
	Skipped      string   `json:"skipped,omitempty"`
	Events       int      `json:"events_processed"`
	Improvements []Line   `json:"improvements"`
	Warnings     []Line   `json:"warnings"`
	Errors       []string `json:"errors,omitempty"`
}

// #endregion cycle-report

// #region summary
// Summary provides aggregate stats over a run of cycles.
type Summary struct {
	Total      int `json:"total"`
	Committed  int `json:"committed"`
	RolledBack int `json:"rolled_back"`
	NoOps      int `json:"no_ops"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Changes    int `json:"changes"`
}

// #endregion summary
