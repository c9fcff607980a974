package events

import (
	"encoding/json"
	"time"
)

// #region session-event
// SessionEvent is one raw line from a session log. The cycle only counts and
// windows events; Payload is passed through to proposal sources untouched.
type SessionEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type,omitempty"`
	Session   string          `json:"session,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// #endregion session-event

// #region collect-stats
// Stats describes one collection pass.
type Stats struct {
	Files   int
	Lines   int
	Skipped int // unparseable lines
	Kept    int
}

// #endregion collect-stats
