package state

import (
	"errors"
	"time"
)

// #region errors
var (
	ErrUnknownArtifact  = errors.New("unknown artifact")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrLocked           = errors.New("learning cycle already in progress")
	ErrTxClosed         = errors.New("transaction closed")
)

// #endregion errors

// #region artifacts
// Artifact names one file-resident piece of evolving configuration.
type Artifact string

const (
	PatternRules    Artifact = "pattern-rules.yaml"
	ValidationRules Artifact = "validation-rules.yaml"
	AgentConfigs    Artifact = "agent-configs.yaml"
	LearningLog     Artifact = "learning-log.jsonl"
)

// Artifacts is the fixed set the store owns and every snapshot covers.
var Artifacts = []Artifact{PatternRules, ValidationRules, AgentConfigs, LearningLog}

// Known reports whether a is part of the fixed artifact set.
func Known(a Artifact) bool {
	for _, k := range Artifacts {
		if k == a {
			return true
		}
	}
	return false
}

// #endregion artifacts

// #region document
// Entry status values.
const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
)

// Entry is one rule, pattern, or agent tuning inside an artifact document.
type Entry struct {
	ID           string     `yaml:"id" json:"id"`
	Description  string     `yaml:"description,omitempty" json:"description,omitempty"`
	Category     string     `yaml:"category,omitempty" json:"category,omitempty"`
	Value        any        `yaml:"value,omitempty" json:"value,omitempty"`
	Confidence   float64    `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Frequency    int        `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Status       string     `yaml:"status,omitempty" json:"status,omitempty"`
	Source       string     `yaml:"source,omitempty" json:"source,omitempty"`
	CreatedAt    time.Time  `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt    time.Time  `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	DeprecatedAt *time.Time `yaml:"deprecated_at,omitempty" json:"deprecated_at,omitempty"`
}

// Document is the on-disk shape of every YAML artifact.
type Document struct {
	Version   int       `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Entries   []Entry   `yaml:"entries"`
}

// Index returns the position of id in the document, or -1.
func (d *Document) Index(id string) int {
	for i, e := range d.Entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// #endregion document

// #region file-result
// FileStatus is the per-file outcome of a snapshot or restore copy.
type FileStatus string

const (
	FileCopied  FileStatus = "copied"
	FileAbsent  FileStatus = "absent"  // source did not exist; not an error
	FileRemoved FileStatus = "removed" // restore deleted an artifact created after the snapshot
	FileFailed  FileStatus = "failed"
)

// FileResult reports what happened to one artifact during snapshot or restore.
type FileResult struct {
	Artifact Artifact   `json:"artifact"`
	Status   FileStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`
}

// Failed filters results down to failures.
func Failed(results []FileResult) []FileResult {
	var out []FileResult
	for _, r := range results {
		if r.Status == FileFailed {
			out = append(out, r)
		}
	}
	return out
}

// #endregion file-result

// #region snapshot
// Snapshot is an immutable, timestamped copy of every artifact.
type Snapshot struct {
	ID        string       `json:"id"`
	Dir       string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []FileResult `json:"files"`
}

// Captured reports whether the snapshot holds a copy of a.
func (s Snapshot) Captured(a Artifact) bool {
	for _, f := range s.Files {
		if f.Artifact == a && f.Status == FileCopied {
			return true
		}
	}
	return false
}

// #endregion snapshot
