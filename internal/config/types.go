package config

import (
	"errors"
	"time"
)

// ErrInvalid marks a value that parsed but failed validation.
var ErrInvalid = errors.New("invalid config value")

// #region learning-config
// LearningConfig holds the tunables for one learning cycle. It is read at cycle start
// and never written back by the cycle.
type LearningConfig struct {
	Enabled                              bool    `json:"enabled"`
	MinPatternFrequency                  int     `json:"min_pattern_frequency" validate:"min=1"`
	DGTSConfidenceThreshold              float64 `json:"dgts_confidence_threshold" validate:"gte=0,lte=1"`
	ValidationEffectivenessThreshold     float64 `json:"validation_effectiveness_threshold" validate:"gte=0,lte=1"`
	AgentOptimizationConfidenceThreshold float64 `json:"agent_optimization_confidence_threshold" validate:"gte=0,lte=1"`
	LearningPeriodDays                   int     `json:"learning_period_days" validate:"min=1,max=365"`
	AtomicUpdates                        bool    `json:"atomic_updates"`
	BackupBeforeUpdate                   bool    `json:"backup_before_update"`

	BackupRetention        int  `json:"backup_retention" validate:"min=0"`                 // keep last K snapshots, 0 = unlimited
	SourceTimeoutSeconds   int  `json:"source_timeout_seconds" validate:"min=1,max=3600"`  // per-source deadline
	RollbackRemovesCreated bool `json:"rollback_removes_created"`                          // rollback deletes artifacts created mid-cycle
}

// Default returns the stock tunables.
func Default() LearningConfig {
	return LearningConfig{
		Enabled:                              true,
		MinPatternFrequency:                  2,
		DGTSConfidenceThreshold:              0.7,
		ValidationEffectivenessThreshold:     0.7,
		AgentOptimizationConfidenceThreshold: 0.7,
		LearningPeriodDays:                   7,
		AtomicUpdates:                        true,
		BackupBeforeUpdate:                   true,
		BackupRetention:                      10,
		SourceTimeoutSeconds:                 120,
		RollbackRemovesCreated:               true,
	}
}

// #endregion learning-config

// #region window
// Since returns the start of the learning window ending at now.
func (c LearningConfig) Since(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.LearningPeriodDays)
}

// SourceTimeout returns the per-source deadline.
func (c LearningConfig) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

// #endregion window

// #region load-result
// LoadResult bundles the effective config with every fallback that was taken.
type LoadResult struct {
	Config   LearningConfig
	Path     string
	Found    bool
	Warnings []string
}

// #endregion load-result
