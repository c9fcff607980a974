package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up under the configuration root.
const FileName = "learning-config.env"

// EnvPrefix prefixes environment overrides, e.g. LEARN_ATOMIC_UPDATES=false.
const EnvPrefix = "LEARN"

var validate = validator.New()

// #region fields
// field binds one config key to its typed setter. Each key is parsed and validated on
// its own so a bad value only costs that key its setting.
type field struct {
	key    string
	name   string // struct field name, for validator.StructPartial
	assign func(c *LearningConfig, raw string) error
}

var fields = []field{
	{"enabled", "Enabled", boolSetter(func(c *LearningConfig, v bool) { c.Enabled = v })},
	{"min_pattern_frequency", "MinPatternFrequency", intSetter(func(c *LearningConfig, v int) { c.MinPatternFrequency = v })},
	{"dgts_confidence_threshold", "DGTSConfidenceThreshold", floatSetter(func(c *LearningConfig, v float64) { c.DGTSConfidenceThreshold = v })},
	{"validation_effectiveness_threshold", "ValidationEffectivenessThreshold", floatSetter(func(c *LearningConfig, v float64) { c.ValidationEffectivenessThreshold = v })},
	{"agent_optimization_confidence_threshold", "AgentOptimizationConfidenceThreshold", floatSetter(func(c *LearningConfig, v float64) { c.AgentOptimizationConfidenceThreshold = v })},
	{"learning_period_days", "LearningPeriodDays", intSetter(func(c *LearningConfig, v int) { c.LearningPeriodDays = v })},
	{"atomic_updates", "AtomicUpdates", boolSetter(func(c *LearningConfig, v bool) { c.AtomicUpdates = v })},
	{"backup_before_update", "BackupBeforeUpdate", boolSetter(func(c *LearningConfig, v bool) { c.BackupBeforeUpdate = v })},
	{"backup_retention", "BackupRetention", intSetter(func(c *LearningConfig, v int) { c.BackupRetention = v })},
	{"source_timeout_seconds", "SourceTimeoutSeconds", intSetter(func(c *LearningConfig, v int) { c.SourceTimeoutSeconds = v })},
	{"rollback_removes_created", "RollbackRemovesCreated", boolSetter(func(c *LearningConfig, v bool) { c.RollbackRemovesCreated = v })},
}

func boolSetter(set func(*LearningConfig, bool)) func(*LearningConfig, string) error {
	return func(c *LearningConfig, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		set(c, v)
		return nil
	}
}

func intSetter(set func(*LearningConfig, int)) func(*LearningConfig, string) error {
	return func(c *LearningConfig, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		set(c, v)
		return nil
	}
}

func floatSetter(set func(*LearningConfig, float64)) func(*LearningConfig, string) error {
	return func(c *LearningConfig, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		set(c, v)
		return nil
	}
}

// #endregion fields

// #region load
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// readEnv parses KEY=value data. When the file as a whole does not parse, each
// line is tried on its own and only the lines that fail are dropped.
func readEnv(data []byte) (*viper.Viper, []string) {
	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err == nil {
		return v, nil
	}

	var warns []string
	var kept bytes.Buffer
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		check := viper.New()
		check.SetConfigType("env")
		if err := check.ReadConfig(strings.NewReader(trimmed + "\n")); err != nil {
			warns = append(warns, fmt.Sprintf("line %d %q: not KEY=value; ignored", i+1, trimmed))
			continue
		}
		kept.WriteString(trimmed + "\n")
	}

	v = newViper()
	if err := v.ReadConfig(&kept); err != nil {
		warns = append(warns, fmt.Sprintf("parse config: %v; using defaults", err))
		return newViper(), warns
	}
	return v, warns
}

// Load reads KEY=value tunables from path, with LEARN_* environment overrides.
// It never fails: a missing file, an unreadable file, or a bad value falls back to
// defaults and is reported in Warnings.
func Load(path string) LoadResult {
	res := LoadResult{Config: Default(), Path: path}

	v := newViper()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			res.Found = true
			var warns []string
			v, warns = readEnv(data)
			res.Warnings = append(res.Warnings, warns...)
		case !errors.Is(err, os.ErrNotExist):
			res.Warnings = append(res.Warnings, fmt.Sprintf("read %s: %v; using defaults", path, err))
		}
	}

	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.key] = true
		raw := strings.TrimSpace(v.GetString(f.key))
		if raw == "" {
			continue
		}
		if err := applyField(&res.Config, f, raw); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s=%q: %v; using default", f.key, raw, err))
		}
	}

	var unknown []string
	for _, k := range v.AllKeys() {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown key %q ignored", k))
	}

	return res
}

// applyField parses raw into a copy of cfg and keeps it only if the field validates.
func applyField(cfg *LearningConfig, f field, raw string) error {
	candidate := *cfg
	if err := f.assign(&candidate, raw); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := validate.StructPartial(candidate, f.name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	*cfg = candidate
	return nil
}

// #endregion load

// #region validate
// Validate checks the whole config against its schema.
func (c LearningConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// #endregion validate
