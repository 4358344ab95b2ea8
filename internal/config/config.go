// Package config provides configuration loading and validation for the
// pressure-field kernel.
//
// Configuration file: kernel.yaml (path supplied by the caller).
// Schema version: 1.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. ema_alpha in (0,1], weights >= 0).
//   - Invalid config on construction: kernel refuses to start (fatal error).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pressurefield/kernel/internal/kernelerr"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration for the kernel.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// TickIntervalMs is advisory; actual pacing is driven externally.
	TickIntervalMs int64 `yaml:"tick_interval_ms"`

	// PressureAxes is the ordered list of pressure axis definitions.
	PressureAxes []PressureAxisConfig `yaml:"pressure_axes"`

	Decay      DecayConfig      `yaml:"decay"`
	Activation ActivationConfig `yaml:"activation"`
	Selection  SelectionConfig  `yaml:"selection"`
	Phases     PhaseConfig      `yaml:"phases"`

	// Sensors holds optional per-sensor overrides keyed by sensor name.
	Sensors map[string]SensorConfig `yaml:"sensors"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// PressureAxisConfig is one named contribution to pressure.
type PressureAxisConfig struct {
	// Name identifies the axis; also the default signal name looked up by
	// the "signal" expression kind.
	Name string `yaml:"name"`

	// Weight multiplies the axis expression's result. May be overridden
	// per region kind via KindWeights.
	Weight float64 `yaml:"weight"`

	// Expr selects the expression kind: "signal" (verbatim signal lookup,
	// the baseline behavior) or "mahalanobis" (statistical distance from a
	// running per-kind baseline).
	Expr string `yaml:"expr"`

	// Signal is the signal name read by the "signal" expression. Defaults
	// to Name if empty.
	Signal string `yaml:"signal"`

	// Signals lists the signal names that feed the "mahalanobis" expression's
	// feature vector, in order.
	Signals []string `yaml:"signals,omitempty"`

	// KindWeights overrides Weight when the region's kind matches a key.
	KindWeights map[string]float64 `yaml:"kind_weights,omitempty"`
}

// DecayConfig controls fitness/confidence decay and signal smoothing.
type DecayConfig struct {
	// FitnessHalfLifeMs is H_f. 0 disables decay on this channel.
	FitnessHalfLifeMs int64 `yaml:"fitness_half_life_ms"`

	// ConfidenceHalfLifeMs is H_c. 0 disables decay on this channel.
	ConfidenceHalfLifeMs int64 `yaml:"confidence_half_life_ms"`

	// EMAAlpha is alpha in (0,1], the signal smoothing factor.
	EMAAlpha float64 `yaml:"ema_alpha"`
}

// ActivationConfig gates region selection.
type ActivationConfig struct {
	MinTotalPressure float64 `yaml:"min_total_pressure"`

	// InhibitMs is the post-apply exclusion window. 0 disables inhibition.
	InhibitMs int64 `yaml:"inhibit_ms"`
}

// SelectionConfig gates patch selection.
type SelectionConfig struct {
	// MaxPatchesPerTick is K, also the proposer concurrency cap.
	MaxPatchesPerTick int `yaml:"max_patches_per_tick"`

	MinExpectedImprovement float64 `yaml:"min_expected_improvement"`
}

// PhaseConfig controls per-phase deadlines.
type PhaseConfig struct {
	MeasurementDeadlineMs int64 `yaml:"measurement_deadline_ms"`
	ProposalDeadlineMs    int64 `yaml:"proposal_deadline_ms"`
}

// SensorConfig holds a per-sensor deadline override.
type SensorConfig struct {
	DeadlineMs int64 `yaml:"deadline_ms"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Defaults returns a Config populated with conservative baseline values:
// one axis, no inhibition, one patch applied per tick.
func Defaults() Config {
	return Config{
		SchemaVersion:  "1",
		TickIntervalMs: 1000,
		PressureAxes: []PressureAxisConfig{
			{Name: "warnings", Weight: 2.0, Expr: "signal", Signal: "warning_count"},
		},
		Decay: DecayConfig{
			FitnessHalfLifeMs:    0,
			ConfidenceHalfLifeMs: 0,
			EMAAlpha:             1.0,
		},
		Activation: ActivationConfig{
			MinTotalPressure: 2.0,
			InhibitMs:        0,
		},
		Selection: SelectionConfig{
			MaxPatchesPerTick:      1,
			MinExpectedImprovement: 0,
		},
		Phases: PhaseConfig{
			MeasurementDeadlineMs: 5000,
			ProposalDeadlineMs:    30000,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path, merging over
// Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, collecting every
// violation rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if len(cfg.PressureAxes) == 0 {
		errs = append(errs, "pressure_axes must contain at least one axis")
	}
	seen := make(map[string]bool, len(cfg.PressureAxes))
	for _, a := range cfg.PressureAxes {
		if a.Name == "" {
			errs = append(errs, "pressure_axes[].name must not be empty")
			continue
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("pressure_axes[].name %q is duplicated", a.Name))
		}
		seen[a.Name] = true
		if a.Weight < 0 {
			errs = append(errs, fmt.Sprintf("pressure_axes[%s].weight must be >= 0, got %f", a.Name, a.Weight))
		}
		switch a.Expr {
		case "", "signal":
		case "mahalanobis":
			if len(a.Signals) == 0 {
				errs = append(errs, fmt.Sprintf("pressure_axes[%s].signals required for expr=mahalanobis", a.Name))
			}
		default:
			errs = append(errs, fmt.Sprintf("pressure_axes[%s].expr %q is not a recognised expression kind", a.Name, a.Expr))
		}
		for kind, w := range a.KindWeights {
			if w < 0 {
				errs = append(errs, fmt.Sprintf("pressure_axes[%s].kind_weights[%s] must be >= 0, got %f", a.Name, kind, w))
			}
		}
	}
	if cfg.Decay.FitnessHalfLifeMs < 0 {
		errs = append(errs, fmt.Sprintf("decay.fitness_half_life_ms must be >= 0, got %d", cfg.Decay.FitnessHalfLifeMs))
	}
	if cfg.Decay.ConfidenceHalfLifeMs < 0 {
		errs = append(errs, fmt.Sprintf("decay.confidence_half_life_ms must be >= 0, got %d", cfg.Decay.ConfidenceHalfLifeMs))
	}
	if cfg.Decay.EMAAlpha <= 0 || cfg.Decay.EMAAlpha > 1.0 {
		errs = append(errs, fmt.Sprintf("decay.ema_alpha must be in (0.0, 1.0], got %f", cfg.Decay.EMAAlpha))
	}
	if cfg.Activation.MinTotalPressure < 0 {
		errs = append(errs, fmt.Sprintf("activation.min_total_pressure must be >= 0, got %f", cfg.Activation.MinTotalPressure))
	}
	if cfg.Activation.InhibitMs < 0 {
		errs = append(errs, fmt.Sprintf("activation.inhibit_ms must be >= 0, got %d", cfg.Activation.InhibitMs))
	}
	if cfg.Selection.MaxPatchesPerTick < 0 {
		errs = append(errs, fmt.Sprintf("selection.max_patches_per_tick must be >= 0, got %d", cfg.Selection.MaxPatchesPerTick))
	}
	if cfg.Selection.MinExpectedImprovement < 0 {
		errs = append(errs, fmt.Sprintf("selection.min_expected_improvement must be >= 0, got %f", cfg.Selection.MinExpectedImprovement))
	}
	if cfg.Phases.MeasurementDeadlineMs <= 0 {
		errs = append(errs, fmt.Sprintf("phases.measurement_deadline_ms must be > 0, got %d", cfg.Phases.MeasurementDeadlineMs))
	}
	if cfg.Phases.ProposalDeadlineMs <= 0 {
		errs = append(errs, fmt.Sprintf("phases.proposal_deadline_ms must be > 0, got %d", cfg.Phases.ProposalDeadlineMs))
	}
	for name, sc := range cfg.Sensors {
		if sc.DeadlineMs < 0 {
			errs = append(errs, fmt.Sprintf("sensors[%s].deadline_ms must be >= 0, got %d", name, sc.DeadlineMs))
		}
	}

	if len(errs) > 0 {
		return kernelerr.NewConfigError(errs)
	}
	return nil
}
