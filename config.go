package revlens

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-level secrets loaded from the environment by cmd/revlens.
var Config struct {
	OpenAIAPIKey string
}

// SettingsPath is the settings file the step commands read. cmd/revlens
// overrides it with the --settings flag.
var SettingsPath = "settings.yaml"

// Duration wraps time.Duration so it can be written as "90s" or "5m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Settings is the immutable configuration snapshot passed by value into every
// pipeline stage. A run never reads shared mutable state, so two runs with the
// same Settings and inputs produce identical results.
type Settings struct {
	// Negative-review filter
	NegativeMode  NegativeMode `yaml:"negative_mode"`
	StarThreshold int          `yaml:"star_threshold"`
	ConfThreshold float64      `yaml:"conf_threshold"`
	WStar         float64      `yaml:"w_star"`
	WSent         float64      `yaml:"w_sent"`
	KeepThreshold float64      `yaml:"keep_threshold"`

	// Clustering engine
	Algorithm              Algorithm `yaml:"algorithm"`
	KMin                   int       `yaml:"k_min"`
	KMax                   int       `yaml:"k_max"`
	Eps                    float64   `yaml:"eps"`
	MinSamples             int       `yaml:"min_samples"`
	IncludeNoiseDownstream bool      `yaml:"include_noise_downstream"`

	// K selection
	WK         float64 `yaml:"wk"`
	KThreshold int     `yaml:"k_threshold"`
	Penalty    float64 `yaml:"penalty"`

	// Metrics and ranking
	MetricsSampleCap  int     `yaml:"metrics_sample_cap"`
	MinOpportunityGap float64 `yaml:"min_opportunity_gap"`

	// Execution
	Seed       int64    `yaml:"seed"`
	Workers    int      `yaml:"workers"`
	ScanBudget Duration `yaml:"scan_budget"`

	// Collaborators and plumbing
	SentimentModel     string `yaml:"sentiment_model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	DBPath             string `yaml:"db_path"`
	OutputDir          string `yaml:"output_dir"`
	TaxonomyPath       string `yaml:"taxonomy_path"`
	TopRepresentatives int    `yaml:"top_representatives"`
	StabilityRuns      int    `yaml:"stability_runs"`
}

// DefaultSettings returns the settings used when no settings.yaml is present.
func DefaultSettings() Settings {
	return Settings{
		NegativeMode:  ModeWeightedFusion,
		StarThreshold: 2,
		ConfThreshold: 0.6,
		WStar:         0.5,
		WSent:         0.5,
		KeepThreshold: 0.6,

		Algorithm:              AlgorithmPartition,
		KMin:                   3,
		KMax:                   12,
		Eps:                    0.25,
		MinSamples:             4,
		IncludeNoiseDownstream: false,

		WK:         0.7,
		KThreshold: 12,
		Penalty:    0.02,

		MetricsSampleCap:  2000,
		MinOpportunityGap: 0.05,

		Seed:    42,
		Workers: 4,

		SentimentModel:     "gpt-4o-mini",
		EmbeddingModel:     "text-embedding-3-large",
		DBPath:             "reviews.db",
		OutputDir:          "outputs",
		TaxonomyPath:       "taxonomy.yaml",
		TopRepresentatives: 5,
		StabilityRuns:      5,
	}
}

// LoadSettings reads settings.yaml, falling back to defaults when the file does
// not exist. Values missing from the file keep their defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return s, nil
}

// Validate checks the full configuration surface before any stage runs.
func (s Settings) Validate() error {
	switch s.NegativeMode {
	case ModeStarOnly, ModeSentimentOnly, ModeWeightedFusion:
	default:
		return &InvalidConfigurationError{Field: "negative_mode", Reason: fmt.Sprintf("must be one of STAR_ONLY, SENTIMENT_ONLY, WEIGHTED_FUSION (got %q)", s.NegativeMode)}
	}
	if s.StarThreshold < 1 || s.StarThreshold > 5 {
		return &InvalidConfigurationError{Field: "star_threshold", Reason: "must be in [1,5]"}
	}
	if s.ConfThreshold < 0 || s.ConfThreshold > 1 {
		return &InvalidConfigurationError{Field: "conf_threshold", Reason: "must be in [0,1]"}
	}
	if s.WStar < 0 || s.WSent < 0 {
		return &InvalidConfigurationError{Field: "w_star/w_sent", Reason: "must be non-negative"}
	}
	if s.WStar+s.WSent == 0 && s.NegativeMode == ModeWeightedFusion {
		return &InvalidConfigurationError{Field: "w_star/w_sent", Reason: "must not both be zero under WEIGHTED_FUSION"}
	}
	if s.KeepThreshold < 0 {
		return &InvalidConfigurationError{Field: "keep_threshold", Reason: "must be non-negative"}
	}
	switch s.Algorithm {
	case AlgorithmPartition, AlgorithmDensity, AlgorithmHierarchical:
	default:
		return &InvalidConfigurationError{Field: "algorithm", Reason: fmt.Sprintf("must be one of PARTITION, DENSITY, HIERARCHICAL (got %q)", s.Algorithm)}
	}
	if s.KMin < 2 {
		return &InvalidConfigurationError{Field: "k_min", Reason: "must be at least 2"}
	}
	if s.KMax < s.KMin {
		return &InvalidConfigurationError{Field: "k_max", Reason: "must be >= k_min"}
	}
	if s.Algorithm == AlgorithmDensity {
		if s.Eps <= 0 {
			return &InvalidConfigurationError{Field: "eps", Reason: "must be positive"}
		}
		if s.MinSamples < 1 {
			return &InvalidConfigurationError{Field: "min_samples", Reason: "must be at least 1"}
		}
	}
	if s.WK < 0 || s.WK > 1 {
		return &InvalidConfigurationError{Field: "wk", Reason: "must be in [0,1]"}
	}
	if s.KThreshold < 0 {
		return &InvalidConfigurationError{Field: "k_threshold", Reason: "must be non-negative"}
	}
	if s.Penalty < 0 {
		return &InvalidConfigurationError{Field: "penalty", Reason: "must be non-negative"}
	}
	if s.MetricsSampleCap < 2 {
		return &InvalidConfigurationError{Field: "metrics_sample_cap", Reason: "must be at least 2"}
	}
	if s.MinOpportunityGap < 0 {
		return &InvalidConfigurationError{Field: "min_opportunity_gap", Reason: "must be non-negative"}
	}
	if s.Workers < 1 {
		return &InvalidConfigurationError{Field: "workers", Reason: "must be at least 1"}
	}
	return nil
}

// FilterConfig derives the negative-review filter parameters.
func (s Settings) FilterConfig() FilterConfig {
	return FilterConfig{
		Mode:          s.NegativeMode,
		StarThreshold: s.StarThreshold,
		ConfThreshold: s.ConfThreshold,
		WStar:         s.WStar,
		WSent:         s.WSent,
		KeepThreshold: s.KeepThreshold,
		Workers:       s.Workers,
	}
}

// ScanConfig derives the K-selector parameters.
func (s Settings) ScanConfig() KScanConfig {
	return KScanConfig{
		KMin:       s.KMin,
		KMax:       s.KMax,
		WK:         s.WK,
		KThreshold: s.KThreshold,
		Penalty:    s.Penalty,
		Seed:       s.Seed,
		Workers:    s.Workers,
		SampleCap:  s.MetricsSampleCap,
	}
}

// EvalOptions derives the metrics-evaluator parameters.
func (s Settings) EvalOptions() EvalOptions {
	return EvalOptions{
		ExcludeNoise:        !s.IncludeNoiseDownstream,
		SampleCap:           s.MetricsSampleCap,
		Seed:                s.Seed,
		ComputeDensityRatio: true,
	}
}
