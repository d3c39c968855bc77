package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// Thresholds drive profiler optimization recommendations.
type Thresholds struct {
	SlowInferenceMs     float64 `yaml:"slow_inference_ms"`
	CriticalInferenceMs float64 `yaml:"critical_inference_ms"`
	HighMemoryMB        int64   `yaml:"high_memory_mb"`
	CriticalMemoryMB    int64   `yaml:"critical_memory_mb"`
	LowAccuracy         float64 `yaml:"low_accuracy"`
	LowThroughput       float64 `yaml:"low_throughput_per_sec"`
	LowEfficiency       float64 `yaml:"low_efficiency"`
}

type Archive struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Tracing configures the OTel span exporter. An empty exporter disables
// tracing.
type Tracing struct {
	Exporter     string            `yaml:"exporter"`
	Endpoint     string            `yaml:"endpoint"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	UseTLS       bool              `yaml:"use_tls"`
	Sampler      string            `yaml:"sampler"`
	SamplerRatio float64           `yaml:"sampler_ratio"`
	Environment  string            `yaml:"environment"`
}

// Config carries every tunable constant of the decision subsystem. All
// defaults are documented here instead of living as magic numbers at call
// sites.
type Config struct {
	// MonitorIntervalMs is the resource sampling cadence; snapshots older
	// than twice this are flagged stale on decisions.
	MonitorIntervalMs int `yaml:"monitor_interval_ms"`
	// CacheTTLMs bounds how long identical selection requests reuse a
	// cached decision.
	CacheTTLMs int `yaml:"cache_ttl_ms"`
	// FairnessTolerance is the absolute score gap within which an underused
	// backend may be promoted over the top-scored one.
	FairnessTolerance float64 `yaml:"fairness_tolerance"`
	// UsageDisparity is the minimum recent-usage-share gap that triggers a
	// fairness promotion.
	UsageDisparity float64 `yaml:"usage_disparity"`
	// UsageWindow is how many recent decisions count toward usage shares.
	UsageWindow int `yaml:"usage_window"`
	// NeutralPerformance scores candidates that have no profile yet.
	NeutralPerformance float64 `yaml:"neutral_performance"`
	// LearningRate scales per-outcome weight adjustments.
	LearningRate float64 `yaml:"learning_rate"`

	Weights    map[string]float64 `yaml:"weights,omitempty"`
	Thresholds Thresholds         `yaml:"thresholds"`
	Backends   []backend.Config   `yaml:"backends,omitempty"`
	Archive    Archive            `yaml:"archive,omitempty"`
	Tracing    Tracing            `yaml:"tracing,omitempty"`
}

func Default() Config {
	return Config{
		MonitorIntervalMs:  2000,
		CacheTTLMs:         5000,
		FairnessTolerance:  0.05,
		UsageDisparity:     0.20,
		UsageWindow:        50,
		NeutralPerformance: 0.5,
		LearningRate:       0.02,
		Weights:            decisionapi.DefaultWeights(),
		Thresholds: Thresholds{
			SlowInferenceMs:     500,
			CriticalInferenceMs: 2000,
			HighMemoryMB:        1024,
			CriticalMemoryMB:    4096,
			LowAccuracy:         0.7,
			LowThroughput:       1.0,
			LowEfficiency:       0.3,
		},
		Tracing: Tracing{SamplerRatio: 1.0},
	}
}

// LoadFromEnv reads PHOTOSEARCH_DECISION_CONFIG_FILE when set, otherwise
// returns defaults. Unset fields fall back to their defaults. The tracing
// exporter, endpoint, and environment accept env overrides so operators can
// redirect spans without editing the file.
func LoadFromEnv() (Config, error) {
	cfg := Default()
	path := strings.TrimSpace(os.Getenv("PHOTOSEARCH_DECISION_CONFIG_FILE"))
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read decision config: %w", err)
		}
		cfg, err = Parse(b)
		if err != nil {
			return Config{}, err
		}
	}
	if v := strings.TrimSpace(os.Getenv("PHOTOSEARCH_OTEL_EXPORTER")); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := strings.TrimSpace(os.Getenv("PHOTOSEARCH_OTEL_ENDPOINT")); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("PHOTOSEARCH_ENVIRONMENT")); v != "" {
		cfg.Tracing.Environment = v
	}
	return cfg, nil
}

func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse decision config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := Default()
	if c.MonitorIntervalMs <= 0 {
		c.MonitorIntervalMs = d.MonitorIntervalMs
	}
	if c.CacheTTLMs <= 0 {
		c.CacheTTLMs = d.CacheTTLMs
	}
	if c.FairnessTolerance <= 0 || c.FairnessTolerance >= 1 {
		c.FairnessTolerance = d.FairnessTolerance
	}
	if c.UsageDisparity <= 0 || c.UsageDisparity >= 1 {
		c.UsageDisparity = d.UsageDisparity
	}
	if c.UsageWindow <= 0 {
		c.UsageWindow = d.UsageWindow
	}
	if c.NeutralPerformance <= 0 || c.NeutralPerformance >= 1 {
		c.NeutralPerformance = d.NeutralPerformance
	}
	if c.LearningRate <= 0 || c.LearningRate >= 0.5 {
		c.LearningRate = d.LearningRate
	}
	if len(c.Weights) == 0 {
		c.Weights = decisionapi.DefaultWeights()
	} else {
		merged := decisionapi.DefaultWeights()
		for k, v := range c.Weights {
			if _, ok := merged[k]; ok && v >= 0 && v <= 1 {
				merged[k] = v
			}
		}
		c.Weights = merged
	}
	if c.Thresholds.SlowInferenceMs <= 0 {
		c.Thresholds.SlowInferenceMs = d.Thresholds.SlowInferenceMs
	}
	if c.Thresholds.CriticalInferenceMs <= 0 {
		c.Thresholds.CriticalInferenceMs = d.Thresholds.CriticalInferenceMs
	}
	if c.Thresholds.HighMemoryMB <= 0 {
		c.Thresholds.HighMemoryMB = d.Thresholds.HighMemoryMB
	}
	if c.Thresholds.CriticalMemoryMB <= 0 {
		c.Thresholds.CriticalMemoryMB = d.Thresholds.CriticalMemoryMB
	}
	if c.Thresholds.LowAccuracy <= 0 {
		c.Thresholds.LowAccuracy = d.Thresholds.LowAccuracy
	}
	if c.Thresholds.LowThroughput <= 0 {
		c.Thresholds.LowThroughput = d.Thresholds.LowThroughput
	}
	if c.Thresholds.LowEfficiency <= 0 {
		c.Thresholds.LowEfficiency = d.Thresholds.LowEfficiency
	}
	if c.Tracing.SamplerRatio <= 0 || c.Tracing.SamplerRatio > 1 {
		c.Tracing.SamplerRatio = d.Tracing.SamplerRatio
	}
}

// Normalized fills zero-valued fields with their defaults and leaves set
// fields alone.
func (c Config) Normalized() Config {
	c.normalize()
	return c
}

func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalMs) * time.Millisecond
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}
