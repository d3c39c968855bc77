package config

import (
	"testing"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

func TestParseMergesDefaults(t *testing.T) {
	raw := []byte("cache_ttl_ms: 1000\nweights:\n  performance: 0.5\n")
	cfg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.CacheTTLMs != 1000 {
		t.Fatalf("expected overridden cache ttl, got %d", cfg.CacheTTLMs)
	}
	if cfg.MonitorIntervalMs != 2000 {
		t.Fatalf("expected default monitor interval, got %d", cfg.MonitorIntervalMs)
	}
	if cfg.Weights[decisionapi.WeightPerformance] != 0.5 {
		t.Fatalf("expected overridden performance weight, got %f", cfg.Weights[decisionapi.WeightPerformance])
	}
	if cfg.Weights[decisionapi.WeightReliability] != 0.20 {
		t.Fatalf("expected default reliability weight, got %f", cfg.Weights[decisionapi.WeightReliability])
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte(":\n\t- bad")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseIgnoresUnknownWeightKeys(t *testing.T) {
	cfg, err := Parse([]byte("weights:\n  lunar_phase: 0.9\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := cfg.Weights["lunar_phase"]; ok {
		t.Fatalf("expected unknown weight key to be dropped")
	}
	if len(cfg.Weights) != len(decisionapi.DefaultWeights()) {
		t.Fatalf("expected canonical weight key set, got %v", cfg.Weights)
	}
}

func TestParseTracingSection(t *testing.T) {
	raw := []byte("tracing:\n  exporter: grpc\n  endpoint: otel-collector:4317\n  sampler: ratio\n  sampler_ratio: 4\n")
	cfg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Tracing.Exporter != "grpc" || cfg.Tracing.Endpoint != "otel-collector:4317" {
		t.Fatalf("unexpected tracing config: %+v", cfg.Tracing)
	}
	if cfg.Tracing.SamplerRatio != 1.0 {
		t.Fatalf("expected out-of-range sampler ratio reset to 1, got %f", cfg.Tracing.SamplerRatio)
	}
}

func TestLoadFromEnvTracingOverrides(t *testing.T) {
	t.Setenv("PHOTOSEARCH_DECISION_CONFIG_FILE", "")
	t.Setenv("PHOTOSEARCH_OTEL_EXPORTER", "stdout")
	t.Setenv("PHOTOSEARCH_OTEL_ENDPOINT", "collector:4317")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Tracing.Exporter != "stdout" || cfg.Tracing.Endpoint != "collector:4317" {
		t.Fatalf("env overrides not applied: %+v", cfg.Tracing)
	}
}

func TestNormalizedKeepsSetFields(t *testing.T) {
	cfg := Config{FairnessTolerance: 0.4, LearningRate: 0.1}
	n := cfg.Normalized()
	if n.FairnessTolerance != 0.4 || n.LearningRate != 0.1 {
		t.Fatalf("set fields must survive: %+v", n)
	}
	if n.UsageWindow != 50 || n.CacheTTLMs != 5000 {
		t.Fatalf("zero fields must default: %+v", n)
	}
	if len(n.Weights) != len(decisionapi.DefaultWeights()) {
		t.Fatalf("expected canonical weight key set, got %v", n.Weights)
	}
	if cfg.UsageWindow != 0 {
		t.Fatalf("Normalized must not mutate the receiver: %+v", cfg)
	}
}

func TestNormalizeClampsOutOfRangeValues(t *testing.T) {
	cfg, err := Parse([]byte("fairness_tolerance: 7\nlearning_rate: 3\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.FairnessTolerance != 0.05 {
		t.Fatalf("expected clamped fairness tolerance, got %f", cfg.FairnessTolerance)
	}
	if cfg.LearningRate != 0.02 {
		t.Fatalf("expected clamped learning rate, got %f", cfg.LearningRate)
	}
}
