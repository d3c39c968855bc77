package profiler

import (
	"context"
	"errors"
	"testing"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/internal/config"
	"github.com/pranaysuyash/photo-search-sub010/internal/registry"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

func simConfig(id string, latencyMs float64, memMB int64, opts ...func(*backend.Config)) backend.Config {
	cfg := backend.Config{
		ID:   id,
		Name: id,
		Type: backend.TypeSim,
		Capabilities: []decisionapi.Capability{
			{
				TaskType:        decisionapi.TaskEmbedding,
				Models:          []string{"clip-vit-b32"},
				InferenceTimeMs: latencyMs,
				MemoryMB:        memMB,
				Accuracy:        0.9,
			},
		},
		Sim: backend.SimOptions{BaseLatencyMs: latencyMs, MemoryMB: memMB},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func newTestRegistry(t *testing.T, cfgs ...backend.Config) *registry.Registry {
	t.Helper()
	reg := registry.New(nil, nil)
	for _, cfg := range cfgs {
		a, err := backend.New(cfg)
		if err != nil {
			t.Fatalf("build adapter %s: %v", cfg.ID, err)
		}
		if err := reg.Register(context.Background(), a); err != nil {
			t.Fatalf("register %s: %v", cfg.ID, err)
		}
	}
	return reg
}

func newTestProfiler(t *testing.T, cfgs ...backend.Config) *Profiler {
	t.Helper()
	return New(Options{
		Registry:   newTestRegistry(t, cfgs...),
		Thresholds: config.Default().Thresholds,
	})
}

func TestProfileBackendAggregates(t *testing.T) {
	p := newTestProfiler(t, simConfig("local-cpu", 40, 256))

	prof, err := p.ProfileBackend(context.Background(), "local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32", 5)
	if err != nil {
		t.Fatalf("ProfileBackend: %v", err)
	}
	if prof.SampleSize != 5 || prof.FailedIterations != 0 {
		t.Fatalf("unexpected sample counts: %+v", prof)
	}
	if prof.MeanInferenceMs < 40 {
		t.Fatalf("mean below base latency: %v", prof.MeanInferenceMs)
	}
	if prof.ThroughputPerSec <= 0 {
		t.Fatalf("throughput not derived: %v", prof.ThroughputPerSec)
	}
	if prof.Accuracy != 0.9 {
		t.Fatalf("expected claimed accuracy, got %v", prof.Accuracy)
	}

	stored, ok := p.Profile("local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32")
	if !ok || stored.SampleSize != 5 {
		t.Fatalf("profile not stored: %+v ok=%v", stored, ok)
	}
}

func TestProfileBackendAllFailuresStoresNothing(t *testing.T) {
	p := newTestProfiler(t, simConfig("broken", 40, 256, func(c *backend.Config) {
		c.Sim.FailAll = true
	}))

	_, err := p.ProfileBackend(context.Background(), "broken", decisionapi.TaskEmbedding, "clip-vit-b32", 4)
	if !errors.Is(err, ErrProfilingFailed) {
		t.Fatalf("expected ErrProfilingFailed, got %v", err)
	}
	if _, ok := p.Profile("broken", decisionapi.TaskEmbedding, "clip-vit-b32"); ok {
		t.Fatalf("failed profiling must not store a profile")
	}
}

func TestProfileBackendUnknownCapability(t *testing.T) {
	p := newTestProfiler(t, simConfig("local-cpu", 40, 256))
	if _, err := p.ProfileBackend(context.Background(), "local-cpu", decisionapi.TaskOCR, "trocr", 3); err == nil {
		t.Fatalf("expected error for unsupported task type")
	}
}

func TestCompareBackendsWinnerAndNilPerformance(t *testing.T) {
	p := newTestProfiler(t,
		simConfig("fast", 20, 256),
		simConfig("slow", 200, 512),
		simConfig("unprofiled", 50, 256),
	)
	ctx := context.Background()
	for _, id := range []string{"fast", "slow"} {
		if _, err := p.ProfileBackend(ctx, id, decisionapi.TaskEmbedding, "clip-vit-b32", 4); err != nil {
			t.Fatalf("profile %s: %v", id, err)
		}
	}

	res := p.CompareBackends(decisionapi.TaskEmbedding, "clip-vit-b32", []string{"fast", "slow", "unprofiled"})
	if res.Winner != "fast" {
		t.Fatalf("expected fast to win, got %q", res.Winner)
	}
	for _, cmp := range res.Comparison {
		if cmp.BackendID == "unprofiled" {
			if cmp.Performance != nil || cmp.Score != 0 {
				t.Fatalf("unprofiled backend must carry nil performance: %+v", cmp)
			}
		}
	}
}

func TestCompareBackendsNoProfilesNoWinner(t *testing.T) {
	p := newTestProfiler(t, simConfig("a", 20, 256))
	res := p.CompareBackends(decisionapi.TaskEmbedding, "clip-vit-b32", []string{"a"})
	if res.Winner != "" {
		t.Fatalf("expected empty winner, got %q", res.Winner)
	}
}

func TestCreateResourceProfile(t *testing.T) {
	p := newTestProfiler(t, simConfig("local-cpu", 40, 256))
	rp, err := p.CreateResourceProfile(context.Background(), "local-cpu")
	if err != nil {
		t.Fatalf("CreateResourceProfile: %v", err)
	}
	if rp.EfficiencyScore < 0 || rp.EfficiencyScore > 1 {
		t.Fatalf("efficiency out of range: %v", rp.EfficiencyScore)
	}
	if rp.BaselineMemMB != 256 {
		t.Fatalf("unexpected baseline memory: %v", rp.BaselineMemMB)
	}
	if _, ok := p.ResourceProfile("local-cpu"); !ok {
		t.Fatalf("resource profile not stored")
	}
}

func TestRecommendationsSortedByPriority(t *testing.T) {
	slow := simConfig("slow", 3000, 8192)
	slow.Capabilities[0].Accuracy = 0.5
	p := newTestProfiler(t, slow)

	if _, err := p.ProfileBackend(context.Background(), "slow", decisionapi.TaskEmbedding, "clip-vit-b32", 3); err != nil {
		t.Fatalf("profile: %v", err)
	}
	recs := p.Recommendations()
	if len(recs) == 0 {
		t.Fatalf("expected recommendations for a slow, heavy, inaccurate backend")
	}
	if recs[0].Priority != decisionapi.RecommendationCritical {
		t.Fatalf("expected critical recommendation first, got %+v", recs[0])
	}
	for i := 1; i < len(recs); i++ {
		if priorityRank[recs[i].Priority] > priorityRank[recs[i-1].Priority] {
			t.Fatalf("recommendations not sorted by priority: %+v", recs)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestProfiler(t, simConfig("local-cpu", 40, 256))
	ctx := context.Background()
	if _, err := src.ProfileBackend(ctx, "local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32", 4); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if _, err := src.CreateResourceProfile(ctx, "local-cpu"); err != nil {
		t.Fatalf("resource profile: %v", err)
	}

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := newTestProfiler(t, simConfig("local-cpu", 40, 256))
	if err := dst.Import(data); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, ok := dst.Profile("local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32")
	want, _ := src.Profile("local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32")
	if !ok || got.MeanInferenceMs != want.MeanInferenceMs || got.SampleSize != want.SampleSize {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if _, ok := dst.ResourceProfile("local-cpu"); !ok {
		t.Fatalf("resource profile missing after import")
	}
}

func TestImportInvalidDocumentLeavesStateUntouched(t *testing.T) {
	p := newTestProfiler(t, simConfig("local-cpu", 40, 256))
	if _, err := p.ProfileBackend(context.Background(), "local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32", 3); err != nil {
		t.Fatalf("profile: %v", err)
	}

	if err := p.Import([]byte("{not json")); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := p.Import([]byte(`{"schema_version":99,"profiles":[]}`)); err == nil {
		t.Fatalf("expected schema version error")
	}
	if _, ok := p.Profile("local-cpu", decisionapi.TaskEmbedding, "clip-vit-b32"); !ok {
		t.Fatalf("existing profile lost after failed import")
	}
}

func TestImportEmptyDocumentIsNoop(t *testing.T) {
	p := newTestProfiler(t, simConfig("local-cpu", 40, 256))
	if err := p.Import([]byte(`{"schema_version":1,"profiles":[]}`)); err != nil {
		t.Fatalf("empty import should succeed: %v", err)
	}
}
