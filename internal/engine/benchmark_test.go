package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

func BenchmarkDecisionPath(b *testing.B) {
	n := envInt("PHOTOSEARCH_BENCH_BACKENDS", 20)
	cfgs := make([]backend.Config, 0, n)
	for i := 0; i < n; i++ {
		cfgs = append(cfgs, simConfig(fmt.Sprintf("b-%d", i), decisionapi.TaskEmbedding, float64(20+i), 256))
	}
	f := newFixture(b, nil, cfgs...)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tk := decisionapi.Task{
			ID:      fmt.Sprintf("bench-%d", i),
			Type:    decisionapi.TaskEmbedding,
			ModelID: "m1",
		}
		d, err := f.engine.MakeDecision(ctx, tk, decisionapi.Criteria{})
		if err != nil {
			b.Fatalf("decision: %v", err)
		}
		if err := f.engine.RecordTaskResult(ctx, tk.ID, d.Backend,
			decisionapi.TaskResult{Success: true, ProcessingTimeMs: 20}, nil); err != nil {
			b.Fatalf("record: %v", err)
		}
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
