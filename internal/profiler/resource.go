package profiler

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// Input sizes used for the scaling sweep, in bytes.
var sweepSizes = []int{16 * 1024, 128 * 1024, 1024 * 1024}

const sweepRunsPerSize = 3

// CreateResourceProfile sweeps inference across increasing input sizes and
// fits latency against log2(size) with least squares. The slope becomes
// LatencyScaling; the intercept is treated as fixed overhead.
func (p *Profiler) CreateResourceProfile(ctx context.Context, backendID string) (decisionapi.ResourceProfile, error) {
	ctx, span := observability.StartSpan(ctx, "profiler.resource_profile",
		attribute.String("backend.id", backendID),
	)
	defer span.End()

	adapter, ok := p.registry.Get(backendID)
	if !ok {
		return decisionapi.ResourceProfile{}, fmt.Errorf("backend %s is not registered", backendID)
	}
	desc := adapter.Descriptor()
	if len(desc.Capabilities) == 0 {
		return decisionapi.ResourceProfile{}, fmt.Errorf("backend %s declares no capabilities", backendID)
	}
	capability := desc.Capabilities[0]
	model := ""
	if len(capability.Models) > 0 {
		model = capability.Models[0]
	}
	if err := adapter.LoadModel(ctx, model); err != nil {
		return decisionapi.ResourceProfile{}, fmt.Errorf("load model for sweep: %w", err)
	}

	var xs, ys []float64
	var memMax int64
	var memAtSmallest int64
	var latencySum float64
	var runs int
	for _, size := range sweepSizes {
		for i := 0; i < sweepRunsPerSize; i++ {
			if err := ctx.Err(); err != nil {
				return decisionapi.ResourceProfile{}, err
			}
			resp, err := adapter.RunInference(ctx, decisionapi.InferenceRequest{
				Model: model,
				Input: syntheticInput(capability.TaskType, size),
			})
			if err != nil {
				continue
			}
			xs = append(xs, math.Log2(float64(size)))
			ys = append(ys, resp.DurationMs)
			latencySum += resp.DurationMs
			runs++
			if resp.MemoryMB > memMax {
				memMax = resp.MemoryMB
			}
			if size == sweepSizes[0] && memAtSmallest == 0 {
				memAtSmallest = resp.MemoryMB
			}
		}
	}
	if runs == 0 {
		return decisionapi.ResourceProfile{}, ErrProfilingFailed
	}

	slope, intercept := leastSquares(xs, ys)
	meanLatency := latencySum / float64(runs)

	rp := decisionapi.ResourceProfile{
		BackendID:       backendID,
		BaselineMemMB:   memAtSmallest,
		BaselineCPU:     desc.Requirements.MinCPUPercent,
		MemoryScaling:   memoryScaling(memAtSmallest, memMax),
		LatencyScaling:  slope,
		OverheadMs:      math.Max(intercept, 0),
		EfficiencyScore: p.efficiencyScore(meanLatency, memMax),
		CreatedAt:       time.Now().UTC(),
	}

	p.mu.Lock()
	p.resources[backendID] = rp
	p.mu.Unlock()

	p.logger.Info("resource profile created",
		"backend", backendID, "latency_scaling", slope, "efficiency", rp.EfficiencyScore)
	return rp, nil
}

// efficiencyScore blends threshold-relative latency and memory terms into
// [0,1]; 1 means fast and small, values drop toward 0 as either grows past
// its threshold.
func (p *Profiler) efficiencyScore(meanLatencyMs float64, memMB int64) float64 {
	latTerm := p.thresholds.SlowInferenceMs / (p.thresholds.SlowInferenceMs + math.Max(meanLatencyMs, 0))
	memTerm := float64(p.thresholds.HighMemoryMB) / float64(p.thresholds.HighMemoryMB+maxInt64(memMB, 0))
	return clamp01((latTerm + memTerm) / 2)
}

func memoryScaling(baseline, peak int64) float64 {
	if baseline <= 0 {
		return 0
	}
	return float64(peak-baseline) / float64(baseline)
}

func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
