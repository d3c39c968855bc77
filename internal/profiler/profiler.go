package profiler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pranaysuyash/photo-search-sub010/internal/config"
	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/internal/registry"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// ErrProfilingFailed means every measured iteration failed; nothing was
// recorded.
var ErrProfilingFailed = errors.New("profiling failed: no successful iterations")

const defaultIterations = 10

type Options struct {
	Registry   *registry.Registry
	Thresholds config.Thresholds
	Logger     hclog.Logger
	Metrics    *observability.Registry
}

// Profiler measures backends by running real inference through their
// adapters and aggregating the reported durations. Profiles are kept in
// memory, keyed by (backend, task type, model).
type Profiler struct {
	registry   *registry.Registry
	thresholds config.Thresholds
	logger     hclog.Logger
	metrics    *observability.Registry

	mu        sync.RWMutex
	profiles  map[string]decisionapi.PerformanceProfile
	resources map[string]decisionapi.ResourceProfile
}

func New(opts Options) *Profiler {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewRegistry()
	}
	return &Profiler{
		registry:   opts.Registry,
		thresholds: opts.Thresholds,
		logger:     logger.Named("profiler"),
		metrics:    metrics,
		profiles:   make(map[string]decisionapi.PerformanceProfile),
		resources:  make(map[string]decisionapi.ResourceProfile),
	}
}

func profileKey(backendID, taskType, modelID string) string {
	return backendID + "|" + taskType + "|" + modelID
}

// ProfileBackend runs iterations inferences plus one discarded warm-up and
// stores the aggregated profile. Failed iterations are excluded from the
// aggregates but counted in the profile.
func (p *Profiler) ProfileBackend(ctx context.Context, backendID, taskType, modelID string, iterations int) (decisionapi.PerformanceProfile, error) {
	ctx, span := observability.StartSpan(ctx, "profiler.profile_backend",
		attribute.String("backend.id", backendID),
		attribute.String("task.type", taskType),
		attribute.String("model.id", modelID),
	)
	defer span.End()

	if iterations <= 0 {
		iterations = defaultIterations
	}
	adapter, ok := p.registry.Get(backendID)
	if !ok {
		return decisionapi.PerformanceProfile{}, fmt.Errorf("backend %s is not registered", backendID)
	}
	capability, ok := p.registry.CapabilityFor(backendID, taskType, modelID)
	if !ok {
		return decisionapi.PerformanceProfile{}, fmt.Errorf("backend %s cannot serve %s/%s", backendID, taskType, modelID)
	}
	if err := adapter.LoadModel(ctx, modelID); err != nil {
		return decisionapi.PerformanceProfile{}, fmt.Errorf("load model %s on %s: %w", modelID, backendID, err)
	}

	req := decisionapi.InferenceRequest{Model: modelID, Input: syntheticInput(taskType, 64*1024)}

	// Warm-up run, discarded. A warm-up failure is not fatal.
	if _, err := adapter.RunInference(ctx, req); err != nil {
		p.logger.Debug("warm-up inference failed", "backend", backendID, "error", err)
	}

	var (
		durSum float64
		memSum int64
		okRuns int
		failed int
	)
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return decisionapi.PerformanceProfile{}, err
		}
		resp, err := adapter.RunInference(ctx, req)
		if err != nil {
			failed++
			continue
		}
		durSum += resp.DurationMs
		memSum += resp.MemoryMB
		okRuns++
	}
	if okRuns == 0 {
		p.metrics.IncCounter("profiling_failures_total", map[string]string{"backend": backendID}, 1)
		return decisionapi.PerformanceProfile{}, ErrProfilingFailed
	}

	prof := decisionapi.PerformanceProfile{
		BackendID:        backendID,
		TaskType:         taskType,
		ModelID:          modelID,
		MeanInferenceMs:  durSum / float64(okRuns),
		MeanMemoryMB:     memSum / int64(okRuns),
		Accuracy:         capability.Accuracy,
		SampleSize:       okRuns,
		FailedIterations: failed,
		UpdatedAt:        time.Now().UTC(),
	}
	if prof.MeanInferenceMs > 0 {
		prof.ThroughputPerSec = 1000.0 / prof.MeanInferenceMs
	}

	p.mu.Lock()
	p.profiles[profileKey(backendID, taskType, modelID)] = prof
	p.mu.Unlock()

	p.metrics.ObserveDuration("profile_mean_inference_ms", map[string]string{"backend": backendID}, prof.MeanInferenceMs)
	p.logger.Info("backend profiled",
		"backend", backendID, "task_type", taskType, "model", modelID,
		"mean_ms", prof.MeanInferenceMs, "samples", okRuns, "failed", failed)
	return prof, nil
}

// Profile returns the stored profile for the triple, if any.
func (p *Profiler) Profile(backendID, taskType, modelID string) (decisionapi.PerformanceProfile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.profiles[profileKey(backendID, taskType, modelID)]
	return prof, ok
}

// BestProfile returns the stored profile with the lowest mean latency for
// (taskType, modelID) across backends.
func (p *Profiler) BestProfile(taskType, modelID string) (decisionapi.PerformanceProfile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best decisionapi.PerformanceProfile
	found := false
	for _, prof := range p.profiles {
		if prof.TaskType != taskType || prof.ModelID != modelID {
			continue
		}
		if !found || prof.MeanInferenceMs < best.MeanInferenceMs {
			best = prof
			found = true
		}
	}
	return best, found
}

func (p *Profiler) Profiles() []decisionapi.PerformanceProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]decisionapi.PerformanceProfile, 0, len(p.profiles))
	for _, prof := range p.profiles {
		out = append(out, prof)
	}
	return out
}

func (p *Profiler) ResourceProfile(backendID string) (decisionapi.ResourceProfile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rp, ok := p.resources[backendID]
	return rp, ok
}

// syntheticInput builds a deterministic payload shaped roughly like the
// given task's real input.
func syntheticInput(taskType string, n int) []byte {
	out := make([]byte, n)
	seed := byte(len(taskType))
	for i := range out {
		seed = seed*31 + byte(i)
		out[i] = seed
	}
	return out
}
