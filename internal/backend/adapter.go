package backend

import (
	"context"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// Metrics is the adapter-level view the engine consults for scoring. It is
// distinct from profiler output, which is measured per (task type, model).
type Metrics struct {
	TotalInferences int64   `json:"total_inferences"`
	TotalFailures   int64   `json:"total_failures"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

// Adapter is the uniform surface every inference backend implements. The
// decision engine never dispatches inference through it; only IsAvailable,
// Health, and PerformanceMetrics are consulted on the decision path.
type Adapter interface {
	ID() string
	Descriptor() decisionapi.BackendDescriptor
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsAvailable() bool
	Health() decisionapi.BackendHealth
	LoadModel(ctx context.Context, modelID string) error
	UnloadModel(ctx context.Context, modelID string) error
	ListModels() []string
	RunInference(ctx context.Context, req decisionapi.InferenceRequest) (decisionapi.InferenceResponse, error)
	RunBatchInference(ctx context.Context, reqs []decisionapi.InferenceRequest) ([]decisionapi.InferenceResponse, error)
	OptimizeForTask(taskType string) error
	PerformanceMetrics() Metrics
}
