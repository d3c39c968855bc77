package decisionapi

import "time"

// Task types served by the inference backends of the photo library.
const (
	TaskFaceDetection  = "face_detection"
	TaskEmbedding      = "embedding"
	TaskClassification = "classification"
	TaskOCR            = "ocr"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Canonical scoring weight keys. OptimizeWeights never adds or removes keys.
const (
	WeightPerformance = "performance"
	WeightReliability = "reliability"
	WeightEfficiency  = "efficiency"
	WeightFairness    = "fairness"
	WeightCapability  = "capability"
	WeightLoad        = "load"
)

type ResourceRequirements struct {
	MinMemoryMB     int64   `json:"min_memory_mb"`
	MaxMemoryMB     int64   `json:"max_memory_mb"`
	OptimalMemoryMB int64   `json:"optimal_memory_mb"`
	MinCPUPercent   float64 `json:"min_cpu_percent"`
	MaxCPUPercent   float64 `json:"max_cpu_percent"`
	OptimalCPU      float64 `json:"optimal_cpu_percent"`
}

// Capability declares one (task type x models x formats) combination a
// backend can serve, with the performance the backend claims for it.
type Capability struct {
	TaskType        string   `json:"task_type"`
	Models          []string `json:"models"`
	InputFormats    []string `json:"input_formats,omitempty"`
	OutputFormats   []string `json:"output_formats,omitempty"`
	InferenceTimeMs float64  `json:"inference_time_ms"`
	MemoryMB        int64    `json:"memory_mb"`
	Accuracy        float64  `json:"accuracy"`
}

type BackendHealth struct {
	Status            string    `json:"status"`
	ErrorRate         float64   `json:"error_rate"`
	ResponseTimeMs    float64   `json:"response_time_ms"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	ActiveConnections int       `json:"active_connections"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryMB          int64     `json:"memory_mb"`
	LastChecked       time.Time `json:"last_checked"`
}

type BackendDescriptor struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Capabilities []Capability         `json:"capabilities"`
	Requirements ResourceRequirements `json:"requirements"`
	Health       BackendHealth        `json:"health"`
	// NonMergeable descriptors refuse re-registration under the same id
	// with a different capability set.
	NonMergeable bool      `json:"non_mergeable,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Task is immutable once submitted; it exists for one decision cycle.
type Task struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	ModelID      string               `json:"model_id"`
	InputFormat  string               `json:"input_format,omitempty"`
	InputSize    int64                `json:"input_size_bytes,omitempty"`
	Priority     string               `json:"priority,omitempty"`
	Requirements ResourceRequirements `json:"requirements,omitempty"`
}

type NetworkQuality struct {
	Online        bool    `json:"online"`
	BandwidthMbps float64 `json:"bandwidth_mbps"`
	LatencyMs     float64 `json:"latency_ms"`
	Reliability   float64 `json:"reliability"`
}

// ResourceSnapshot is a point-in-time read; it is never mutated, only
// superseded by a newer snapshot.
type ResourceSnapshot struct {
	TotalMemoryMB      int64          `json:"total_memory_mb"`
	AvailableMemoryMB  int64          `json:"available_memory_mb"`
	CPUCount           int            `json:"cpu_count"`
	CPUUtilization     float64        `json:"cpu_utilization"`
	TotalStorageMB     int64          `json:"total_storage_mb"`
	AvailableStorageMB int64          `json:"available_storage_mb"`
	Network            NetworkQuality `json:"network"`
	SampledAt          time.Time      `json:"sampled_at"`
}

type EstimatedPerformance struct {
	InferenceTimeMs float64 `json:"inference_time_ms"`
	MemoryMB        int64   `json:"memory_mb"`
	Accuracy        float64 `json:"accuracy"`
}

type Decision struct {
	ID         string               `json:"id"`
	TaskID     string               `json:"task_id"`
	Backend    string               `json:"backend"`
	Confidence float64              `json:"confidence"`
	Fallbacks  []string             `json:"fallbacks"`
	Reasoning  []string             `json:"reasoning"`
	Estimated  EstimatedPerformance `json:"estimated_performance"`
	Stale      bool                 `json:"stale_resources,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Criteria tunes one selection call. Zero value means engine defaults.
type Criteria struct {
	Weights            map[string]float64 `json:"weights,omitempty"`
	ExcludeBackends    []string           `json:"exclude_backends,omitempty"`
	MaxInferenceTimeMs float64            `json:"max_inference_time_ms,omitempty"`
	MaxMemoryMB        int64              `json:"max_memory_mb,omitempty"`
	IgnoreResources    bool               `json:"ignore_resources,omitempty"`
	Load               map[string]int     `json:"load,omitempty"`
	UsageShares        map[string]float64 `json:"usage_shares,omitempty"`
}

type TaskResult struct {
	Success          bool    `json:"success"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	MemoryUsedMB     int64   `json:"memory_used_mb"`
	Error            string  `json:"error,omitempty"`
}

type Feedback struct {
	Satisfaction float64 `json:"satisfaction"`
}

// PerformanceProfile aggregates measured statistics for one
// (backend, task type, model) triple.
type PerformanceProfile struct {
	BackendID        string    `json:"backend_id"`
	TaskType         string    `json:"task_type"`
	ModelID          string    `json:"model_id"`
	MeanInferenceMs  float64   `json:"mean_inference_ms"`
	MeanMemoryMB     int64     `json:"mean_memory_mb"`
	ThroughputPerSec float64   `json:"throughput_per_sec"`
	Accuracy         float64   `json:"accuracy"`
	SampleSize       int       `json:"sample_size"`
	FailedIterations int       `json:"failed_iterations"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ResourceProfile struct {
	BackendID       string    `json:"backend_id"`
	BaselineMemMB   int64     `json:"baseline_memory_mb"`
	BaselineCPU     float64   `json:"baseline_cpu_percent"`
	MemoryScaling   float64   `json:"memory_scaling"`
	LatencyScaling  float64   `json:"latency_scaling"`
	OverheadMs      float64   `json:"overhead_ms"`
	EfficiencyScore float64   `json:"efficiency_score"`
	CreatedAt       time.Time `json:"created_at"`
}

const (
	RecommendationCritical = "critical"
	RecommendationHigh     = "high"
	RecommendationMedium   = "medium"
	RecommendationLow      = "low"
)

type Recommendation struct {
	BackendID string `json:"backend_id"`
	Priority  string `json:"priority"`
	Category  string `json:"category"`
	Message   string `json:"message"`
}

type BackendComparison struct {
	BackendID   string              `json:"backend_id"`
	Performance *PerformanceProfile `json:"performance"`
	Score       float64             `json:"score"`
}

// ComparisonResult declares the winner across available profiles. Winner is
// empty when no compared backend has a profile.
type ComparisonResult struct {
	TaskType   string              `json:"task_type"`
	ModelID    string              `json:"model_id"`
	Comparison []BackendComparison `json:"comparison"`
	Winner     string              `json:"winner,omitempty"`
}

type InferenceRequest struct {
	Model  string `json:"model"`
	Format string `json:"format,omitempty"`
	Input  []byte `json:"input"`
}

type InferenceResponse struct {
	Output     []byte  `json:"output"`
	Format     string  `json:"format,omitempty"`
	DurationMs float64 `json:"duration_ms"`
	MemoryMB   int64   `json:"memory_mb"`
}

type LearningProgress struct {
	Iterations      int     `json:"iterations"`
	AccuracyTrend   float64 `json:"accuracy_trend"`
	ConvergenceRate float64 `json:"convergence_rate"`
	Stability       float64 `json:"stability"`
}

type Analytics struct {
	TotalDecisions    int                `json:"total_decisions"`
	AverageConfidence float64            `json:"average_confidence"`
	SuccessRate       float64            `json:"success_rate"`
	UsageByBackend    map[string]int     `json:"usage_by_backend"`
	FairnessScore     float64            `json:"fairness_score"`
	Learning          LearningProgress   `json:"learning"`
	MonitorErrors     int64              `json:"monitor_errors,omitempty"`
	WeightsSnapshot   map[string]float64 `json:"weights,omitempty"`
}

// DefaultWeights returns the balanced scoring coefficients. Values sum to 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		WeightPerformance: 0.30,
		WeightReliability: 0.20,
		WeightEfficiency:  0.20,
		WeightCapability:  0.15,
		WeightLoad:        0.10,
		WeightFairness:    0.05,
	}
}
