package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/internal/config"
	"github.com/pranaysuyash/photo-search-sub010/internal/history"
	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/internal/profiler"
	"github.com/pranaysuyash/photo-search-sub010/internal/registry"
	"github.com/pranaysuyash/photo-search-sub010/internal/resources"
	"github.com/pranaysuyash/photo-search-sub010/internal/selector"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

const errWindowSize = 100

type Options struct {
	Config   config.Config
	Registry *registry.Registry
	Selector *selector.Selector
	Profiler *profiler.Profiler
	History  history.Store
	Monitor  *resources.Monitor
	Logger   hclog.Logger
	Metrics  *observability.Registry
}

// Engine is the externally facing entry point. It wraps the selector with
// fairness re-ranking, online weight learning, batch decisions, analytics,
// and model export/import. Weights are owned here exclusively; all weight
// and learning-state mutation is serialized behind the engine mutex.
type Engine struct {
	cfg      config.Config
	registry *registry.Registry
	selector *selector.Selector
	profiler *profiler.Profiler
	history  history.Store
	monitor  *resources.Monitor
	logger   hclog.Logger
	metrics  *observability.Registry

	mu         sync.Mutex
	weights    map[string]float64
	iterations int
	errWindow  []float64
}

func New(opts Options) *Engine {
	cfg := opts.Config.Normalized()
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewRegistry()
	}
	hist := opts.History
	if hist == nil {
		hist = history.NewMemoryStore()
	}
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	if len(weights) == 0 {
		weights = decisionapi.DefaultWeights()
	}
	return &Engine{
		cfg:      cfg,
		registry: opts.Registry,
		selector: opts.Selector,
		profiler: opts.Profiler,
		history:  hist,
		monitor:  opts.Monitor,
		logger:   logger.Named("engine"),
		metrics:  metrics,
		weights:  weights,
	}
}

// RegisterBackend initializes and registers the adapter. A failure leaves
// the registry untouched.
func (e *Engine) RegisterBackend(ctx context.Context, a backend.Adapter) error {
	if err := e.registry.Register(ctx, a); err != nil {
		return err
	}
	e.selector.InvalidateCache()
	return nil
}

// UnregisterBackend is idempotent. Decisions already issued for the backend
// stay valid; removal is deferred while any of them is still in flight.
func (e *Engine) UnregisterBackend(ctx context.Context, id string) error {
	if err := e.registry.Unregister(ctx, id); err != nil {
		return err
	}
	e.selector.InvalidateCache()
	return nil
}

// MakeDecision selects a backend for the task using the engine's current
// weights, then applies the fairness pass. The chosen backend is pinned in
// the registry until the task's result is recorded.
func (e *Engine) MakeDecision(ctx context.Context, task decisionapi.Task, criteria decisionapi.Criteria) (decisionapi.Decision, error) {
	ctx, span := observability.StartSpan(ctx, "engine.make_decision",
		attribute.String("task.id", task.ID),
		attribute.String("task.type", task.Type),
	)
	defer span.End()

	if task.ID == "" || task.Type == "" {
		return decisionapi.Decision{}, fmt.Errorf("make decision: task id and type are required")
	}
	if len(criteria.Weights) == 0 {
		criteria.Weights = e.Weights()
	}
	if criteria.UsageShares == nil {
		criteria.UsageShares = e.history.UsageShares(e.cfg.UsageWindow)
	}

	var snap decisionapi.ResourceSnapshot
	var stale bool
	if e.monitor != nil {
		snap = e.monitor.Current()
		stale = e.monitor.Stale(time.Now())
	}

	fp := &fairnessPass{
		tolerance: e.cfg.FairnessTolerance,
		disparity: e.cfg.UsageDisparity,
		shares:    criteria.UsageShares,
	}
	d, err := e.selector.Select(ctx, selector.Request{
		Task:          task,
		Criteria:      criteria,
		Snapshot:      snap,
		SnapshotStale: stale,
		Rerank:        fp.apply,
	})
	if err != nil {
		e.metrics.IncCounter("decision_errors_total", nil, 1)
		return decisionapi.Decision{}, err
	}

	// A cached decision was already recorded and pinned when first issued.
	if prior, ok := e.history.DecisionByTask(task.ID); !ok || prior.ID != d.ID {
		e.registry.Pin(d.Backend)
		e.history.AppendDecision(history.DecisionRecord{
			ID:              d.ID,
			TaskID:          task.ID,
			TaskType:        task.Type,
			ModelID:         task.ModelID,
			Backend:         d.Backend,
			Confidence:      d.Confidence,
			FairnessApplied: fp.applied,
			CreatedAt:       d.CreatedAt,
		})
	}
	return d, nil
}

// BatchItem carries the per-task result of MakeBatchDecisions. Exactly one
// of Decision and Err is meaningful.
type BatchItem struct {
	Decision decisionapi.Decision
	Err      error
}

// MakeBatchDecisions decides every task independently. One task's failure
// never aborts the batch; the result slice matches the input length and
// order.
func (e *Engine) MakeBatchDecisions(ctx context.Context, tasks []decisionapi.Task, criteria decisionapi.Criteria) []BatchItem {
	ctx, span := observability.StartSpan(ctx, "engine.make_batch_decisions",
		attribute.Int("tasks", len(tasks)),
	)
	defer span.End()

	out := make([]BatchItem, len(tasks))
	for i, task := range tasks {
		d, err := e.MakeDecision(ctx, task, criteria)
		if err != nil {
			out[i] = BatchItem{Err: err}
			continue
		}
		out[i] = BatchItem{Decision: d}
	}
	return out
}

// MakeMultipleDecisions returns up to n decisions over distinct backends,
// best first, for load-spreading callers. Results are fresh and not recorded
// in history; the caller reports the decision it actually executed through
// RecordTaskResult after a MakeDecision for that task.
func (e *Engine) MakeMultipleDecisions(ctx context.Context, task decisionapi.Task, criteria decisionapi.Criteria, n int) ([]decisionapi.Decision, error) {
	ctx, span := observability.StartSpan(ctx, "engine.make_multiple_decisions",
		attribute.String("task.id", task.ID),
		attribute.Int("n", n),
	)
	defer span.End()

	if task.ID == "" || task.Type == "" {
		return nil, fmt.Errorf("make multiple decisions: task id and type are required")
	}
	if len(criteria.Weights) == 0 {
		criteria.Weights = e.Weights()
	}
	if criteria.UsageShares == nil {
		criteria.UsageShares = e.history.UsageShares(e.cfg.UsageWindow)
	}

	var snap decisionapi.ResourceSnapshot
	var stale bool
	if e.monitor != nil {
		snap = e.monitor.Current()
		stale = e.monitor.Stale(time.Now())
	}

	fp := &fairnessPass{
		tolerance: e.cfg.FairnessTolerance,
		disparity: e.cfg.UsageDisparity,
		shares:    criteria.UsageShares,
	}
	return e.selector.SelectMultiple(ctx, selector.Request{
		Task:          task,
		Criteria:      criteria,
		Snapshot:      snap,
		SnapshotStale: stale,
		Rerank:        fp.apply,
	}, n)
}

// RecordTaskResult appends the outcome and feeds it into weight learning.
// It never fails for well-formed input; an unknown task id is logged and
// absorbed.
func (e *Engine) RecordTaskResult(ctx context.Context, taskID, backendID string, result decisionapi.TaskResult, fb *decisionapi.Feedback) error {
	_, span := observability.StartSpan(ctx, "engine.record_task_result",
		attribute.String("task.id", taskID),
	)
	defer span.End()

	if taskID == "" {
		return fmt.Errorf("record task result: task id is required")
	}

	rec, known := e.history.DecisionByTask(taskID)
	if known {
		backendID = rec.Backend
		e.registry.Unpin(rec.Backend)
	} else {
		e.logger.Warn("result for unknown decision", "task", taskID, "backend", backendID)
	}

	outcome := history.OutcomeRecord{
		TaskID:           taskID,
		Backend:          backendID,
		Success:          result.Success,
		ProcessingTimeMs: result.ProcessingTimeMs,
		MemoryUsedMB:     result.MemoryUsedMB,
		CreatedAt:        time.Now().UTC(),
	}
	if fb != nil {
		outcome.Satisfaction = fb.Satisfaction
		outcome.HasFeedback = true
	}
	e.history.AppendOutcome(outcome)
	e.metrics.IncCounter("task_results_total", map[string]string{"success": fmt.Sprint(result.Success)}, 1)

	e.learn(result, fb)
	return nil
}

// Weights returns a copy of the current scoring coefficients.
func (e *Engine) Weights() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		out[k] = v
	}
	return out
}

// UpdateWeights merges partial coefficients into the current weights.
// Unknown keys are ignored; the result is clamped to [0,1] and renormalized
// to sum 1.
func (e *Engine) UpdateWeights(partial map[string]float64) error {
	if len(partial) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range partial {
		if _, ok := e.weights[k]; !ok {
			continue
		}
		e.weights[k] = v
	}
	clampAndRenormalize(e.weights)
	e.selector.InvalidateCache()
	return nil
}
