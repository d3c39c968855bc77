package engine

import (
	"fmt"
	"math"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

const (
	GoalSpeed      = "speed"
	GoalEfficiency = "efficiency"
	GoalBalance    = "balance"
)

const presetBlend = 0.7

// learn nudges the weights after one recorded outcome. Failures shift mass
// toward reliability; slow results toward performance; heavy memory use
// toward efficiency. Dissatisfied feedback amplifies the error signal.
func (e *Engine) learn(result decisionapi.TaskResult, fb *decisionapi.Feedback) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lr := e.cfg.LearningRate
	errSignal := 0.0
	if !result.Success {
		errSignal = 1.0
	}
	if fb != nil {
		errSignal = math.Max(errSignal, 1-clamp01(fb.Satisfaction))
	}

	if !result.Success {
		e.weights[decisionapi.WeightReliability] += lr
		e.weights[decisionapi.WeightPerformance] -= lr / 2
	} else if result.ProcessingTimeMs > e.cfg.Thresholds.SlowInferenceMs {
		e.weights[decisionapi.WeightPerformance] += lr
		errSignal = math.Max(errSignal, 0.5)
	}
	if result.MemoryUsedMB > e.cfg.Thresholds.HighMemoryMB {
		e.weights[decisionapi.WeightEfficiency] += lr
	}
	if errSignal > 0 && fb != nil && fb.Satisfaction < 0.5 {
		e.weights[decisionapi.WeightReliability] += lr * (1 - clamp01(fb.Satisfaction))
	}
	clampAndRenormalize(e.weights)

	e.iterations++
	e.errWindow = append(e.errWindow, errSignal)
	if len(e.errWindow) > errWindowSize {
		e.errWindow = e.errWindow[1:]
	}
}

// OptimizeWeights nudges the weights toward a named preset, blended with the
// current values so accumulated learning is not discarded. Weights stay in
// [0,1] with the key set unchanged, renormalized to sum 1.
func (e *Engine) OptimizeWeights(goal string) error {
	preset, err := presetFor(goal)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.weights {
		e.weights[k] = presetBlend*preset[k] + (1-presetBlend)*e.weights[k]
	}
	clampAndRenormalize(e.weights)
	e.selector.InvalidateCache()
	e.logger.Info("weights optimized", "goal", goal)
	return nil
}

func presetFor(goal string) (map[string]float64, error) {
	switch goal {
	case GoalSpeed:
		return map[string]float64{
			decisionapi.WeightPerformance: 0.45,
			decisionapi.WeightReliability: 0.15,
			decisionapi.WeightEfficiency:  0.10,
			decisionapi.WeightCapability:  0.10,
			decisionapi.WeightLoad:        0.15,
			decisionapi.WeightFairness:    0.05,
		}, nil
	case GoalEfficiency:
		return map[string]float64{
			decisionapi.WeightPerformance: 0.15,
			decisionapi.WeightReliability: 0.15,
			decisionapi.WeightEfficiency:  0.40,
			decisionapi.WeightCapability:  0.10,
			decisionapi.WeightLoad:        0.10,
			decisionapi.WeightFairness:    0.10,
		}, nil
	case GoalBalance:
		return decisionapi.DefaultWeights(), nil
	default:
		return nil, fmt.Errorf("optimize weights: unknown goal %q", goal)
	}
}

// learningProgress summarizes the error window. Trend is positive when the
// recent half of the window has fewer errors than the older half.
func (e *Engine) learningProgress() decisionapi.LearningProgress {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := decisionapi.LearningProgress{Iterations: e.iterations}
	n := len(e.errWindow)
	if n == 0 {
		p.Stability = 1
		p.ConvergenceRate = 1
		return p
	}

	half := n / 2
	if half > 0 {
		older := mean(e.errWindow[:half])
		recent := mean(e.errWindow[half:])
		p.AccuracyTrend = older - recent
	}

	recentN := n
	if recentN > 10 {
		recentN = 10
	}
	p.ConvergenceRate = clamp01(1 - mean(e.errWindow[n-recentN:]))
	p.Stability = clamp01(1 - stddev(e.errWindow))
	return p
}

func clampAndRenormalize(w map[string]float64) {
	var sum float64
	for k, v := range w {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		w[k] = v
		sum += v
	}
	if sum <= 0 {
		def := decisionapi.DefaultWeights()
		for k := range w {
			w[k] = def[k]
		}
		return
	}
	for k := range w {
		w[k] /= sum
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
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
