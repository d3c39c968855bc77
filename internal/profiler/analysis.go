package profiler

import (
	"fmt"
	"sort"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// CompareBackends ranks the given backends for (taskType, modelID) using
// their stored profiles. Backends without a profile appear with a nil
// Performance and score 0; the winner is the best-scored profiled backend,
// empty when none is profiled.
func (p *Profiler) CompareBackends(taskType, modelID string, backendIDs []string) decisionapi.ComparisonResult {
	result := decisionapi.ComparisonResult{
		TaskType:   taskType,
		ModelID:    modelID,
		Comparison: make([]decisionapi.BackendComparison, 0, len(backendIDs)),
	}

	profiled := make(map[string]decisionapi.PerformanceProfile, len(backendIDs))
	var minLatency, maxThroughput float64
	for _, id := range backendIDs {
		prof, ok := p.Profile(id, taskType, modelID)
		if !ok {
			continue
		}
		profiled[id] = prof
		if minLatency == 0 || prof.MeanInferenceMs < minLatency {
			minLatency = prof.MeanInferenceMs
		}
		if prof.ThroughputPerSec > maxThroughput {
			maxThroughput = prof.ThroughputPerSec
		}
	}

	var winner string
	var winnerScore float64
	for _, id := range backendIDs {
		cmp := decisionapi.BackendComparison{BackendID: id}
		if prof, ok := profiled[id]; ok {
			pr := prof
			cmp.Performance = &pr
			cmp.Score = comparisonScore(prof, minLatency, maxThroughput)
			if winner == "" || cmp.Score > winnerScore {
				winner = id
				winnerScore = cmp.Score
			}
		}
		result.Comparison = append(result.Comparison, cmp)
	}
	result.Winner = winner

	sort.SliceStable(result.Comparison, func(i, j int) bool {
		return result.Comparison[i].Score > result.Comparison[j].Score
	})
	return result
}

// Scores are relative within one comparison: latency against the fastest,
// throughput against the highest, accuracy absolute.
func comparisonScore(prof decisionapi.PerformanceProfile, minLatency, maxThroughput float64) float64 {
	latScore := 1.0
	if prof.MeanInferenceMs > 0 && minLatency > 0 {
		latScore = minLatency / prof.MeanInferenceMs
	}
	tpScore := 0.0
	if maxThroughput > 0 {
		tpScore = prof.ThroughputPerSec / maxThroughput
	}
	return 0.35*latScore + 0.25*tpScore + 0.40*prof.Accuracy
}

var priorityRank = map[string]int{
	decisionapi.RecommendationCritical: 3,
	decisionapi.RecommendationHigh:     2,
	decisionapi.RecommendationMedium:   1,
	decisionapi.RecommendationLow:      0,
}

// Recommendations inspects every stored profile against the configured
// thresholds and emits suggestions sorted by priority, highest first.
func (p *Profiler) Recommendations() []decisionapi.Recommendation {
	p.mu.RLock()
	profiles := make([]decisionapi.PerformanceProfile, 0, len(p.profiles))
	for _, prof := range p.profiles {
		profiles = append(profiles, prof)
	}
	resources := make([]decisionapi.ResourceProfile, 0, len(p.resources))
	for _, rp := range p.resources {
		resources = append(resources, rp)
	}
	p.mu.RUnlock()

	var out []decisionapi.Recommendation
	for _, prof := range profiles {
		switch {
		case prof.MeanInferenceMs >= p.thresholds.CriticalInferenceMs:
			out = append(out, decisionapi.Recommendation{
				BackendID: prof.BackendID,
				Priority:  decisionapi.RecommendationCritical,
				Category:  "latency",
				Message:   fmt.Sprintf("%s averages %.0fms on %s/%s; move this workload to a faster backend", prof.BackendID, prof.MeanInferenceMs, prof.TaskType, prof.ModelID),
			})
		case prof.MeanInferenceMs >= p.thresholds.SlowInferenceMs:
			out = append(out, decisionapi.Recommendation{
				BackendID: prof.BackendID,
				Priority:  decisionapi.RecommendationHigh,
				Category:  "latency",
				Message:   fmt.Sprintf("%s averages %.0fms on %s/%s; consider a smaller model or batch size", prof.BackendID, prof.MeanInferenceMs, prof.TaskType, prof.ModelID),
			})
		}
		switch {
		case prof.MeanMemoryMB >= p.thresholds.CriticalMemoryMB:
			out = append(out, decisionapi.Recommendation{
				BackendID: prof.BackendID,
				Priority:  decisionapi.RecommendationCritical,
				Category:  "memory",
				Message:   fmt.Sprintf("%s uses %dMB for %s/%s; this exceeds the critical memory budget", prof.BackendID, prof.MeanMemoryMB, prof.TaskType, prof.ModelID),
			})
		case prof.MeanMemoryMB >= p.thresholds.HighMemoryMB:
			out = append(out, decisionapi.Recommendation{
				BackendID: prof.BackendID,
				Priority:  decisionapi.RecommendationMedium,
				Category:  "memory",
				Message:   fmt.Sprintf("%s uses %dMB for %s/%s; quantization would reduce the footprint", prof.BackendID, prof.MeanMemoryMB, prof.TaskType, prof.ModelID),
			})
		}
		if prof.Accuracy > 0 && prof.Accuracy < p.thresholds.LowAccuracy {
			out = append(out, decisionapi.Recommendation{
				BackendID: prof.BackendID,
				Priority:  decisionapi.RecommendationHigh,
				Category:  "accuracy",
				Message:   fmt.Sprintf("%s reports %.2f accuracy on %s/%s; a higher quality model is advised", prof.BackendID, prof.Accuracy, prof.TaskType, prof.ModelID),
			})
		}
		if prof.ThroughputPerSec > 0 && prof.ThroughputPerSec < p.thresholds.LowThroughput {
			out = append(out, decisionapi.Recommendation{
				BackendID: prof.BackendID,
				Priority:  decisionapi.RecommendationLow,
				Category:  "throughput",
				Message:   fmt.Sprintf("%s sustains %.2f inferences/sec on %s/%s", prof.BackendID, prof.ThroughputPerSec, prof.TaskType, prof.ModelID),
			})
		}
	}
	for _, rp := range resources {
		if rp.EfficiencyScore < p.thresholds.LowEfficiency {
			out = append(out, decisionapi.Recommendation{
				BackendID: rp.BackendID,
				Priority:  decisionapi.RecommendationMedium,
				Category:  "efficiency",
				Message:   fmt.Sprintf("%s efficiency is %.2f; resource use is high relative to delivered latency", rp.BackendID, rp.EfficiencyScore),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] > priorityRank[out[j].Priority]
	})
	return out
}

// RecommendationsFor narrows Recommendations to one backend.
func (p *Profiler) RecommendationsFor(backendID string) []decisionapi.Recommendation {
	all := p.Recommendations()
	out := make([]decisionapi.Recommendation, 0, len(all))
	for _, r := range all {
		if r.BackendID == backendID {
			out = append(out, r)
		}
	}
	return out
}
