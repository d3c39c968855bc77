package engine

import (
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// Analytics snapshots decision totals, outcome rates, usage distribution,
// and learning progress. It reads copies of the history, never live state.
func (e *Engine) Analytics() decisionapi.Analytics {
	out := decisionapi.Analytics{
		UsageByBackend:  e.history.UsageCounts(),
		Learning:        e.learningProgress(),
		WeightsSnapshot: e.Weights(),
		FairnessScore:   1,
	}

	decisions := e.history.Decisions()
	out.TotalDecisions = len(decisions)
	if len(decisions) > 0 {
		var confSum float64
		for _, d := range decisions {
			confSum += d.Confidence
		}
		out.AverageConfidence = confSum / float64(len(decisions))
	}

	outcomes := e.history.Outcomes()
	if len(outcomes) > 0 {
		var successes int
		for _, o := range outcomes {
			if o.Success {
				successes++
			}
		}
		out.SuccessRate = float64(successes) / float64(len(outcomes))
	}

	// Fairness is 1 minus the widest usage-share gap over the recent window.
	// Registered backends that never received a decision count as share 0 so
	// total starvation is visible.
	shares := e.history.UsageShares(e.cfg.UsageWindow)
	if e.registry != nil {
		for _, desc := range e.registry.List() {
			if _, ok := shares[desc.ID]; !ok {
				shares[desc.ID] = 0
			}
		}
	}
	if len(shares) > 1 {
		minShare, maxShare := 1.0, 0.0
		for _, s := range shares {
			if s < minShare {
				minShare = s
			}
			if s > maxShare {
				maxShare = s
			}
		}
		out.FairnessScore = clamp01(1 - (maxShare - minShare))
	}

	if e.monitor != nil {
		out.MonitorErrors = e.monitor.Health().SampleErrors
	}
	return out
}
