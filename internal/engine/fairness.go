package engine

import (
	"fmt"

	"github.com/pranaysuyash/photo-search-sub010/internal/selector"
)

// fairnessPass may promote an underused backend over the raw top scorer.
// The promotion requires both a small score gap (within tolerance) and a
// materially lower recent usage share (at least disparity below the top's).
type fairnessPass struct {
	tolerance float64
	disparity float64
	shares    map[string]float64
	applied   bool
}

func (f *fairnessPass) apply(ranked []selector.Scored) ([]selector.Scored, []string) {
	if len(ranked) < 2 {
		return ranked, nil
	}
	top := ranked[0]
	topShare := f.shares[top.BackendID]
	for i := 1; i < len(ranked); i++ {
		c := ranked[i]
		scoreGap := top.Score - c.Score
		usageGap := topShare - f.shares[c.BackendID]
		if scoreGap <= f.tolerance && usageGap >= f.disparity {
			promoted := make([]selector.Scored, 0, len(ranked))
			promoted = append(promoted, c)
			promoted = append(promoted, ranked[:i]...)
			promoted = append(promoted, ranked[i+1:]...)
			f.applied = true
			return promoted, []string{
				fmt.Sprintf("fairness promotion: %s over %s (score gap %.3f within %.3f, usage gap %.2f above %.2f)",
					c.BackendID, top.BackendID, scoreGap, f.tolerance, usageGap, f.disparity),
			}
		}
	}
	return ranked, nil
}
