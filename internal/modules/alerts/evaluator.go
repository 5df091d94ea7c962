package alerts

import (
	"github.com/aristath/alertmonitor/internal/domain"
)

// Evaluator runs the four rule families over a pair of snapshots.
// Results are ordered performance, holding, risk, AI so that output is deterministic.
type Evaluator struct {
	dedup *DedupCache
}

// NewEvaluator creates an evaluator backed by the given dedup cache
func NewEvaluator(dedup *DedupCache) *Evaluator {
	return &Evaluator{dedup: dedup}
}

// Evaluate returns the alerts produced by current compared with previous.
// previous must be non-nil; the first snapshot of a portfolio is a baseline and is not evaluated.
func (e *Evaluator) Evaluate(current, previous *domain.PortfolioSnapshot, th Thresholds) []Alert {
	var out []Alert
	out = append(out, evaluatePerformance(current, previous, th.Performance)...)
	out = append(out, evaluateHoldings(current, previous, th.Holding)...)
	out = append(out, evaluateConcentration(current, th.Risk)...)
	out = append(out, evaluateAI(current, th.AI, e.dedup)...)
	return out
}
