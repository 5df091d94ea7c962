package alerts

import (
	"fmt"
	"math"
)

// Fixed limits that are not configurable per portfolio
const (
	valueSwingPercent          = 5.0
	valueSwingHighPercent      = 10.0
	priceChangeHighPercent     = 15.0
	portfolioImpactPercent     = 2.0
	portfolioImpactHighPercent = 5.0
	concentrationHighWeight    = 0.5
	rebalancePercentChange     = 5.0
)

// PerformanceThresholds are portfolio-level limits, in percent
type PerformanceThresholds struct {
	DailyGainPercent float64 `json:"dailyGainPercent"`
	DailyLossPercent float64 `json:"dailyLossPercent"`
	TotalGainPercent float64 `json:"totalGainPercent"`
}

// HoldingThresholds are per-holding limits, in percent
type HoldingThresholds struct {
	PriceChangePercent float64 `json:"priceChangePercent"`
}

// AIThresholds are limits applied to the AI intelligence block
type AIThresholds struct {
	RegimeChangeConfidence float64 `json:"regimeChangeConfidence"`
	PredictionConfidence   float64 `json:"predictionConfidence"`
	SentimentShift         float64 `json:"sentimentShift"`
}

// RiskThresholds are concentration limits, as a weight fraction
type RiskThresholds struct {
	ConcentrationThreshold float64 `json:"concentrationThreshold"`
}

// Thresholds is the effective rule configuration for one portfolio
type Thresholds struct {
	Performance PerformanceThresholds `json:"performance"`
	Holding     HoldingThresholds     `json:"holding"`
	AI          AIThresholds          `json:"ai"`
	Risk        RiskThresholds        `json:"risk"`
}

// DefaultThresholds returns the thresholds used when a portfolio has no overrides
func DefaultThresholds() Thresholds {
	return Thresholds{
		Performance: PerformanceThresholds{
			DailyGainPercent: 5.0,
			DailyLossPercent: -3.0,
			TotalGainPercent: 20.0,
		},
		Holding: HoldingThresholds{
			PriceChangePercent: 5.0,
		},
		AI: AIThresholds{
			RegimeChangeConfidence: 0.7,
			PredictionConfidence:   0.8,
			SentimentShift:         0.2,
		},
		Risk: RiskThresholds{
			ConcentrationThreshold: 0.25,
		},
	}
}

// ThresholdsPatch is a partial override. Nil fields keep the default value.
type ThresholdsPatch struct {
	Performance *PerformancePatch `json:"performance,omitempty"`
	Holding     *HoldingPatch     `json:"holding,omitempty"`
	AI          *AIPatch          `json:"ai,omitempty"`
	Risk        *RiskPatch        `json:"risk,omitempty"`
}

// PerformancePatch overrides PerformanceThresholds fields
type PerformancePatch struct {
	DailyGainPercent *float64 `json:"dailyGainPercent,omitempty"`
	DailyLossPercent *float64 `json:"dailyLossPercent,omitempty"`
	TotalGainPercent *float64 `json:"totalGainPercent,omitempty"`
}

// HoldingPatch overrides HoldingThresholds fields
type HoldingPatch struct {
	PriceChangePercent *float64 `json:"priceChangePercent,omitempty"`
}

// AIPatch overrides AIThresholds fields
type AIPatch struct {
	RegimeChangeConfidence *float64 `json:"regimeChangeConfidence,omitempty"`
	PredictionConfidence   *float64 `json:"predictionConfidence,omitempty"`
	SentimentShift         *float64 `json:"sentimentShift,omitempty"`
}

// RiskPatch overrides RiskThresholds fields
type RiskPatch struct {
	ConcentrationThreshold *float64 `json:"concentrationThreshold,omitempty"`
}

// Merge applies the patch field by field over base
func (p *ThresholdsPatch) Merge(base Thresholds) Thresholds {
	if p == nil {
		return base
	}
	out := base

	if p.Performance != nil {
		setIf(&out.Performance.DailyGainPercent, p.Performance.DailyGainPercent)
		setIf(&out.Performance.DailyLossPercent, p.Performance.DailyLossPercent)
		setIf(&out.Performance.TotalGainPercent, p.Performance.TotalGainPercent)
	}
	if p.Holding != nil {
		setIf(&out.Holding.PriceChangePercent, p.Holding.PriceChangePercent)
	}
	if p.AI != nil {
		setIf(&out.AI.RegimeChangeConfidence, p.AI.RegimeChangeConfidence)
		setIf(&out.AI.PredictionConfidence, p.AI.PredictionConfidence)
		setIf(&out.AI.SentimentShift, p.AI.SentimentShift)
	}
	if p.Risk != nil {
		setIf(&out.Risk.ConcentrationThreshold, p.Risk.ConcentrationThreshold)
	}
	return out
}

// Combine returns a patch where fields set in next override fields set in p
func (p *ThresholdsPatch) Combine(next *ThresholdsPatch) *ThresholdsPatch {
	out := &ThresholdsPatch{}
	for _, src := range []*ThresholdsPatch{p, next} {
		if src == nil {
			continue
		}
		if src.Performance != nil {
			if out.Performance == nil {
				out.Performance = &PerformancePatch{}
			}
			pickIf(&out.Performance.DailyGainPercent, src.Performance.DailyGainPercent)
			pickIf(&out.Performance.DailyLossPercent, src.Performance.DailyLossPercent)
			pickIf(&out.Performance.TotalGainPercent, src.Performance.TotalGainPercent)
		}
		if src.Holding != nil {
			if out.Holding == nil {
				out.Holding = &HoldingPatch{}
			}
			pickIf(&out.Holding.PriceChangePercent, src.Holding.PriceChangePercent)
		}
		if src.AI != nil {
			if out.AI == nil {
				out.AI = &AIPatch{}
			}
			pickIf(&out.AI.RegimeChangeConfidence, src.AI.RegimeChangeConfidence)
			pickIf(&out.AI.PredictionConfidence, src.AI.PredictionConfidence)
			pickIf(&out.AI.SentimentShift, src.AI.SentimentShift)
		}
		if src.Risk != nil {
			if out.Risk == nil {
				out.Risk = &RiskPatch{}
			}
			pickIf(&out.Risk.ConcentrationThreshold, src.Risk.ConcentrationThreshold)
		}
	}
	return out
}

// Validate rejects values that would make a rule meaningless.
// All returned errors wrap ErrInvalidPreferences.
func (p *ThresholdsPatch) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidPreferences)
	}

	type check struct {
		name  string
		value *float64
		valid func(float64) bool
		rule  string
	}
	var checks []check

	if p.Performance != nil {
		checks = append(checks,
			check{"performance.dailyGainPercent", p.Performance.DailyGainPercent, positive, "must be > 0"},
			check{"performance.dailyLossPercent", p.Performance.DailyLossPercent, negative, "must be < 0"},
			check{"performance.totalGainPercent", p.Performance.TotalGainPercent, positive, "must be > 0"},
		)
	}
	if p.Holding != nil {
		checks = append(checks,
			check{"holding.priceChangePercent", p.Holding.PriceChangePercent, positive, "must be > 0"},
		)
	}
	if p.AI != nil {
		checks = append(checks,
			check{"ai.regimeChangeConfidence", p.AI.RegimeChangeConfidence, unitInterval, "must be in (0, 1]"},
			check{"ai.predictionConfidence", p.AI.PredictionConfidence, unitInterval, "must be in (0, 1]"},
			check{"ai.sentimentShift", p.AI.SentimentShift, positive, "must be > 0"},
		)
	}
	if p.Risk != nil {
		checks = append(checks,
			check{"risk.concentrationThreshold", p.Risk.ConcentrationThreshold, unitInterval, "must be in (0, 1]"},
		)
	}

	for _, c := range checks {
		if c.value == nil {
			continue
		}
		v := *c.value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidPreferences, c.name)
		}
		if !c.valid(v) {
			return fmt.Errorf("%w: %s %s", ErrInvalidPreferences, c.name, c.rule)
		}
	}
	return nil
}

func setIf(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func pickIf(dst **float64, v *float64) {
	if v != nil {
		val := *v
		*dst = &val
	}
}

func positive(v float64) bool     { return v > 0 }
func negative(v float64) bool     { return v < 0 }
func unitInterval(v float64) bool { return v > 0 && v <= 1 }
