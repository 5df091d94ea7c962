package alerts

import (
	"fmt"
	"math"

	"github.com/aristath/alertmonitor/internal/domain"
)

// evaluatePerformance applies the portfolio-level rules
func evaluatePerformance(current, previous *domain.PortfolioSnapshot, th PerformanceThresholds) []Alert {
	var out []Alert
	id := current.PortfolioID

	switch {
	case current.DayChangePercent >= th.DailyGainPercent:
		out = append(out, Alert{
			Type:        AlertPortfolioDailyGain,
			Severity:    SeverityMedium,
			PortfolioID: id,
			Title:       "Strong daily gain",
			Message: fmt.Sprintf("Portfolio is up %s today (%s)",
				formatPercent(current.DayChangePercent), formatMoney(current.DayChange)),
			Data: map[string]interface{}{
				"changeAmount":  current.DayChange,
				"changePercent": current.DayChangePercent,
				"threshold":     th.DailyGainPercent,
				"totalValue":    current.TotalValue,
			},
		})
	case current.DayChangePercent <= th.DailyLossPercent:
		out = append(out, Alert{
			Type:        AlertPortfolioDailyLoss,
			Severity:    SeverityHigh,
			PortfolioID: id,
			Title:       "Significant daily loss",
			Message: fmt.Sprintf("Portfolio is down %s today (%s)",
				formatPercent(current.DayChangePercent), formatMoney(current.DayChange)),
			Data: map[string]interface{}{
				"changeAmount":  current.DayChange,
				"changePercent": current.DayChangePercent,
				"threshold":     th.DailyLossPercent,
				"totalValue":    current.TotalValue,
			},
		})
	}

	// Edge-triggered: only the tick that crosses the threshold fires
	if current.TotalGainPercent >= th.TotalGainPercent && previous.TotalGainPercent < th.TotalGainPercent {
		out = append(out, Alert{
			Type:        AlertPortfolioMilestone,
			Severity:    SeverityLow,
			PortfolioID: id,
			Title:       "Portfolio milestone reached",
			Message: fmt.Sprintf("Congratulations! Total gain passed %s and is now %s (%s)",
				formatPercent(th.TotalGainPercent), formatPercent(current.TotalGainPercent), formatMoney(current.TotalGain)),
			Data: map[string]interface{}{
				"milestone":        th.TotalGainPercent,
				"totalGainPercent": current.TotalGainPercent,
				"previousPercent":  previous.TotalGainPercent,
				"totalGain":        current.TotalGain,
			},
		})
	}

	if previous.TotalValue != 0 {
		delta := current.TotalValue - previous.TotalValue
		swing := delta / previous.TotalValue * 100
		if math.Abs(swing) >= valueSwingPercent {
			severity := SeverityMedium
			if math.Abs(swing) >= valueSwingHighPercent {
				severity = SeverityHigh
			}
			direction := "rose"
			if delta < 0 {
				direction = "fell"
			}
			out = append(out, Alert{
				Type:        AlertPortfolioValueSwing,
				Severity:    severity,
				PortfolioID: id,
				Title:       "Large portfolio value swing",
				Message: fmt.Sprintf("Portfolio value %s %s (%s) since the last check",
					direction, formatPercent(swing), formatMoney(delta)),
				Data: map[string]interface{}{
					"previousValue": previous.TotalValue,
					"currentValue":  current.TotalValue,
					"changeAmount":  delta,
					"changePercent": round2(swing),
				},
			})
		}
	}

	return out
}
