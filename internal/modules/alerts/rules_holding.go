package alerts

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/alertmonitor/internal/domain"
	"gonum.org/v1/gonum/floats"
)

func sortedSymbols(holdings map[string]domain.Holding) []string {
	symbols := make([]string, 0, len(holdings))
	for s := range holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// evaluateHoldings compares each holding with the same symbol in the previous snapshot.
// Symbols that are new this tick are skipped.
func evaluateHoldings(current, previous *domain.PortfolioSnapshot, th HoldingThresholds) []Alert {
	var out []Alert

	for _, symbol := range sortedSymbols(current.Holdings) {
		cur := current.Holdings[symbol]
		prev, ok := previous.Holdings[symbol]
		if !ok {
			continue
		}

		if prev.CurrentPrice != 0 {
			pct := (cur.CurrentPrice - prev.CurrentPrice) / prev.CurrentPrice * 100
			if math.Abs(pct) >= th.PriceChangePercent {
				severity := SeverityMedium
				if math.Abs(pct) >= priceChangeHighPercent {
					severity = SeverityHigh
				}
				direction := "up"
				if pct < 0 {
					direction = "down"
				}
				out = append(out, Alert{
					Type:        AlertHoldingPriceChange,
					Severity:    severity,
					PortfolioID: current.PortfolioID,
					Symbol:      symbol,
					Title:       fmt.Sprintf("%s price moved %s", symbol, direction),
					Message: fmt.Sprintf("%s is %s %s (%s to %s)",
						symbol, direction, formatPercent(pct), formatMoney(prev.CurrentPrice), formatMoney(cur.CurrentPrice)),
					Data: map[string]interface{}{
						"previousPrice": prev.CurrentPrice,
						"currentPrice":  cur.CurrentPrice,
						"changePercent": round2(pct),
						"threshold":     th.PriceChangePercent,
					},
				})
			}
		}

		if current.TotalValue > 0 {
			delta := cur.CurrentValue - prev.CurrentValue
			impact := delta / current.TotalValue * 100
			if math.Abs(impact) >= portfolioImpactPercent {
				severity := SeverityMedium
				if math.Abs(impact) >= portfolioImpactHighPercent {
					severity = SeverityHigh
				}
				out = append(out, Alert{
					Type:        AlertHoldingPortfolioImpact,
					Severity:    severity,
					PortfolioID: current.PortfolioID,
					Symbol:      symbol,
					Title:       fmt.Sprintf("%s is moving the portfolio", symbol),
					Message: fmt.Sprintf("%s changed by %s, %s of total portfolio value",
						symbol, formatMoney(delta), formatSignedPercent(impact)),
					Data: map[string]interface{}{
						"valueChange":   delta,
						"impactPercent": round2(impact),
						"currentValue":  cur.CurrentValue,
						"previousValue": prev.CurrentValue,
					},
				})
			}
		}
	}

	return out
}

// holdingWeights returns symbols (sorted) and their weights in total value
func holdingWeights(snapshot *domain.PortfolioSnapshot) ([]string, []float64) {
	symbols := sortedSymbols(snapshot.Holdings)
	values := make([]float64, len(symbols))
	for i, s := range symbols {
		values[i] = snapshot.Holdings[s].CurrentValue
	}
	weights := make([]float64, len(values))
	floats.ScaleTo(weights, 1/snapshot.TotalValue, values)
	return symbols, weights
}

// evaluateConcentration is level-triggered: every tick above the threshold alerts again
func evaluateConcentration(current *domain.PortfolioSnapshot, th RiskThresholds) []Alert {
	if current.TotalValue <= 0 || len(current.Holdings) == 0 {
		return nil
	}

	symbols, weights := holdingWeights(current)
	// Herfindahl index: 1/n for an equal-weight portfolio, 1 for a single position
	hhi := floats.Dot(weights, weights)

	var out []Alert
	for i, symbol := range symbols {
		w := weights[i]
		if w < th.ConcentrationThreshold {
			continue
		}
		severity := SeverityMedium
		if w >= concentrationHighWeight {
			severity = SeverityHigh
		}
		out = append(out, Alert{
			Type:        AlertConcentrationRisk,
			Severity:    severity,
			PortfolioID: current.PortfolioID,
			Symbol:      symbol,
			Title:       fmt.Sprintf("High concentration in %s", symbol),
			Message: fmt.Sprintf("%s makes up %s of the portfolio (limit %s)",
				symbol, formatWeight(w), formatWeight(th.ConcentrationThreshold)),
			Data: map[string]interface{}{
				"weight":          w,
				"threshold":       th.ConcentrationThreshold,
				"currentValue":    current.Holdings[symbol].CurrentValue,
				"herfindahlIndex": hhi,
			},
		})
	}
	return out
}
