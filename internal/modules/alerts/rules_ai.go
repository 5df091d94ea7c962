package alerts

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/alertmonitor/internal/domain"
)

func isBearish(regime string) bool {
	return strings.Contains(strings.ToLower(regime), "bear")
}

// evaluateAI applies the AI-derived rules. Regime and sentiment consult and update the dedup cache.
func evaluateAI(current *domain.PortfolioSnapshot, th AIThresholds, dedup *DedupCache) []Alert {
	ai := current.AIIntelligence
	if ai == nil {
		return nil
	}
	id := current.PortfolioID

	var out []Alert

	if r := ai.MarketRegime; r != nil && r.Confidence >= th.RegimeChangeConfidence {
		last, seen := dedup.LastRegime(id)
		if !seen || last != r.CurrentRegime {
			severity := SeverityMedium
			if isBearish(r.CurrentRegime) {
				severity = SeverityHigh
			}
			data := map[string]interface{}{
				"regime":     r.CurrentRegime,
				"confidence": r.Confidence,
			}
			if seen {
				data["previousRegime"] = last
			}
			if r.Interpretation != "" {
				data["interpretation"] = r.Interpretation
			}
			if r.ExpectedDuration != "" {
				data["expectedDuration"] = r.ExpectedDuration
			}
			out = append(out, Alert{
				Type:        AlertAIRegimeChange,
				Severity:    severity,
				PortfolioID: id,
				Title:       "Market regime change",
				Message: fmt.Sprintf("AI detected a %s market regime (%s confidence)",
					r.CurrentRegime, formatWeight(r.Confidence)),
				Data: data,
			})
		}
		dedup.SetRegime(id, r.CurrentRegime)
	}

	horizons := make([]string, 0, len(ai.Predictions))
	for h := range ai.Predictions {
		horizons = append(horizons, h)
	}
	sort.Strings(horizons)
	for _, horizon := range horizons {
		bySymbol := ai.Predictions[horizon]
		symbols := make([]string, 0, len(bySymbol))
		for s := range bySymbol {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)

		for _, symbol := range symbols {
			p := bySymbol[symbol]
			if p.Confidence < th.PredictionConfidence {
				continue
			}
			out = append(out, Alert{
				Type:        AlertAIHighConfidence,
				Severity:    SeverityMedium,
				PortfolioID: id,
				Symbol:      symbol,
				Title:       fmt.Sprintf("High-confidence prediction for %s", symbol),
				Message: fmt.Sprintf("%s expected to move %s (%s) over %s, %s confidence",
					symbol, p.Direction, formatSignedPercent(p.ExpectedReturnPercent), horizon, formatWeight(p.Confidence)),
				Data: map[string]interface{}{
					"horizon":               horizon,
					"direction":             p.Direction,
					"confidence":            p.Confidence,
					"expectedReturnPercent": p.ExpectedReturnPercent,
				},
			})
		}
	}

	if s := ai.Sentiment; s != nil {
		last, seen := dedup.LastSentiment(id)
		if !seen {
			last = s.OverallSentiment
		}
		delta := s.OverallSentiment - last
		if math.Abs(delta) >= th.SentimentShift {
			direction := "improved"
			if delta < 0 {
				direction = "deteriorated"
			}
			out = append(out, Alert{
				Type:        AlertAISentimentShift,
				Severity:    SeverityMedium,
				PortfolioID: id,
				Title:       "Sentiment shift",
				Message: fmt.Sprintf("Market sentiment %s from %.2f to %.2f",
					direction, last, s.OverallSentiment),
				Data: map[string]interface{}{
					"previousSentiment": last,
					"currentSentiment":  s.OverallSentiment,
					"shift":             round2(delta),
					"trend":             s.Trend,
				},
			})
		}
		dedup.SetSentiment(id, s.OverallSentiment)
	}

	var significant []domain.TradeRecommendation
	for _, rec := range ai.TradeRecommendations {
		if math.Abs(rec.PercentChange) >= rebalancePercentChange {
			significant = append(significant, rec)
		}
	}
	if len(significant) > 0 {
		symbols := make([]string, len(significant))
		for i, rec := range significant {
			symbols[i] = rec.Symbol
		}
		out = append(out, Alert{
			Type:        AlertAIRebalancing,
			Severity:    SeverityMedium,
			PortfolioID: id,
			Title:       "Rebalancing recommended",
			Message: fmt.Sprintf("AI recommends rebalancing %d position(s): %s",
				len(significant), strings.Join(symbols, ", ")),
			Data: map[string]interface{}{
				"recommendations": significant,
			},
		})
	}

	return out
}
