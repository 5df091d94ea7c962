// Package domain provides core domain models and types.
package domain

import "time"

// Holding represents one position inside a portfolio snapshot.
// CurrentValue is reported by the valuation provider and is expected to equal Quantity*CurrentPrice.
type Holding struct {
	Symbol       string  `json:"symbol" msgpack:"symbol"`
	Quantity     float64 `json:"quantity" msgpack:"quantity"`
	CurrentPrice float64 `json:"current_price" msgpack:"current_price"`
	CurrentValue float64 `json:"current_value" msgpack:"current_value"`
	CostBasis    float64 `json:"cost_basis" msgpack:"cost_basis"`
}

// PortfolioSnapshot is a point-in-time valuation of a portfolio.
// Snapshots are never mutated; the next poll supersedes them.
type PortfolioSnapshot struct {
	Timestamp        time.Time          `json:"timestamp" msgpack:"timestamp"`
	AIIntelligence   *AIIntelligence    `json:"ai_intelligence,omitempty" msgpack:"ai_intelligence,omitempty"`
	Holdings         map[string]Holding `json:"holdings" msgpack:"holdings"`
	PortfolioID      string             `json:"portfolio_id" msgpack:"portfolio_id"`
	TotalValue       float64            `json:"total_value" msgpack:"total_value"`
	TotalCost        float64            `json:"total_cost" msgpack:"total_cost"`
	TotalGain        float64            `json:"total_gain" msgpack:"total_gain"`
	TotalGainPercent float64            `json:"total_gain_percent" msgpack:"total_gain_percent"`
	DayChange        float64            `json:"day_change" msgpack:"day_change"`
	DayChangePercent float64            `json:"day_change_percent" msgpack:"day_change_percent"`
}

// HasHoldings reports whether the snapshot carries at least one holding
func (s *PortfolioSnapshot) HasHoldings() bool {
	return s != nil && len(s.Holdings) > 0
}

// MarketRegime is the AI provider's classification of current market conditions
type MarketRegime struct {
	CurrentRegime    string  `json:"current_regime" msgpack:"current_regime"`
	Interpretation   string  `json:"interpretation,omitempty" msgpack:"interpretation,omitempty"`
	ExpectedDuration string  `json:"expected_duration,omitempty" msgpack:"expected_duration,omitempty"`
	Confidence       float64 `json:"confidence" msgpack:"confidence"`
}

// Prediction is a per-symbol model forecast for one horizon
type Prediction struct {
	Direction             string  `json:"direction" msgpack:"direction"`
	Confidence            float64 `json:"confidence" msgpack:"confidence"`
	ExpectedReturnPercent float64 `json:"expected_return_percent" msgpack:"expected_return_percent"`
}

// Sentiment is the aggregate sentiment reading for a portfolio
type Sentiment struct {
	Trend            string  `json:"trend,omitempty" msgpack:"trend,omitempty"`
	OverallSentiment float64 `json:"overall_sentiment" msgpack:"overall_sentiment"`
}

// TradeRecommendation is a suggested allocation adjustment
type TradeRecommendation struct {
	Symbol        string  `json:"symbol" msgpack:"symbol"`
	Action        string  `json:"action,omitempty" msgpack:"action,omitempty"`
	Reason        string  `json:"reason,omitempty" msgpack:"reason,omitempty"`
	PercentChange float64 `json:"percent_change" msgpack:"percent_change"`
	CurrentWeight float64 `json:"current_weight,omitempty" msgpack:"current_weight,omitempty"`
	TargetWeight  float64 `json:"target_weight,omitempty" msgpack:"target_weight,omitempty"`
}

// AIIntelligence is the optional AI block attached to a snapshot.
// Predictions is keyed by horizon, then by symbol.
type AIIntelligence struct {
	MarketRegime         *MarketRegime                    `json:"market_regime,omitempty" msgpack:"market_regime,omitempty"`
	Sentiment            *Sentiment                       `json:"sentiment,omitempty" msgpack:"sentiment,omitempty"`
	Predictions          map[string]map[string]Prediction `json:"predictions,omitempty" msgpack:"predictions,omitempty"`
	TradeRecommendations []TradeRecommendation            `json:"trade_recommendations,omitempty" msgpack:"trade_recommendations,omitempty"`
}
