package portfolioapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/alertmonitor/internal/domain"
)

// portfolioResponse is the body of GET /portfolio/{id}.
// Holdings arrive either as an array of objects or as an object keyed by symbol.
type portfolioResponse struct {
	Summary  *summaryDTO     `json:"summary"`
	Holdings json.RawMessage `json:"holdings"`
}

type summaryDTO struct {
	TotalValue       *float64 `json:"totalValue"`
	TotalCost        float64  `json:"totalCost"`
	TotalGain        float64  `json:"totalGain"`
	TotalGainPercent float64  `json:"totalGainPercent"`
	DayChange        float64  `json:"dayChange"`
	DayChangePercent float64  `json:"dayChangePercent"`
}

type holdingDTO struct {
	Quantity     *float64 `json:"quantity"`
	Shares       *float64 `json:"shares"`
	CurrentValue *float64 `json:"currentValue"`
	MarketValue  *float64 `json:"marketValue"`
	Symbol       string   `json:"symbol"`
	CurrentPrice float64  `json:"currentPrice"`
	CostBasis    float64  `json:"costBasis"`
}

func (r *portfolioResponse) toSnapshot(portfolioID string, now time.Time) (*domain.PortfolioSnapshot, error) {
	if r.Summary == nil {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}
	if r.Summary.TotalValue == nil {
		return nil, fmt.Errorf("%w: missing summary.totalValue", ErrMalformedResponse)
	}

	holdings, err := parseHoldings(r.Holdings)
	if err != nil {
		return nil, err
	}

	return &domain.PortfolioSnapshot{
		PortfolioID:      portfolioID,
		Timestamp:        now,
		TotalValue:       *r.Summary.TotalValue,
		TotalCost:        r.Summary.TotalCost,
		TotalGain:        r.Summary.TotalGain,
		TotalGainPercent: r.Summary.TotalGainPercent,
		DayChange:        r.Summary.DayChange,
		DayChangePercent: r.Summary.DayChangePercent,
		Holdings:         holdings,
	}, nil
}

func parseHoldings(raw json.RawMessage) (map[string]domain.Holding, error) {
	holdings := make(map[string]domain.Holding)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return holdings, nil
	}

	var dtos []holdingDTO
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &dtos); err != nil {
			return nil, fmt.Errorf("%w: holdings: %v", ErrMalformedResponse, err)
		}
	case '{':
		var keyed map[string]holdingDTO
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("%w: holdings: %v", ErrMalformedResponse, err)
		}
		for symbol, dto := range keyed {
			if dto.Symbol == "" {
				dto.Symbol = symbol
			}
			dtos = append(dtos, dto)
		}
	default:
		return nil, fmt.Errorf("%w: holdings must be an array or object", ErrMalformedResponse)
	}

	for _, dto := range dtos {
		h, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		holdings[h.Symbol] = h
	}
	return holdings, nil
}

func (d holdingDTO) toDomain() (domain.Holding, error) {
	if d.Symbol == "" {
		return domain.Holding{}, fmt.Errorf("%w: holding without symbol", ErrMalformedResponse)
	}

	quantity := d.Quantity
	if quantity == nil {
		quantity = d.Shares
	}
	if quantity == nil {
		return domain.Holding{}, fmt.Errorf("%w: holding %s has no quantity", ErrMalformedResponse, d.Symbol)
	}

	value := d.CurrentValue
	if value == nil {
		value = d.MarketValue
	}
	if value == nil {
		return domain.Holding{}, fmt.Errorf("%w: holding %s has no current value", ErrMalformedResponse, d.Symbol)
	}

	return domain.Holding{
		Symbol:       d.Symbol,
		Quantity:     *quantity,
		CurrentPrice: d.CurrentPrice,
		CurrentValue: *value,
		CostBasis:    d.CostBasis,
	}, nil
}

// aiResponse is the body of GET /portfolio/{id}/ai-intelligence
type aiResponse struct {
	MarketRegime *struct {
		CurrentRegime    string     `json:"currentRegime"`
		Interpretation   flexString `json:"interpretation"`
		ExpectedDuration flexString `json:"expectedDuration"`
		Confidence       float64    `json:"confidence"`
	} `json:"marketRegime"`
	MLPredictions *struct {
		Predictions map[string]map[string]struct {
			Direction             string  `json:"direction"`
			Confidence            float64 `json:"confidence"`
			ExpectedReturnPercent float64 `json:"expected_return_percent"`
		} `json:"predictions"`
	} `json:"mlPredictions"`
	SentimentAnalysis *struct {
		OverallSentiment *float64   `json:"overallSentiment"`
		Trend            flexString `json:"trend"`
	} `json:"sentimentAnalysis"`
	DynamicAllocation *struct {
		TradeRecommendations []struct {
			Symbol        string     `json:"symbol"`
			Action        string     `json:"action"`
			Reason        flexString `json:"reason"`
			PercentChange float64    `json:"percentChange"`
			CurrentWeight float64    `json:"currentWeight"`
			TargetWeight  float64    `json:"targetWeight"`
		} `json:"tradeRecommendations"`
	} `json:"dynamicAllocation"`
}

func (r *aiResponse) toDomain() *domain.AIIntelligence {
	ai := &domain.AIIntelligence{}

	if r.MarketRegime != nil && r.MarketRegime.CurrentRegime != "" {
		ai.MarketRegime = &domain.MarketRegime{
			CurrentRegime:    r.MarketRegime.CurrentRegime,
			Confidence:       r.MarketRegime.Confidence,
			Interpretation:   string(r.MarketRegime.Interpretation),
			ExpectedDuration: string(r.MarketRegime.ExpectedDuration),
		}
	}

	if r.MLPredictions != nil && len(r.MLPredictions.Predictions) > 0 {
		ai.Predictions = make(map[string]map[string]domain.Prediction, len(r.MLPredictions.Predictions))
		for horizon, bySymbol := range r.MLPredictions.Predictions {
			preds := make(map[string]domain.Prediction, len(bySymbol))
			for symbol, p := range bySymbol {
				preds[symbol] = domain.Prediction{
					Direction:             p.Direction,
					Confidence:            p.Confidence,
					ExpectedReturnPercent: p.ExpectedReturnPercent,
				}
			}
			ai.Predictions[horizon] = preds
		}
	}

	if r.SentimentAnalysis != nil && r.SentimentAnalysis.OverallSentiment != nil {
		ai.Sentiment = &domain.Sentiment{
			OverallSentiment: *r.SentimentAnalysis.OverallSentiment,
			Trend:            string(r.SentimentAnalysis.Trend),
		}
	}

	if r.DynamicAllocation != nil {
		for _, rec := range r.DynamicAllocation.TradeRecommendations {
			ai.TradeRecommendations = append(ai.TradeRecommendations, domain.TradeRecommendation{
				Symbol:        rec.Symbol,
				Action:        rec.Action,
				Reason:        string(rec.Reason),
				PercentChange: rec.PercentChange,
				CurrentWeight: rec.CurrentWeight,
				TargetWeight:  rec.TargetWeight,
			})
		}
	}

	return ai
}

// flexString accepts a JSON string or number; the AI service is not consistent about
// descriptive fields such as expectedDuration
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(trimmed, &n); err != nil {
		// Objects and arrays are kept as raw JSON text
		*f = flexString(trimmed)
		return nil
	}
	*f = flexString(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}
