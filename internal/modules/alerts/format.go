package alerts

import (
	"github.com/shopspring/decimal"
)

// formatMoney renders the absolute amount with two decimals, e.g. "$3500.00"
func formatMoney(v float64) string {
	return "$" + decimal.NewFromFloat(v).Abs().StringFixed(2)
}

// formatPercent renders the absolute percentage with two decimals, e.g. "3.50%"
func formatPercent(v float64) string {
	return decimal.NewFromFloat(v).Abs().StringFixed(2) + "%"
}

// formatSignedPercent keeps the sign, e.g. "+5.20%" or "-3.10%"
func formatSignedPercent(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.IsPositive() {
		return "+" + d.StringFixed(2) + "%"
	}
	return d.StringFixed(2) + "%"
}

// formatWeight renders a 0..1 weight as a percentage with one decimal, e.g. "45.0%"
func formatWeight(w float64) string {
	return decimal.NewFromFloat(w).Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

// round2 rounds to two decimals for alert payloads
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
