package domain

import "context"

// SnapshotProvider defines the contract for fetching portfolio valuations.
// This interface keeps the alert monitor independent of the HTTP client that implements it.
type SnapshotProvider interface {
	// GetSnapshot returns the current valuation of a portfolio, including the AI block when available.
	// A failed AI lookup is not an error; the snapshot is returned without AIIntelligence.
	GetSnapshot(ctx context.Context, portfolioID string) (*PortfolioSnapshot, error)
}
