// Package portfolioapi provides a client for the portfolio valuation and AI intelligence API.
// Requests share one rate limiter so that concurrent portfolio checks never exceed the
// provider's request budget.
package portfolioapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/alertmonitor/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrMalformedResponse is returned when the provider answers with data the monitor cannot use
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrNotFound is returned when the provider does not know the portfolio
	ErrNotFound = errors.New("portfolio not found")
)

// StatusError is returned for non-2xx provider responses
type StatusError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d for %s", e.StatusCode, e.URL)
}

// Unwrap maps 404 responses to ErrNotFound
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Options configures the client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// Client is the portfolio API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a new portfolio API client
func NewClient(opts Options, log zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("component", "portfolio_api").Logger(),
	}
}

// GetSnapshot fetches the portfolio valuation and, best effort, its AI intelligence block.
// Only a failure of the valuation call is returned; an AI failure yields a snapshot without AI data.
func (c *Client) GetSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error) {
	snapshot, err := c.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	ai, err := c.GetAIIntelligence(ctx, portfolioID)
	switch {
	case err == nil:
		snapshot.AIIntelligence = ai
	case errors.Is(err, ErrNotFound):
		c.log.Debug().Str("portfolio_id", portfolioID).Msg("No AI intelligence available")
	default:
		c.log.Warn().
			Err(err).
			Str("portfolio_id", portfolioID).
			Msg("AI intelligence unavailable, continuing without it")
	}

	return snapshot, nil
}

// GetPortfolio fetches GET /portfolio/{id}
func (c *Client) GetPortfolio(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error) {
	var resp portfolioResponse
	if err := c.getJSON(ctx, "/portfolio/"+url.PathEscape(portfolioID), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch portfolio %s: %w", portfolioID, err)
	}

	snapshot, err := resp.toSnapshot(portfolioID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse portfolio %s: %w", portfolioID, err)
	}
	return snapshot, nil
}

// GetAIIntelligence fetches GET /portfolio/{id}/ai-intelligence
func (c *Client) GetAIIntelligence(ctx context.Context, portfolioID string) (*domain.AIIntelligence, error) {
	var resp aiResponse
	if err := c.getJSON(ctx, "/portfolio/"+url.PathEscape(portfolioID)+"/ai-intelligence", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch AI intelligence for %s: %w", portfolioID, err)
	}
	return resp.toDomain(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Provider request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
