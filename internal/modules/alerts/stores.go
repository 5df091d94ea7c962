package alerts

import (
	"sort"
	"time"

	"github.com/aristath/alertmonitor/internal/domain"
	"github.com/rs/zerolog"
)

// SnapshotRepository persists the last accepted snapshot per portfolio
type SnapshotRepository interface {
	SaveSnapshot(snapshot *domain.PortfolioSnapshot) error
	DeleteSnapshot(portfolioID string) error
	LoadSnapshots() ([]*domain.PortfolioSnapshot, error)
}

// SnapshotStore holds the most recent accepted snapshot for each portfolio
type SnapshotStore struct {
	items *shardedMap[*domain.PortfolioSnapshot]
	repo  SnapshotRepository // optional
	log   zerolog.Logger
}

// NewSnapshotStore creates a snapshot store. repo may be nil for a volatile store.
func NewSnapshotStore(repo SnapshotRepository, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		items: newShardedMap[*domain.PortfolioSnapshot](),
		repo:  repo,
		log:   log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Get returns the stored snapshot for a portfolio
func (s *SnapshotStore) Get(portfolioID string) (*domain.PortfolioSnapshot, bool) {
	return s.items.Get(portfolioID)
}

// Set replaces the stored snapshot. Persistence failures are logged, never returned.
func (s *SnapshotStore) Set(snapshot *domain.PortfolioSnapshot) {
	s.items.Set(snapshot.PortfolioID, snapshot)
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSnapshot(snapshot); err != nil {
		s.log.Warn().Err(err).Str("portfolio_id", snapshot.PortfolioID).Msg("Failed to persist snapshot")
	}
}

// Delete forgets the snapshot for a portfolio; the next check becomes a new baseline
func (s *SnapshotStore) Delete(portfolioID string) {
	s.items.Delete(portfolioID)
	if s.repo == nil {
		return
	}
	if err := s.repo.DeleteSnapshot(portfolioID); err != nil {
		s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to delete persisted snapshot")
	}
}

// Load restores snapshots from the repository
func (s *SnapshotStore) Load() (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	snapshots, err := s.repo.LoadSnapshots()
	if err != nil {
		return 0, err
	}
	for _, snap := range snapshots {
		s.items.Set(snap.PortfolioID, snap)
	}
	return len(snapshots), nil
}

// IDs returns the portfolio ids with a stored snapshot, sorted
func (s *SnapshotStore) IDs() []string {
	var ids []string
	s.items.Range(func(k string, _ *domain.PortfolioSnapshot) { ids = append(ids, k) })
	sort.Strings(ids)
	return ids
}

// PreferenceStore holds per-portfolio threshold overrides
type PreferenceStore struct {
	items *shardedMap[*ThresholdsPatch]
}

// NewPreferenceStore creates an empty preference store
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{items: newShardedMap[*ThresholdsPatch]()}
}

// Get returns the effective thresholds: stored overrides merged over defaults
func (s *PreferenceStore) Get(portfolioID string) Thresholds {
	patch, _ := s.items.Get(portfolioID)
	return patch.Merge(DefaultThresholds())
}

// Has reports whether the portfolio has overrides
func (s *PreferenceStore) Has(portfolioID string) bool {
	_, ok := s.items.Get(portfolioID)
	return ok
}

// Set validates the patch and folds it into the stored overrides.
// Fields absent from the patch keep their previously configured value.
func (s *PreferenceStore) Set(portfolioID string, patch *ThresholdsPatch) (Thresholds, error) {
	if err := patch.Validate(); err != nil {
		return Thresholds{}, err
	}
	combined := s.items.Update(portfolioID, func(old *ThresholdsPatch, _ bool) *ThresholdsPatch {
		return old.Combine(patch)
	})
	return combined.Merge(DefaultThresholds()), nil
}

// Clear removes overrides; returns false if there were none
func (s *PreferenceStore) Clear(portfolioID string) bool {
	return s.items.Delete(portfolioID)
}

// IDs returns portfolio ids with overrides, sorted
func (s *PreferenceStore) IDs() []string {
	var ids []string
	s.items.Range(func(k string, _ *ThresholdsPatch) { ids = append(ids, k) })
	sort.Strings(ids)
	return ids
}

// Dedup signal kinds
const (
	signalRegime    = "regime"
	signalSentiment = "sentiment"
)

type dedupEntry struct {
	expiresAt time.Time
	label     string
	score     float64
}

// DedupCache remembers the last alerted value of edge-triggered signals per portfolio.
// Expired entries behave as absent.
type DedupCache struct {
	items *shardedMap[dedupEntry]
	now   func() time.Time
	ttl   time.Duration
}

// NewDedupCache creates a cache whose entries live for ttl after their last update
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{
		items: newShardedMap[dedupEntry](),
		ttl:   ttl,
		now:   time.Now,
	}
}

func dedupKey(portfolioID, signal string) string {
	return portfolioID + "\x00" + signal
}

func (c *DedupCache) get(portfolioID, signal string) (dedupEntry, bool) {
	e, ok := c.items.Get(dedupKey(portfolioID, signal))
	if !ok || !c.now().Before(e.expiresAt) {
		return dedupEntry{}, false
	}
	return e, true
}

// LastRegime returns the last reported regime label
func (c *DedupCache) LastRegime(portfolioID string) (string, bool) {
	e, ok := c.get(portfolioID, signalRegime)
	return e.label, ok
}

// SetRegime records the regime label
func (c *DedupCache) SetRegime(portfolioID, label string) {
	c.items.Set(dedupKey(portfolioID, signalRegime), dedupEntry{label: label, expiresAt: c.now().Add(c.ttl)})
}

// LastSentiment returns the last observed sentiment score
func (c *DedupCache) LastSentiment(portfolioID string) (float64, bool) {
	e, ok := c.get(portfolioID, signalSentiment)
	return e.score, ok
}

// SetSentiment records the sentiment score
func (c *DedupCache) SetSentiment(portfolioID string, score float64) {
	c.items.Set(dedupKey(portfolioID, signalSentiment), dedupEntry{score: score, expiresAt: c.now().Add(c.ttl)})
}

// Forget drops all signals for a portfolio
func (c *DedupCache) Forget(portfolioID string) {
	c.items.Delete(dedupKey(portfolioID, signalRegime))
	c.items.Delete(dedupKey(portfolioID, signalSentiment))
}

// DeleteExpired removes expired entries and returns how many were removed
func (c *DedupCache) DeleteExpired() int {
	now := c.now()
	return c.items.DeleteIf(func(_ string, e dedupEntry) bool {
		return !now.Before(e.expiresAt)
	})
}

// Len returns the number of entries, including expired ones not yet cleaned up
func (c *DedupCache) Len() int {
	return c.items.Len()
}
