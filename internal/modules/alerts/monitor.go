package alerts

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/alertmonitor/internal/domain"
	"github.com/aristath/alertmonitor/internal/events"
	"github.com/aristath/alertmonitor/internal/scheduler"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	tickJobName         = "alerts_monitor_tick"
	defaultHistoryLimit = 50
	statsWindow         = 24 * time.Hour
)

// ErrInvalidPortfolio is returned for an empty or malformed portfolio id
var ErrInvalidPortfolio = errors.New("invalid portfolio id")

// JobScheduler is the part of the scheduler the monitor drives
type JobScheduler interface {
	AddJob(schedule string, job scheduler.Job) error
	RemoveJob(name string) bool
}

// Config holds monitor settings
type Config struct {
	DefaultPortfolios []string
	Interval          time.Duration
	CheckTimeout      time.Duration
	Workers           int
}

// Deps are the collaborators of a Monitor. Provider, Scheduler and the stores are required;
// the rest may be nil.
type Deps struct {
	Provider  domain.SnapshotProvider
	Scheduler JobScheduler
	Snapshots *SnapshotStore
	Prefs     *PreferenceStore
	Dedup     *DedupCache
	History   *HistoryStore
	Sink      *Sink
	AlertRepo AlertRepository
	Events    *events.Manager
	Metrics   *Metrics
}

// Monitor periodically checks portfolios and turns snapshot changes into alerts
type Monitor struct {
	cfg       Config
	provider  domain.SnapshotProvider
	scheduler JobScheduler
	snapshots *SnapshotStore
	prefs     *PreferenceStore
	dedup     *DedupCache
	evaluator *Evaluator
	history   *HistoryStore
	sink      *Sink
	alertRepo AlertRepository
	events    *events.Manager
	metrics   *Metrics
	log       zerolog.Logger
	now       func() time.Time

	inFlight *keyGuard
	watched  *shardedMap[struct{}]
	status   *shardedMap[PortfolioCheckStatus]

	mu       sync.Mutex // guards running and interval
	running  bool
	interval time.Duration
	ticks    sync.WaitGroup
}

// NewMonitor creates a monitor in the Idle state
func NewMonitor(cfg Config, deps Deps, log zerolog.Logger) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 30 * time.Second
	}

	return &Monitor{
		cfg:       cfg,
		provider:  deps.Provider,
		scheduler: deps.Scheduler,
		snapshots: deps.Snapshots,
		prefs:     deps.Prefs,
		dedup:     deps.Dedup,
		evaluator: NewEvaluator(deps.Dedup),
		history:   deps.History,
		sink:      deps.Sink,
		alertRepo: deps.AlertRepo,
		events:    deps.Events,
		metrics:   deps.Metrics,
		log:       log.With().Str("component", "alert_monitor").Logger(),
		now:       time.Now,
		inFlight:  newKeyGuard(),
		watched:   newShardedMap[struct{}](),
		status:    newShardedMap[PortfolioCheckStatus](),
		interval:  cfg.Interval,
	}
}

// Initialize restores persisted state and registers the default portfolios
func (m *Monitor) Initialize(ctx context.Context) error {
	if m.alertRepo != nil {
		alerts, err := m.alertRepo.LoadRecent(m.history.Capacity())
		if err != nil {
			return fmt.Errorf("failed to load alert history: %w", err)
		}
		m.history.Append(alerts...)
		m.log.Info().Int("alerts", len(alerts)).Msg("Alert history restored")
	}

	restored, err := m.snapshots.Load()
	if err != nil {
		return fmt.Errorf("failed to load snapshots: %w", err)
	}
	if restored > 0 {
		for _, id := range m.snapshots.IDs() {
			m.watched.Set(id, struct{}{})
		}
		m.log.Info().Int("snapshots", restored).Msg("Snapshots restored")
	}

	for _, id := range m.cfg.DefaultPortfolios {
		if err := m.Watch(id); err != nil {
			m.log.Warn().Err(err).Str("portfolio_id", id).Msg("Skipping invalid default portfolio")
		}
	}

	m.log.Info().
		Int("portfolios", len(m.Portfolios())).
		Dur("interval", m.cfg.Interval).
		Int("workers", m.cfg.Workers).
		Msg("Alert monitor initialized")
	return nil
}

// Start begins scheduled monitoring. Starting a running monitor is a no-op.
// A non-positive interval uses the configured default.
func (m *Monitor) Start(interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.log.Warn().Msg("Monitoring already started, ignoring")
		return nil
	}
	if interval <= 0 {
		interval = m.cfg.Interval
	}

	if err := m.scheduler.AddJob(fmt.Sprintf("@every %s", interval), &tickJob{monitor: m}); err != nil {
		return fmt.Errorf("failed to schedule monitoring: %w", err)
	}

	m.running = true
	m.interval = interval
	m.metrics.setRunning(true)
	m.log.Info().Dur("interval", interval).Msg("Monitoring started")

	if m.events != nil {
		m.events.EmitTyped(events.ModuleAlerts, &events.MonitoringStatusData{
			Running:         true,
			IntervalSeconds: interval.Seconds(),
		})
	}
	return nil
}

// Stop cancels scheduled monitoring and waits for an in-flight tick to finish.
// Stopping an idle monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.scheduler.RemoveJob(tickJobName)
	m.metrics.setRunning(false)
	m.mu.Unlock()

	m.ticks.Wait()
	m.log.Info().Msg("Monitoring stopped")

	if m.events != nil {
		m.events.EmitTyped(events.ModuleAlerts, &events.MonitoringStatusData{Running: false})
	}
}

// IsRunning reports whether scheduled monitoring is active
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Interval returns the active (or last used) tick interval
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// runScheduledTick is invoked by the scheduler. Ticks that fire after Stop are ignored.
// The check runs in the background; Stop waits for it.
func (m *Monitor) runScheduledTick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.ticks.Add(1)
	m.mu.Unlock()

	// The scheduler skips a job that is still running, so the tick must return at once.
	// Portfolios whose previous check is still in flight are skipped by the key guard.
	go func() {
		defer m.ticks.Done()
		m.CheckAllPortfolios(context.Background())
	}()
}

// CheckAllPortfolios checks every known portfolio with bounded concurrency.
// When no portfolio is known, the default set is registered first.
// One portfolio failing never affects the others.
func (m *Monitor) CheckAllPortfolios(ctx context.Context) []CheckResult {
	ids := m.Portfolios()
	if len(ids) == 0 {
		for _, id := range m.cfg.DefaultPortfolios {
			_ = m.Watch(id)
		}
		ids = m.Portfolios()
	}
	if len(ids) == 0 {
		m.log.Debug().Msg("No portfolios to check")
		return nil
	}

	results := make([]CheckResult, len(ids))
	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = m.checkPortfolio(ctx, id, false)
			return nil
		})
	}
	_ = g.Wait()

	failed, alerts := 0, 0
	skipped := 0
	for _, r := range results {
		switch r.Status {
		case CheckFailed:
			failed++
		case CheckSkipped:
			skipped++
		}
		alerts += r.AlertCount
	}
	m.log.Debug().
		Int("portfolios", len(ids)).
		Int("failed", failed).
		Int("skipped", skipped).
		Int("alerts", alerts).
		Msg("Monitoring tick completed")

	return results
}

// CheckPortfolio runs one scheduled-style check: a portfolio that is no longer known
// is skipped instead of getting a fresh snapshot.
func (m *Monitor) CheckPortfolio(ctx context.Context, portfolioID string) CheckResult {
	return m.checkPortfolio(ctx, portfolioID, false)
}

// TriggerCheck runs an ad-hoc check outside the schedule through the same pipeline.
// An unknown portfolio is watched first so the stored snapshot belongs to a monitored
// portfolio and is forgotten again by Unwatch.
// If a check for the same portfolio is in flight the result status is CheckConflict.
func (m *Monitor) TriggerCheck(ctx context.Context, portfolioID string) (CheckResult, error) {
	if err := validatePortfolioID(portfolioID); err != nil {
		return CheckResult{}, err
	}
	return m.checkPortfolio(ctx, portfolioID, true), nil
}

func (m *Monitor) checkPortfolio(ctx context.Context, portfolioID string, adHoc bool) CheckResult {
	if !m.inFlight.TryAcquire(portfolioID) {
		m.log.Debug().Str("portfolio_id", portfolioID).Msg("Check already in flight, skipping")
		m.metrics.observeCheck(CheckConflict, 0)
		return CheckResult{PortfolioID: portfolioID, Status: CheckConflict, Alerts: []Alert{}}
	}
	defer m.inFlight.Release(portfolioID)

	// Membership is decided under the key guard so it cannot race with Unwatch
	if adHoc {
		m.watched.Set(portfolioID, struct{}{})
	} else if !m.isKnown(portfolioID) {
		m.log.Debug().Str("portfolio_id", portfolioID).Msg("Portfolio no longer watched, skipping")
		m.metrics.observeCheck(CheckSkipped, 0)
		return CheckResult{PortfolioID: portfolioID, Status: CheckSkipped, Alerts: []Alert{}}
	}

	// Run to completion even if the caller's context is cancelled; only the timeout bounds it
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CheckTimeout)
	defer cancel()

	start := m.now()
	result := m.safeRunCheck(checkCtx, portfolioID)
	m.metrics.observeCheck(result.Status, m.now().Sub(start))
	m.recordStatus(portfolioID, result, start)

	return result
}

// safeRunCheck converts a panic anywhere in the pipeline into a failed result
func (m *Monitor) safeRunCheck(ctx context.Context, portfolioID string) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("portfolio_id", portfolioID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Portfolio check panicked")
			result = CheckResult{
				PortfolioID: portfolioID,
				Status:      CheckFailed,
				Error:       fmt.Sprintf("internal error: %v", r),
				Alerts:      []Alert{},
			}
		}
	}()
	return m.runCheck(ctx, portfolioID)
}

func (m *Monitor) runCheck(ctx context.Context, portfolioID string) CheckResult {
	result := CheckResult{PortfolioID: portfolioID, Alerts: []Alert{}}

	previous, hasPrevious := m.snapshots.Get(portfolioID)

	current, err := m.provider.GetSnapshot(ctx, portfolioID)
	if err != nil {
		m.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to fetch portfolio snapshot")
		result.Status = CheckFailed
		result.Error = err.Error()
		return result
	}
	if !current.HasHoldings() {
		m.log.Warn().Str("portfolio_id", portfolioID).Msg("Portfolio snapshot has no holdings")
		result.Status = CheckFailed
		result.Error = "snapshot has no holdings"
		return result
	}
	if current.PortfolioID == "" {
		current.PortfolioID = portfolioID
	}

	if !hasPrevious {
		m.snapshots.Set(current)
		m.log.Info().Str("portfolio_id", portfolioID).Msg("Baseline snapshot stored")
		result.Status = CheckBaseline
		return result
	}

	alerts := m.evaluator.Evaluate(current, previous, m.prefs.Get(portfolioID))

	// Written only after evaluation so the next tick diffs against this snapshot
	m.snapshots.Set(current)

	if len(alerts) > 0 {
		result.Alerts = m.sink.SendAlerts(portfolioID, alerts)
	}
	result.AlertCount = len(result.Alerts)
	result.Status = CheckOK
	return result
}

func (m *Monitor) recordStatus(portfolioID string, result CheckResult, at time.Time) {
	st := m.status.Update(portfolioID, func(old PortfolioCheckStatus, _ bool) PortfolioCheckStatus {
		old.LastAttempt = at
		old.LastOutcome = result.Status
		if result.Status == CheckFailed {
			old.ConsecutiveFailures++
			old.LastError = result.Error
		} else {
			t := at
			old.LastSuccess = &t
			old.ConsecutiveFailures = 0
			old.LastError = ""
		}
		return old
	})

	if result.Status == CheckFailed && m.events != nil {
		m.events.EmitTyped(events.ModuleAlerts, &events.PortfolioCheckFailedData{
			PortfolioID:         portfolioID,
			Error:               result.Error,
			ConsecutiveFailures: st.ConsecutiveFailures,
		})
	}
}

// SendTestAlert publishes one synthetic alert without running any rules
func (m *Monitor) SendTestAlert(portfolioID string) (Alert, error) {
	if err := validatePortfolioID(portfolioID); err != nil {
		return Alert{}, err
	}
	sent := m.sink.SendAlerts(portfolioID, []Alert{{
		Type:     AlertTest,
		Severity: SeverityLow,
		Title:    "Test alert",
		Message:  fmt.Sprintf("This is a test alert for portfolio %s", portfolioID),
		Data:     map[string]interface{}{"test": true},
	}})
	return sent[0], nil
}

// GetAlertHistory returns the newest alerts for a portfolio (all portfolios when empty).
// limit <= 0 uses the default of 50.
func (m *Monitor) GetAlertHistory(portfolioID string, limit int) []Alert {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return m.history.List(portfolioID, limit)
}

// GetAlertStats summarizes the last 24 hours of alerts and the monitor state
func (m *Monitor) GetAlertStats() Stats {
	now := m.now()
	stats := Stats{
		ByType:          make(map[AlertType]int),
		BySeverity:      make(map[Severity]int),
		Checks:          make(map[string]PortfolioCheckStatus),
		IsRunning:       m.IsRunning(),
		IntervalSeconds: m.Interval().Seconds(),
		PortfolioCount:  len(m.Portfolios()),
		HistorySize:     m.history.Len(),
	}

	for _, a := range m.history.Since(now.Add(-statsWindow)) {
		stats.Total++
		stats.ByType[a.Type]++
		stats.BySeverity[a.Severity]++
	}
	for _, a := range m.history.Snapshot() {
		if !a.Read {
			stats.Unread++
		}
		if !a.Acknowledged {
			stats.Unacknowledged++
		}
	}

	m.status.Range(func(id string, st PortfolioCheckStatus) {
		if st.LastSuccess != nil {
			age := now.Sub(*st.LastSuccess).Seconds()
			st.LastSuccessAgeSecs = &age
		}
		stats.Checks[id] = st
	})

	return stats
}

// SetPreferences validates and stores threshold overrides, returning the effective thresholds
func (m *Monitor) SetPreferences(portfolioID string, patch *ThresholdsPatch) (Thresholds, error) {
	if err := validatePortfolioID(portfolioID); err != nil {
		return Thresholds{}, err
	}
	th, err := m.prefs.Set(portfolioID, patch)
	if err != nil {
		return Thresholds{}, err
	}
	m.log.Info().Str("portfolio_id", portfolioID).Msg("Alert preferences updated")
	if m.events != nil {
		m.events.EmitTyped(events.ModuleAlerts, &events.PreferencesChangedData{PortfolioID: portfolioID})
	}
	return th, nil
}

// GetPreferences returns the effective thresholds for a portfolio
func (m *Monitor) GetPreferences(portfolioID string) Thresholds {
	return m.prefs.Get(portfolioID)
}

// ClearPreferences drops overrides so the portfolio uses defaults again
func (m *Monitor) ClearPreferences(portfolioID string) bool {
	cleared := m.prefs.Clear(portfolioID)
	if cleared && m.events != nil {
		m.events.EmitTyped(events.ModuleAlerts, &events.PreferencesChangedData{PortfolioID: portfolioID, Cleared: true})
	}
	return cleared
}

// MarkRead flags an alert as read
func (m *Monitor) MarkRead(alertID string) (Alert, error) {
	read := true
	return m.sink.SetFlags(alertID, &read, nil)
}

// Acknowledge flags an alert as acknowledged, which also marks it read
func (m *Monitor) Acknowledge(alertID string) (Alert, error) {
	yes := true
	return m.sink.SetFlags(alertID, &yes, &yes)
}

// Watch adds a portfolio to the monitored set
func (m *Monitor) Watch(portfolioID string) error {
	if err := validatePortfolioID(portfolioID); err != nil {
		return err
	}
	m.watched.Set(portfolioID, struct{}{})
	return nil
}

// Unwatch removes a portfolio from the known set and forgets its snapshot, dedup state,
// check status and preferences, so a later Watch starts from a fresh baseline.
// It returns ErrCheckInFlight while a check for the portfolio is running, and false when
// the portfolio was not known.
func (m *Monitor) Unwatch(portfolioID string) (bool, error) {
	if !m.inFlight.TryAcquire(portfolioID) {
		return false, ErrCheckInFlight
	}
	defer m.inFlight.Release(portfolioID)

	watched := m.watched.Delete(portfolioID)
	hadPrefs := m.ClearPreferences(portfolioID)
	if !watched && !hadPrefs {
		return false, nil
	}
	m.snapshots.Delete(portfolioID)
	m.dedup.Forget(portfolioID)
	m.status.Delete(portfolioID)
	m.log.Info().Str("portfolio_id", portfolioID).Msg("Portfolio unwatched")
	return true, nil
}

func (m *Monitor) isKnown(portfolioID string) bool {
	if _, ok := m.watched.Get(portfolioID); ok {
		return true
	}
	return m.prefs.Has(portfolioID)
}

// Portfolios returns the known portfolio set: watched portfolios and those with preferences
func (m *Monitor) Portfolios() []string {
	seen := make(map[string]struct{})
	m.watched.Range(func(id string, _ struct{}) { seen[id] = struct{}{} })
	for _, id := range m.prefs.IDs() {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the stored snapshot for a portfolio
func (m *Monitor) Snapshot(portfolioID string) (*domain.PortfolioSnapshot, bool) {
	return m.snapshots.Get(portfolioID)
}

// History exposes the history store for archiving
func (m *Monitor) History() *HistoryStore {
	return m.history
}

func validatePortfolioID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > 128 {
		return ErrInvalidPortfolio
	}
	return nil
}

// tickJob adapts the monitor to the scheduler
type tickJob struct {
	monitor *Monitor
}

func (j *tickJob) Name() string { return tickJobName }

func (j *tickJob) Run() error {
	j.monitor.runScheduledTick()
	return nil
}
