package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/alertmonitor/internal/domain"
	"github.com/aristath/alertmonitor/internal/events"
	"github.com/aristath/alertmonitor/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error) {
	args := m.Called(ctx, portfolioID)
	snap, _ := args.Get(0).(*domain.PortfolioSnapshot)
	return snap, args.Error(1)
}

type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[string]scheduler.Job
	added   int
	removed int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]scheduler.Job)}
}

func (s *fakeScheduler) AddJob(_ string, job scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name()]; ok {
		return errors.New("duplicate job")
	}
	s.jobs[job.Name()] = job
	s.added++
	return nil
}

func (s *fakeScheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	if ok {
		s.removed++
	}
	return ok
}

func (s *fakeScheduler) job(name string) scheduler.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[name]
}

type monitorFixture struct {
	monitor  *Monitor
	provider *mockProvider
	sched    *fakeScheduler
	pub      *recordingPublisher
	bus      *events.Bus
}

func newMonitorFixture(t *testing.T, defaults ...string) *monitorFixture {
	t.Helper()
	log := zerolog.Nop()
	provider := &mockProvider{}
	sched := newFakeScheduler()
	pub := &recordingPublisher{}
	bus := events.NewBus(log)
	history := NewHistoryStore(100)
	dedup := NewDedupCache(time.Hour)

	m := NewMonitor(Config{
		DefaultPortfolios: defaults,
		Interval:          time.Minute,
		CheckTimeout:      time.Second,
		Workers:           4,
	}, Deps{
		Provider:  provider,
		Scheduler: sched,
		Snapshots: NewSnapshotStore(nil, log),
		Prefs:     NewPreferenceStore(),
		Dedup:     dedup,
		History:   history,
		Sink:      NewSink(history, pub, nil, nil, log),
		Events:    events.NewManager(bus, log),
	}, log)

	return &monitorFixture{monitor: m, provider: provider, sched: sched, pub: pub, bus: bus}
}

// losing returns a diversified snapshot that trips the daily loss rule
func losing(id string) *domain.PortfolioSnapshot {
	s := diversified(id, 100)
	s.DayChangePercent = -4
	s.DayChange = -200
	return s
}

func TestMonitor_FirstCheckIsBaseline(t *testing.T) {
	f := newMonitorFixture(t)
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(losing("p1"), nil).Once()

	res, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, CheckBaseline, res.Status)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, f.pub.batches())

	stored, ok := f.monitor.Snapshot("p1")
	require.True(t, ok)
	assert.Equal(t, -4.0, stored.DayChangePercent)
}

func TestMonitor_SecondCheckEvaluatesAndPublishes(t *testing.T) {
	f := newMonitorFixture(t)
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(diversified("p1", 100), nil).Once()
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(losing("p1"), nil).Once()

	_, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	res, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, CheckOK, res.Status)
	require.Equal(t, 1, res.AlertCount)
	assert.Equal(t, AlertPortfolioDailyLoss, res.Alerts[0].Type)
	assert.NotEmpty(t, res.Alerts[0].ID)

	batches := f.pub.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "p1", batches[0].PortfolioID)

	history := f.monitor.GetAlertHistory("p1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, res.Alerts[0].ID, history[0].ID)
	f.provider.AssertExpectations(t)
}

func TestMonitor_FailureIsIsolatedPerPortfolio(t *testing.T) {
	f := newMonitorFixture(t)
	require.NoError(t, f.monitor.Watch("bad"))
	require.NoError(t, f.monitor.Watch("good"))

	f.provider.On("GetSnapshot", mock.Anything, "bad").Return(nil, errors.New("upstream 502"))
	f.provider.On("GetSnapshot", mock.Anything, "good").Return(diversified("good", 100), nil).Once()
	f.provider.On("GetSnapshot", mock.Anything, "good").Return(losing("good"), nil).Once()

	var failures []events.Event
	f.bus.Subscribe(events.PortfolioCheckFailed, func(e events.Event) { failures = append(failures, e) })

	f.monitor.CheckAllPortfolios(context.Background())
	results := f.monitor.CheckAllPortfolios(context.Background())

	require.Len(t, results, 2)
	byID := map[string]CheckResult{}
	for _, r := range results {
		byID[r.PortfolioID] = r
	}
	assert.Equal(t, CheckFailed, byID["bad"].Status)
	assert.Contains(t, byID["bad"].Error, "upstream 502")
	assert.Equal(t, CheckOK, byID["good"].Status)
	require.Len(t, byID["good"].Alerts, 1)
	assert.Equal(t, AlertPortfolioDailyLoss, byID["good"].Alerts[0].Type)

	require.Len(t, failures, 2)
	data, ok := failures[1].Payload.(*events.PortfolioCheckFailedData)
	require.True(t, ok)
	assert.Equal(t, "bad", data.PortfolioID)
	assert.Equal(t, 2, data.ConsecutiveFailures)

	stats := f.monitor.GetAlertStats()
	assert.Equal(t, 2, stats.Checks["bad"].ConsecutiveFailures)
	assert.Nil(t, stats.Checks["bad"].LastSuccess)
	require.NotNil(t, stats.Checks["good"].LastSuccessAgeSecs)
	assert.GreaterOrEqual(t, *stats.Checks["good"].LastSuccessAgeSecs, 0.0)
}

func TestMonitor_EmptyHoldingsIsFailureAndKeepsPrevious(t *testing.T) {
	f := newMonitorFixture(t)
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(diversified("p1", 100), nil).Once()
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(&domain.PortfolioSnapshot{PortfolioID: "p1"}, nil).Once()

	_, _ = f.monitor.TriggerCheck(context.Background(), "p1")
	res, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, CheckFailed, res.Status)

	stored, ok := f.monitor.Snapshot("p1")
	require.True(t, ok)
	assert.Len(t, stored.Holdings, 5)
}

func TestMonitor_ConcurrentCheckConflicts(t *testing.T) {
	f := newMonitorFixture(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	f.provider.On("GetSnapshot", mock.Anything, "p1").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(diversified("p1", 100), nil).Once()

	done := make(chan CheckResult)
	go func() {
		res, _ := f.monitor.TriggerCheck(context.Background(), "p1")
		done <- res
	}()
	<-entered

	res, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, CheckConflict, res.Status)

	close(release)
	assert.Equal(t, CheckBaseline, (<-done).Status)
}

func TestMonitor_CancelledCallerStillCompletesCheck(t *testing.T) {
	f := newMonitorFixture(t)
	f.provider.On("GetSnapshot", mock.Anything, "p1").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			assert.NoError(t, ctx.Err())
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
		}).
		Return(diversified("p1", 100), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.monitor.TriggerCheck(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, CheckBaseline, res.Status)
}

func TestMonitor_PanicBecomesFailedCheck(t *testing.T) {
	f := newMonitorFixture(t)
	f.provider.On("GetSnapshot", mock.Anything, "p1").
		Run(func(mock.Arguments) { panic("provider exploded") }).
		Return(nil, nil).Once()

	res, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, CheckFailed, res.Status)
	assert.Contains(t, res.Error, "provider exploded")

	// the in-flight guard must be released
	assert.False(t, f.monitor.inFlight.Held("p1"))
}

func TestMonitor_InvalidPortfolioID(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.TriggerCheck(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidPortfolio)
	_, err = f.monitor.SendTestAlert("")
	assert.ErrorIs(t, err, ErrInvalidPortfolio)
	assert.ErrorIs(t, f.monitor.Watch(string(make([]byte, 129))), ErrInvalidPortfolio)
}

func TestMonitor_StartStopLifecycle(t *testing.T) {
	f := newMonitorFixture(t)
	var lifecycle []events.EventType
	f.bus.SubscribeAll(func(e events.Event) { lifecycle = append(lifecycle, e.Type) })

	require.NoError(t, f.monitor.Start(30*time.Second))
	require.NoError(t, f.monitor.Start(10*time.Second))
	assert.True(t, f.monitor.IsRunning())
	assert.Equal(t, 30*time.Second, f.monitor.Interval())
	assert.Equal(t, 1, f.sched.added)

	f.monitor.Stop()
	f.monitor.Stop()
	assert.False(t, f.monitor.IsRunning())
	assert.Equal(t, 1, f.sched.removed)

	assert.Equal(t, []events.EventType{events.MonitoringStarted, events.MonitoringStopped}, lifecycle)

	// restart uses the configured default when no interval is given
	require.NoError(t, f.monitor.Start(0))
	assert.Equal(t, time.Minute, f.monitor.Interval())
	f.monitor.Stop()
}

func TestMonitor_ScheduledTickChecksDefaultsAndIgnoresAfterStop(t *testing.T) {
	f := newMonitorFixture(t, "p1")
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(diversified("p1", 100), nil).Once()

	require.NoError(t, f.monitor.Start(0))
	job := f.sched.job(tickJobName)
	require.NotNil(t, job)
	require.NoError(t, job.Run())

	require.Eventually(t, func() bool {
		_, ok := f.monitor.Snapshot("p1")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "defaults are registered when nothing is watched")

	f.monitor.Stop()
	require.NoError(t, job.Run())
	f.provider.AssertNumberOfCalls(t, "GetSnapshot", 1)
}

func TestMonitor_TestAlertAndFlags(t *testing.T) {
	f := newMonitorFixture(t)

	a, err := f.monitor.SendTestAlert("p1")
	require.NoError(t, err)
	assert.Equal(t, AlertTest, a.Type)
	assert.Equal(t, SeverityLow, a.Severity)
	require.Len(t, f.pub.batches(), 1)

	stats := f.monitor.GetAlertStats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByType[AlertTest])
	assert.Equal(t, 1, stats.Unread)
	assert.Equal(t, 1, stats.Unacknowledged)

	read, err := f.monitor.MarkRead(a.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	assert.False(t, read.Acknowledged)

	acked, err := f.monitor.Acknowledge(a.ID)
	require.NoError(t, err)
	assert.True(t, acked.Read)
	assert.True(t, acked.Acknowledged)

	stats = f.monitor.GetAlertStats()
	assert.Zero(t, stats.Unread)
	assert.Zero(t, stats.Unacknowledged)

	_, err = f.monitor.MarkRead("nope")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestMonitor_PreferencesDriveEvaluation(t *testing.T) {
	f := newMonitorFixture(t)
	// a -4% day is below the default -3% loss threshold; a -5% override silences it
	_, err := f.monitor.SetPreferences("p1", &ThresholdsPatch{
		Performance: &PerformancePatch{DailyLossPercent: ptr(-5)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, f.monitor.Portfolios())

	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(diversified("p1", 100), nil).Once()
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(losing("p1"), nil).Once()
	f.monitor.CheckAllPortfolios(context.Background())
	results := f.monitor.CheckAllPortfolios(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, CheckOK, results[0].Status)
	assert.Zero(t, results[0].AlertCount)

	_, err = f.monitor.SetPreferences("p1", &ThresholdsPatch{Risk: &RiskPatch{ConcentrationThreshold: ptr(7)}})
	assert.ErrorIs(t, err, ErrInvalidPreferences)

	assert.True(t, f.monitor.ClearPreferences("p1"))
	assert.Equal(t, DefaultThresholds(), f.monitor.GetPreferences("p1"))
}

func TestMonitor_UnwatchForgetsState(t *testing.T) {
	f := newMonitorFixture(t)
	require.NoError(t, f.monitor.Watch("p1"))
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(diversified("p1", 100), nil)
	_, _ = f.monitor.TriggerCheck(context.Background(), "p1")

	removed, err := f.monitor.Unwatch("p1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.monitor.Unwatch("p1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok := f.monitor.Snapshot("p1")
	assert.False(t, ok)
	assert.Empty(t, f.monitor.Portfolios())
	assert.NotContains(t, f.monitor.GetAlertStats().Checks, "p1")
}

func TestMonitor_UnwatchWaitsForInFlightCheck(t *testing.T) {
	f := newMonitorFixture(t)
	require.NoError(t, f.monitor.Watch("p1"))

	release := make(chan struct{})
	entered := make(chan struct{})
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(diversified("p1", 100), nil).Once()
	f.provider.On("GetSnapshot", mock.Anything, "p1").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(losing("p1"), nil).Once()

	res, err := f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, CheckBaseline, res.Status)

	done := make(chan CheckResult)
	go func() {
		res, _ := f.monitor.TriggerCheck(context.Background(), "p1")
		done <- res
	}()
	<-entered

	removed, err := f.monitor.Unwatch("p1")
	assert.ErrorIs(t, err, ErrCheckInFlight)
	assert.False(t, removed)
	assert.Equal(t, []string{"p1"}, f.monitor.Portfolios())

	close(release)
	assert.Equal(t, CheckOK, (<-done).Status)

	removed, err = f.monitor.Unwatch("p1")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok := f.monitor.Snapshot("p1")
	assert.False(t, ok, "snapshot written by the finished check must not survive unwatch")

	// a new watch starts from a fresh baseline
	require.NoError(t, f.monitor.Watch("p1"))
	f.provider.On("GetSnapshot", mock.Anything, "p1").Return(losing("p1"), nil).Once()
	res, err = f.monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, CheckBaseline, res.Status)
}

func TestMonitor_UnwatchPreferenceOnlyPortfolio(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.SetPreferences("p2", &ThresholdsPatch{
		Performance: &PerformancePatch{DailyLossPercent: ptr(-5)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, f.monitor.Portfolios())

	removed, err := f.monitor.Unwatch("p2")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.monitor.Portfolios())
	assert.Equal(t, DefaultThresholds(), f.monitor.GetPreferences("p2"))
}

// providerFunc adapts a function to domain.SnapshotProvider
type providerFunc func(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error)

func (f providerFunc) GetSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error) {
	return f(ctx, portfolioID)
}

func TestMonitor_SlowPortfolioDoesNotDelayOthers(t *testing.T) {
	log := zerolog.Nop()
	sched := scheduler.New(log)
	sched.Start()
	t.Cleanup(sched.Stop)

	release := make(chan struct{})
	var mu sync.Mutex
	fastChecks, slowChecks := 0, 0
	provider := providerFunc(func(_ context.Context, id string) (*domain.PortfolioSnapshot, error) {
		mu.Lock()
		if id == "slow" {
			slowChecks++
		} else {
			fastChecks++
		}
		mu.Unlock()
		if id == "slow" {
			<-release
		}
		return diversified(id, 100), nil
	})

	history := NewHistoryStore(100)
	m := NewMonitor(Config{Interval: time.Second, CheckTimeout: 10 * time.Second, Workers: 4}, Deps{
		Provider:  provider,
		Scheduler: sched,
		Snapshots: NewSnapshotStore(nil, log),
		Prefs:     NewPreferenceStore(),
		Dedup:     NewDedupCache(time.Hour),
		History:   history,
		Sink:      NewSink(history, nil, nil, nil, log),
	}, log)
	t.Cleanup(m.Stop)
	t.Cleanup(func() { close(release) })

	require.NoError(t, m.Watch("slow"))
	require.NoError(t, m.Watch("fast"))
	require.NoError(t, m.Start(time.Second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastChecks >= 3
	}, 6*time.Second, 50*time.Millisecond, "fast portfolio must be checked on every tick")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, slowChecks, "the blocked portfolio is skipped, not re-entered")
}

func TestMonitor_UnwatchDuringTickSkipsPendingPortfolio(t *testing.T) {
	log := zerolog.Nop()
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := map[string]int{}
	provider := providerFunc(func(_ context.Context, id string) (*domain.PortfolioSnapshot, error) {
		mu.Lock()
		calls[id]++
		mu.Unlock()
		if id == "a" {
			close(entered)
			<-release
		}
		return losing(id), nil
	})

	history := NewHistoryStore(100)
	m := NewMonitor(Config{Interval: time.Minute, CheckTimeout: 10 * time.Second, Workers: 1}, Deps{
		Provider:  provider,
		Scheduler: newFakeScheduler(),
		Snapshots: NewSnapshotStore(nil, log),
		Prefs:     NewPreferenceStore(),
		Dedup:     NewDedupCache(time.Hour),
		History:   history,
		Sink:      NewSink(history, nil, nil, nil, log),
	}, log)
	require.NoError(t, m.Watch("a"))
	require.NoError(t, m.Watch("b"))

	done := make(chan []CheckResult)
	go func() { done <- m.CheckAllPortfolios(context.Background()) }()
	<-entered

	// "b" is listed for this tick but still waiting for the single worker
	removed, err := m.Unwatch("b")
	require.NoError(t, err)
	require.True(t, removed)

	close(release)
	results := <-done
	require.Len(t, results, 2)
	assert.Equal(t, CheckBaseline, results[0].Status)
	assert.Equal(t, CheckSkipped, results[1].Status)

	mu.Lock()
	assert.Zero(t, calls["b"], "an unwatched portfolio must not be fetched")
	mu.Unlock()
	_, ok := m.Snapshot("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, m.Portfolios())
	assert.NotContains(t, m.GetAlertStats().Checks, "b")

	require.NoError(t, m.Watch("b"))
	res, err := m.TriggerCheck(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, CheckBaseline, res.Status, "a re-watched portfolio starts from a fresh baseline")
}

func TestMonitor_TriggerCheckWatchesUnknownPortfolio(t *testing.T) {
	f := newMonitorFixture(t)
	f.provider.On("GetSnapshot", mock.Anything, "adhoc").Return(diversified("adhoc", 100), nil).Once()

	res, err := f.monitor.TriggerCheck(context.Background(), "adhoc")
	require.NoError(t, err)
	require.Equal(t, CheckBaseline, res.Status)
	assert.Equal(t, []string{"adhoc"}, f.monitor.Portfolios())

	removed, err := f.monitor.Unwatch("adhoc")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok := f.monitor.Snapshot("adhoc")
	assert.False(t, ok)
}

func TestMonitor_CheckPortfolioSkipsUnknown(t *testing.T) {
	f := newMonitorFixture(t)

	res := f.monitor.CheckPortfolio(context.Background(), "ghost")
	assert.Equal(t, CheckSkipped, res.Status)
	assert.Empty(t, f.monitor.Portfolios())
	_, ok := f.monitor.Snapshot("ghost")
	assert.False(t, ok)
	f.provider.AssertNotCalled(t, "GetSnapshot", mock.Anything, "ghost")
}

type memoryAlertRepo struct {
	alerts []Alert
}

func (r *memoryAlertRepo) SaveAlerts(a []Alert) error {
	r.alerts = append(r.alerts, a...)
	return nil
}

func (r *memoryAlertRepo) UpdateFlags(string, bool, bool) error  { return nil }
func (r *memoryAlertRepo) LoadRecent(limit int) ([]Alert, error) { return r.alerts, nil }
func (r *memoryAlertRepo) Trim(int) error                        { return nil }

func TestMonitor_InitializeRestoresState(t *testing.T) {
	log := zerolog.Nop()
	snaps := newMemorySnapshotRepo()
	require.NoError(t, snaps.SaveSnapshot(diversified("restored", 100)))
	alertRepo := &memoryAlertRepo{alerts: []Alert{
		{ID: "a1", PortfolioID: "restored", Type: AlertTest, Timestamp: time.Now()},
	}}
	history := NewHistoryStore(10)

	m := NewMonitor(Config{DefaultPortfolios: []string{"default", ""}}, Deps{
		Provider:  &mockProvider{},
		Scheduler: newFakeScheduler(),
		Snapshots: NewSnapshotStore(snaps, log),
		Prefs:     NewPreferenceStore(),
		Dedup:     NewDedupCache(time.Hour),
		History:   history,
		Sink:      NewSink(history, nil, alertRepo, nil, log),
		AlertRepo: alertRepo,
	}, log)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, []string{"default", "restored"}, m.Portfolios())
	assert.Equal(t, 1, history.Len())
	_, ok := m.Snapshot("restored")
	assert.True(t, ok)
}
