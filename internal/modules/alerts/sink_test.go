package alerts

import (
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aristath/alertmonitor/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	msgs  []BatchMessage
	fails bool
}

func (p *recordingPublisher) Publish(msg BatchMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails {
		return errors.New("subscriber gone")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) batches() []BatchMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BatchMessage(nil), p.msgs...)
}

type failingAlertRepo struct{}

func (failingAlertRepo) SaveAlerts([]Alert) error             { return errors.New("db locked") }
func (failingAlertRepo) UpdateFlags(string, bool, bool) error { return errors.New("db locked") }
func (failingAlertRepo) LoadRecent(int) ([]Alert, error)      { return nil, nil }
func (failingAlertRepo) Trim(int) error                       { return nil }

var alertIDPattern = regexp.MustCompile(`^alert_\d+_[0-9a-f]{8}$`)

func TestSink_SendAlertsStampsAndPublishes(t *testing.T) {
	history := NewHistoryStore(10)
	pub := &recordingPublisher{}
	sink := NewSink(history, pub, nil, nil, zerolog.Nop())
	fixed := time.UnixMilli(1_700_000_000_123)
	sink.now = func() time.Time { return fixed }

	sent := sink.SendAlerts("p1", []Alert{
		{Type: AlertPortfolioDailyLoss, Severity: SeverityHigh, Read: true},
		{Type: AlertConcentrationRisk, Severity: SeverityMedium, Symbol: "AAPL"},
	})

	require.Len(t, sent, 2)
	for _, a := range sent {
		assert.Regexp(t, alertIDPattern, a.ID)
		assert.Equal(t, "p1", a.PortfolioID)
		assert.False(t, a.Read)
		assert.True(t, a.Timestamp.Equal(fixed))
	}
	assert.NotEqual(t, sent[0].ID, sent[1].ID)
	assert.Contains(t, sent[0].ID, "alert_1700000000123_")

	batches := pub.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "portfolio_alerts", batches[0].Type)
	assert.Equal(t, "p1", batches[0].PortfolioID)
	assert.Len(t, batches[0].Alerts, 2)

	assert.Equal(t, 2, history.Len())
}

func TestSink_EmptyBatchIsIgnored(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewSink(NewHistoryStore(10), pub, nil, nil, zerolog.Nop())
	assert.Nil(t, sink.SendAlerts("p1", nil))
	assert.Empty(t, pub.batches())
}

func TestSink_PublishFailureKeepsHistory(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	history := NewHistoryStore(10)
	sink := NewSink(history, &recordingPublisher{fails: true}, failingAlertRepo{}, metrics, zerolog.Nop())

	sent := sink.SendAlerts("p1", []Alert{{Type: AlertTest, Severity: SeverityLow}})
	require.Len(t, sent, 1)
	assert.Equal(t, 1, history.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.publishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.alerts.WithLabelValues("test_alert", "low")))

	// repository errors are logged, not surfaced
	read := true
	updated, err := sink.SetFlags(sent[0].ID, &read, nil)
	require.NoError(t, err)
	assert.True(t, updated.Read)
}

func TestSink_PersistsAndTrims(t *testing.T) {
	repo := NewSQLiteRepository(setupAlertsDB(t), zerolog.Nop())
	sink := NewSink(NewHistoryStore(3), nil, repo, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		sink.SendAlerts("p1", []Alert{{Type: AlertTest, Severity: SeverityLow}})
	}

	stored, err := repo.LoadRecent(100)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	yes := true
	_, err = sink.SetFlags(stored[2].ID, &yes, &yes)
	require.NoError(t, err)
	stored, err = repo.LoadRecent(100)
	require.NoError(t, err)
	assert.True(t, stored[2].Acknowledged)

	_, err = sink.SetFlags("missing", &yes, nil)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestBusPublisher_EmitsPortfolioAlerts(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var got []events.Event
	bus.Subscribe(events.PortfolioAlerts, func(e events.Event) { got = append(got, e) })

	msg := BatchMessage{Type: string(events.PortfolioAlerts), PortfolioID: "p1"}
	require.NoError(t, NewBusPublisher(bus).Publish(msg))

	require.Len(t, got, 1)
	assert.Equal(t, events.ModuleAlerts, got[0].Module)
	assert.Equal(t, msg, got[0].Payload)
}

func TestShardedMap_Operations(t *testing.T) {
	m := newShardedMap[int]()
	m.Set("a", 1)
	assert.True(t, m.SetIfAbsent("b", 2))
	assert.False(t, m.SetIfAbsent("b", 3))

	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 11, m.Update("a", func(old int, exists bool) int {
		assert.True(t, exists)
		return old + 10
	}))
	assert.Equal(t, 5, m.Update("c", func(old int, exists bool) int {
		assert.False(t, exists)
		return 5
	}))

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 1, m.DeleteIf(func(_ string, v int) bool { return v > 10 }))
	assert.True(t, m.Delete("b"))
	assert.False(t, m.Delete("b"))

	sum := 0
	m.Range(func(_ string, v int) { sum += v })
	assert.Equal(t, 5, sum)
}

func TestKeyGuard_ExclusivePerKey(t *testing.T) {
	g := newKeyGuard()
	require.True(t, g.TryAcquire("p1"))
	assert.False(t, g.TryAcquire("p1"))
	assert.True(t, g.TryAcquire("p2"))
	assert.True(t, g.Held("p1"))

	g.Release("p1")
	assert.False(t, g.Held("p1"))
	assert.True(t, g.TryAcquire("p1"))
}

func TestKeyGuard_ConcurrentAcquire(t *testing.T) {
	g := newKeyGuard()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("p1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
