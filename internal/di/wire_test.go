package di

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/alertmonitor/internal/config"
	"github.com/aristath/alertmonitor/internal/events"
	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testConfig(t *testing.T, persistence bool) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Port:    8080,
		Provider: config.ProviderConfig{
			BaseURL:    "http://127.0.0.1:1/api",
			Timeout:    time.Second,
			RatePerSec: 100,
			Burst:      10,
		},
		Monitor: config.MonitorConfig{
			Interval:          time.Minute,
			Workers:           2,
			CheckTimeout:      time.Second,
			DefaultPortfolios: []string{"default"},
			DedupTTL:          time.Hour,
			HistoryCapacity:   50,
			Persistence:       persistence,
		},
	}
}

func TestWire(t *testing.T) {
	container, jobs, err := Wire(testConfig(t, false), testLogger())
	require.NoError(t, err)
	require.NotNil(t, jobs)
	t.Cleanup(container.Close)

	assert.Nil(t, container.AlertsDB)
	assert.Nil(t, container.AlertRepo)
	assert.Nil(t, container.ObjectStore)
	assert.NotNil(t, container.EventBus)
	assert.NotNil(t, container.Hub)
	assert.NotNil(t, container.Registry)
	assert.NotNil(t, container.PortfolioClient)
	assert.NotNil(t, container.Monitor)
	assert.Equal(t, 50, container.History.Capacity())
}

// End to end through the wired graph: provider -> monitor -> sink -> bus, persisted to alerts.db
func TestWire_PersistentPipeline(t *testing.T) {
	var mu sync.Mutex
	day := -1.0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/portfolio/p1" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"holdings": []map[string]interface{}{
				{"symbol": "A", "quantity": 10, "currentPrice": 100, "currentValue": 1000},
				{"symbol": "B", "quantity": 10, "currentPrice": 100, "currentValue": 1000},
				{"symbol": "C", "quantity": 10, "currentPrice": 100, "currentValue": 1000},
				{"symbol": "D", "quantity": 10, "currentPrice": 100, "currentValue": 1000},
				{"symbol": "E", "quantity": 10, "currentPrice": 100, "currentValue": 1000},
			},
			"summary": map[string]interface{}{
				"totalValue":       5000,
				"dayChange":        day * 50,
				"dayChangePercent": day,
			},
		})
	}))
	defer provider.Close()

	cfg := testConfig(t, true)
	cfg.Provider.BaseURL = provider.URL + "/api"

	container, _, err := Wire(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(container.Close)
	require.NoError(t, container.Monitor.Initialize(context.Background()))

	var batches atomic.Int32
	container.EventBus.Subscribe(events.PortfolioAlerts, func(events.Event) { batches.Add(1) })

	result, err := container.Monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, alerts.CheckBaseline, result.Status)

	mu.Lock()
	day = -4
	mu.Unlock()
	result, err = container.Monitor.TriggerCheck(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, alerts.CheckOK, result.Status)
	require.Equal(t, 1, result.AlertCount)
	assert.Equal(t, int32(1), batches.Load())

	stored, err := container.AlertRepo.LoadRecent(10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, alerts.AlertPortfolioDailyLoss, stored[0].Type)

	snaps, err := container.AlertRepo.LoadSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "p1", snaps[0].PortfolioID)
}
