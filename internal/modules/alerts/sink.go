package alerts

import (
	"fmt"
	"time"

	"github.com/aristath/alertmonitor/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Publisher delivers alert batches to subscribers. Delivery is best effort.
type Publisher interface {
	Publish(msg BatchMessage) error
}

// AlertRepository persists alert history
type AlertRepository interface {
	SaveAlerts(alerts []Alert) error
	UpdateFlags(id string, read, acknowledged bool) error
	LoadRecent(limit int) ([]Alert, error)
	Trim(keep int) error
}

// BusPublisher publishes alert batches on the in-process event bus
type BusPublisher struct {
	bus *events.Bus
}

// NewBusPublisher creates a publisher for the given bus
func NewBusPublisher(bus *events.Bus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Publish emits msg as a PortfolioAlerts event
func (p *BusPublisher) Publish(msg BatchMessage) error {
	p.bus.Emit(events.PortfolioAlerts, events.ModuleAlerts, msg)
	return nil
}

// Sink stamps alerts, appends them to history and publishes them
type Sink struct {
	history   *HistoryStore
	publisher Publisher       // optional
	repo      AlertRepository // optional
	metrics   *Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// NewSink creates an alert sink
func NewSink(history *HistoryStore, publisher Publisher, repo AlertRepository, metrics *Metrics, log zerolog.Logger) *Sink {
	return &Sink{
		history:   history,
		publisher: publisher,
		repo:      repo,
		metrics:   metrics,
		log:       log.With().Str("component", "alert_sink").Logger(),
		now:       time.Now,
	}
}

// newAlertID returns alert_<unix millis>_<8 random hex chars>
func newAlertID(t time.Time) string {
	return fmt.Sprintf("alert_%d_%s", t.UnixMilli(), uuid.New().String()[:8])
}

// SendAlerts assigns ids, appends to history and publishes one batch for portfolioID.
// The returned slice holds the stored alerts. A publish failure never undoes the append.
func (s *Sink) SendAlerts(portfolioID string, alerts []Alert) []Alert {
	if len(alerts) == 0 {
		return nil
	}

	now := s.now()
	stamped := make([]Alert, len(alerts))
	for i, a := range alerts {
		a.ID = newAlertID(now)
		a.PortfolioID = portfolioID
		a.Read = false
		a.Acknowledged = false
		if a.Timestamp.IsZero() {
			a.Timestamp = now
		}
		stamped[i] = a
	}

	s.history.Append(stamped...)
	s.metrics.observeAlerts(stamped)

	if s.repo != nil {
		if err := s.repo.SaveAlerts(stamped); err != nil {
			s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to persist alerts")
		} else if err := s.repo.Trim(s.history.Capacity()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to trim persisted alert history")
		}
	}

	if s.publisher != nil {
		msg := BatchMessage{
			Type:        string(events.PortfolioAlerts),
			PortfolioID: portfolioID,
			Alerts:      stamped,
			Timestamp:   now,
		}
		if err := s.publisher.Publish(msg); err != nil {
			s.metrics.observePublishError()
			s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to publish alerts")
		}
	}

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Int("count", len(stamped)).
		Msg("Alerts sent")

	return stamped
}

// SetFlags updates read/acknowledged state in history and, when configured, in the repository
func (s *Sink) SetFlags(id string, read, acknowledged *bool) (Alert, error) {
	updated, err := s.history.SetFlags(id, read, acknowledged)
	if err != nil {
		return Alert{}, err
	}
	if s.repo != nil {
		if err := s.repo.UpdateFlags(id, updated.Read, updated.Acknowledged); err != nil {
			s.log.Warn().Err(err).Str("alert_id", id).Msg("Failed to persist alert flags")
		}
	}
	return updated, nil
}
