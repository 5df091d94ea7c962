package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/alertmonitor/internal/database"
	"github.com/aristath/alertmonitor/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// SQLiteRepository persists alert history and accepted snapshots in alerts.db.
// It implements both AlertRepository and SnapshotRepository.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a repository over an already migrated alerts.db connection
func NewSQLiteRepository(db *sql.DB, log zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// SaveAlerts inserts a batch of alerts in one transaction
func (r *SQLiteRepository) SaveAlerts(alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO alerts
				(id, portfolio_id, type, severity, symbol, title, message, data, created_at, read, acknowledged)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare alert insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range alerts {
			var data sql.NullString
			if len(a.Data) > 0 {
				raw, err := json.Marshal(a.Data)
				if err != nil {
					return fmt.Errorf("failed to encode data for alert %s: %w", a.ID, err)
				}
				data = sql.NullString{String: string(raw), Valid: true}
			}

			if _, err := stmt.Exec(
				a.ID, a.PortfolioID, string(a.Type), string(a.Severity), a.Symbol,
				a.Title, a.Message, data, a.Timestamp.UnixMilli(),
				boolToInt(a.Read), boolToInt(a.Acknowledged),
			); err != nil {
				return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// UpdateFlags overwrites the read/acknowledged columns of one alert
func (r *SQLiteRepository) UpdateFlags(id string, read, acknowledged bool) error {
	res, err := r.db.Exec(
		"UPDATE alerts SET read = ?, acknowledged = ? WHERE id = ?",
		boolToInt(read), boolToInt(acknowledged), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update flags for alert %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	return nil
}

// LoadRecent returns up to limit of the most recently inserted alerts, oldest first,
// so that appending them to a HistoryStore restores the original order
func (r *SQLiteRepository) LoadRecent(limit int) ([]Alert, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT id, portfolio_id, type, severity, symbol, title, message, data, created_at, read, acknowledged
		FROM (SELECT rowid AS seq, * FROM alerts ORDER BY rowid DESC LIMIT ?)
		ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a         Alert
			alertType string
			severity  string
			data      sql.NullString
			createdAt int64
			read      int
			ack       int
		)
		if err := rows.Scan(&a.ID, &a.PortfolioID, &alertType, &severity, &a.Symbol,
			&a.Title, &a.Message, &data, &createdAt, &read, &ack); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Type = AlertType(alertType)
		a.Severity = Severity(severity)
		a.Timestamp = time.UnixMilli(createdAt)
		a.Read = read != 0
		a.Acknowledged = ack != 0
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &a.Data); err != nil {
				r.log.Warn().Err(err).Str("alert_id", a.ID).Msg("Skipping undecodable alert data")
			}
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// Trim deletes everything but the keep most recently inserted alerts
func (r *SQLiteRepository) Trim(keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := r.db.Exec(`
		DELETE FROM alerts
		WHERE rowid NOT IN (SELECT rowid FROM alerts ORDER BY rowid DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("failed to trim alerts: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the msgpack-encoded snapshot for its portfolio
func (r *SQLiteRepository) SaveSnapshot(snapshot *domain.PortfolioSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}

	blob, err := msgpack.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", snapshot.PortfolioID, err)
	}

	_, err = r.db.Exec(`
		INSERT INTO portfolio_snapshots (portfolio_id, snapshot, taken_at)
		VALUES (?, ?, ?)
		ON CONFLICT(portfolio_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			taken_at = excluded.taken_at
	`, snapshot.PortfolioID, blob, snapshot.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snapshot.PortfolioID, err)
	}
	return nil
}

// DeleteSnapshot removes the stored snapshot, if any
func (r *SQLiteRepository) DeleteSnapshot(portfolioID string) error {
	if _, err := r.db.Exec("DELETE FROM portfolio_snapshots WHERE portfolio_id = ?", portfolioID); err != nil {
		return fmt.Errorf("failed to delete snapshot for %s: %w", portfolioID, err)
	}
	return nil
}

// LoadSnapshots decodes every stored snapshot. Rows that fail to decode are skipped.
func (r *SQLiteRepository) LoadSnapshots() ([]*domain.PortfolioSnapshot, error) {
	rows, err := r.db.Query("SELECT portfolio_id, snapshot FROM portfolio_snapshots ORDER BY portfolio_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.PortfolioSnapshot
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		var snap domain.PortfolioSnapshot
		if err := msgpack.Unmarshal(blob, &snap); err != nil {
			r.log.Warn().Err(err).Str("portfolio_id", id).Msg("Skipping undecodable snapshot")
			continue
		}
		snap.PortfolioID = id
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
