package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

const (
	archiveTimeLayout = "20060102-150405"
	minArchivesToKeep = 3
	archiveTimeout    = 2 * time.Minute
)

// ArchiveStore is the subset of ObjectStore the archive job needs
type ArchiveStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// HistorySource provides the alerts to archive
type HistorySource interface {
	Snapshot() []alerts.Alert
}

// ArchiveInfo describes one uploaded archive
type ArchiveInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
}

type archiveDocument struct {
	ArchivedAt time.Time      `json:"archivedAt"`
	Alerts     []alerts.Alert `json:"alerts"`
	Count      int            `json:"count"`
}

// HistoryArchiveJob uploads a gzipped JSON copy of the alert history and rotates old archives
type HistoryArchiveJob struct {
	store         ArchiveStore
	history       HistorySource
	prefix        string
	retentionDays int
	now           func() time.Time
	log           zerolog.Logger
}

// NewHistoryArchiveJob creates a new history archive job
func NewHistoryArchiveJob(store ArchiveStore, history HistorySource, prefix string, retentionDays int, log zerolog.Logger) *HistoryArchiveJob {
	return &HistoryArchiveJob{
		store:         store,
		history:       history,
		prefix:        strings.Trim(prefix, "/"),
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log.With().Str("job", "alerts_history_archive").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *HistoryArchiveJob) Name() string {
	return "alerts_history_archive"
}

// Run archives the current history, then rotates old archives.
// An empty history uploads nothing.
func (j *HistoryArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	snapshot := j.history.Snapshot()
	if len(snapshot) == 0 {
		j.log.Debug().Msg("No alerts to archive")
		return nil
	}

	startTime := time.Now()
	now := j.now().UTC()

	body, err := encodeArchive(archiveDocument{ArchivedAt: now, Alerts: snapshot, Count: len(snapshot)})
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	key := j.keyFor(now)
	if err := j.store.Upload(ctx, key, bytes.NewReader(body), "application/gzip"); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	j.log.Info().
		Str("key", key).
		Int("alerts", len(snapshot)).
		Int("size_bytes", len(body)).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Alert history archived")

	if err := j.rotate(ctx); err != nil {
		// rotation failure leaves extra archives behind, nothing is lost
		j.log.Warn().Err(err).Msg("Archive rotation failed")
	}
	return nil
}

func (j *HistoryArchiveJob) keyFor(t time.Time) string {
	name := "alerts-" + t.Format(archiveTimeLayout) + ".json.gz"
	if j.prefix == "" {
		return name
	}
	return j.prefix + "/" + name
}

func (j *HistoryArchiveJob) namePrefix() string {
	if j.prefix == "" {
		return "alerts-"
	}
	return j.prefix + "/alerts-"
}

// ListArchives returns the uploaded archives, newest first
func (j *HistoryArchiveJob) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	prefix := j.namePrefix()
	objects, err := j.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		if !strings.HasSuffix(key, ".json.gz") {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json.gz")
		ts, err := time.Parse(archiveTimeLayout, stamp)
		if err != nil {
			j.log.Warn().Str("key", key).Msg("Failed to parse timestamp from archive key")
			continue
		}

		info := ArchiveInfo{Key: key, Timestamp: ts}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		archives = append(archives, info)
	}

	sort.Slice(archives, func(a, b int) bool {
		return archives[a].Timestamp.After(archives[b].Timestamp)
	})
	return archives, nil
}

// rotate deletes archives older than the retention period, always keeping the newest few
func (j *HistoryArchiveJob) rotate(ctx context.Context) error {
	if j.retentionDays <= 0 {
		return nil
	}

	archives, err := j.ListArchives(ctx)
	if err != nil {
		return err
	}
	if len(archives) <= minArchivesToKeep {
		return nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)
	deleted := 0
	for _, a := range archives[minArchivesToKeep:] {
		if !a.Timestamp.Before(cutoff) {
			continue
		}
		if err := j.store.Delete(ctx, a.Key); err != nil {
			j.log.Error().Err(err).Str("key", a.Key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		j.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(archives)-deleted).
			Msg("Rotated old archives")
	}
	return nil
}

func encodeArchive(doc archiveDocument) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
