package alerts

import (
	"github.com/rs/zerolog"
)

// DedupCleanupJob removes expired dedup entries.
// It should be scheduled to run hourly.
type DedupCleanupJob struct {
	dedup *DedupCache
	log   zerolog.Logger
}

// NewDedupCleanupJob creates a new dedup cleanup job.
func NewDedupCleanupJob(dedup *DedupCache, log zerolog.Logger) *DedupCleanupJob {
	return &DedupCleanupJob{
		dedup: dedup,
		log:   log.With().Str("job", "alerts_dedup_cleanup").Logger(),
	}
}

// Run removes every expired entry.
func (j *DedupCleanupJob) Run() error {
	removed := j.dedup.DeleteExpired()
	if removed > 0 {
		j.log.Info().
			Int("deleted", removed).
			Int("remaining", j.dedup.Len()).
			Msg("Cleaned up expired dedup entries")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *DedupCleanupJob) Name() string {
	return "alerts_dedup_cleanup"
}
