package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// Archiver copies transaction records older than the retention window to
// cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archive_job")),
		now:           time.Now,
	}
}

// Name identifies the job in scheduler logs.
func (a *Archiver) Name() string { return "transaction-archive" }

// Run executes a single archive run with the cutoff truncated to the day, so
// reruns on the same day target the same objects.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays).Truncate(24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveTransactions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive transactions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("transactions_archived", n))
	return nil
}
