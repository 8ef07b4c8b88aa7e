package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService removes submissions older than the retention period.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a cleanup service. A non-positive retention
// disables it.
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// Enabled reports whether old submissions are purged at all.
func (s *CleanupService) Enabled() bool { return s != nil && s.RetentionDays > 0 }

// CleanupOldData removes submissions created before the cutoff.
func (s *CleanupService) CleanupOldData(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	ctx, span := startSpan(ctx, "repo.submissions", "submissions.Cleanup", "DELETE", "submissions")
	defer span.End()
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)
	tag, err := s.Pool.Exec(ctx, `DELETE FROM submissions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=submission.cleanup: %w", err)
	}
	slog.Info("data cleanup completed",
		slog.Int64("deleted_submissions", tag.RowsAffected()),
		slog.Time("cutoff", cutoff))
	return tag.RowsAffected(), nil
}

// RunPeriodic runs the cleanup immediately and then at every interval until ctx ends.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if !s.Enabled() {
		return
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if _, err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
