package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// Tx is the subset of pgx.Tx the cleanup service needs.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts a transaction; *pgxpool.Pool satisfies this.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// poolBeginner adapts a PgxPool's BeginTx to the narrower Beginner
// interface cleanup needs.
type poolBeginner struct{ pool PgxPool }

// NewPoolBeginner wraps p so it satisfies Beginner.
func NewPoolBeginner(p PgxPool) Beginner { return poolBeginner{pool: p} }

func (b poolBeginner) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// CleanupService retires quota-violation records and DLQ jobs older than
// their respective retention windows, per spec.md §4.G's operational
// housekeeping note. The two tables age out independently: DLQ jobs are
// kept around for triage and so get their own, typically shorter, window.
type CleanupService struct {
	beginner      Beginner
	RetentionDays int
	DLQMaxAge     time.Duration
}

// NewCleanupService creates a new cleanup service bound to beginner.
// dlqMaxAge of zero falls back to the quota-violation retention window.
func NewCleanupService(beginner Beginner, retentionDays int, dlqMaxAge time.Duration) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	if dlqMaxAge <= 0 {
		dlqMaxAge = time.Duration(retentionDays) * 24 * time.Hour
	}
	return &CleanupService{beginner: beginner, RetentionDays: retentionDays, DLQMaxAge: dlqMaxAge}
}

// CleanupOldData removes quota violations and DLQ jobs older than their
// respective retention periods.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	violationsCutoff := time.Now().AddDate(0, 0, -s.RetentionDays)
	dlqCutoff := time.Now().Add(-s.DLQMaxAge)

	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deletedViolations int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM quota_violations
			WHERE timestamp < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, violationsCutoff).Scan(&deletedViolations)
	if err != nil {
		slog.Debug("no quota violations to delete", slog.Any("error", err))
	}

	var deletedDLQ int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM dlq_jobs
			WHERE moved_to_dlq_at < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, dlqCutoff).Scan(&deletedDLQ)
	if err != nil {
		slog.Debug("no DLQ jobs to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("retention cleanup completed",
		slog.Int64("deleted_quota_violations", deletedViolations),
		slog.Int64("deleted_dlq_jobs", deletedDLQ),
		slog.Time("violations_cutoff", violationsCutoff),
		slog.Time("dlq_cutoff", dlqCutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job, running until ctx is canceled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
