package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// QuotaRepo persists parsed provider quota rejections (spec.md §4.G) and,
// since both concerns share the same "record a rejected unit of work" shape,
// also implements the asynq worker's DLQRecorder port for terminally failed
// jobs.
type QuotaRepo struct{ Pool PgxPool }

// NewQuotaRepo constructs a QuotaRepo with the given pool.
func NewQuotaRepo(p PgxPool) *QuotaRepo { return &QuotaRepo{Pool: p} }

func (r *QuotaRepo) RecordQuotaViolation(ctx domain.Context, v domain.QuotaViolation) error {
	tracer := otel.Tracer("repo.quota_violations")
	ctx, span := tracer.Start(ctx, "quota_violations.Record")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "quota_violations"))

	q := `INSERT INTO quota_violations (id, timestamp, model, kind, retry_delay_sec, raw_payload, worker_id)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), v.Timestamp, v.Model, v.Kind, v.RetryDelaySec, v.RawPayload, v.WorkerID)
	if err != nil {
		return fmt.Errorf("op=quota_violation.record: %w", err)
	}
	return nil
}

func (r *QuotaRepo) GetViolations(ctx domain.Context, limit int) ([]domain.QuotaViolation, error) {
	tracer := otel.Tracer("repo.quota_violations")
	ctx, span := tracer.Start(ctx, "quota_violations.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "quota_violations"))

	q := `SELECT timestamp, model, kind, retry_delay_sec, COALESCE(raw_payload,''), COALESCE(worker_id,'')
	      FROM quota_violations ORDER BY timestamp DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=quota_violation.list: %w", err)
	}
	defer rows.Close()

	var out []domain.QuotaViolation
	for rows.Next() {
		var v domain.QuotaViolation
		if err := rows.Scan(&v.Timestamp, &v.Model, &v.Kind, &v.RetryDelaySec, &v.RawPayload, &v.WorkerID); err != nil {
			return nil, fmt.Errorf("op=quota_violation.list_scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=quota_violation.list_rows: %w", err)
	}
	return out, nil
}

// RecordDLQJob persists a job the worker's dispatch table gave up on
// (pipeline.FailValidation or pipeline.FailFatal), satisfying
// internal/adapter/queue/asynq's DLQRecorder port.
func (r *QuotaRepo) RecordDLQJob(ctx context.Context, job domain.DLQJob) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Record")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "dlq_jobs"))

	history, err := json.Marshal(job.RetryInfo.ErrorHistory)
	if err != nil {
		return fmt.Errorf("op=dlq.record.marshal_history: %w", err)
	}
	q := `INSERT INTO dlq_jobs (job_id, queue_name, original_payload, attempt_count, retry_status, last_error, error_history, failure_reason, can_be_reprocessed, moved_to_dlq_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
	      ON CONFLICT (job_id) DO UPDATE SET failure_reason=EXCLUDED.failure_reason, moved_to_dlq_at=now()`
	_, err = r.Pool.Exec(ctx, q, job.JobID, job.QueueName, job.OriginalPayload, job.RetryInfo.AttemptCount, job.RetryInfo.RetryStatus, job.RetryInfo.LastError, history, job.FailureReason, job.CanBeReprocessed)
	if err != nil {
		return fmt.Errorf("op=dlq.record: %w", err)
	}
	return nil
}

var _ domain.QuotaViolationRepository = (*QuotaRepo)(nil)
