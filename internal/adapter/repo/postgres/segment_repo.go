package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// SegmentRepo persists domain.Segment records, the time-bounded slices a
// Content is chunk-planned into (spec.md §4.G).
type SegmentRepo struct{ Pool PgxPool }

// NewSegmentRepo constructs a SegmentRepo with the given pool.
func NewSegmentRepo(p PgxPool) *SegmentRepo { return &SegmentRepo{Pool: p} }

// CreateSegmentsBulk inserts segments and sets the owning Content's
// expectedSegmentCount in one transaction, so a partially-chunk-planned
// video can never be observed by the fan-in controller (spec.md §4.G).
func (r *SegmentRepo) CreateSegmentsBulk(ctx domain.Context, contentID string, expected int, segments []domain.Segment) error {
	tracer := otel.Tracer("repo.segments")
	ctx, span := tracer.Start(ctx, "segments.CreateSegmentsBulk")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "segments"))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=segment.create_bulk.begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	insert := `INSERT INTO segments (content_id, index, start_sec, end_sec, state, prompt_version)
	           VALUES ($1,$2,$3,$4,$5,$6)`
	for _, seg := range segments {
		if _, err := tx.Exec(ctx, insert, contentID, seg.Index, seg.StartSec, seg.EndSec, seg.State, seg.PromptVersion); err != nil {
			return fmt.Errorf("op=segment.create_bulk.insert index=%d: %w", seg.Index, err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE contents SET expected_segment_count=$2, updated_at=now() WHERE id=$1`, contentID, expected); err != nil {
		return fmt.Errorf("op=segment.create_bulk.update_content: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=segment.create_bulk.commit: %w", err)
	}
	committed = true
	return nil
}

func (r *SegmentRepo) Get(ctx domain.Context, contentID string, index int) (domain.Segment, error) {
	tracer := otel.Tracer("repo.segments")
	ctx, span := tracer.Start(ctx, "segments.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "segments"))

	q := `SELECT content_id, index, start_sec, end_sec, state, COALESCE(analysis_result,''), COALESCE(model_used,''), COALESCE(processing_ms,0), COALESCE(error,''), retry_count, COALESCE(prompt_version,'')
	      FROM segments WHERE content_id=$1 AND index=$2`
	row := r.Pool.QueryRow(ctx, q, contentID, index)
	var s domain.Segment
	if err := row.Scan(&s.ContentID, &s.Index, &s.StartSec, &s.EndSec, &s.State, &s.AnalysisResult, &s.ModelUsed, &s.ProcessingMs, &s.Error, &s.RetryCount, &s.PromptVersion); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Segment{}, fmt.Errorf("op=segment.get: %w", domain.ErrNotFound)
		}
		return domain.Segment{}, fmt.Errorf("op=segment.get: %w", err)
	}
	return s, nil
}

func (r *SegmentRepo) UpdateSegment(ctx domain.Context, contentID string, index int, patch domain.SegmentPatch) error {
	tracer := otel.Tracer("repo.segments")
	ctx, span := tracer.Start(ctx, "segments.UpdateSegment")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "segments"))

	sets := []string{"state=$3"}
	args := []any{contentID, index, patch.State}
	next := 4
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", col, next))
		args = append(args, v)
		next++
	}
	if patch.AnalysisResult != nil {
		add("analysis_result", *patch.AnalysisResult)
	}
	if patch.ModelUsed != nil {
		add("model_used", *patch.ModelUsed)
	}
	if patch.ProcessingMs != nil {
		add("processing_ms", *patch.ProcessingMs)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.PromptVersion != nil {
		add("prompt_version", *patch.PromptVersion)
	}
	if patch.IncrRetryCount {
		sets = append(sets, "retry_count = retry_count + 1")
	}

	q := fmt.Sprintf("UPDATE segments SET %s WHERE content_id=$1 AND index=$2", joinSets(sets))
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("op=segment.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=segment.update content=%s index=%d: %w", contentID, index, domain.ErrNotFound)
	}
	return nil
}

func (r *SegmentRepo) ListSegments(ctx domain.Context, contentID string, state domain.SegmentState) ([]domain.Segment, error) {
	tracer := otel.Tracer("repo.segments")
	ctx, span := tracer.Start(ctx, "segments.ListSegments")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "segments"))

	q := `SELECT content_id, index, start_sec, end_sec, state, COALESCE(analysis_result,''), COALESCE(model_used,''), COALESCE(processing_ms,0), COALESCE(error,''), retry_count, COALESCE(prompt_version,'')
	      FROM segments WHERE content_id=$1`
	args := []any{contentID}
	if state != "" {
		q += ` AND state=$2`
		args = append(args, state)
	}
	q += ` ORDER BY index`

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=segment.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		var s domain.Segment
		if err := rows.Scan(&s.ContentID, &s.Index, &s.StartSec, &s.EndSec, &s.State, &s.AnalysisResult, &s.ModelUsed, &s.ProcessingMs, &s.Error, &s.RetryCount, &s.PromptVersion); err != nil {
			return nil, fmt.Errorf("op=segment.list_scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=segment.list_rows: %w", err)
	}
	return out, nil
}

func (r *SegmentRepo) CountSegmentsByState(ctx domain.Context, contentID string, states []domain.SegmentState) (int, error) {
	tracer := otel.Tracer("repo.segments")
	ctx, span := tracer.Start(ctx, "segments.CountSegmentsByState")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "segments"))

	q := `SELECT COUNT(*) FROM segments WHERE content_id=$1 AND state = ANY($2)`
	row := r.Pool.QueryRow(ctx, q, contentID, states)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=segment.count_by_state: %w", err)
	}
	return count, nil
}

var _ domain.SegmentRepository = (*SegmentRepo)(nil)
