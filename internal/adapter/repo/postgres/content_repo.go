package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// ContentRepo persists domain.Content records, one row per ingested video
// (spec.md §4.G).
type ContentRepo struct{ Pool PgxPool }

// NewContentRepo constructs a ContentRepo with the given pool.
func NewContentRepo(p PgxPool) *ContentRepo { return &ContentRepo{Pool: p} }

func (r *ContentRepo) Create(ctx domain.Context, c domain.Content) (string, error) {
	tracer := otel.Tracer("repo.contents")
	ctx, span := tracer.Start(ctx, "contents.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "contents"))

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	stats, err := json.Marshal(c.Statistics)
	if err != nil {
		return "", fmt.Errorf("op=content.create.marshal_stats: %w", err)
	}
	q := `INSERT INTO contents (id, channel_id, external_video_id, title, description, published_at, duration, view_count, thumbnail, canonical_url, expected_segment_count, state, statistics, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now(), now())`
	_, err = r.Pool.Exec(ctx, q, id, c.ChannelID, c.ExternalVideoID, c.Title, c.Description, c.PublishedAt, c.Duration, c.ViewCount, c.Thumbnail, c.CanonicalURL, c.ExpectedSegmentCount, c.State, stats)
	if err != nil {
		return "", fmt.Errorf("op=content.create: %w", err)
	}
	return id, nil
}

func (r *ContentRepo) FindByExternalID(ctx domain.Context, externalVideoID string) (domain.Content, error) {
	tracer := otel.Tracer("repo.contents")
	ctx, span := tracer.Start(ctx, "contents.FindByExternalID")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "contents"))

	return r.scanOne(ctx, `WHERE external_video_id=$1`, externalVideoID)
}

func (r *ContentRepo) FindContent(ctx domain.Context, id string) (domain.Content, error) {
	tracer := otel.Tracer("repo.contents")
	ctx, span := tracer.Start(ctx, "contents.FindContent")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "contents"))

	return r.scanOne(ctx, `WHERE id=$1`, id)
}

func (r *ContentRepo) scanOne(ctx domain.Context, where string, arg any) (domain.Content, error) {
	q := `SELECT id, channel_id, external_video_id, title, description, published_at, duration, view_count, thumbnail, canonical_url, expected_segment_count, state,
	             COALESCE(combined_analysis,''), models_used, COALESCE(prompt_version,''), combined_at, COALESCE(last_error,''), statistics, created_at, updated_at
	      FROM contents ` + where
	row := r.Pool.QueryRow(ctx, q, arg)
	var c domain.Content
	var stats []byte
	if err := row.Scan(&c.ID, &c.ChannelID, &c.ExternalVideoID, &c.Title, &c.Description, &c.PublishedAt, &c.Duration, &c.ViewCount, &c.Thumbnail, &c.CanonicalURL, &c.ExpectedSegmentCount, &c.State,
		&c.CombinedAnalysis, &c.ModelsUsed, &c.PromptVersion, &c.CombinedAt, &c.LastError, &stats, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Content{}, fmt.Errorf("op=content.find: %w", domain.ErrNotFound)
		}
		return domain.Content{}, fmt.Errorf("op=content.find: %w", err)
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &c.Statistics); err != nil {
			return domain.Content{}, fmt.Errorf("op=content.find.unmarshal_stats: %w", err)
		}
	}
	return c, nil
}

// UpdateContent applies patch, optionally as a compare-and-swap against
// expectState (spec.md §4.G). A zero-value expectState skips the check.
func (r *ContentRepo) UpdateContent(ctx domain.Context, id string, patch domain.ContentPatch, expectState domain.ContentState) error {
	tracer := otel.Tracer("repo.contents")
	ctx, span := tracer.Start(ctx, "contents.UpdateContent")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "contents"))

	sets := []string{"state=$2", "updated_at=now()"}
	args := []any{id, patch.State}
	next := 3
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", col, next))
		args = append(args, v)
		next++
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.PublishedAt != nil {
		add("published_at", *patch.PublishedAt)
	}
	if patch.Duration != nil {
		add("duration", *patch.Duration)
	}
	if patch.ViewCount != nil {
		add("view_count", *patch.ViewCount)
	}
	if patch.Thumbnail != nil {
		add("thumbnail", *patch.Thumbnail)
	}
	if patch.CanonicalURL != nil {
		add("canonical_url", *patch.CanonicalURL)
	}
	if patch.ExpectedSegmentCount != nil {
		add("expected_segment_count", *patch.ExpectedSegmentCount)
	}
	if patch.CombinedAnalysis != nil {
		add("combined_analysis", *patch.CombinedAnalysis)
	}
	if patch.ModelsUsed != nil {
		add("models_used", patch.ModelsUsed)
	}
	if patch.PromptVersion != nil {
		add("prompt_version", *patch.PromptVersion)
	}
	if patch.CombinedAt != nil {
		add("combined_at", *patch.CombinedAt)
	}
	if patch.LastError != nil {
		add("last_error", *patch.LastError)
	}
	if patch.AppendStatistic != nil {
		stat, err := json.Marshal(*patch.AppendStatistic)
		if err != nil {
			return fmt.Errorf("op=content.update.marshal_statistic: %w", err)
		}
		sets = append(sets, fmt.Sprintf("statistics = statistics || $%d::jsonb", next))
		args = append(args, fmt.Sprintf("[%s]", stat))
		next++
	}

	q := fmt.Sprintf("UPDATE contents SET %s WHERE id=$1", joinSets(sets))
	if expectState != "" {
		q += fmt.Sprintf(" AND state=$%d", next)
		args = append(args, expectState)
	}
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("op=content.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if expectState != "" {
			return fmt.Errorf("op=content.update id=%s expect=%s: %w", id, expectState, domain.ErrConflict)
		}
		return fmt.Errorf("op=content.update id=%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *ContentRepo) ListByChannel(ctx domain.Context, channelID string) ([]domain.Content, error) {
	tracer := otel.Tracer("repo.contents")
	ctx, span := tracer.Start(ctx, "contents.ListByChannel")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "contents"))

	q := `SELECT id, channel_id, external_video_id, title, description, published_at, duration, view_count, thumbnail, canonical_url, expected_segment_count, state,
	             COALESCE(combined_analysis,''), models_used, COALESCE(prompt_version,''), combined_at, COALESCE(last_error,''), statistics, created_at, updated_at
	      FROM contents WHERE channel_id=$1 ORDER BY published_at DESC`
	rows, err := r.Pool.Query(ctx, q, channelID)
	if err != nil {
		return nil, fmt.Errorf("op=content.list_by_channel: %w", err)
	}
	defer rows.Close()

	var out []domain.Content
	for rows.Next() {
		var c domain.Content
		var stats []byte
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.ExternalVideoID, &c.Title, &c.Description, &c.PublishedAt, &c.Duration, &c.ViewCount, &c.Thumbnail, &c.CanonicalURL, &c.ExpectedSegmentCount, &c.State,
			&c.CombinedAnalysis, &c.ModelsUsed, &c.PromptVersion, &c.CombinedAt, &c.LastError, &stats, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=content.list_by_channel_scan: %w", err)
		}
		if len(stats) > 0 {
			_ = json.Unmarshal(stats, &c.Statistics)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=content.list_by_channel_rows: %w", err)
	}
	return out, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

var _ domain.ContentRepository = (*ContentRepo)(nil)
