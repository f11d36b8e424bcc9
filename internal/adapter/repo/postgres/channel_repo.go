package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// ChannelRepo persists domain.Channel records, one row per subscribed
// upload source (spec.md §4.G).
type ChannelRepo struct{ Pool PgxPool }

// NewChannelRepo constructs a ChannelRepo with the given pool.
func NewChannelRepo(p PgxPool) *ChannelRepo { return &ChannelRepo{Pool: p} }

func (r *ChannelRepo) Create(ctx domain.Context, c domain.Channel) (string, error) {
	tracer := otel.Tracer("repo.channels")
	ctx, span := tracer.Start(ctx, "channels.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "channels"))

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO channels (id, source_type, external_id, display_name, cron_pattern, fetch_last_n, initial_fetch, author_context, uploads_playlist_id, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now(), now())`
	_, err := r.Pool.Exec(ctx, q, id, c.SourceType, c.ExternalID, c.DisplayName, c.CronPattern, c.FetchLastN, c.InitialFetch, c.AuthorContext, c.UploadsPlaylistID)
	if err != nil {
		return "", fmt.Errorf("op=channel.create: %w", err)
	}
	return id, nil
}

func (r *ChannelRepo) Update(ctx domain.Context, c domain.Channel) error {
	tracer := otel.Tracer("repo.channels")
	ctx, span := tracer.Start(ctx, "channels.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "channels"))

	q := `UPDATE channels SET display_name=$2, cron_pattern=$3, fetch_last_n=$4, initial_fetch=$5, author_context=$6, uploads_playlist_id=$7, updated_at=now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, c.ID, c.DisplayName, c.CronPattern, c.FetchLastN, c.InitialFetch, c.AuthorContext, c.UploadsPlaylistID)
	if err != nil {
		return fmt.Errorf("op=channel.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=channel.update id=%s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ChannelRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.channels")
	ctx, span := tracer.Start(ctx, "channels.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "DELETE"), attribute.String("db.sql.table", "channels"))

	tag, err := r.Pool.Exec(ctx, `DELETE FROM channels WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=channel.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=channel.delete id=%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *ChannelRepo) Get(ctx domain.Context, id string) (domain.Channel, error) {
	tracer := otel.Tracer("repo.channels")
	ctx, span := tracer.Start(ctx, "channels.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "channels"))

	q := `SELECT id, source_type, external_id, display_name, cron_pattern, fetch_last_n, initial_fetch, author_context, uploads_playlist_id, created_at, updated_at
	      FROM channels WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var c domain.Channel
	if err := row.Scan(&c.ID, &c.SourceType, &c.ExternalID, &c.DisplayName, &c.CronPattern, &c.FetchLastN, &c.InitialFetch, &c.AuthorContext, &c.UploadsPlaylistID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Channel{}, fmt.Errorf("op=channel.get: %w", domain.ErrNotFound)
		}
		return domain.Channel{}, fmt.Errorf("op=channel.get: %w", err)
	}
	return c, nil
}

func (r *ChannelRepo) List(ctx domain.Context) ([]domain.Channel, error) {
	tracer := otel.Tracer("repo.channels")
	ctx, span := tracer.Start(ctx, "channels.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "channels"))

	q := `SELECT id, source_type, external_id, display_name, cron_pattern, fetch_last_n, initial_fetch, author_context, uploads_playlist_id, created_at, updated_at
	      FROM channels ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=channel.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.SourceType, &c.ExternalID, &c.DisplayName, &c.CronPattern, &c.FetchLastN, &c.InitialFetch, &c.AuthorContext, &c.UploadsPlaylistID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=channel.list_scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=channel.list_rows: %w", err)
	}
	return out, nil
}

var _ domain.ChannelRepository = (*ChannelRepo)(nil)
