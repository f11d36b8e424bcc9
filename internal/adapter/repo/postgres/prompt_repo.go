package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// PromptRepo resolves versioned prompt templates for a pipeline stage
// (spec.md §4.G).
type PromptRepo struct{ Pool PgxPool }

// NewPromptRepo constructs a PromptRepo with the given pool.
func NewPromptRepo(p PgxPool) *PromptRepo { return &PromptRepo{Pool: p} }

func (r *PromptRepo) GetActive(ctx domain.Context, promptType domain.PromptType) (domain.Prompt, error) {
	tracer := otel.Tracer("repo.prompts")
	ctx, span := tracer.Start(ctx, "prompts.GetActive")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "prompts"))

	q := `SELECT name, version, template, is_active, prompt_type, COALESCE(response_schema,''), COALESCE(mime_type,'')
	      FROM prompts WHERE prompt_type=$1 AND is_active=true ORDER BY version DESC LIMIT 1`
	return r.scan(ctx, q, promptType)
}

func (r *PromptRepo) Get(ctx domain.Context, name string, version int) (domain.Prompt, error) {
	tracer := otel.Tracer("repo.prompts")
	ctx, span := tracer.Start(ctx, "prompts.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "prompts"))

	q := `SELECT name, version, template, is_active, prompt_type, COALESCE(response_schema,''), COALESCE(mime_type,'')
	      FROM prompts WHERE name=$1 AND version=$2`
	return r.scan(ctx, q, name, version)
}

func (r *PromptRepo) scan(ctx domain.Context, q string, args ...any) (domain.Prompt, error) {
	row := r.Pool.QueryRow(ctx, q, args...)
	var p domain.Prompt
	if err := row.Scan(&p.Name, &p.Version, &p.Template, &p.IsActive, &p.PromptType, &p.ResponseSchema, &p.MIMEType); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Prompt{}, fmt.Errorf("op=prompt.get: %w", domain.ErrNotFound)
		}
		return domain.Prompt{}, fmt.Errorf("op=prompt.get: %w", err)
	}
	return p, nil
}

var _ domain.PromptRepository = (*PromptRepo)(nil)
