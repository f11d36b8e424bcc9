package pipeline

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// StatsHandler implements the peripheral Stats stage (spec.md §4.E.6):
// periodically refresh a Content's viewer-statistics time series. It is not
// on the critical path; failures are logged, never propagated as a
// retryable or fatal StageResult.
type StatsHandler struct {
	contents domain.ContentRepository
	source   domain.SourceProvider
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(contents domain.ContentRepository, source domain.SourceProvider) *StatsHandler {
	return &StatsHandler{contents: contents, source: source}
}

// Handle processes one StatsPayload.
func (h *StatsHandler) Handle(ctx Context, payload []byte) StageResult {
	var p StatsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("stats: bad payload, dropping", slog.Any("error", err))
		return Ok()
	}

	content, err := h.contents.FindContent(ctx, p.ContentID)
	if err != nil {
		slog.Warn("stats: content lookup failed, dropping", slog.String("content_id", p.ContentID), slog.Any("error", err))
		return Ok()
	}

	items, err := h.source.GetItemDetails(ctx, []string{content.ExternalVideoID})
	if err != nil || len(items) == 0 {
		slog.Warn("stats: source fetch failed, skipping", slog.String("content_id", p.ContentID), slog.Any("error", err))
		return Ok()
	}
	item := items[0]

	stat := domain.ContentStat{
		CapturedAt:   time.Now(),
		ViewCount:    item.ViewCount,
		LikeCount:    item.LikeCount,
		CommentCount: item.CommentCount,
	}
	patch := domain.ContentPatch{State: content.State, AppendStatistic: &stat}
	if err := h.contents.UpdateContent(ctx, p.ContentID, patch, ""); err != nil {
		slog.Warn("stats: update failed, dropping", slog.String("content_id", p.ContentID), slog.Any("error", err))
	}

	return Ok()
}
