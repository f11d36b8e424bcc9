package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/pkg/textx"
)

// MetadataHandler implements the Metadata stage (spec.md §4.E.2): fetch
// authoritative metadata for a Content, merge it, transition to
// METADATA_READY, then enqueue Chunk-Planning.
type MetadataHandler struct {
	contents domain.ContentRepository
	source   domain.SourceProvider
	queue    Enqueuer
}

// NewMetadataHandler constructs a MetadataHandler.
func NewMetadataHandler(contents domain.ContentRepository, source domain.SourceProvider, queue Enqueuer) *MetadataHandler {
	return &MetadataHandler{contents: contents, source: source, queue: queue}
}

// Handle processes one MetadataPayload.
func (h *MetadataHandler) Handle(ctx Context, payload []byte) StageResult {
	var p MetadataPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return FailWith(FailValidation, "bad-payload", err)
	}

	content, err := h.contents.FindContent(ctx, p.ContentID)
	if err != nil {
		return FailWith(FailValidation, "content-not-found", err)
	}
	if content.State != domain.ContentDiscovered {
		slog.Info("metadata: already processed, skipping", slog.String("content_id", p.ContentID), slog.String("state", string(content.State)))
		return Ok()
	}

	items, err := h.source.GetItemDetails(ctx, []string{content.ExternalVideoID})
	if err != nil {
		return FailWith(FailTransient, "fetch-details-failed", err)
	}
	if len(items) == 0 {
		return FailWith(FailValidation, "item-not-found", fmt.Errorf("no details for %s", content.ExternalVideoID))
	}
	item := items[0]
	item.Title = textx.SanitizeText(item.Title)
	item.Description = textx.SanitizeText(item.Description)

	patch := domain.ContentPatch{
		State:        domain.ContentMetadataReady,
		Title:        &item.Title,
		Description:  &item.Description,
		PublishedAt:  &item.PublishedAt,
		Duration:     &item.Duration,
		ViewCount:    &item.ViewCount,
		Thumbnail:    &item.Thumbnail,
		CanonicalURL: canonicalURL(content.ExternalVideoID),
	}
	if err := h.contents.UpdateContent(ctx, p.ContentID, patch, domain.ContentDiscovered); err != nil {
		return FailWith(FailTransient, "update-failed", err)
	}

	cp, err := json.Marshal(ChunkPlanningPayload{ContentID: p.ContentID})
	if err != nil {
		return FailWith(FailFatal, "payload-marshal-failed", err)
	}
	if err := h.queue.Enqueue(ctx, QueueContentProcessing, cp, EnqueueOptions{}); err != nil {
		return FailWith(FailTransient, "enqueue-chunk-planning-failed", err)
	}

	return Ok()
}

func canonicalURL(externalVideoID string) *string {
	url := "https://www.youtube.com/watch?v=" + externalVideoID
	return &url
}
