package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/pkg/textx"
)

// DiscoveryHandler implements the Discovery stage (spec.md §4.E.1): resolve
// a channel's canonical upload collection, fetch its most recent items, and
// insert a Content (state DISCOVERED) plus a Metadata job for every item
// unknown to the store.
type DiscoveryHandler struct {
	channels domain.ChannelRepository
	contents domain.ContentRepository
	source   domain.SourceProvider
	queue    Enqueuer
}

// NewDiscoveryHandler constructs a DiscoveryHandler.
func NewDiscoveryHandler(channels domain.ChannelRepository, contents domain.ContentRepository, source domain.SourceProvider, queue Enqueuer) *DiscoveryHandler {
	return &DiscoveryHandler{channels: channels, contents: contents, source: source, queue: queue}
}

// Handle processes one DiscoveryPayload.
func (h *DiscoveryHandler) Handle(ctx Context, payload []byte) StageResult {
	var p DiscoveryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return FailWith(FailValidation, "bad-payload", err)
	}

	channel, err := h.channels.Get(ctx, p.ChannelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return FailWith(FailValidation, "channel-not-found", err)
		}
		return FailWith(FailTransient, "channel-lookup-failed", err)
	}

	if channel.SourceType != domain.SourceYouTube {
		slog.Info("discovery: unsupported source type, skipping", slog.String("channel_id", p.ChannelID), slog.String("source_type", string(channel.SourceType)))
		return Ok()
	}

	uploadsID := channel.UploadsPlaylistID
	if uploadsID == "" {
		uploadsID, err = h.source.ResolveUploadsCollection(ctx, channel.ExternalID)
		if err != nil {
			return FailWith(FailTransient, "resolve-uploads-failed", err)
		}
		channel.UploadsPlaylistID = uploadsID
		if err := h.channels.Update(ctx, channel); err != nil {
			slog.Warn("discovery: failed to cache uploads playlist id", slog.String("channel_id", p.ChannelID), slog.Any("error", err))
		}
	}

	limit := channel.FetchLastN
	if limit <= 0 {
		limit = 10
	}
	if channel.InitialFetch {
		limit *= 3
	}

	items, _, err := h.source.ListRecentItems(ctx, uploadsID, limit, "")
	if err != nil {
		return FailWith(FailTransient, "list-items-failed", err)
	}

	created := 0
	for _, item := range items {
		if _, err := h.contents.FindByExternalID(ctx, item.ID); err == nil {
			continue // already known; idempotent no-op
		} else if !errors.Is(err, domain.ErrNotFound) {
			return FailWith(FailTransient, "content-lookup-failed", err)
		}

		content := domain.Content{
			ChannelID:       channel.ID,
			ExternalVideoID: item.ID,
			Title:           textx.SanitizeText(item.Title),
			Description:     textx.SanitizeText(item.Description),
			PublishedAt:     item.PublishedAt,
			Duration:        item.Duration,
			ViewCount:       item.ViewCount,
			Thumbnail:       item.Thumbnail,
			State:           domain.ContentDiscovered,
		}
		contentID, err := h.contents.Create(ctx, content)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue // raced with another delivery; already inserted
			}
			return FailWith(FailTransient, "content-create-failed", err)
		}
		created++

		mp, err := json.Marshal(MetadataPayload{ContentID: contentID})
		if err != nil {
			return FailWith(FailFatal, "payload-marshal-failed", err)
		}
		if err := h.queue.Enqueue(ctx, QueueContentMetadata, mp, EnqueueOptions{}); err != nil {
			return FailWith(FailTransient, "enqueue-metadata-failed", err)
		}
	}

	slog.Info("discovery complete", slog.String("channel_id", p.ChannelID), slog.Int("items_seen", len(items)), slog.Int("contents_created", created))
	return Ok()
}
