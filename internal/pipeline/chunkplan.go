package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// ChunkPlanningHandler implements the Chunk-Planning stage (spec.md §4.E.3):
// compute segment windows for a Content's duration, persist them atomically
// alongside expectedSegmentCount, and enqueue one Segment-Analysis job per
// segment.
type ChunkPlanningHandler struct {
	contents domain.ContentRepository
	segments domain.SegmentRepository
	prompts  domain.PromptRepository
	queue    Enqueuer
	maxSeg   float64
	overlap  float64
}

// NewChunkPlanningHandler constructs a ChunkPlanningHandler. maxSeg and
// overlap are the operator-configured chunk window parameters
// (internal/config's MaxSegmentSec/SegmentOverlapSec); a zero value falls
// back to DefaultMaxSegmentSec/DefaultSegmentOverlapSec.
func NewChunkPlanningHandler(contents domain.ContentRepository, segments domain.SegmentRepository, prompts domain.PromptRepository, queue Enqueuer, maxSeg, overlap float64) *ChunkPlanningHandler {
	if maxSeg <= 0 {
		maxSeg = DefaultMaxSegmentSec
	}
	if overlap <= 0 {
		overlap = DefaultSegmentOverlapSec
	}
	return &ChunkPlanningHandler{contents: contents, segments: segments, prompts: prompts, queue: queue, maxSeg: maxSeg, overlap: overlap}
}

// Handle processes one ChunkPlanningPayload.
func (h *ChunkPlanningHandler) Handle(ctx Context, payload []byte) StageResult {
	var p ChunkPlanningPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return FailWith(FailValidation, "bad-payload", err)
	}

	content, err := h.contents.FindContent(ctx, p.ContentID)
	if err != nil {
		return FailWith(FailValidation, "content-not-found", err)
	}
	if content.State != domain.ContentMetadataReady {
		slog.Info("chunk-planning: already processed, skipping", slog.String("content_id", p.ContentID), slog.String("state", string(content.State)))
		return Ok()
	}

	if content.Duration <= 0 {
		lastErr := "invalid duration"
		patch := domain.ContentPatch{State: domain.ContentFailed, LastError: &lastErr}
		_ = h.contents.UpdateContent(ctx, p.ContentID, patch, domain.ContentMetadataReady)
		return FailWith(FailValidation, "invalid-duration", fmt.Errorf("duration %v <= 0", content.Duration))
	}

	windows := PlanChunks(content.Duration, h.maxSeg, h.overlap)
	segments := make([]domain.Segment, 0, len(windows))
	for i, w := range windows {
		segments = append(segments, domain.Segment{
			ContentID: p.ContentID,
			Index:     i,
			StartSec:  w.StartSec,
			EndSec:    w.EndSec,
			State:     domain.SegmentPending,
		})
	}

	if err := h.segments.CreateSegmentsBulk(ctx, p.ContentID, len(segments), segments); err != nil {
		return FailWith(FailTransient, "create-segments-failed", err)
	}

	expected := len(segments)
	patch := domain.ContentPatch{State: domain.ContentProcessing, ExpectedSegmentCount: &expected}
	if err := h.contents.UpdateContent(ctx, p.ContentID, patch, domain.ContentMetadataReady); err != nil {
		return FailWith(FailTransient, "update-failed", err)
	}

	promptID := ""
	if prompt, err := h.prompts.GetActive(ctx, domain.PromptTypeSegmentAnalysis); err == nil {
		promptID = fmt.Sprintf("%s:%d", prompt.Name, prompt.Version)
	}

	for i, seg := range segments {
		sp, err := json.Marshal(SegmentAnalysisPayload{
			ContentID:         p.ContentID,
			SegmentIndex:      seg.Index,
			ExternalSourceRef: content.ExternalVideoID,
			PromptID:          promptID,
		})
		if err != nil {
			return FailWith(FailFatal, "payload-marshal-failed", err)
		}
		if err := h.queue.Enqueue(ctx, QueueSegmentAnalysis, sp, EnqueueOptions{}); err != nil {
			slog.Error("chunk-planning: failed to enqueue segment analysis", slog.String("content_id", p.ContentID), slog.Int("segment_index", i), slog.Any("error", err))
			return FailWith(FailTransient, "enqueue-segment-analysis-failed", err)
		}
	}

	slog.Info("chunk-planning complete", slog.String("content_id", p.ContentID), slog.Int("segments", len(segments)))
	return Ok()
}
