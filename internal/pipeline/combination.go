package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// CombinationHandler implements the Combination stage (spec.md §4.E.5):
// merge every ANALYZED segment's artifact into one combined Content-level
// artifact via the deterministic policy in MergeAnalyses.
type CombinationHandler struct {
	contents domain.ContentRepository
	segments domain.SegmentRepository
}

// NewCombinationHandler constructs a CombinationHandler.
func NewCombinationHandler(contents domain.ContentRepository, segments domain.SegmentRepository) *CombinationHandler {
	return &CombinationHandler{contents: contents, segments: segments}
}

// Handle processes one CombinationPayload. It re-derives readiness instead
// of trusting the enqueuing caller, per spec.md §7's "checks readiness
// defensively to tolerate out-of-order stage completions".
func (h *CombinationHandler) Handle(ctx Context, payload []byte) StageResult {
	var p CombinationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return FailWith(FailValidation, "bad-payload", err)
	}

	content, err := h.contents.FindContent(ctx, p.ContentID)
	if err != nil {
		return FailWith(FailValidation, "content-not-found", err)
	}
	if content.State == domain.ContentAnalyzed && !p.Partial {
		return Ok() // already combined; stable jobId collapsed a duplicate delivery
	}

	analyzed, err := h.segments.ListSegments(ctx, p.ContentID, domain.SegmentAnalyzed)
	if err != nil {
		return FailWith(FailTransient, "list-segments-failed", err)
	}
	failedCount, err := h.segments.CountSegmentsByState(ctx, p.ContentID, []domain.SegmentState{domain.SegmentFailed, domain.SegmentOverloaded})
	if err != nil {
		return FailWith(FailTransient, "count-failed-segments-failed", err)
	}

	if len(analyzed) == 0 {
		return FailWith(FailValidation, "no-analyzed-segments", fmt.Errorf("content %s has zero ANALYZED segments", p.ContentID))
	}
	if !p.Partial && len(analyzed)+failedCount < content.ExpectedSegmentCount {
		// Not actually ready; a stale or racing trigger. Defer rather than
		// write a premature combined artifact.
		return DeferFor("not-ready", 5*time.Second)
	}

	analyses := make([]string, len(analyzed))
	modelSeen := map[string]bool{}
	var modelsUsed []string
	for i, seg := range analyzed {
		analyses[i] = seg.AnalysisResult
		if seg.ModelUsed != "" && !modelSeen[seg.ModelUsed] {
			modelSeen[seg.ModelUsed] = true
			modelsUsed = append(modelsUsed, seg.ModelUsed)
		}
	}

	merged, err := MergeAnalyses(analyses)
	if err != nil {
		return FailWith(FailValidation, "merge-failed", err)
	}

	combined, err := attachCombinationMeta(merged, len(analyzed), failedCount, p.Partial || failedCount > 0)
	if err != nil {
		return FailWith(FailFatal, "meta-attach-failed", err)
	}

	now := time.Now()
	patch := domain.ContentPatch{
		State:            domain.ContentAnalyzed,
		CombinedAnalysis: &combined,
		ModelsUsed:       modelsUsed,
		CombinedAt:       &now,
	}
	if err := h.contents.UpdateContent(ctx, p.ContentID, patch, ""); err != nil {
		return FailWith(FailTransient, "update-content-failed", err)
	}

	return Ok()
}

// attachCombinationMeta injects the segment-count envelope spec.md §4.E.5
// and §8 scenario 6 describe alongside the merged fields, without assuming
// anything about the merged document's own field names.
func attachCombinationMeta(mergedJSON string, combinedSegments, failedSegments int, partial bool) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(mergedJSON), &doc); err != nil {
		return "", err
	}
	doc["_meta"] = map[string]interface{}{
		"combinedSegments": combinedSegments,
		"failedSegments":   failedSegments,
		"partial":          partial,
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
