package pipeline

import (
	"encoding/json"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// Readiness classifies a Content's combination readiness (spec.md §4.F).
type Readiness string

// Recognized readiness states.
const (
	ReadyState      Readiness = "READY"
	PartialState    Readiness = "PARTIAL"
	ProcessingState Readiness = "PROCESSING"
	NotChunkedState Readiness = "NOT_CHUNKED"
)

// DeriveReadiness implements the fan-in controller's state derivation.
func DeriveReadiness(expected, completed, failed int) Readiness {
	if expected <= 0 {
		return NotChunkedState
	}
	if completed == expected {
		return ReadyState
	}
	if completed+failed == expected && completed > 0 {
		return PartialState
	}
	return ProcessingState
}

// FanInController recomputes a Content's combination readiness after every
// terminal Segment transition and enqueues the single Combination job
// exactly once, via the stable combine:{contentId} job id (spec.md §4.F).
type FanInController struct {
	contents domain.ContentRepository
	segments domain.SegmentRepository
	queue    Enqueuer
}

// NewFanInController constructs a FanInController.
func NewFanInController(contents domain.ContentRepository, segments domain.SegmentRepository, queue Enqueuer) *FanInController {
	return &FanInController{contents: contents, segments: segments, queue: queue}
}

// Evaluate recomputes readiness for contentID and, on READY, enqueues the
// Combination job. It never enqueues on PARTIAL; that transition requires
// TriggerPartial, an explicit external action.
func (f *FanInController) Evaluate(ctx Context, contentID string) (Readiness, error) {
	content, err := f.contents.FindContent(ctx, contentID)
	if err != nil {
		return ProcessingState, err
	}
	readiness, err := f.readiness(ctx, content)
	if err != nil {
		return ProcessingState, err
	}
	if readiness == ReadyState {
		if err := f.enqueueCombination(ctx, contentID, false); err != nil {
			return readiness, err
		}
	}
	return readiness, nil
}

// TriggerPartial enqueues a Combination job for a video that is PARTIAL
// (some segments permanently failed, the rest ANALYZED), per an explicit
// external request (spec.md §4.F, §8 scenario 6).
func (f *FanInController) TriggerPartial(ctx Context, contentID string) (Readiness, error) {
	content, err := f.contents.FindContent(ctx, contentID)
	if err != nil {
		return ProcessingState, err
	}
	readiness, err := f.readiness(ctx, content)
	if err != nil {
		return readiness, err
	}
	if readiness != PartialState && readiness != ReadyState {
		return readiness, nil
	}
	if err := f.enqueueCombination(ctx, contentID, readiness == PartialState); err != nil {
		return readiness, err
	}
	return readiness, nil
}

func (f *FanInController) readiness(ctx Context, content domain.Content) (Readiness, error) {
	expected := content.ExpectedSegmentCount
	completed, err := f.segments.CountSegmentsByState(ctx, content.ID, []domain.SegmentState{domain.SegmentAnalyzed})
	if err != nil {
		return ProcessingState, err
	}
	failed, err := f.segments.CountSegmentsByState(ctx, content.ID, []domain.SegmentState{domain.SegmentFailed, domain.SegmentOverloaded})
	if err != nil {
		return ProcessingState, err
	}
	return DeriveReadiness(expected, completed, failed), nil
}

func (f *FanInController) enqueueCombination(ctx Context, contentID string, partial bool) error {
	payload, err := json.Marshal(CombinationPayload{ContentID: contentID, Partial: partial})
	if err != nil {
		return err
	}
	opts := EnqueueOptions{JobID: CombinationJobID(contentID)}
	if partial {
		opts.Priority = "high"
	}
	return f.queue.Enqueue(ctx, QueueCombination, payload, opts)
}
