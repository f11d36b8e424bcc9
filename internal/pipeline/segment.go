package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	aiutil "github.com/fairyhunter13/video-insight-pipeline/internal/adapter/ai"
	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
	"github.com/fairyhunter13/video-insight-pipeline/internal/selector"
)

// TokenCounter estimates prompt tokens for a model, used to size ledger
// admission checks before a provider call (spec.md §4.A, §4.B).
type TokenCounter interface {
	CountTokens(text, model string) (int, error)
}

// Selector is the subset of *selector.Selector the Segment-Analysis stage
// depends on.
type Selector interface {
	Select(ctx Context, estTokens int, excluded []string) selector.Selection
}

// Coordinator is the subset of *ratelimit.Coordinator the Segment-Analysis
// and Combination stages depend on.
type Coordinator interface {
	ApplyPreflight(ctx Context, queue, model string, estTokens int) (proceed bool, result StageResult)
	HandleQuotaViolation(ctx Context, queue string, pe quota.ProviderError, workerID string) StageResult
	RecordSuccess(ctx Context, model string, actualTokens int) error
}

// FanInEvaluator is the subset of *FanInController the Segment-Analysis
// stage depends on; kept as an interface so the stage handler's unit tests
// don't need a real repository-backed controller.
type FanInEvaluator interface {
	Evaluate(ctx Context, contentID string) (Readiness, error)
}

// SegmentAnalysisHandler implements the Segment-Analysis stage (spec.md
// §4.E.4): select an admissible model, invoke the AI client bounded by the
// configured stream buffer cap, and persist the per-segment analysis
// artifact.
type SegmentAnalysisHandler struct {
	contents domain.ContentRepository
	segments domain.SegmentRepository
	prompts  domain.PromptRepository
	ai       domain.AIClient
	tokens   TokenCounter
	selector Selector
	coord    Coordinator
	fanin    FanInEvaluator

	maxAttempts     int
	streamBufferCap int
	workerID        string
	cleaner         *aiutil.ResponseCleaner
}

// SegmentAnalysisConfig bundles the tunables SegmentAnalysisHandler needs
// from internal/config.
type SegmentAnalysisConfig struct {
	MaxAttempts     int
	StreamBufferCap int
	WorkerID        string
}

// NewSegmentAnalysisHandler constructs a SegmentAnalysisHandler.
func NewSegmentAnalysisHandler(
	contents domain.ContentRepository,
	segments domain.SegmentRepository,
	prompts domain.PromptRepository,
	ai domain.AIClient,
	tokens TokenCounter,
	selector Selector,
	coord Coordinator,
	fanin FanInEvaluator,
	cfg SegmentAnalysisConfig,
) *SegmentAnalysisHandler {
	return &SegmentAnalysisHandler{
		contents: contents, segments: segments, prompts: prompts,
		ai: ai, tokens: tokens, selector: selector, coord: coord, fanin: fanin,
		maxAttempts:     cfg.MaxAttempts,
		streamBufferCap: cfg.StreamBufferCap,
		workerID:        cfg.WorkerID,
		cleaner:         aiutil.NewResponseCleaner(),
	}
}

// Handle processes one SegmentAnalysisPayload.
func (h *SegmentAnalysisHandler) Handle(ctx Context, payload []byte) StageResult {
	var p SegmentAnalysisPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return FailWith(FailValidation, "bad-payload", err)
	}

	seg, err := h.segments.Get(ctx, p.ContentID, p.SegmentIndex)
	if err != nil {
		return FailWith(FailValidation, "segment-not-found", err)
	}
	if seg.State == domain.SegmentAnalyzed {
		slog.Info("segment-analysis: already analyzed, skipping", slog.String("content_id", p.ContentID), slog.Int("segment_index", p.SegmentIndex))
		return Ok()
	}

	prompt, err := h.prompts.GetActive(ctx, domain.PromptTypeSegmentAnalysis)
	if err != nil {
		return FailWith(FailTransient, "prompt-lookup-failed", err)
	}

	promptText := fmt.Sprintf("%s\n\nSegment window: %.0fs-%.0fs of source %s", prompt.Template, seg.StartSec, seg.EndSec, p.ExternalSourceRef)
	estTokens, err := h.tokens.CountTokens(promptText, quota.PreferenceOrder[0])
	if err != nil {
		estTokens = len(promptText) / 4
	}

	model := p.ForceModel
	if model == "" {
		excluded := []string{}
		if seg.ModelUsed != "" {
			excluded = append(excluded, seg.ModelUsed)
		}
		sel := h.selector.Select(ctx, estTokens, excluded)
		if sel.None() {
			return h.giveUpOrRetry(ctx, p, seg, sel.Reason, nil)
		}
		model = sel.Model
	}

	if proceed, result := h.coord.ApplyPreflight(ctx, QueueSegmentAnalysis, model, estTokens); !proceed {
		return result
	}

	if err := h.markProcessing(ctx, p); err != nil {
		return FailWith(FailTransient, "mark-processing-failed", err)
	}

	start := time.Now()
	stream, err := h.ai.GenerateStructured(ctx, model, []string{promptText}, domain.GenerationConfig{
		ResponseSchema:  prompt.ResponseSchema,
		MaxOutputTokens: 4096,
	})
	if err != nil {
		return h.handleProviderFailure(ctx, p, seg, model, err)
	}

	result, truncated, err := h.drain(stream)
	if err != nil {
		return h.handleProviderFailure(ctx, p, seg, model, err)
	}
	if truncated {
		slog.Warn("segment-analysis: response truncated at buffer cap", slog.String("content_id", p.ContentID), slog.Int("segment_index", p.SegmentIndex))
	}

	cleaned, err := h.cleaner.CleanAndValidateJSON(result)
	if err != nil {
		return h.giveUpOrRetry(ctx, p, seg, "schema-invalid", fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err))
	}

	elapsed := time.Since(start).Milliseconds()
	analysis := cleaned
	patch := domain.SegmentPatch{
		State:          domain.SegmentAnalyzed,
		AnalysisResult: &analysis,
		ModelUsed:      &model,
		ProcessingMs:   &elapsed,
		PromptVersion:  versionString(prompt.Version),
	}
	if err := h.segments.UpdateSegment(ctx, p.ContentID, p.SegmentIndex, patch); err != nil {
		return FailWith(FailTransient, "update-segment-failed", err)
	}

	actualTokens, err := h.tokens.CountTokens(promptText+result, model)
	if err != nil {
		actualTokens = estTokens
	}
	_ = h.coord.RecordSuccess(ctx, model, actualTokens)

	if _, err := h.fanin.Evaluate(ctx, p.ContentID); err != nil {
		slog.Warn("segment-analysis: fan-in evaluation failed", slog.String("content_id", p.ContentID), slog.Any("error", err))
	}

	return Ok()
}

func (h *SegmentAnalysisHandler) markProcessing(ctx Context, p SegmentAnalysisPayload) error {
	return h.segments.UpdateSegment(ctx, p.ContentID, p.SegmentIndex, domain.SegmentPatch{State: domain.SegmentProcessing})
}

// drain reads stream to completion, stopping once the accumulated response
// exceeds streamBufferCap bytes (spec.md §4.E.4's bounded-buffering
// requirement) rather than growing unboundedly on a runaway provider
// stream.
func (h *SegmentAnalysisHandler) drain(stream domain.Stream) (text string, truncated bool, err error) {
	defer func() { _ = stream.Close() }()

	var buf []byte
	for {
		chunk, done, err := stream.Next()
		if err != nil {
			return "", false, err
		}
		if h.streamBufferCap > 0 && len(buf)+len(chunk) > h.streamBufferCap {
			buf = append(buf, chunk[:h.streamBufferCap-len(buf)]...)
			return string(buf), true, nil
		}
		buf = append(buf, chunk...)
		if done {
			return string(buf), false, nil
		}
	}
}

func (h *SegmentAnalysisHandler) handleProviderFailure(ctx Context, p SegmentAnalysisPayload, seg domain.Segment, model string, err error) StageResult {
	if pe, ok := quota.AsProviderError(model, err); ok {
		result := h.coord.HandleQuotaViolation(ctx, QueueSegmentAnalysis, pe, h.workerID)
		if result.Outcome == Fail {
			return h.giveUpOrRetry(ctx, p, seg, result.Reason, err)
		}
		return result
	}
	return h.giveUpOrRetry(ctx, p, seg, "provider-call-failed", err)
}

// giveUpOrRetry marks the segment permanently FAILED once retries are
// exhausted; otherwise it returns a retryable Fail result so the queue
// adapter's backoff policy drives the next attempt.
func (h *SegmentAnalysisHandler) giveUpOrRetry(ctx Context, p SegmentAnalysisPayload, seg domain.Segment, reason string, cause error) StageResult {
	if seg.RetryCount+1 >= h.maxAttempts {
		errMsg := reason
		if cause != nil {
			errMsg = fmt.Sprintf("%s: %v", reason, cause)
		}
		patch := domain.SegmentPatch{State: domain.SegmentFailed, Error: &errMsg, IncrRetryCount: true}
		if err := h.segments.UpdateSegment(ctx, p.ContentID, p.SegmentIndex, patch); err != nil {
			slog.Error("segment-analysis: failed to mark segment failed", slog.String("content_id", p.ContentID), slog.Any("error", err))
		}
		if _, err := h.fanin.Evaluate(ctx, p.ContentID); err != nil {
			slog.Warn("segment-analysis: fan-in evaluation failed after terminal failure", slog.String("content_id", p.ContentID), slog.Any("error", err))
		}
		return FailWith(FailFatal, reason, cause)
	}

	patch := domain.SegmentPatch{State: domain.SegmentPending, IncrRetryCount: true}
	_ = h.segments.UpdateSegment(ctx, p.ContentID, p.SegmentIndex, patch)
	return FailWith(FailTransient, reason, cause)
}

func versionString(v int) *string {
	s := fmt.Sprintf("%d", v)
	return &s
}
