// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the small inbound control surface spec.md §6 calls for: enqueue
// a discovery for a channel, enqueue an analysis for a content, query quota
// status, query/trigger combination status, and reset a video's segments.
// Everything else (video ingestion, AI analysis, fan-in) happens off the
// request path, driven by the queue workers.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/video-insight-pipeline/internal/config"
	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

// QuotaStatus is the subset of *quota.Ledger the control surface's quota
// endpoint depends on.
type QuotaStatus interface {
	GetUsage(ctx domain.Context, model string) (rpm, tpm, rpd int, err error)
	IsOverloaded(model string) bool
	GetViolations(ctx domain.Context, limit int) ([]domain.QuotaViolation, error)
}

// Server aggregates the control surface's handler dependencies.
type Server struct {
	Cfg      config.Config
	Channels domain.ChannelRepository
	Contents domain.ContentRepository
	Segments domain.SegmentRepository
	Queue    pipeline.Enqueuer
	Quota    QuotaStatus
	FanIn    *pipeline.FanInController
	Tier     quota.Tier

	DBCheck    func(ctx domain.Context) error
	RedisCheck func(ctx domain.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, channels domain.ChannelRepository, contents domain.ContentRepository, segments domain.SegmentRepository, queue pipeline.Enqueuer, q QuotaStatus, fanin *pipeline.FanInController, tier quota.Tier, dbCheck, redisCheck func(domain.Context) error) *Server {
	return &Server{
		Cfg: cfg, Channels: channels, Contents: contents, Segments: segments,
		Queue: queue, Quota: q, FanIn: fanin, Tier: tier,
		DBCheck: dbCheck, RedisCheck: redisCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// DiscoverHandler enqueues a one-off Discovery job for a channel, reusing
// the same idempotent job id as the recurring cron registration so a manual
// trigger never races a scheduled one (spec.md §6).
func (s *Server) DiscoverHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !trimAccept(r) {
			writeError(w, r, fmt.Errorf("%w: not acceptable", domain.ErrInvalidArgument), nil)
			return
		}
		channelID := chi.URLParam(r, "id")
		if channelID == "" {
			writeError(w, r, fmt.Errorf("%w: channel id missing", domain.ErrInvalidArgument), nil)
			return
		}
		ctx := r.Context()
		if _, err := s.Channels.Get(ctx, channelID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		payload, err := json.Marshal(pipeline.DiscoveryPayload{ChannelID: channelID})
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
			return
		}
		opts := pipeline.EnqueueOptions{JobID: pipeline.DiscoveryJobID(channelID)}
		if err := s.Queue.Enqueue(ctx, pipeline.QueueChannelDiscovery, payload, opts); err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "channelId": channelID, "queue": pipeline.QueueChannelDiscovery})
	}
}

// analyzeRequest accepts an optional forceModel naming a single model. It
// is decoded and validated only: the enqueued Chunk-Planning job carries
// just the content id, so the Model Selector still picks each segment's
// model.
type analyzeRequest struct {
	ForceModel string `json:"forceModel" validate:"omitempty"`
}

// AnalyzeHandler enqueues Chunk-Planning for a Content, the entry point of
// the analysis half of the pipeline (spec.md §6 "enqueue an analysis for a
// content").
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !trimAccept(r) {
			writeError(w, r, fmt.Errorf("%w: not acceptable", domain.ErrInvalidArgument), nil)
			return
		}
		contentID := chi.URLParam(r, "id")
		if contentID == "" {
			writeError(w, r, fmt.Errorf("%w: content id missing", domain.ErrInvalidArgument), nil)
			return
		}
		var req analyzeRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if err := getValidator().Struct(req); err != nil {
				writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), err.Error())
				return
			}
		}
		ctx := r.Context()
		content, err := s.Contents.FindContent(ctx, contentID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if content.State != domain.ContentMetadataReady && content.State != domain.ContentFailed && content.State != domain.ContentRetryPending {
			writeError(w, r, fmt.Errorf("%w: content %s is in state %s, not eligible for (re)analysis", domain.ErrConflict, contentID, content.State), nil)
			return
		}
		payload, err := json.Marshal(pipeline.ChunkPlanningPayload{ContentID: contentID})
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
			return
		}
		if err := s.Queue.Enqueue(ctx, pipeline.QueueContentProcessing, payload, pipeline.EnqueueOptions{}); err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "contentId": contentID, "queue": pipeline.QueueContentProcessing})
	}
}

// QuotaStatusHandler reports the Quota Ledger's current usage and overload
// state for every model configured under the active tier (spec.md §6
// "query quota status").
func (s *Server) QuotaStatusHandler() http.HandlerFunc {
	type modelStatus struct {
		Model      string `json:"model"`
		RPM        int    `json:"rpm"`
		TPM        int    `json:"tpm"`
		RPD        int    `json:"rpd"`
		Overloaded bool   `json:"overloaded"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		models := quota.ModelsForTier(s.Tier)
		statuses := make([]modelStatus, 0, len(models))
		for _, model := range models {
			rpm, tpm, rpd, err := s.Quota.GetUsage(ctx, model)
			if err != nil {
				writeError(w, r, fmt.Errorf("quota usage: %w", err), nil)
				return
			}
			statuses = append(statuses, modelStatus{
				Model: model, RPM: rpm, TPM: tpm, RPD: rpd,
				Overloaded: s.Quota.IsOverloaded(model),
			})
		}
		limit := 20
		violations, err := s.Quota.GetViolations(ctx, limit)
		if err != nil {
			writeError(w, r, fmt.Errorf("quota violations: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"tier":             s.Tier,
			"models":           statuses,
			"recentViolations": violations,
		})
	}
}

// combinationRequest controls an explicit partial-combination trigger.
type combinationRequest struct {
	Partial bool `json:"partial"`
}

// CombinationHandler reports (GET) or triggers (POST) a Content's
// combination readiness, per spec.md §6 "query/trigger combination status"
// and §4.F's "only an explicit external action initiates PARTIAL".
func (s *Server) CombinationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !trimAccept(r) {
			writeError(w, r, fmt.Errorf("%w: not acceptable", domain.ErrInvalidArgument), nil)
			return
		}
		contentID := chi.URLParam(r, "id")
		if contentID == "" {
			writeError(w, r, fmt.Errorf("%w: content id missing", domain.ErrInvalidArgument), nil)
			return
		}
		ctx := r.Context()
		if r.Method == http.MethodPost {
			var req combinationRequest
			if r.ContentLength > 0 {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
					return
				}
			}
			if !req.Partial {
				readiness, err := s.FanIn.Evaluate(ctx, contentID)
				if err != nil {
					writeError(w, r, err, nil)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "contentId": contentID, "readiness": readiness})
				return
			}
			readiness, err := s.FanIn.TriggerPartial(ctx, contentID)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "contentId": contentID, "readiness": readiness, "partial": true})
			return
		}
		content, err := s.Contents.FindContent(ctx, contentID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		completed, err := s.Segments.CountSegmentsByState(ctx, contentID, []domain.SegmentState{domain.SegmentAnalyzed})
		if err != nil {
			writeError(w, r, fmt.Errorf("count segments: %w", err), nil)
			return
		}
		failed, err := s.Segments.CountSegmentsByState(ctx, contentID, []domain.SegmentState{domain.SegmentFailed, domain.SegmentOverloaded})
		if err != nil {
			writeError(w, r, fmt.Errorf("count segments: %w", err), nil)
			return
		}
		readiness := pipeline.DeriveReadiness(content.ExpectedSegmentCount, completed, failed)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":              true,
			"contentId":            contentID,
			"state":                content.State,
			"readiness":            readiness,
			"expectedSegmentCount": content.ExpectedSegmentCount,
			"completedSegments":    completed,
			"failedSegments":       failed,
		})
	}
}

// ResetHandler resets every FAILED, OVERLOADED or PROCESSING Segment of a
// Content back to PENDING and re-enqueues Segment-Analysis for each, per spec.md §6 "reset
// a video's segments" — used to recover a video stuck behind exhausted
// retries without re-running Chunk-Planning (which would also recompute
// window boundaries).
func (s *Server) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !trimAccept(r) {
			writeError(w, r, fmt.Errorf("%w: not acceptable", domain.ErrInvalidArgument), nil)
			return
		}
		contentID := chi.URLParam(r, "id")
		if contentID == "" {
			writeError(w, r, fmt.Errorf("%w: content id missing", domain.ErrInvalidArgument), nil)
			return
		}
		ctx := r.Context()
		content, err := s.Contents.FindContent(ctx, contentID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		resettable := []domain.SegmentState{domain.SegmentFailed, domain.SegmentOverloaded, domain.SegmentProcessing}
		reset := 0
		for _, state := range resettable {
			segments, err := s.Segments.ListSegments(ctx, contentID, state)
			if err != nil {
				writeError(w, r, fmt.Errorf("list segments: %w", err), nil)
				return
			}
			for _, seg := range segments {
				patch := domain.SegmentPatch{State: domain.SegmentPending}
				if err := s.Segments.UpdateSegment(ctx, contentID, seg.Index, patch); err != nil {
					writeError(w, r, fmt.Errorf("reset segment %d: %w", seg.Index, err), nil)
					return
				}
				payload, err := json.Marshal(pipeline.SegmentAnalysisPayload{
					ContentID:         contentID,
					SegmentIndex:      seg.Index,
					ExternalSourceRef: content.ExternalVideoID,
				})
				if err != nil {
					writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
					return
				}
				if err := s.Queue.Enqueue(ctx, pipeline.QueueSegmentAnalysis, payload, pipeline.EnqueueOptions{}); err != nil {
					writeError(w, r, fmt.Errorf("enqueue segment %d: %w", seg.Index, err), nil)
					return
				}
				reset++
			}
		}

		if content.State == domain.ContentFailed {
			patch := domain.ContentPatch{State: domain.ContentProcessing}
			if err := s.Contents.UpdateContent(ctx, contentID, patch, ""); err != nil {
				writeError(w, r, fmt.Errorf("update content: %w", err), nil)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "contentId": contentID, "segmentsReset": reset})
	}
}

// ReadyzHandler probes DB and Redis connectivity.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

// HealthzHandler is a liveness probe: it never checks dependencies, only
// that the process is serving requests.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// trimAccept rejects non-JSON Accept headers, matching the control
// surface's JSON-only contract.
func trimAccept(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || a == "*/*" || strings.Contains(a, "application/json")
}
