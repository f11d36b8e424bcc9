// Package domain defines core entities, ports, and domain-specific errors
// shared across the pipeline stages, quota engine, and fan-in controller.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). Adapters wrap these with fmt.Errorf("op=...: %w", err)
// so callers can classify failures with errors.Is while still getting a
// human-readable op trail in logs.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstreamOverload  = errors.New("upstream overloaded")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// SourceType enumerates the channel's upstream platform.
type SourceType string

// Recognized source types. Only YOUTUBE is backed by a real provider adapter
// in this core; the others are accepted by the data model but rejected as a
// no-op by Discovery (spec.md §4.E.1).
const (
	SourceYouTube  SourceType = "YOUTUBE"
	SourceTelegram SourceType = "TELEGRAM"
	SourceTikTok   SourceType = "TIKTOK"
)

// Channel is a subscribed upload source polled on a cron schedule.
type Channel struct {
	ID          string
	SourceType  SourceType
	ExternalID  string
	DisplayName string

	CronPattern  string
	FetchLastN   int
	InitialFetch bool

	AuthorContext string

	// UploadsPlaylistID caches the canonical upload collection identifier
	// resolved on first Discovery run, per spec.md §4.E.1.
	UploadsPlaylistID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentState is the lifecycle state of a Content (video) record.
type ContentState string

// Content lifecycle states, per spec.md §3.
const (
	ContentDiscovered    ContentState = "DISCOVERED"
	ContentMetadataReady ContentState = "METADATA_READY"
	ContentProcessing    ContentState = "PROCESSING"
	ContentAnalyzed      ContentState = "ANALYZED"
	ContentFailed        ContentState = "FAILED"
	ContentRetryPending  ContentState = "RETRY_PENDING"
)

// ContentStat is one viewer-statistics snapshot captured by the Stats stage.
type ContentStat struct {
	CapturedAt   time.Time
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
}

// Content is the domain model for one ingested video.
type Content struct {
	ID              string
	ChannelID       string
	ExternalVideoID string

	Title       string
	Description string
	PublishedAt time.Time

	Duration             float64 // seconds
	ViewCount            int64
	Thumbnail            string
	CanonicalURL         string
	ExpectedSegmentCount int

	State ContentState

	CombinedAnalysis string
	ModelsUsed       []string
	PromptVersion    string
	CombinedAt       *time.Time
	LastError        string

	Statistics []ContentStat

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SegmentState is the lifecycle state of one Segment.
type SegmentState string

// Segment lifecycle states, per spec.md §3.
const (
	SegmentPending    SegmentState = "PENDING"
	SegmentProcessing SegmentState = "PROCESSING"
	SegmentAnalyzed   SegmentState = "ANALYZED"
	SegmentFailed     SegmentState = "FAILED"
	SegmentOverloaded SegmentState = "OVERLOADED"
)

// Segment is one time-bounded slice of a Content awaiting or holding one
// AI analysis result.
type Segment struct {
	ContentID string
	Index     int

	StartSec float64
	EndSec   float64

	State SegmentState

	AnalysisResult string
	ModelUsed      string
	ProcessingMs   int64
	Error          string
	RetryCount     int
	PromptVersion  string
}

// Duration returns EndSec - StartSec.
func (s Segment) Duration() float64 { return s.EndSec - s.StartSec }

// PromptType enumerates the stage a Prompt template is bound to.
type PromptType string

// Recognized prompt types.
const (
	PromptTypeSegmentAnalysis PromptType = "segment_analysis"
	PromptTypeCombination     PromptType = "combination"
)

// Prompt is a versioned template bound to a pipeline stage.
type Prompt struct {
	Name           string
	Version        int
	Template       string
	IsActive       bool
	PromptType     PromptType
	ResponseSchema string
	MIMEType       string
}

// QuotaViolationKind classifies a parsed provider quota error.
type QuotaViolationKind string

// Recognized quota violation kinds (spec.md §3, §4.A).
const (
	QuotaKindRPM     QuotaViolationKind = "RPM"
	QuotaKindTPM     QuotaViolationKind = "TPM"
	QuotaKindRPD     QuotaViolationKind = "RPD"
	QuotaKindUnknown QuotaViolationKind = "UNKNOWN"
)

// QuotaViolation records one parsed provider quota rejection.
type QuotaViolation struct {
	Timestamp     time.Time
	Model         string
	Kind          QuotaViolationKind
	RetryDelaySec int
	RawPayload    string
	WorkerID      string
}

// Repositories (ports). The Pipeline State Store (spec.md §4.G) is this
// family of interfaces; a Postgres implementation lives in
// internal/adapter/repo/postgres.

// ChannelRepository manages Channel records and reconciles the Channel's
// recurring discovery job identity.
type ChannelRepository interface {
	Create(ctx Context, c Channel) (string, error)
	Update(ctx Context, c Channel) error
	Delete(ctx Context, id string) error
	Get(ctx Context, id string) (Channel, error)
	List(ctx Context) ([]Channel, error)
}

// ContentRepository manages Content records.
type ContentRepository interface {
	Create(ctx Context, c Content) (string, error)
	// FindByExternalID returns ErrNotFound when unknown; used by Discovery's
	// idempotence check.
	FindByExternalID(ctx Context, externalVideoID string) (Content, error)
	FindContent(ctx Context, id string) (Content, error)
	// UpdateContent applies patch fields. When expectState is non-empty the
	// update is a compare-and-swap against the current state; a mismatch
	// returns ErrConflict.
	UpdateContent(ctx Context, id string, patch ContentPatch, expectState ContentState) error
	ListByChannel(ctx Context, channelID string) ([]Content, error)
}

// ContentPatch carries the subset of Content fields a stage writes back.
// Zero-value fields are left untouched unless explicitly flagged via a
// pointer; this mirrors the "patch on a stable document" idempotence
// requirement from spec.md §7.
type ContentPatch struct {
	State ContentState

	Title, Description   *string
	PublishedAt          *time.Time
	Duration             *float64
	ViewCount            *int64
	Thumbnail            *string
	CanonicalURL         *string
	ExpectedSegmentCount *int

	CombinedAnalysis *string
	ModelsUsed       []string
	PromptVersion    *string
	CombinedAt       *time.Time
	LastError        *string

	AppendStatistic *ContentStat
}

// SegmentRepository manages Segment records.
type SegmentRepository interface {
	// CreateSegmentsBulk atomically inserts segments and sets the owning
	// Content's expectedSegmentCount, per spec.md §4.G.
	CreateSegmentsBulk(ctx Context, contentID string, expected int, segments []Segment) error
	Get(ctx Context, contentID string, index int) (Segment, error)
	UpdateSegment(ctx Context, contentID string, index int, patch SegmentPatch) error
	ListSegments(ctx Context, contentID string, state SegmentState) ([]Segment, error)
	CountSegmentsByState(ctx Context, contentID string, states []SegmentState) (int, error)
}

// SegmentPatch carries the subset of Segment fields a stage writes back.
type SegmentPatch struct {
	State          SegmentState
	AnalysisResult *string
	ModelUsed      *string
	ProcessingMs   *int64
	Error          *string
	PromptVersion  *string
	IncrRetryCount bool
}

// PromptRepository resolves the active prompt template for a stage.
type PromptRepository interface {
	GetActive(ctx Context, promptType PromptType) (Prompt, error)
	Get(ctx Context, name string, version int) (Prompt, error)
}

// QuotaViolationRepository persists parsed provider quota rejections.
type QuotaViolationRepository interface {
	RecordQuotaViolation(ctx Context, v QuotaViolation) error
	GetViolations(ctx Context, limit int) ([]QuotaViolation, error)
}

// SourceProvider abstracts the external video source (spec.md §6). Only
// YouTube has a real adapter in this core; other source types are accepted
// by the data model and rejected as a logged no-op by Discovery.
type SourceProvider interface {
	// ListRecentItems lists the most recent items in an upload collection.
	ListRecentItems(ctx Context, uploadCollectionID string, limit int, pageToken string) (items []SourceItem, nextPageToken string, err error)
	// GetItemDetails fetches authoritative metadata for a batch of items.
	GetItemDetails(ctx Context, ids []string) ([]SourceItem, error)
	// ResolveUploadsCollection resolves the canonical upload collection id
	// for a channel's external id.
	ResolveUploadsCollection(ctx Context, channelExternalID string) (string, error)
}

// SourceItem is the provider-neutral shape returned by SourceProvider.
type SourceItem struct {
	ID           string
	Title        string
	Description  string
	PublishedAt  time.Time
	Duration     float64 // seconds, parsed from ISO-8601 PT#H#M#S
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	Thumbnail    string
	ChannelTitle string
}

// AIClient abstracts the generative AI provider used for segment analysis
// and combination (spec.md §6).
type AIClient interface {
	// GenerateStructured streams a structured response for the given prompt
	// parts, honoring the configured max output tokens. Implementations must
	// classify errors per ClassifyProviderError's contract.
	GenerateStructured(ctx Context, model string, promptParts []string, cfg GenerationConfig) (Stream, error)
}

// GenerationConfig bounds one generation call.
type GenerationConfig struct {
	ResponseSchema  string
	MaxOutputTokens int
}

// Stream yields response chunks; implementations must support bounded
// buffering by the caller (spec.md §4.E.4 streamBufferCap).
type Stream interface {
	Next() (chunk string, done bool, err error)
	Close() error
}
