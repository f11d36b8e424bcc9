package pipeline

// Queue and job name constants, per spec.md §6.
const (
	QueueChannelDiscovery  = "channel-discovery"
	QueueContentMetadata   = "content-metadata"
	QueueContentProcessing = "content-processing"
	QueueSegmentAnalysis   = "segment-analysis"
	QueueCombination       = "combination"
	QueueStats             = "stats"
	QueueQuotaCleanup      = "quota-cleanup"
)

// DiscoveryPayload is the job body for QueueChannelDiscovery.
type DiscoveryPayload struct {
	ChannelID string `json:"channelId"`
}

// MetadataPayload is the job body for QueueContentMetadata.
type MetadataPayload struct {
	ContentID string `json:"contentId"`
}

// ChunkPlanningPayload is the job body for QueueContentProcessing.
type ChunkPlanningPayload struct {
	ContentID string `json:"contentId"`
}

// SegmentAnalysisPayload is the job body for QueueSegmentAnalysis.
type SegmentAnalysisPayload struct {
	ContentID        string `json:"contentId"`
	SegmentIndex     int    `json:"segmentIndex"`
	ExternalSourceRef string `json:"externalSourceRef"`
	PromptID         string `json:"promptId"`
	ForceModel       string `json:"forceModel,omitempty"`
}

// CombinationPayload is the job body for QueueCombination.
type CombinationPayload struct {
	ContentID  string `json:"contentId"`
	ForceModel string `json:"forceModel,omitempty"`
	// Partial is set when an external caller explicitly requested
	// combination of a PARTIAL-ready video (spec.md §4.F).
	Partial bool `json:"partial,omitempty"`
}

// StatsPayload is the job body for QueueStats.
type StatsPayload struct {
	ContentID string `json:"contentId"`
}

// DiscoveryJobID returns the stable repeatable-job id for a channel's
// recurring discovery, per spec.md §6.
func DiscoveryJobID(channelID string) string { return "discover:" + channelID }

// CombinationJobID returns the stable idempotent job id for a video's
// combination job, per spec.md §4.F.
func CombinationJobID(contentID string) string { return "combine:" + contentID }
