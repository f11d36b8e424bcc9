package pipeline

import "time"

// EnqueueOptions mirrors the Durable Queue Abstraction's enqueue options
// (spec.md §4.D): attempts/backoff are fixed per queue at registration time,
// so only the per-call knobs are exposed here.
type EnqueueOptions struct {
	// Delay schedules the job for redelivery after this duration instead of
	// immediately (used for rate-limit-signal re-enqueues).
	Delay time.Duration
	// Priority is a high/low hint; "high" is used for explicit partial
	// combination triggers (spec.md §4.F).
	Priority string
	// JobID, when set, makes the enqueue idempotent: a second enqueue with
	// the same JobID while one is pending is a no-op.
	JobID string
}

// Enqueuer is the subset of the Durable Queue Abstraction the pipeline
// stages and the fan-in controller depend on to hand off to the next stage.
// internal/adapter/queue/asynq implements this against a real asynq.Client.
type Enqueuer interface {
	Enqueue(ctx Context, queue string, payload []byte, opts EnqueueOptions) error
}
