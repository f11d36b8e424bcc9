// Package ratelimit implements the Rate-Limit Coordinator (spec.md §4.C):
// it sits between a pipeline stage handler and the Quota Ledger, turning
// ledger decisions and provider error classifications into the StageResult
// values the queue adapter uses to defer or fail a job.
package ratelimit

import (
	"context"
	"time"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

// Ledger is the subset of *quota.Ledger the coordinator depends on.
type Ledger interface {
	CanMake(ctx context.Context, model string, estTokens int) (quota.Decision, error)
	Record(ctx context.Context, model string, actualTokens int) error
	RecordViolation(ctx context.Context, v domain.QuotaViolation) error
	MarkOverloaded(model string, cooldown time.Duration)
}

// defaultQueueThrottle is the floor delay applied to a Defer result when the
// ledger didn't name a more specific wait, keyed by queue name. Segment
// analysis and combination each get a 2s floor; a queue with no entry here
// falls back to floor's 1s minimum when the ledger names no wait.
var defaultQueueThrottle = map[string]time.Duration{
	pipeline.QueueSegmentAnalysis: 2 * time.Second,
	pipeline.QueueCombination:     2 * time.Second,
}

// Coordinator applies admission and violation-driven throttling for one
// queue's stage handler.
type Coordinator struct {
	ledger Ledger
}

// New constructs a Coordinator bound to a ledger.
func New(ledger Ledger) *Coordinator {
	return &Coordinator{ledger: ledger}
}

// ApplyPreflight checks ledger admission for model before a stage issues a
// provider call. A rejection becomes a Defer result carrying the ledger's
// recommended wait, floored by the queue's default throttle.
func (c *Coordinator) ApplyPreflight(ctx context.Context, queue, model string, estTokens int) (proceed bool, result pipeline.StageResult) {
	dec, err := c.ledger.CanMake(ctx, model, estTokens)
	if err != nil {
		return true, pipeline.StageResult{}
	}
	if dec.Allowed {
		return true, pipeline.StageResult{}
	}
	if dec.Reason == "too-large" {
		return false, pipeline.FailWith(pipeline.FailFatal, "too-large", nil)
	}
	delay := c.floor(queue, time.Duration(dec.WaitSec*float64(time.Second)))
	return false, pipeline.DeferFor(dec.Reason, delay)
}

// HandleQuotaViolation classifies a failed provider call's error material,
// records it against the ledger (arming the overload tracker and, for
// genuine quota rejections, persisting via the repository), and returns the
// StageResult the stage handler should propagate.
func (c *Coordinator) HandleQuotaViolation(ctx context.Context, queue string, pe quota.ProviderError, workerID string) pipeline.StageResult {
	class := quota.ClassifyProviderError(pe)

	switch class.Kind {
	case quota.ClassQuota:
		v := class.Violation
		v.Timestamp = time.Now()
		v.WorkerID = workerID
		_ = c.ledger.RecordViolation(ctx, v)
		delay := c.floor(queue, time.Duration(class.RetryAfterSec)*time.Second)
		return pipeline.DeferFor("quota-"+string(v.Kind), delay)

	case quota.ClassOverload:
		cooldown := time.Duration(class.RetryAfterSec) * time.Second
		if cooldown <= 0 {
			cooldown = 20 * time.Second
		}
		c.ledger.MarkOverloaded(pe.Model, cooldown)
		return pipeline.DeferFor("overloaded", c.floor(queue, cooldown))

	case quota.ClassValidation:
		return pipeline.FailWith(pipeline.FailValidation, "schema-invalid", nil)

	case quota.ClassFatal:
		return pipeline.FailWith(pipeline.FailFatal, "provider-fatal", nil)

	default: // ClassTransient
		return pipeline.FailWith(pipeline.FailTransient, "provider-transient", nil)
	}
}

// ApplyIntelligent scales a base delay up when recentViolations (a short
// rolling count the caller maintains per model) suggests the window is
// being hit repeatedly rather than once, per spec.md §4.C's note that
// throttling should react to violation density, not just the latest one.
func (c *Coordinator) ApplyIntelligent(base time.Duration, recentViolations int) time.Duration {
	if recentViolations <= 1 {
		return base
	}
	scaled := base
	for i := 1; i < recentViolations && i < 6; i++ {
		scaled *= 2
	}
	const ceiling = 5 * time.Minute
	if scaled > ceiling {
		scaled = ceiling
	}
	return scaled
}

// RecordSuccess tells the ledger about the actual token usage of a
// completed call so subsequent CanMake checks see accurate counters.
func (c *Coordinator) RecordSuccess(ctx context.Context, model string, actualTokens int) error {
	return c.ledger.Record(ctx, model, actualTokens)
}

func (c *Coordinator) floor(queue string, d time.Duration) time.Duration {
	if floor, ok := defaultQueueThrottle[queue]; ok && d < floor {
		return floor
	}
	if d <= 0 {
		return time.Second
	}
	return d
}
