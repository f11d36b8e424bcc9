// Package pipeline implements the staged job handlers — Discovery, Metadata,
// Chunk-Planning, Segment-Analysis, Combination, and Stats — plus the
// segment fan-in controller that decides when a Combination job is due.
//
// Handlers return a StageResult rather than relying on panics or sentinel
// exceptions for rate-limit control flow: a Defer result is a distinct,
// first-class outcome from a Fail, so the queue adapter can reschedule a job
// without advancing its attempt counter (spec.md §9).
package pipeline

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across
// this package's handler signatures.
type Context = context.Context

// Outcome enumerates the three ways a stage handler can finish.
type Outcome int

const (
	// Success indicates the job is fully processed.
	Success Outcome = iota
	// Defer indicates a rate-limit signal: reschedule after Delay without
	// counting this as a failed attempt.
	Defer
	// Fail indicates a terminal or retryable failure, tagged with Kind.
	Fail
)

// FailureKind classifies why a stage failed, per the error taxonomy in
// spec.md §7.
type FailureKind string

// Recognized failure kinds.
const (
	FailValidation FailureKind = "validation"
	FailTransient  FailureKind = "transient"
	FailFatal      FailureKind = "fatal"
)

// StageResult is the sum type consumed by the queue adapter in place of a
// thrown exception.
type StageResult struct {
	Outcome Outcome

	// Delay is set when Outcome == Defer: how long to wait before redelivery.
	Delay time.Duration
	// Reason is a short machine-stable label surfaced in logs/metrics for
	// Defer and Fail outcomes (e.g. "rpm-exhausted", "overloaded", "schema-invalid").
	Reason string

	// Kind classifies a Fail outcome.
	Kind FailureKind
	// Err is the underlying error, if any.
	Err error
}

// Ok builds a Success result.
func Ok() StageResult { return StageResult{Outcome: Success} }

// DeferFor builds a Defer result with the given reason and delay.
func DeferFor(reason string, delay time.Duration) StageResult {
	return StageResult{Outcome: Defer, Reason: reason, Delay: delay}
}

// FailWith builds a Fail result of the given kind.
func FailWith(kind FailureKind, reason string, err error) StageResult {
	return StageResult{Outcome: Fail, Kind: kind, Reason: reason, Err: err}
}

// Handler is the common contract every stage implements: process one job
// under ctx and report what happened. The queue adapter translates the
// returned StageResult into asynq delivery semantics.
type Handler interface {
	Handle(ctx Context, payload []byte) StageResult
}
