package asynqadp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
)

// DLQRecorder persists a job that a stage handler rejected outright
// (validation or fatal failure) so an operator can inspect or replay it.
// internal/adapter/repo/postgres implements this against the state store.
type DLQRecorder interface {
	RecordDLQJob(ctx context.Context, job domain.DLQJob) error
}

// Worker dispatches asynq deliveries into the six pipeline stage handlers,
// translating each pipeline.StageResult into asynq retry/delay/dead-letter
// semantics (spec.md §4.D, §9).
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// errSkipRetry wraps a terminal failure so asynq.SkipRetry short-circuits
// its own backoff; the job has already been recorded to the DLQ.
type errSkipRetry struct{ cause error }

func (e errSkipRetry) Error() string { return "skip retry: " + errString(e.cause) }
func (e errSkipRetry) Unwrap() error { return e.cause }
func (e errSkipRetry) Is(target error) bool {
	return target == asynq.SkipRetry
}

// NewWorker builds a Worker. handlers maps a pipeline queue name constant
// (pipeline.QueueSegmentAnalysis etc.) to the Handler that processes it.
// queue is used to re-enqueue Defer outcomes without counting them as a
// failed asynq attempt; dlq, if non-nil, records terminal failures.
func NewWorker(target RedisTarget, concurrency int, queue pipeline.Enqueuer, handlers map[string]pipeline.Handler, dlq DLQRecorder, retry domain.RetryConfig) *Worker {
	queues := make(map[string]int, len(handlers))
	for name := range handlers {
		queues[name] = 1
		queues[name+"-high"] = 2
	}

	server := asynq.NewServer(target.opt(), asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			info := domain.RetryInfo{AttemptCount: n}
			return info.CalculateNextRetryDelay(retry)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			slog.Error("asynq task failed", slog.String("queue", t.Type()), slog.Any("error", err))
		}),
	})

	mux := asynq.NewServeMux()
	for name, handler := range handlers {
		mux.HandleFunc(name, dispatch(name, handler, queue, dlq, retry))
	}

	return &Worker{server: server, mux: mux}
}

// Run starts processing and blocks until ctx is canceled via Shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the worker, waiting for in-flight jobs to finish.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// dispatch adapts a pipeline.Handler into an asynq.HandlerFunc, translating
// Success/Defer/Fail into asynq's nil/re-enqueue/error-or-SkipRetry contract.
func dispatch(queueName string, handler pipeline.Handler, enqueuer pipeline.Enqueuer, dlq DLQRecorder, retry domain.RetryConfig) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		observability.StartProcessingJob(queueName)

		result := handler.Handle(ctx, task.Payload())

		switch result.Outcome {
		case pipeline.Success:
			observability.CompleteJob(queueName)
			return nil

		case pipeline.Defer:
			observability.DeferJob(queueName, result.Reason)
			// Re-enqueue a fresh delivery after Delay and return nil: this
			// delivery does not count against asynq's own attempt counter,
			// per the "defer doesn't count as a failed attempt" rule (spec.md §9).
			if err := enqueuer.Enqueue(ctx, queueName, task.Payload(), pipeline.EnqueueOptions{Delay: result.Delay}); err != nil {
				return fmt.Errorf("op=worker.requeueDeferred queue=%s: %w", queueName, err)
			}
			return nil

		case pipeline.Fail:
			observability.FailJob(queueName, string(result.Kind))
			return handleFailure(ctx, queueName, task, result, dlq, retry)
		}

		return fmt.Errorf("op=worker.dispatch queue=%s: unrecognized outcome %d", queueName, result.Outcome)
	}
}

func handleFailure(ctx context.Context, queueName string, task *asynq.Task, result pipeline.StageResult, dlq DLQRecorder, retry domain.RetryConfig) error {
	switch result.Kind {
	case pipeline.FailTransient:
		// Let asynq's own retry/backoff handle it.
		return result.Err

	case pipeline.FailValidation, pipeline.FailFatal:
		if dlq != nil {
			info := domain.RetryInfo{
				AttemptCount: retry.MaxRetries,
				MaxAttempts:  retry.MaxRetries,
				RetryStatus:  domain.RetryStatusDLQ,
				LastError:    errString(result.Err),
			}
			job := domain.DLQJob{
				JobID:            taskID(task),
				QueueName:        queueName,
				OriginalPayload:  task.Payload(),
				RetryInfo:        info,
				FailureReason:    result.Reason,
				CanBeReprocessed: result.Kind == pipeline.FailValidation,
			}
			if err := dlq.RecordDLQJob(ctx, job); err != nil {
				slog.Error("failed to record DLQ job", slog.String("queue", queueName), slog.Any("error", err))
			}
		}
		return errSkipRetry{cause: result.Err}
	}
	return result.Err
}

func taskID(task *asynq.Task) string {
	if rw := task.ResultWriter(); rw != nil {
		return rw.TaskID()
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
