// Package asynqadp implements the Durable Queue Abstraction (spec.md §4.D)
// on top of hibiken/asynq: an Enqueuer the pipeline stage handlers write to,
// and a Worker that dispatches deliveries back into those handlers,
// translating pipeline.StageResult into asynq's retry/delay/dead-letter
// semantics.
package asynqadp

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
)

// RedisTarget names the Redis instance asynq connects to; kept distinct from
// a connection URL since the pipeline shares one Redis deployment with the
// Quota Ledger under separate logical DBs.
type RedisTarget struct {
	Addr     string
	Password string
	DB       int
}

func (t RedisTarget) opt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: t.Addr, Password: t.Password, DB: t.DB}
}

// Queue is a pipeline.Enqueuer backed by an asynq.Client.
type Queue struct {
	client *asynq.Client
}

// New constructs a Queue bound to target.
func New(target RedisTarget) *Queue {
	return &Queue{client: asynq.NewClient(target.opt())}
}

// Close releases the underlying asynq client.
func (q *Queue) Close() error { return q.client.Close() }

// Enqueue implements pipeline.Enqueuer. A non-empty opts.JobID makes the
// enqueue idempotent: asynq rejects a duplicate TaskID with
// asynq.ErrDuplicateTask, which Enqueue treats as success (spec.md §6's
// `combine:{contentId}`/`discover:{channelId}` stable ids rely on this).
func (q *Queue) Enqueue(ctx pipeline.Context, queue string, payload []byte, opts pipeline.EnqueueOptions) error {
	taskOpts := []asynq.Option{asynq.Queue(queue), asynq.Retention(7 * 24 * time.Hour)}
	if opts.Delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(opts.Delay))
	}
	if opts.JobID != "" {
		taskOpts = append(taskOpts, asynq.TaskID(opts.JobID))
	}
	if opts.Priority != "" {
		taskOpts = append(taskOpts, asynq.Queue(priorityQueueName(queue, opts.Priority)))
	}

	task := asynq.NewTask(queue, payload)
	_, err := q.client.EnqueueContext(ctx, task, taskOpts...)
	if err != nil {
		if err == asynq.ErrDuplicateTask || err == asynq.ErrTaskIDConflict {
			return nil
		}
		return fmt.Errorf("op=queue.Enqueue queue=%s: %w", queue, err)
	}
	observability.EnqueueJob(queue)
	return nil
}

// priorityQueueName routes a "high" priority enqueue (the fan-in
// controller's PARTIAL trigger, spec.md §4.F) to a distinct asynq queue so
// server-side queue weighting can prioritize it over routine traffic.
func priorityQueueName(queue, priority string) string {
	if priority == "high" {
		return queue + "-high"
	}
	return queue
}
