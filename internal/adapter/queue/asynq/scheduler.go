package asynqadp

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
)

// Scheduler registers recurring Discovery jobs, one per channel, on its own
// cron expression (spec.md §4.A "Discovery runs on a per-channel cron
// schedule"). It wraps asynq's own scheduler, which is itself driven by
// robfig/cron internally; Scheduler additionally validates a channel's
// cron pattern up front with robfig/cron/v3 so a malformed pattern is
// rejected at channel-registration time instead of silently never firing.
type Scheduler struct {
	sched  *asynq.Scheduler
	parser cron.Parser
}

// NewScheduler constructs a Scheduler bound to target.
func NewScheduler(target RedisTarget) *Scheduler {
	return &Scheduler{
		sched:  asynq.NewScheduler(target.opt(), nil),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// ValidateCronPattern reports whether pattern parses as a standard 5-field
// cron expression, per spec.md §6's channel registration validation.
func (s *Scheduler) ValidateCronPattern(pattern string) error {
	_, err := s.parser.Parse(pattern)
	if err != nil {
		return fmt.Errorf("op=scheduler.ValidateCronPattern pattern=%q: %w", pattern, err)
	}
	return nil
}

// RegisterChannelDiscovery registers channelID's recurring Discovery job on
// cronPattern. Each call adds a new scheduler entry; an entry registered
// earlier for the same channel is not replaced. The returned entry id can be passed to
// Unregister to cancel it, e.g. when a channel is deactivated.
func (s *Scheduler) RegisterChannelDiscovery(channelID, cronPattern string) (string, error) {
	if err := s.ValidateCronPattern(cronPattern); err != nil {
		return "", err
	}
	payload, err := json.Marshal(pipeline.DiscoveryPayload{ChannelID: channelID})
	if err != nil {
		return "", fmt.Errorf("op=scheduler.RegisterChannelDiscovery channel=%s: %w", channelID, err)
	}
	task := asynq.NewTask(pipeline.QueueChannelDiscovery, payload)
	entryID, err := s.sched.Register(cronPattern, task,
		asynq.Queue(pipeline.QueueChannelDiscovery),
		asynq.TaskID(pipeline.DiscoveryJobID(channelID)),
	)
	if err != nil {
		return "", fmt.Errorf("op=scheduler.RegisterChannelDiscovery channel=%s: %w", channelID, err)
	}
	return entryID, nil
}

// Unregister removes a previously registered entry.
func (s *Scheduler) Unregister(entryID string) error {
	return s.sched.Unregister(entryID)
}

// Run starts the scheduler loop, blocking until Shutdown is called.
func (s *Scheduler) Run() error {
	return s.sched.Run()
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.sched.Shutdown()
}
