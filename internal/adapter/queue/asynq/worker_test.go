package asynqadp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
)

type stubHandler struct{ result pipeline.StageResult }

func (h stubHandler) Handle(_ pipeline.Context, _ []byte) pipeline.StageResult { return h.result }

type recordingEnqueuer struct {
	calls []pipeline.EnqueueOptions
	err   error
}

func (e *recordingEnqueuer) Enqueue(_ pipeline.Context, _ string, _ []byte, opts pipeline.EnqueueOptions) error {
	e.calls = append(e.calls, opts)
	return e.err
}

type recordingDLQ struct{ jobs []domain.DLQJob }

func (d *recordingDLQ) RecordDLQJob(_ context.Context, job domain.DLQJob) error {
	d.jobs = append(d.jobs, job)
	return nil
}

func TestDispatch_Success(t *testing.T) {
	h := dispatch("segment-analysis", stubHandler{result: pipeline.Ok()}, &recordingEnqueuer{}, nil, domain.DefaultRetryConfig())
	err := h(context.Background(), asynq.NewTask("segment-analysis", []byte(`{}`)))
	require.NoError(t, err)
}

func TestDispatch_DeferRequeuesWithoutError(t *testing.T) {
	enq := &recordingEnqueuer{}
	h := dispatch("segment-analysis", stubHandler{result: pipeline.DeferFor("rpm-exhausted", 2*time.Minute)}, enq, nil, domain.DefaultRetryConfig())
	err := h(context.Background(), asynq.NewTask("segment-analysis", []byte(`{}`)))
	require.NoError(t, err)
	require.Len(t, enq.calls, 1)
	assert.Equal(t, 2*time.Minute, enq.calls[0].Delay)
}

func TestDispatch_FailTransientPropagatesError(t *testing.T) {
	wantErr := errors.New("upstream timeout")
	h := dispatch("segment-analysis", stubHandler{result: pipeline.FailWith(pipeline.FailTransient, "upstream-timeout", wantErr)}, &recordingEnqueuer{}, nil, domain.DefaultRetryConfig())
	err := h(context.Background(), asynq.NewTask("segment-analysis", []byte(`{}`)))
	require.ErrorIs(t, err, wantErr)
}

func TestDispatch_FailValidationRecordsDLQAndSkipsRetry(t *testing.T) {
	dlq := &recordingDLQ{}
	wantErr := errors.New("schema invalid")
	h := dispatch("segment-analysis", stubHandler{result: pipeline.FailWith(pipeline.FailValidation, "schema-invalid", wantErr)}, &recordingEnqueuer{}, dlq, domain.DefaultRetryConfig())
	err := h(context.Background(), asynq.NewTask("segment-analysis", []byte(`{"x":1}`)))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, dlq.jobs, 1)
	assert.Equal(t, "schema-invalid", dlq.jobs[0].FailureReason)
	assert.True(t, dlq.jobs[0].CanBeReprocessed)
}

func TestDispatch_FailFatalIsNotReprocessable(t *testing.T) {
	dlq := &recordingDLQ{}
	h := dispatch("combination", stubHandler{result: pipeline.FailWith(pipeline.FailFatal, "merge-panic", errors.New("boom"))}, &recordingEnqueuer{}, dlq, domain.DefaultRetryConfig())
	err := h(context.Background(), asynq.NewTask("combination", []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, dlq.jobs, 1)
	assert.False(t, dlq.jobs[0].CanBeReprocessed)
}

func TestScheduler_ValidateCronPattern(t *testing.T) {
	target := newTestTarget(t)
	s := NewScheduler(target)
	require.NoError(t, s.ValidateCronPattern("*/15 * * * *"))
	require.Error(t, s.ValidateCronPattern("not-a-cron"))
}

func TestScheduler_RegisterChannelDiscovery(t *testing.T) {
	target := newTestTarget(t)
	s := NewScheduler(target)
	entryID, err := s.RegisterChannelDiscovery("UCxxxx", "0 */6 * * *")
	require.NoError(t, err)
	require.NotEmpty(t, entryID)
	require.NoError(t, s.Unregister(entryID))
}
