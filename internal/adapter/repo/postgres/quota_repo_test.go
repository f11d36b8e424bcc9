package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

func TestQuotaRepo_RecordQuotaViolation(t *testing.T) {
	p := &poolStub{}
	r := postgres.NewQuotaRepo(p)
	v := domain.QuotaViolation{Timestamp: time.Now(), Model: "gemini-2.5-pro", Kind: domain.QuotaKindRPM, RetryDelaySec: 30}
	if err := r.RecordQuotaViolation(context.Background(), v); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestQuotaRepo_RecordQuotaViolation_ExecError(t *testing.T) {
	p := &poolStub{execErr: errors.New("db down")}
	r := postgres.NewQuotaRepo(p)
	if err := r.RecordQuotaViolation(context.Background(), domain.QuotaViolation{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQuotaRepo_GetViolations_Empty(t *testing.T) {
	p := &poolStub{rows: rowsStub{}}
	r := postgres.NewQuotaRepo(p)
	list, err := r.GetViolations(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty, got %d", len(list))
	}
}

func TestQuotaRepo_RecordDLQJob(t *testing.T) {
	p := &poolStub{}
	r := postgres.NewQuotaRepo(p)
	job := domain.DLQJob{
		JobID:           "job-1",
		QueueName:       "segment-analysis",
		OriginalPayload: []byte(`{}`),
		RetryInfo:       domain.RetryInfo{AttemptCount: 3, RetryStatus: domain.RetryStatusDLQ},
		FailureReason:   "schema-invalid",
	}
	if err := r.RecordDLQJob(context.Background(), job); err != nil {
		t.Fatalf("record dlq: %v", err)
	}
}
