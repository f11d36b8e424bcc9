package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/repo/postgres"
)

type fakeTx struct {
	commitErr error
	rowErr    error
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return rowStub{scan: func(dest ...any) error {
		if t.rowErr != nil {
			return t.rowErr
		}
		*(dest[0].(*int64)) = 1
		return nil
	}}
}
func (t *fakeTx) Commit(_ context.Context) error   { return t.commitErr }
func (t *fakeTx) Rollback(_ context.Context) error { return nil }

type fakeBeginner struct {
	beginErr error
	tx       *fakeTx
}

func (b *fakeBeginner) Begin(_ context.Context) (postgres.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

func TestCleanupService_CleanupOldData_OK(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	svc := postgres.NewCleanupService(b, 1, 0)
	if err := svc.CleanupOldData(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestCleanupService_BeginError(t *testing.T) {
	b := &fakeBeginner{beginErr: errors.New("begin")}
	svc := postgres.NewCleanupService(b, 1, 0)
	if err := svc.CleanupOldData(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCleanupService_CommitError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("commit")}}
	svc := postgres.NewCleanupService(b, 1, 0)
	if err := svc.CleanupOldData(context.Background()); err == nil {
		t.Fatalf("expected commit error")
	}
}

func TestCleanupService_RunPeriodic_ImmediateCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, 1, 0)
	go svc.RunPeriodic(ctx, 0)
}

func TestNewCleanupService_ZeroRetentionDays(t *testing.T) {
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, 0, 0)
	if svc == nil {
		t.Fatal("expected non-nil service")
	}
}

func TestNewCleanupService_NegativeRetentionDays(t *testing.T) {
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, -1, 0)
	if svc == nil {
		t.Fatal("expected non-nil service")
	}
}

func TestCleanupService_RunPeriodic_WithInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, 1, 0)
	svc.RunPeriodic(ctx, 50*time.Millisecond)
}

func TestNewCleanupService_DLQMaxAgeFallsBackToRetentionDays(t *testing.T) {
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, 30, 0)
	if svc.DLQMaxAge != 30*24*time.Hour {
		t.Fatalf("DLQMaxAge = %v, want 30 days", svc.DLQMaxAge)
	}
}

func TestNewCleanupService_DLQMaxAgeOverride(t *testing.T) {
	svc := postgres.NewCleanupService(&fakeBeginner{tx: &fakeTx{}}, 30, 7*24*time.Hour)
	if svc.DLQMaxAge != 7*24*time.Hour {
		t.Fatalf("DLQMaxAge = %v, want 7 days", svc.DLQMaxAge)
	}
}

func TestNewPoolBeginner(t *testing.T) {
	b := postgres.NewPoolBeginner(&poolStub{})
	if b == nil {
		t.Fatal("expected non-nil beginner")
	}
}
