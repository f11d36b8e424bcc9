package quota

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) (*Ledger, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewLedger(rdb, TierFree, ModeDefault, nil)
	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return l, cleanup
}

func TestCanMake_AllowsUnderLimit(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	dec, err := l.CanMake(ctx, "gemini-2.5-flash-lite", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed under empty window, got reason %q", dec.Reason)
	}
}

func TestCanMake_RejectsWhenRPMExhausted(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	model := "gemini-2.5-pro" // free tier RPM: 5
	for i := 0; i < 5; i++ {
		if err := l.Record(ctx, model, 10); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	dec, err := l.CanMake(ctx, model, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected rpm-exhausted rejection after 5 requests")
	}
	if dec.Dimension != DimensionRPM {
		t.Fatalf("expected RPM dimension, got %q", dec.Dimension)
	}
}

func TestCanMake_RejectsWhenTPMExhausted(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	model := "gemini-2.5-pro" // free tier TPM: 250_000
	if err := l.Record(ctx, model, 249_000); err != nil {
		t.Fatalf("record: %v", err)
	}

	dec, err := l.CanMake(ctx, model, 5_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected tpm-exhausted rejection")
	}
	if dec.Dimension != DimensionTPM {
		t.Fatalf("expected TPM dimension, got %q", dec.Dimension)
	}
}

func TestRecord_CountsNeverDecrease(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()
	ctx := context.Background()
	model := "gemini-2.5-flash"

	if err := l.Record(ctx, model, 100); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	rpm1, tpm1, _, err := l.GetUsage(ctx, model)
	if err != nil {
		t.Fatalf("usage 1: %v", err)
	}
	if err := l.Record(ctx, model, 50); err != nil {
		t.Fatalf("record 2: %v", err)
	}
	rpm2, tpm2, _, err := l.GetUsage(ctx, model)
	if err != nil {
		t.Fatalf("usage 2: %v", err)
	}
	if rpm2 < rpm1 || tpm2 < tpm1 {
		t.Fatalf("expected monotonic counters, got rpm %d->%d tpm %d->%d", rpm1, rpm2, tpm1, tpm2)
	}
}

func TestMarkOverloaded_BlocksUntilCooldownElapses(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()
	ctx := context.Background()
	model := "gemini-2.5-flash"

	l.MarkOverloaded(model, 50*time.Millisecond)
	if !l.IsOverloaded(model) {
		t.Fatalf("expected model overloaded immediately after marking")
	}
	dec, err := l.CanMake(ctx, model, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed || dec.Reason != "overloaded" {
		t.Fatalf("expected overloaded rejection, got %+v", dec)
	}

	time.Sleep(60 * time.Millisecond)
	if l.IsOverloaded(model) {
		t.Fatalf("expected cooldown to have elapsed")
	}
}

func TestCanMake_TooLargeRequest(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	dec, err := l.CanMake(ctx, "gemini-2.5-flash-lite", 2_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed || dec.Reason != "too-large" {
		t.Fatalf("expected too-large rejection, got %+v", dec)
	}
}
