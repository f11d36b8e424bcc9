package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

type fakeLedger struct {
	decision      quota.Decision
	recordedViol  *domain.QuotaViolation
	overloadedFor map[string]time.Duration
	recordedTok   int
}

func (f *fakeLedger) CanMake(_ context.Context, _ string, _ int) (quota.Decision, error) {
	return f.decision, nil
}
func (f *fakeLedger) Record(_ context.Context, _ string, actual int) error {
	f.recordedTok = actual
	return nil
}
func (f *fakeLedger) RecordViolation(_ context.Context, v domain.QuotaViolation) error {
	f.recordedViol = &v
	return nil
}
func (f *fakeLedger) MarkOverloaded(model string, cooldown time.Duration) {
	if f.overloadedFor == nil {
		f.overloadedFor = map[string]time.Duration{}
	}
	f.overloadedFor[model] = cooldown
}

func TestApplyPreflight_AllowedProceeds(t *testing.T) {
	l := &fakeLedger{decision: quota.Decision{Allowed: true}}
	c := New(l)
	proceed, _ := c.ApplyPreflight(context.Background(), pipeline.QueueSegmentAnalysis, "gemini-2.5-pro", 1000)
	if !proceed {
		t.Fatalf("expected proceed true")
	}
}

func TestApplyPreflight_RejectedDefers(t *testing.T) {
	l := &fakeLedger{decision: quota.Decision{Allowed: false, Reason: "rpm-exhausted", WaitSec: 0.1}}
	c := New(l)
	proceed, res := c.ApplyPreflight(context.Background(), pipeline.QueueSegmentAnalysis, "gemini-2.5-pro", 1000)
	if proceed {
		t.Fatalf("expected proceed false")
	}
	if res.Outcome != pipeline.Defer {
		t.Fatalf("expected Defer outcome, got %v", res.Outcome)
	}
	if res.Delay < 2*time.Second {
		t.Fatalf("expected floor applied for segment-analysis queue, got %v", res.Delay)
	}
}

func TestApplyPreflight_TooLargeFails(t *testing.T) {
	l := &fakeLedger{decision: quota.Decision{Allowed: false, Reason: "too-large"}}
	c := New(l)
	proceed, res := c.ApplyPreflight(context.Background(), pipeline.QueueSegmentAnalysis, "gemini-2.5-pro", 1000)
	if proceed {
		t.Fatalf("expected proceed false")
	}
	if res.Outcome != pipeline.Fail || res.Kind != pipeline.FailFatal {
		t.Fatalf("expected fatal fail, got %+v", res)
	}
}

func TestHandleQuotaViolation_QuotaRecordsAndDefers(t *testing.T) {
	l := &fakeLedger{}
	c := New(l)
	res := c.HandleQuotaViolation(context.Background(), pipeline.QueueSegmentAnalysis, quota.ProviderError{
		StatusCode:       http.StatusTooManyRequests,
		RetryAfterHeader: "5",
		Body:             "requests per minute exceeded",
		Model:            "gemini-2.5-pro",
	}, "worker-1")
	if res.Outcome != pipeline.Defer {
		t.Fatalf("expected Defer, got %v", res.Outcome)
	}
	if l.recordedViol == nil || l.recordedViol.Kind != domain.QuotaKindRPM {
		t.Fatalf("expected RPM violation recorded, got %+v", l.recordedViol)
	}
	if l.recordedViol.WorkerID != "worker-1" {
		t.Fatalf("expected worker id recorded")
	}
}

func TestHandleQuotaViolation_OverloadMarksLedger(t *testing.T) {
	l := &fakeLedger{}
	c := New(l)
	res := c.HandleQuotaViolation(context.Background(), pipeline.QueueSegmentAnalysis, quota.ProviderError{
		StatusCode: http.StatusServiceUnavailable,
		Model:      "gemini-2.5-flash",
	}, "worker-1")
	if res.Outcome != pipeline.Defer || res.Reason != "overloaded" {
		t.Fatalf("expected overloaded defer, got %+v", res)
	}
	if l.overloadedFor["gemini-2.5-flash"] <= 0 {
		t.Fatalf("expected model marked overloaded")
	}
}

func TestApplyIntelligent_ScalesWithRecentViolations(t *testing.T) {
	c := New(&fakeLedger{})
	base := 2 * time.Second
	d1 := c.ApplyIntelligent(base, 1)
	d3 := c.ApplyIntelligent(base, 3)
	if d1 != base {
		t.Fatalf("expected no scaling at 1 violation, got %v", d1)
	}
	if d3 <= d1 {
		t.Fatalf("expected scaling at 3 violations, got %v vs %v", d3, d1)
	}
}
