package selector

import (
	"context"
	"testing"

	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

type fakeLedger struct {
	overloaded map[string]bool
	tooSmall   map[string]int // model -> MaxTokensPerRequest, 0 = unlimited
	exhausted  map[string]bool
}

func (f *fakeLedger) CanMake(_ context.Context, model string, estTokens int) (quota.Decision, error) {
	if f.exhausted[model] {
		return quota.Decision{Allowed: false, Reason: "rpm-exhausted", Dimension: quota.DimensionRPM}, nil
	}
	if max, ok := f.tooSmall[model]; ok && max > 0 && estTokens > max {
		return quota.Decision{Allowed: false, Reason: "too-large"}, nil
	}
	return quota.Decision{Allowed: true}, nil
}

func (f *fakeLedger) IsOverloaded(model string) bool { return f.overloaded[model] }

func TestSelect_PrefersHighestPreferenceEligible(t *testing.T) {
	l := &fakeLedger{}
	s := New(l, quota.TierFree)
	sel := s.Select(context.Background(), 1000, nil)
	if sel.Model != "gemini-2.5-pro" {
		t.Fatalf("expected pro, got %q", sel.Model)
	}
}

func TestSelect_FallsBackWhenPreferredExhausted(t *testing.T) {
	l := &fakeLedger{exhausted: map[string]bool{"gemini-2.5-pro": true}}
	s := New(l, quota.TierFree)
	sel := s.Select(context.Background(), 1000, nil)
	if sel.Model != "gemini-2.5-flash" {
		t.Fatalf("expected flash fallback, got %q", sel.Model)
	}
}

func TestSelect_SkipsOverloaded(t *testing.T) {
	l := &fakeLedger{overloaded: map[string]bool{"gemini-2.5-pro": true, "gemini-2.5-flash": true}}
	s := New(l, quota.TierFree)
	sel := s.Select(context.Background(), 1000, nil)
	if sel.Model != "gemini-2.5-flash-lite" {
		t.Fatalf("expected flash-lite, got %q", sel.Model)
	}
}

func TestSelect_SkipsExcluded(t *testing.T) {
	l := &fakeLedger{}
	s := New(l, quota.TierFree)
	sel := s.Select(context.Background(), 1000, []string{"gemini-2.5-pro", "gemini-2.5-flash"})
	if sel.Model != "gemini-2.5-flash-lite" {
		t.Fatalf("expected flash-lite, got %q", sel.Model)
	}
}

func TestSelect_NoneWhenAllExhausted(t *testing.T) {
	l := &fakeLedger{exhausted: map[string]bool{
		"gemini-2.5-pro": true, "gemini-2.5-flash": true, "gemini-2.5-flash-lite": true,
	}}
	s := New(l, quota.TierFree)
	sel := s.Select(context.Background(), 1000, nil)
	if !sel.None() {
		t.Fatalf("expected no selection, got %q", sel.Model)
	}
	if sel.Reason != "all-exhausted" {
		t.Fatalf("expected all-exhausted reason, got %q", sel.Reason)
	}
}

func TestSelect_TooLargeWhenEveryCandidateCapsBelowEstimate(t *testing.T) {
	l := &fakeLedger{tooSmall: map[string]int{
		"gemini-2.5-pro": 500, "gemini-2.5-flash": 500, "gemini-2.5-flash-lite": 500,
	}}
	s := New(l, quota.TierFree)
	sel := s.Select(context.Background(), 1000, nil)
	if !sel.None() {
		t.Fatalf("expected no selection, got %q", sel.Model)
	}
	if sel.Reason != "too-large" {
		t.Fatalf("expected too-large reason, got %q", sel.Reason)
	}
}
