// Package selector implements the Model Selector (spec.md §4.B): given a
// content's estimated token cost, pick the highest-preference model that
// the Quota Ledger currently admits and that isn't under an overload
// cooldown.
package selector

import (
	"context"

	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

// Ledger is the subset of *quota.Ledger the selector depends on, kept as an
// interface so tests can fake admission decisions without a real Redis.
type Ledger interface {
	CanMake(ctx context.Context, model string, estTokens int) (quota.Decision, error)
	IsOverloaded(model string) bool
}

// Selection is the outcome of one selection attempt.
type Selection struct {
	Model string
	// Reason is set when no model was selected, e.g. "too-large" or
	// "all-exhausted".
	Reason string
}

// None reports whether the selection failed to name a model.
func (s Selection) None() bool { return s.Model == "" }

// Selector picks a model per call using PreferenceOrder (pro > flash >
// flash-lite), ties broken lexicographically, skipping models explicitly
// excluded by the caller (e.g. a model that already failed validation for
// this content) or currently overloaded.
type Selector struct {
	ledger Ledger
	tier   quota.Tier
}

// New constructs a Selector bound to one tier's model table.
func New(ledger Ledger, tier quota.Tier) *Selector {
	return &Selector{ledger: ledger, tier: tier}
}

// Select returns the first model in preference order that is not excluded,
// not overloaded, and admitted by the ledger for estTokens. When no model
// qualifies because every candidate's MaxTokensPerRequest is smaller than
// estTokens, Reason is "too-large"; otherwise it is "all-exhausted".
func (s *Selector) Select(ctx context.Context, estTokens int, excluded []string) Selection {
	candidates := quota.ModelsForTier(s.tier)
	excludedSet := make(map[string]bool, len(excluded))
	for _, m := range excluded {
		excludedSet[m] = true
	}

	allTooLarge := true
	for _, model := range candidates {
		if excludedSet[model] {
			continue
		}
		if s.ledger.IsOverloaded(model) {
			allTooLarge = false
			continue
		}
		dec, err := s.ledger.CanMake(ctx, model, estTokens)
		if err != nil {
			continue
		}
		if dec.Reason != "too-large" {
			allTooLarge = false
		}
		if dec.Allowed {
			return Selection{Model: model}
		}
	}

	if allTooLarge && len(candidates) > 0 {
		return Selection{Reason: "too-large"}
	}
	return Selection{Reason: "all-exhausted"}
}
