// Package quota implements the Quota Ledger (spec.md §4.A): per-model
// calendar-aligned fixed-window counters for requests-per-minute, tokens-per-minute, and
// requests-per-day, backed by Redis so that counters are shared across
// worker processes rather than kept in process-local maps — the one Open
// Question spec.md §9(i) flags as unsafe for horizontally scaled workers.
package quota

import "sync"

// Tier selects a quota table, set process-wide at startup.
type Tier string

// Recognized tiers.
const (
	TierFree Tier = "free"
	TierT1   Tier = "t1"
	TierT2   Tier = "t2"
	TierT3   Tier = "t3"
)

// Limits are the admission thresholds for one (tier, model) pair.
type Limits struct {
	RPM                int
	TPM                int
	RPD                int // 0 means no daily cap for this model/tier
	MaxTokensPerRequest int // 0 means no explicit per-request cap
}

// table is the compile-time (tier, model) -> Limits map. Values are modeled
// after publicly documented free/paid tiers of mainstream generative AI
// providers; operators override via ReplaceTierTable at startup if needed.
var table = map[Tier]map[string]Limits{
	TierFree: {
		"gemini-2.5-pro":        {RPM: 5, TPM: 250_000, RPD: 25, MaxTokensPerRequest: 1_000_000},
		"gemini-2.5-flash":      {RPM: 10, TPM: 250_000, RPD: 250, MaxTokensPerRequest: 1_000_000},
		"gemini-2.5-flash-lite": {RPM: 15, TPM: 250_000, RPD: 1000, MaxTokensPerRequest: 1_000_000},
	},
	TierT1: {
		"gemini-2.5-pro":        {RPM: 150, TPM: 2_000_000, RPD: 10_000, MaxTokensPerRequest: 2_000_000},
		"gemini-2.5-flash":      {RPM: 1000, TPM: 4_000_000, MaxTokensPerRequest: 1_000_000},
		"gemini-2.5-flash-lite": {RPM: 4000, TPM: 4_000_000, MaxTokensPerRequest: 1_000_000},
	},
	TierT2: {
		"gemini-2.5-pro":        {RPM: 1000, TPM: 5_000_000, MaxTokensPerRequest: 2_000_000},
		"gemini-2.5-flash":      {RPM: 2000, TPM: 10_000_000, MaxTokensPerRequest: 1_000_000},
		"gemini-2.5-flash-lite": {RPM: 4000, TPM: 10_000_000, MaxTokensPerRequest: 1_000_000},
	},
	TierT3: {
		"gemini-2.5-pro":        {RPM: 2000, TPM: 8_000_000, MaxTokensPerRequest: 2_000_000},
		"gemini-2.5-flash":      {RPM: 4000, TPM: 20_000_000, MaxTokensPerRequest: 1_000_000},
		"gemini-2.5-flash-lite": {RPM: 4000, TPM: 20_000_000, MaxTokensPerRequest: 1_000_000},
	},
}

var tableMu sync.RWMutex

// PreferenceOrder is the design-time constant model preference used by the
// Model Selector (spec.md §4.B): pro > flash > flash-lite, ties broken
// lexicographically by the caller.
var PreferenceOrder = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite"}

// LimitsFor returns the configured Limits for (tier, model), and whether an
// entry exists. Callers without an entry should apply conservative defaults
// per spec.md §4.A's failure semantics.
func LimitsFor(tier Tier, model string) (Limits, bool) {
	tableMu.RLock()
	defer tableMu.RUnlock()
	m, ok := table[tier]
	if !ok {
		return Limits{}, false
	}
	l, ok := m[model]
	return l, ok
}

// ModelsForTier lists the models configured under a tier, in
// PreferenceOrder, followed by any remaining models in lexicographic order.
func ModelsForTier(tier Tier) []string {
	tableMu.RLock()
	m, ok := table[tier]
	tableMu.RUnlock()
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(m))
	out := make([]string, 0, len(m))
	for _, model := range PreferenceOrder {
		if _, ok := m[model]; ok {
			out = append(out, model)
			seen[model] = true
		}
	}
	rest := make([]string, 0, len(m))
	for model := range m {
		if !seen[model] {
			rest = append(rest, model)
		}
	}
	sortStrings(rest)
	return append(out, rest...)
}

// ReplaceTierTable swaps the active tier table wholesale, used by tests and
// by operators wiring a config-driven table at startup.
func ReplaceTierTable(newTable map[Tier]map[string]Limits) {
	tableMu.Lock()
	defer tableMu.Unlock()
	table = newTable
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ConservativeDefault is returned by the Ledger when no Limits entry exists
// for a model, per spec.md §4.A's "Ledger never fails the caller" clause.
var ConservativeDefault = Limits{RPM: 1, TPM: 10_000, MaxTokensPerRequest: 10_000}
