package quota

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// ClassKind tags the outcome of classifying one provider error, mirroring
// the status-code branches the teacher's real.Client applies per-provider
// (see internal/adapter/ai/real/client.go's StatusCode switches) but
// generalized into a single shared taxonomy since this core has one
// provider family instead of OpenRouter/Groq/OpenAI side by side.
type ClassKind string

// Recognized classification kinds.
const (
	ClassQuota      ClassKind = "quota"
	ClassOverload   ClassKind = "overload"
	ClassValidation ClassKind = "validation"
	ClassTransient  ClassKind = "transient"
	ClassFatal      ClassKind = "fatal"
)

// Classification is the structured result of inspecting one provider error.
type Classification struct {
	Kind ClassKind

	// Violation is populated when Kind == ClassQuota.
	Violation domain.QuotaViolation

	// RetryAfterSec is populated for ClassOverload and ClassQuota when the
	// provider supplied an explicit retry hint.
	RetryAfterSec int
}

// ProviderError carries the raw material available to classify one failed
// call: the structured fields an API client can usually extract plus the
// raw body as a fallback. Preferring structured fields over string-matching
// the body follows spec.md §9's redesign note: keyword matching against
// free-text error bodies is brittle and a last resort.
type ProviderError struct {
	StatusCode int
	RetryAfterHeader string
	Body       string
	Model      string
}

// ClassifyProviderError turns one provider failure into a Classification.
// It prefers HTTP status code and Retry-After header (structured signals)
// and falls back to a small documented keyword set scanned from Body only
// when the status code alone is ambiguous (429 covers both quota and
// transient throttling depending on provider).
func ClassifyProviderError(e ProviderError) Classification {
	retrySec := parseRetryAfter(e.RetryAfterHeader)

	switch e.StatusCode {
	case http.StatusTooManyRequests:
		kind := classifyQuotaKeyword(e.Body)
		return Classification{
			Kind: ClassQuota,
			Violation: domain.QuotaViolation{
				Model:         e.Model,
				Kind:          kind,
				RetryDelaySec: retrySec,
				RawPayload:    truncate(e.Body, 2048),
			},
			RetryAfterSec: retrySec,
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return Classification{Kind: ClassOverload, RetryAfterSec: retrySec}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return Classification{Kind: ClassValidation}
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return Classification{Kind: ClassFatal}
	}

	if e.StatusCode >= 500 {
		return Classification{Kind: ClassTransient, RetryAfterSec: retrySec}
	}
	if e.StatusCode >= 400 {
		return Classification{Kind: ClassFatal}
	}
	return Classification{Kind: ClassTransient, RetryAfterSec: retrySec}
}

// classifyQuotaKeyword distinguishes RPM/TPM/RPD from a 429 body when the
// provider doesn't return a structured violation type. This is the
// documented fallback keyword set, not the primary classification path.
func classifyQuotaKeyword(body string) domain.QuotaViolationKind {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "requests per day") || strings.Contains(lower, "daily"):
		return domain.QuotaKindRPD
	case strings.Contains(lower, "tokens per minute") || strings.Contains(lower, "token"):
		return domain.QuotaKindTPM
	case strings.Contains(lower, "requests per minute") || strings.Contains(lower, "rpm"):
		return domain.QuotaKindRPM
	default:
		return domain.QuotaKindUnknown
	}
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
