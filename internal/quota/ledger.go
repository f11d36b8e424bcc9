package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// Dimension names the quota axis a Decision was evaluated or rejected on.
type Dimension string

// Recognized dimensions, mirroring domain.QuotaViolationKind.
const (
	DimensionRPM Dimension = "RPM"
	DimensionTPM Dimension = "TPM"
	DimensionRPD Dimension = "RPD"
)

// Decision is the result of a preflight admission check.
type Decision struct {
	Allowed   bool
	Reason    string
	WaitSec   float64
	Dimension Dimension
}

// recordScript atomically increments the three calendar-aligned counters for
// one model and sets their expirations, mirroring the teacher's
// luaTokenBucketScript pattern (HMGET/HMSET guarded by a single script run)
// but incrementing fixed windows instead of refilling a bucket: counts never
// decrement within a window (spec.md §4.A invariant iii).
const recordScript = `
local rpmKey = KEYS[1]
local tpmKey = KEYS[2]
local rpdKey = KEYS[3]
local tokens = tonumber(ARGV[1])
local rpmTTL = tonumber(ARGV[2])
local tpmTTL = tonumber(ARGV[3])
local rpdTTL = tonumber(ARGV[4])

local rpm = redis.call("INCR", rpmKey)
redis.call("EXPIRE", rpmKey, rpmTTL)

local tpm = redis.call("INCRBY", tpmKey, tokens)
redis.call("EXPIRE", tpmKey, tpmTTL)

local rpd = redis.call("INCR", rpdKey)
redis.call("EXPIRE", rpdKey, rpdTTL)

return { rpm, tpm, rpd }
`

// Ledger is the Quota Ledger (spec.md §4.A): a Redis-backed set of
// calendar-aligned counters per model, shared across worker processes so
// that admission decisions are consistent under horizontal scale-out
// (resolves spec.md §9(i) in favor of a shared store).
type Ledger struct {
	rdb     *redis.Client
	record  *redis.Script
	tier    Tier
	mode    TokenEstimateMode
	repo    domain.QuotaViolationRepository
	overload *overloadTracker
}

// NewLedger constructs a Ledger. repo may be nil, in which case
// RecordViolation only updates the in-process overload tracker.
func NewLedger(rdb *redis.Client, tier Tier, mode TokenEstimateMode, repo domain.QuotaViolationRepository) *Ledger {
	return &Ledger{
		rdb:      rdb,
		record:   redis.NewScript(recordScript),
		tier:     tier,
		mode:     mode,
		repo:     repo,
		overload: newOverloadTracker(),
	}
}

func minuteEpoch(t time.Time) int64 { return t.Unix() / 60 }
func dayEpoch(t time.Time) int64    { return t.Unix() / 86400 }

func (l *Ledger) keys(model string, now time.Time) (rpmKey, tpmKey, rpdKey string) {
	rpmKey = fmt.Sprintf("quota:%s:rpm:%d", model, minuteEpoch(now))
	tpmKey = fmt.Sprintf("quota:%s:tpm:%d", model, minuteEpoch(now))
	rpdKey = fmt.Sprintf("quota:%s:rpd:%d", model, dayEpoch(now))
	return
}

func (l *Ledger) limitsFor(model string) Limits {
	if lim, ok := LimitsFor(l.tier, model); ok {
		return lim
	}
	return ConservativeDefault
}

// CanMake evaluates whether a call with estTokens would stay within model's
// limits for the windows the current moment falls in, without reserving
// anything (spec.md §4.A's preflight check is advisory; actual admission is
// recorded by Record after a call succeeds). IsOverloaded always takes
// priority over quota math.
func (l *Ledger) CanMake(ctx context.Context, model string, estTokens int) (Decision, error) {
	if l.IsOverloaded(model) {
		return Decision{Allowed: false, Reason: "overloaded", WaitSec: l.overload.remaining(model).Seconds()}, nil
	}

	lim := l.limitsFor(model)
	if lim.MaxTokensPerRequest > 0 && estTokens > lim.MaxTokensPerRequest {
		return Decision{Allowed: false, Reason: "too-large", Dimension: DimensionTPM}, nil
	}

	now := time.Now()
	rpmKey, tpmKey, rpdKey := l.keys(model, now)

	vals, err := l.rdb.MGet(ctx, rpmKey, tpmKey, rpdKey).Result()
	if err != nil && err != redis.Nil {
		slog.Error("quota ledger read failed; failing open", slog.String("model", model), slog.Any("error", err))
		return Decision{Allowed: true}, nil
	}

	rpm := toInt(vals, 0)
	tpm := toInt(vals, 1)
	rpd := toInt(vals, 2)

	if lim.RPM > 0 && rpm+1 > lim.RPM {
		return Decision{Allowed: false, Reason: "rpm-exhausted", Dimension: DimensionRPM, WaitSec: secondsToNextMinute(now)}, nil
	}
	if lim.TPM > 0 && tpm+estTokens > lim.TPM {
		return Decision{Allowed: false, Reason: "tpm-exhausted", Dimension: DimensionTPM, WaitSec: secondsToNextMinute(now)}, nil
	}
	if lim.RPD > 0 && rpd+1 > lim.RPD {
		return Decision{Allowed: false, Reason: "rpd-exhausted", Dimension: DimensionRPD, WaitSec: secondsToNextDay(now)}, nil
	}

	return Decision{Allowed: true}, nil
}

// Record increments the actual usage counters after a call completes,
// successfully or not, so the next CanMake sees it. Counts never decrement
// within a window even if the call ultimately failed downstream.
func (l *Ledger) Record(ctx context.Context, model string, actualTokens int) error {
	now := time.Now()
	rpmKey, tpmKey, rpdKey := l.keys(model, now)
	_, err := l.record.Run(ctx, l.rdb, []string{rpmKey, tpmKey, rpdKey}, actualTokens, 120, 120, 172800).Result()
	if err != nil {
		return fmt.Errorf("quota.Record: %w", err)
	}
	return nil
}

// GetUsage returns the current counters for model's active windows.
func (l *Ledger) GetUsage(ctx context.Context, model string) (rpm, tpm, rpd int, err error) {
	now := time.Now()
	rpmKey, tpmKey, rpdKey := l.keys(model, now)
	vals, gerr := l.rdb.MGet(ctx, rpmKey, tpmKey, rpdKey).Result()
	if gerr != nil && gerr != redis.Nil {
		return 0, 0, 0, fmt.Errorf("quota.GetUsage: %w", gerr)
	}
	return toInt(vals, 0), toInt(vals, 1), toInt(vals, 2), nil
}

// RecordViolation persists a parsed provider quota rejection (when a
// repository is configured) and arms the in-process overload/backoff
// tracker so subsequent CanMake calls short-circuit without another round
// trip to the provider.
func (l *Ledger) RecordViolation(ctx context.Context, v domain.QuotaViolation) error {
	if l.repo != nil {
		if err := l.repo.RecordQuotaViolation(ctx, v); err != nil {
			return fmt.Errorf("quota.RecordViolation: %w", err)
		}
	}
	delay := time.Duration(v.RetryDelaySec) * time.Second
	if delay <= 0 {
		delay = defaultViolationCooldown
	}
	l.overload.mark(v.Model, delay)
	return nil
}

// GetViolations returns the most recent recorded violations, newest first.
func (l *Ledger) GetViolations(ctx context.Context, limit int) ([]domain.QuotaViolation, error) {
	if l.repo == nil {
		return nil, nil
	}
	return l.repo.GetViolations(ctx, limit)
}

// MarkOverloaded arms the cooldown tracker directly, used when the provider
// reports a transient overload (HTTP 503-equivalent) rather than a quota
// rejection.
func (l *Ledger) MarkOverloaded(model string, cooldown time.Duration) {
	l.overload.mark(model, cooldown)
}

// IsOverloaded reports whether model is within its overload cooldown window.
func (l *Ledger) IsOverloaded(model string) bool {
	return l.overload.isBlocked(model)
}

// WaitForQuota blocks until CanMake(model, estTokens) would allow the call
// or ctx is done, polling at the window boundary each rejection names.
func (l *Ledger) WaitForQuota(ctx context.Context, model string, estTokens int) error {
	for {
		dec, err := l.CanMake(ctx, model, estTokens)
		if err != nil {
			return err
		}
		if dec.Allowed {
			return nil
		}
		wait := time.Duration(dec.WaitSec * float64(time.Second))
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func secondsToNextMinute(now time.Time) float64 {
	return 60 - float64(now.Unix()%60)
}

func secondsToNextDay(now time.Time) float64 {
	return 86400 - float64(now.Unix()%86400)
}

func toInt(vals []interface{}, i int) int {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	switch v := vals[i].(type) {
	case string:
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		return n
	case int64:
		return int(v)
	default:
		return 0
	}
}
