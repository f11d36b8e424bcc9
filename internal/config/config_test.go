package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppEnv != "dev" {
		t.Fatalf("AppEnv = %q, want dev", cfg.AppEnv)
	}
	if cfg.Port != 8080 {
		t.Fatalf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.QuotaTier != "free" {
		t.Fatalf("QuotaTier = %q, want free", cfg.QuotaTier)
	}
	if cfg.MaxSegmentSec != 900 {
		t.Fatalf("MaxSegmentSec = %d, want 900", cfg.MaxSegmentSec)
	}
	if cfg.SegmentOverlapSec != 30 {
		t.Fatalf("SegmentOverlapSec = %d, want 30", cfg.SegmentOverlapSec)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr = %q, want localhost:6379", cfg.RedisAddr)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("MAX_SEGMENT_SEC", "600")
	t.Setenv("QUOTA_TIER", "t1")
	t.Setenv("TOKEN_ESTIMATE_MODE", "optimized")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxSegmentSec != 600 {
		t.Fatalf("MaxSegmentSec = %d, want 600", cfg.MaxSegmentSec)
	}
	if cfg.QuotaTier != "t1" {
		t.Fatalf("QuotaTier = %q, want t1", cfg.QuotaTier)
	}
	if cfg.TokenEstimateMode != "optimized" {
		t.Fatalf("TokenEstimateMode = %q, want optimized", cfg.TokenEstimateMode)
	}
}

func TestIsDev_IsProd_IsTest(t *testing.T) {
	if (Config{AppEnv: "dev"}).IsDev() != true {
		t.Fatalf("expected IsDev true")
	}
	if (Config{AppEnv: "prod"}).IsProd() != true {
		t.Fatalf("expected IsProd true")
	}
	if (Config{AppEnv: "test"}).IsTest() != true {
		t.Fatalf("expected IsTest true")
	}
}

func TestGetAIBackoffConfig_TestEnvShortens(t *testing.T) {
	cfg := Config{AppEnv: "test", AIBackoffMaxElapsedTime: 99 * time.Second}
	maxElapsed, _, _, _ := cfg.GetAIBackoffConfig()
	if maxElapsed != 5*time.Second {
		t.Fatalf("expected shortened test backoff, got %v", maxElapsed)
	}
}
