package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
gateway:
  base_url: https://api.example.test
  timeout: 5s
  timezone: Asia/Kolkata
rewards:
  withdrawal_threshold: "150"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Gateway.BaseURL != "https://api.example.test" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Quiz.QuestionSeconds != 30 || cfg.Quiz.ID != "daily" || cfg.Log.Level != "info" {
		t.Fatalf("defaults not applied: %+v", cfg.Quiz)
	}
	if got := TTLDuration(cfg.Gateway.Timeout, time.Minute); got != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", got)
	}
	loc, err := Location(cfg.Gateway.Timezone)
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if _, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone(); offset != 19800 {
		t.Fatalf("expected +05:30 offset, got %d", offset)
	}
	if got := Amount(cfg.Rewards.WithdrawalThreshold, decimal.NewFromInt(100)); got.String() != "150" {
		t.Fatalf("expected threshold 150, got %s", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFallbacks(t *testing.T) {
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := Amount("-5", decimal.NewFromInt(3)); got.String() != "3" {
		t.Fatalf("expected fallback for negative amount, got %s", got)
	}
	if got := Amount("abc", decimal.NewFromInt(3)); got.String() != "3" {
		t.Fatalf("expected fallback for invalid amount, got %s", got)
	}
}

func TestLocation(t *testing.T) {
	loc, err := Location("")
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC for empty zone, got %v %v", loc, err)
	}
	if _, err := Location("Mars/Olympus_Mons"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
