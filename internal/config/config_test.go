package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info log level default, got %q", cfg.Log.Level)
	}
	if cfg.REST.RateLimitCalls != 30 || cfg.REST.RateLimitPeriod != time.Second {
		t.Fatalf("unexpected rate limit defaults %d/%v", cfg.REST.RateLimitCalls, cfg.REST.RateLimitPeriod)
	}
	if cfg.Pairs.QuoteCurrency != "USD" {
		t.Fatalf("expected USD quote default, got %q", cfg.Pairs.QuoteCurrency)
	}
	if cfg.Pairs.FundingWindow != 6*time.Hour || cfg.Pairs.FundingRefresh != time.Hour {
		t.Fatalf("unexpected funding defaults %v/%v", cfg.Pairs.FundingWindow, cfg.Pairs.FundingRefresh)
	}
	if cfg.Engine.ExecuteInterval <= 0 || cfg.Engine.GCInterval <= 0 || cfg.Engine.AlarmInterval <= 0 {
		t.Fatalf("engine intervals must have defaults")
	}
}

func TestCredentialsComeFromEnv(t *testing.T) {
	t.Setenv("FTX_API_KEY", "env-key")
	t.Setenv("FTX_API_SECRET", "env-secret")
	t.Setenv("FTX_SUBACCOUNT", "arb")

	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	if cfg.REST.APIKey != "env-key" || cfg.REST.APISecret != "env-secret" || cfg.REST.Subaccount != "arb" {
		t.Fatalf("expected credentials from env, got %+v", cfg.REST)
	}
}

func TestValidateMetricsListenRequired(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for enabled metrics without listen address")
	}
}

func TestValidateHistoryDSNRequired(t *testing.T) {
	cfg := &Config{History: HistoryConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for enabled history without dsn")
	}
}

func TestValidateTelegramRequiresTokenAndChat(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for enabled telegram without token/chat_id")
	}
}

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
rest:
  base_url: https://example.com/api
  timeout: 5s
pairs:
  deny_list: [USDT]
  allow_list: [DOGE]
engine:
  execute_interval: 10s
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.REST.BaseURL != "https://example.com/api" || cfg.REST.Timeout != 5*time.Second {
		t.Fatalf("unexpected rest config %+v", cfg.REST)
	}
	if len(cfg.Pairs.DenyList) != 1 || cfg.Pairs.DenyList[0] != "USDT" {
		t.Fatalf("unexpected deny list %v", cfg.Pairs.DenyList)
	}
	if cfg.Engine.ExecuteInterval != 10*time.Second {
		t.Fatalf("unexpected execute interval %v", cfg.Engine.ExecuteInterval)
	}
}
