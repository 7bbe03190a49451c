package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AppPort != "3000" || cfg.CacheTTL != 30*time.Second || cfg.MinProfitPct != 0.1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.EnabledExchanges) != 5 {
		t.Errorf("expected all known exchanges enabled, got %v", cfg.EnabledExchanges)
	}
	if cfg.DirectRates["NGN-CNY"] != 0.0175 {
		t.Errorf("expected default NGN-CNY rate, got %v", cfg.DirectRates["NGN-CNY"])
	}
	if cfg.Snapshot.SourceExchange != "bybit" || cfg.Snapshot.TargetExchange != "gate" {
		t.Errorf("unexpected snapshot route: %+v", cfg.Snapshot)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
exchanges: [Bybit, gate, bybit]
exchange_settings:
  Gate:
    base_url: http://localhost:9999/gate
    min_interval: 2s
tiers: [500, 2000]
direct_rates:
  ngn-eur: 0.0011
min_profit_pct: 0.5
cache_ttl: 45s
refresh_interval: 1m
routes:
  - source: NGN
    target: EUR
    intermediary: USDT
snapshot:
  intermediary: USDT
  source_fiat: NGN
  source_exchange: bybit
  target_fiat: CNY
  target_exchange: ""
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CACHE_TTL", "10s")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("ADAPTER_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Join(cfg.EnabledExchanges, ",") != "bybit,gate" {
		t.Errorf("expected normalized exchanges, got %v", cfg.EnabledExchanges)
	}
	if cfg.CacheTTL != 10*time.Second {
		t.Errorf("env should override file, got %v", cfg.CacheTTL)
	}
	if cfg.RefreshInterval != time.Minute || cfg.MinProfitPct != 0.5 {
		t.Errorf("file values not applied: %v, %v", cfg.RefreshInterval, cfg.MinProfitPct)
	}
	if cfg.AppPort != "8080" {
		t.Errorf("unexpected port %s", cfg.AppPort)
	}
	if cfg.DirectRates["NGN-EUR"] != 0.0011 || cfg.DirectRates["NGN-CNY"] != 0.0175 {
		t.Errorf("file rates should merge over defaults: %v", cfg.DirectRates)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Target != "EUR" {
		t.Errorf("unexpected routes %+v", cfg.Routes)
	}
	if cfg.Snapshot.SourceExchange != "bybit" || cfg.Snapshot.TargetExchange != "" {
		t.Errorf("unexpected snapshot route %+v", cfg.Snapshot)
	}

	gate := cfg.AdapterConfig("GATE")
	if gate.BaseURL != "http://localhost:9999/gate" || gate.MinInterval != 2*time.Second {
		t.Errorf("unexpected gate adapter config %+v", gate)
	}
	if gate.Timeout != 3*time.Second {
		t.Errorf("expected global adapter timeout fallback, got %v", gate.Timeout)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))
	t.Setenv("AGGREGATE_TIMEOUT", "soon")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "AGGREGATE_TIMEOUT") {
		t.Fatalf("expected AGGREGATE_TIMEOUT error, got %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, "tiers: [1000, \n"))

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.EnabledExchanges = []string{"bybit", "kraken"}
	cfg.Tiers = []float64{5000, 1000}
	cfg.CacheTTL = 0
	cfg.DirectRates["NGN-XXX"] = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"kraken", "ascending", "cache ttl", "NGN-XXX"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}

	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadRejectsEmptyExchangeSet(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))
	t.Setenv("ENABLED_EXCHANGES", " , ,")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "at least one exchange") {
		t.Fatalf("expected empty exchange set to be rejected, got %v", err)
	}
}

func TestValidateSnapshotExchangesEnabled(t *testing.T) {
	cfg := defaults()
	cfg.EnabledExchanges = []string{"bybit", "okx"}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `snapshot exchange "gate"`) {
		t.Fatalf("expected disabled snapshot exchange to be rejected, got %v", err)
	}
}

func TestAdapterConfigDisablesUnlisted(t *testing.T) {
	cfg := defaults()
	cfg.EnabledExchanges = []string{"bybit", "okx"}

	tests := []struct {
		name     string
		disabled bool
	}{
		{"bybit", false},
		{"OKX", false},
		{"gate", true},
		{"binance", true},
		{"bitget", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.AdapterConfig(tt.name).Disabled; got != tt.disabled {
				t.Errorf("expected Disabled=%v, got %v", tt.disabled, got)
			}
		})
	}
}
