package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/exchange"
	"github.com/suwandre/p2parb/internal/recorder"
	"github.com/suwandre/p2parb/internal/scheduler"
	"gopkg.in/yaml.v3"
)

type ExchangeConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type Config struct {
	AppPort          string
	LogLevel         string
	ConfigFile       string
	EnabledExchanges []string
	Exchanges        map[string]ExchangeConfig
	AdapterTimeout   time.Duration
	AggregateTimeout time.Duration
	CacheTTL         time.Duration
	MinProfitPct     float64
	Tiers            []float64
	DirectRates      map[string]float64
	RefreshInterval  time.Duration
	SnapshotCooldown time.Duration
	Routes           []scheduler.Route
	Snapshot         recorder.Route
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// fileConfig mirrors the optional YAML file. Pointer fields distinguish
// "absent" from an explicit zero.
type fileConfig struct {
	Exchanges        []string                  `yaml:"exchanges"`
	ExchangeSettings map[string]ExchangeConfig `yaml:"exchange_settings"`
	Tiers            []float64                 `yaml:"tiers"`
	DirectRates      map[string]float64        `yaml:"direct_rates"`
	MinProfitPct     *float64                  `yaml:"min_profit_pct"`
	CacheTTL         *time.Duration            `yaml:"cache_ttl"`
	AdapterTimeout   *time.Duration            `yaml:"adapter_timeout"`
	RefreshInterval  *time.Duration            `yaml:"refresh_interval"`
	Routes           []scheduler.Route         `yaml:"routes"`
	Snapshot         *recorder.Route           `yaml:"snapshot"`
}

func defaults() *Config {
	return &Config{
		AppPort:          "3000",
		LogLevel:         "info",
		ConfigFile:       "config.yml",
		EnabledExchanges: exchange.KnownNames(),
		Exchanges:        map[string]ExchangeConfig{},
		AdapterTimeout:   10 * time.Second,
		AggregateTimeout: 15 * time.Second,
		CacheTTL:         30 * time.Second,
		MinProfitPct:     arbitrage.DefaultMinProfitPct,
		Tiers:            slices.Clone(arbitrage.DefaultTiers),
		DirectRates:      arbitrage.DefaultDirectRates(),
		RefreshInterval:  5 * time.Minute,
		SnapshotCooldown: recorder.DefaultCooldown,
		Routes:           []scheduler.Route{{Source: "NGN", Target: "CNY", Intermediary: "USDT"}},
		Snapshot:         recorder.DefaultRoute(),
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// present), then environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, reading from environment directly")
	}

	cfg := defaults()
	cfg.ConfigFile = getEnv("CONFIG_FILE", cfg.ConfigFile)

	if err := cfg.applyFile(cfg.ConfigFile); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("no config file, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if len(fc.Exchanges) > 0 {
		c.EnabledExchanges = normalizeNames(fc.Exchanges)
	}
	for name, ec := range fc.ExchangeSettings {
		c.Exchanges[strings.ToLower(name)] = ec
	}
	if len(fc.Tiers) > 0 {
		c.Tiers = fc.Tiers
	}
	for pair, rate := range fc.DirectRates {
		c.DirectRates[strings.ToUpper(pair)] = rate
	}
	if fc.MinProfitPct != nil {
		c.MinProfitPct = *fc.MinProfitPct
	}
	if fc.CacheTTL != nil {
		c.CacheTTL = *fc.CacheTTL
	}
	if fc.AdapterTimeout != nil {
		c.AdapterTimeout = *fc.AdapterTimeout
	}
	if fc.RefreshInterval != nil {
		c.RefreshInterval = *fc.RefreshInterval
	}
	if len(fc.Routes) > 0 {
		c.Routes = fc.Routes
	}
	if fc.Snapshot != nil {
		c.Snapshot = *fc.Snapshot
	}

	log.Info().Str("path", path).Msg("config file loaded")
	return nil
}

func (c *Config) applyEnv() error {
	c.AppPort = getEnv("APP_PORT", c.AppPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)

	if v := getEnv("ENABLED_EXCHANGES", ""); v != "" {
		c.EnabledExchanges = normalizeNames(strings.Split(v, ","))
	}

	var err error
	if c.RedisDB, err = getEnvInt("REDIS_DB", c.RedisDB); err != nil {
		return err
	}
	if c.MinProfitPct, err = getEnvFloat("MIN_PROFIT_PCT", c.MinProfitPct); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ADAPTER_TIMEOUT", &c.AdapterTimeout},
		{"AGGREGATE_TIMEOUT", &c.AggregateTimeout},
		{"CACHE_TTL", &c.CacheTTL},
		{"REFRESH_INTERVAL", &c.RefreshInterval},
		{"SNAPSHOT_COOLDOWN", &c.SnapshotCooldown},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.AdapterTimeout <= 0 {
		errs = append(errs, fmt.Errorf("adapter timeout must be positive"))
	}
	if c.AggregateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("aggregate timeout must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache ttl must be positive"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh interval must be positive"))
	}
	if c.MinProfitPct < 0 {
		errs = append(errs, fmt.Errorf("min profit pct must not be negative"))
	}

	if len(c.Tiers) == 0 {
		errs = append(errs, fmt.Errorf("at least one amount tier is required"))
	}
	for i, t := range c.Tiers {
		if t <= 0 {
			errs = append(errs, fmt.Errorf("tier %v must be positive", t))
		}
		if i > 0 && t <= c.Tiers[i-1] {
			errs = append(errs, fmt.Errorf("tiers must be strictly ascending"))
		}
	}

	if len(c.EnabledExchanges) == 0 {
		errs = append(errs, fmt.Errorf("at least one exchange must be enabled"))
	}
	known := exchange.KnownNames()
	for _, name := range c.EnabledExchanges {
		if !slices.Contains(known, name) {
			errs = append(errs, fmt.Errorf("unknown exchange %q", name))
		}
	}
	for _, name := range []string{c.Snapshot.SourceExchange, c.Snapshot.TargetExchange} {
		if name != "" && !slices.Contains(c.EnabledExchanges, strings.ToLower(name)) {
			errs = append(errs, fmt.Errorf("snapshot exchange %q is not enabled", name))
		}
	}

	for pair, rate := range c.DirectRates {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("direct rate %s must be positive", pair))
		}
	}

	for _, r := range c.Routes {
		if r.Source == "" || r.Target == "" || r.Intermediary == "" {
			errs = append(errs, fmt.Errorf("route %q is incomplete", r.Key()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AdapterConfig resolves the settings for one exchange. Exchanges missing
// from EnabledExchanges come back Disabled.
func (c *Config) AdapterConfig(name string) exchange.AdapterConfig {
	key := strings.ToLower(strings.TrimSpace(name))
	ec := c.Exchanges[key]
	timeout := ec.Timeout
	if timeout <= 0 {
		timeout = c.AdapterTimeout
	}
	return exchange.AdapterConfig{
		BaseURL:     ec.BaseURL,
		Timeout:     timeout,
		MinInterval: ec.MinInterval,
		Disabled:    !slices.Contains(c.EnabledExchanges, key),
	}
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
