package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the complete scanner configuration. It is loaded once and treated
// as read-only afterwards.
type Config struct {
	Scan            ScanConfig                `yaml:"scan"`
	Thresholds      ThresholdsConfig          `yaml:"thresholds"`
	Exchanges       map[string]ExchangeConfig `yaml:"exchanges"`
	Blacklist       []string                  `yaml:"blacklist"`        // Global base-asset blacklist
	PriorityTickers []string                  `yaml:"priority_tickers"` // Scanned first, streamed when supported
	QuoteCurrencies []string                  `yaml:"quote_currencies"`
	Alerts          AlertsConfig              `yaml:"alerts"`
	Stream          StreamConfig              `yaml:"stream"`
	Notify          NotifyConfig              `yaml:"notify"`
	HTTP            HTTPConfig                `yaml:"http"`
	Logging         LoggingConfig             `yaml:"logging"`

	resolved resolvedThresholds
}

// ScanConfig controls the scan loop
type ScanConfig struct {
	IntervalSecs       int         `yaml:"interval_secs"`
	MarketTTLSecs      int         `yaml:"market_ttl_secs"`
	FailureThreshold   int         `yaml:"failure_threshold"` // Consecutive failures before cache invalidation
	DefaultConcurrency int         `yaml:"default_concurrency"`
	ContractCacheSize  int         `yaml:"contract_cache_size"`
	Retry              RetryConfig `yaml:"retry"`
}

// RetryConfig represents exponential backoff configuration for order-book fetches
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseMS      int     `yaml:"base_ms"`
	MaxMS       int     `yaml:"max_ms"`
	Jitter      float64 `yaml:"jitter"` // Randomization factor in [0,1)
}

// ThresholdsConfig holds the global default and global per-ticker overrides
type ThresholdsConfig struct {
	Default Threshold                    `yaml:"default"`
	Tickers map[string]ThresholdOverride `yaml:"tickers"`
}

// ThresholdOverride is a partial threshold; omitted fields are completed from
// the global default when the config is loaded.
type ThresholdOverride struct {
	MinSize     *float64 `yaml:"min_size"`
	DistancePct *float64 `yaml:"distance_pct"`
	Depth       *int     `yaml:"depth"`
}

// ExchangeConfig represents configuration for a single exchange
type ExchangeConfig struct {
	Enabled         *bool                        `yaml:"enabled"`
	BaseURL         string                       `yaml:"base_url"`
	WSURL           string                       `yaml:"ws_url"`
	RPS             float64                      `yaml:"rps"`
	Burst           int                          `yaml:"burst"`
	TimeoutMS       int                          `yaml:"timeout_ms"`
	Concurrency     int                          `yaml:"concurrency"`
	MinLifetimeSecs int                          `yaml:"min_lifetime_secs"`
	Threshold       *ThresholdOverride           `yaml:"threshold"`
	Tickers         map[string]ThresholdOverride `yaml:"tickers"`
	Blacklist       []string                     `yaml:"blacklist"`
	Circuit         CircuitConfig                `yaml:"circuit"`
}

// CircuitConfig represents circuit breaker configuration
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"` // Consecutive failures to open circuit
	OpenSecs         int `yaml:"open_secs"`         // Time spent open before probing
	HalfOpenRequests int `yaml:"half_open_requests"`
}

// First-sighting policies
const (
	FirstSightingAlert    = "alert"    // Emit NEW on the first detection
	FirstSightingBaseline = "baseline" // Record silently, emit on a later sighting
)

// AlertsConfig configures the alert decision engine
type AlertsConfig struct {
	Enabled          bool    `yaml:"enabled"`
	FirstSighting    string  `yaml:"first_sighting"` // "alert" or "baseline"
	CooldownSecs     int     `yaml:"cooldown_secs"`
	DuplicateSizePct float64 `yaml:"duplicate_size_pct"`
	SurgePct         float64 `yaml:"surge_pct"`
	PriceMovePct     float64 `yaml:"price_move_pct"`
	MaxMisses        int     `yaml:"max_misses"`
	QueueSize        int     `yaml:"queue_size"`
}

// StreamConfig configures push-mode watchers for priority symbols
type StreamConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxPerExchange     int  `yaml:"max_per_exchange"`
	ReconnectDelaySecs int  `yaml:"reconnect_delay_secs"`
	MaxReconnects      int  `yaml:"max_reconnects"`
}

// NotifyConfig configures alert sinks. Empty credentials disable a sink.
type NotifyConfig struct {
	Log           bool           `yaml:"log"`
	SendTimeoutMS int            `yaml:"send_timeout_ms"`
	Telegram      TelegramConfig `yaml:"telegram"`
	Redis         RedisConfig    `yaml:"redis"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

type TelegramConfig struct {
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	BaseURL string `yaml:"base_url"`
}

type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// HTTPConfig configures the operational HTTP surface
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// Load reads .env (if present), the YAML file at path and environment
// overrides, then completes and validates the result. An empty path loads
// built-in defaults only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the built-in defaults and validates it without
// consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.complete()
	return cfg, nil
}

// applyEnv overlays secrets and deployment settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("DENSITYRUN_TELEGRAM_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("DENSITYRUN_TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Notify.Redis.Addr = v
	}
	if v := os.Getenv("DENSITYRUN_POSTGRES_DSN"); v != "" {
		c.Notify.Postgres.DSN = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		} else {
			log.Warn().Str("HTTP_PORT", v).Msg("Ignoring non-numeric HTTP_PORT")
		}
	}
	if v := os.Getenv("DENSITYRUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ScanInterval returns the pause between the end of one cycle and the start of the next
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.IntervalSecs) * time.Second
}

// MarketTTL returns the market metadata cache TTL
func (c *Config) MarketTTL() time.Duration {
	return time.Duration(c.Scan.MarketTTLSecs) * time.Second
}

// Cooldown returns the minimum time between alerts for one density
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSecs) * time.Second
}

// Concurrency returns the scan concurrency for an exchange
func (c *Config) Concurrency(exchange string) int {
	if ex, ok := c.Exchanges[exchange]; ok && ex.Concurrency > 0 {
		return ex.Concurrency
	}
	return c.Scan.DefaultConcurrency
}

// MinLifetime returns how long a density must exist on an exchange before it may alert
func (c *Config) MinLifetime(exchange string) time.Duration {
	return time.Duration(c.Exchanges[exchange].MinLifetimeSecs) * time.Second
}

// EnabledExchanges returns the names of enabled exchanges in sorted order
func (c *Config) EnabledExchanges() []string {
	var names []string
	for _, name := range KnownExchanges {
		if ex, ok := c.Exchanges[name]; ok && ex.IsEnabled() {
			names = append(names, name)
		}
	}
	return names
}

// IsEnabled reports whether the exchange is scanned; unset means enabled.
func (e ExchangeConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Timeout returns the per-request HTTP timeout
func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}
