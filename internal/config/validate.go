package config

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if err := c.resolved.global.Validate(); err != nil {
		return fmt.Errorf("thresholds.default: %w", err)
	}
	for ticker, t := range c.resolved.globalTickers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("thresholds.tickers.%s: %w", ticker, err)
		}
	}

	for name, ex := range c.Exchanges {
		if !slices.Contains(KnownExchanges, name) {
			return fmt.Errorf("exchanges: unknown exchange %q", name)
		}
		if err := ex.Validate(name); err != nil {
			return fmt.Errorf("exchanges.%s: %w", name, err)
		}
		if t, ok := c.resolved.exchanges[name]; ok {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("exchanges.%s.threshold: %w", name, err)
			}
		}
		for ticker, t := range c.resolved.exchangeTickers[name] {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("exchanges.%s.tickers.%s: %w", name, ticker, err)
			}
		}
	}
	if len(c.EnabledExchanges()) == 0 {
		return fmt.Errorf("exchanges: at least one exchange must be enabled")
	}
	if len(c.QuoteCurrencies) == 0 {
		return fmt.Errorf("quote_currencies cannot be empty")
	}

	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http: port must be in 1-65535, got %d", c.HTTP.Port)
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging: format must be auto, console or json, got %q", c.Logging.Format)
	}
	return nil
}

// Validate ensures scan loop settings are usable
func (s *ScanConfig) Validate() error {
	if s.IntervalSecs <= 0 {
		return fmt.Errorf("interval_secs must be positive, got %d", s.IntervalSecs)
	}
	if s.MarketTTLSecs <= 0 {
		return fmt.Errorf("market_ttl_secs must be positive, got %d", s.MarketTTLSecs)
	}
	if s.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", s.FailureThreshold)
	}
	if s.DefaultConcurrency <= 0 {
		return fmt.Errorf("default_concurrency must be positive, got %d", s.DefaultConcurrency)
	}
	if s.ContractCacheSize <= 0 {
		return fmt.Errorf("contract_cache_size must be positive, got %d", s.ContractCacheSize)
	}
	return s.Retry.Validate()
}

// Validate ensures backoff configuration is valid
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive, got %d", r.MaxAttempts)
	}
	if r.BaseMS <= 0 {
		return fmt.Errorf("retry base_ms must be positive, got %d", r.BaseMS)
	}
	if r.MaxMS < r.BaseMS {
		return fmt.Errorf("retry max_ms (%d) must be >= base_ms (%d)", r.MaxMS, r.BaseMS)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0,1), got %g", r.Jitter)
	}
	return nil
}

// Validate ensures an exchange configuration is valid
func (e *ExchangeConfig) Validate(name string) error {
	if name != "fake" && e.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if e.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %g", e.RPS)
	}
	if e.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d", e.Burst)
	}
	if e.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative, got %d", e.Concurrency)
	}
	if e.MinLifetimeSecs < 0 {
		return fmt.Errorf("min_lifetime_secs cannot be negative, got %d", e.MinLifetimeSecs)
	}
	if e.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", e.TimeoutMS)
	}
	if e.Circuit.FailureThreshold <= 0 || e.Circuit.OpenSecs <= 0 || e.Circuit.HalfOpenRequests <= 0 {
		return fmt.Errorf("circuit settings must be positive")
	}
	return nil
}

// Validate ensures alert engine settings are valid
func (a *AlertsConfig) Validate() error {
	if a.FirstSighting != FirstSightingAlert && a.FirstSighting != FirstSightingBaseline {
		return fmt.Errorf("first_sighting must be %q or %q, got %q", FirstSightingAlert, FirstSightingBaseline, a.FirstSighting)
	}
	if a.CooldownSecs <= 0 {
		return fmt.Errorf("cooldown_secs must be positive, got %d", a.CooldownSecs)
	}
	if a.DuplicateSizePct <= 0 || a.SurgePct <= 0 || a.PriceMovePct <= 0 {
		return fmt.Errorf("duplicate_size_pct, surge_pct and price_move_pct must be positive")
	}
	if a.MaxMisses <= 0 {
		return fmt.Errorf("max_misses must be positive, got %d", a.MaxMisses)
	}
	if a.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", a.QueueSize)
	}
	return nil
}

// Validate ensures streaming settings are valid
func (s *StreamConfig) Validate() error {
	if s.MaxPerExchange < 0 || s.ReconnectDelaySecs < 0 || s.MaxReconnects < 0 {
		return fmt.Errorf("stream settings cannot be negative")
	}
	return nil
}
