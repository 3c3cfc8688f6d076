package config

// KnownExchanges lists the exchanges a connector exists for, in scan order.
var KnownExchanges = []string{"kucoin_futures", "kucoin_spot", "hyperliquid", "bingx", "fake"}

// DefaultPriorityTickers are scanned ahead of the rest of the universe.
var DefaultPriorityTickers = []string{
	"BTC", "ETH", "SOL", "XRP", "DOGE", "PEPE", "WIF", "HYPE", "SUI", "AAVE", "BNB", "LINK", "SEI", "PUMP",
}

var defaultTickerMinSizes = map[string]float64{
	"BTC":   30_000_000,
	"ETH":   20_000_000,
	"SOL":   10_000_000,
	"XRP":   10_000_000,
	"BNB":   10_000_000,
	"SUI":   10_000_000,
	"HYPE":  5_000_000,
	"LTC":   2_000_000,
	"KPEPE": 1_000_000,
	"DOGE":  1_000_000,
	"ZEC":   1_000_000,
	"AAVE":  1_000_000,
	"ASTER": 1_000_000,
	"DASH":  1_000_000,
	"LINK":  1_000_000,
	"PEPE":  1_000_000,
	"XLM":   1_000_000,
	"ADA":   1_000_000,
	"NEAR":  1_000_000,
	"SEI":   500_000,
	"PUMP":  500_000,
}

// exchangeDefaults returns the connection and threshold defaults for an exchange.
func exchangeDefaults(name string) ExchangeConfig {
	base := ExchangeConfig{
		RPS:       10,
		Burst:     10,
		TimeoutMS: 10_000,
		Circuit:   CircuitConfig{FailureThreshold: 5, OpenSecs: 30, HalfOpenRequests: 1},
	}
	switch name {
	case "kucoin_futures":
		base.BaseURL = "https://api-futures.kucoin.com"
		base.Concurrency = 8
		base.RPS = 5
		base.Burst = 8
		base.Threshold = &ThresholdOverride{MinSize: f64(300_000)}
	case "kucoin_spot":
		base.BaseURL = "https://api.kucoin.com"
		base.Concurrency = 8
		base.RPS = 5
		base.Burst = 8
		base.Threshold = &ThresholdOverride{MinSize: f64(500_000)}
	case "hyperliquid":
		base.BaseURL = "https://api.hyperliquid.xyz"
		base.WSURL = "wss://api.hyperliquid.xyz/ws"
		base.Concurrency = 20
		base.RPS = 10
		base.Burst = 20
		base.Threshold = &ThresholdOverride{MinSize: f64(1_000_000)}
	case "bingx":
		base.BaseURL = "https://open-api.bingx.com"
		base.Concurrency = 20
		base.RPS = 10
		base.Burst = 20
		base.Threshold = &ThresholdOverride{MinSize: f64(500_000)}
	case "fake":
		base.RPS = 1000
		base.Burst = 1000
	}
	return base
}

// Default returns the built-in configuration.
func Default() *Config {
	tickers := make(map[string]ThresholdOverride, len(defaultTickerMinSizes))
	for t, size := range defaultTickerMinSizes {
		tickers[t] = ThresholdOverride{MinSize: f64(size)}
	}

	exchanges := make(map[string]ExchangeConfig)
	for _, name := range []string{"kucoin_futures", "kucoin_spot", "hyperliquid", "bingx"} {
		exchanges[name] = exchangeDefaults(name)
	}

	return &Config{
		Scan: ScanConfig{
			IntervalSecs:       30,
			MarketTTLSecs:      300,
			FailureThreshold:   10,
			DefaultConcurrency: 10,
			ContractCacheSize:  1000,
			Retry:              RetryConfig{MaxAttempts: 3, BaseMS: 500, MaxMS: 5000, Jitter: 0.5},
		},
		Thresholds: ThresholdsConfig{
			Default: Threshold{MinSize: 1_000_000, DistancePct: 3.0, Depth: 50},
			Tickers: tickers,
		},
		Exchanges:       exchanges,
		Blacklist:       []string{"BCH", "QQQ", "TSLA", "XAU", "HAG", "PAXG", "XAG", "USDC"},
		PriorityTickers: append([]string(nil), DefaultPriorityTickers...),
		QuoteCurrencies: []string{"USDT", "USD", "USDC", "BUSD"},
		Alerts: AlertsConfig{
			Enabled:          true,
			FirstSighting:    FirstSightingAlert,
			CooldownSecs:     300,
			DuplicateSizePct: 20,
			SurgePct:         50,
			PriceMovePct:     0.5,
			MaxMisses:        3,
			QueueSize:        1000,
		},
		Stream: StreamConfig{
			Enabled:            true,
			MaxPerExchange:     30,
			ReconnectDelaySecs: 5,
			MaxReconnects:      10,
		},
		Notify: NotifyConfig{
			Log:           true,
			SendTimeoutMS: 10_000,
			Telegram:      TelegramConfig{BaseURL: "https://api.telegram.org"},
			Redis:         RedisConfig{Stream: "densityrun:alerts", MaxLen: 10_000},
			Postgres:      PostgresConfig{TimeoutMS: 5000},
		},
		HTTP:    HTTPConfig{Enabled: true, Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
}

// complete fills exchange fields left unset by the file from the exchange
// defaults and resolves every threshold override into a full Threshold.
func (c *Config) complete() {
	if c.Exchanges == nil {
		c.Exchanges = make(map[string]ExchangeConfig)
	}
	for name, ex := range c.Exchanges {
		def := exchangeDefaults(name)
		if ex.BaseURL == "" {
			ex.BaseURL = def.BaseURL
		}
		if ex.WSURL == "" {
			ex.WSURL = def.WSURL
		}
		if ex.RPS == 0 {
			ex.RPS = def.RPS
		}
		if ex.Burst == 0 {
			ex.Burst = def.Burst
		}
		if ex.TimeoutMS == 0 {
			ex.TimeoutMS = def.TimeoutMS
		}
		if ex.Concurrency == 0 {
			ex.Concurrency = def.Concurrency
		}
		if ex.Threshold == nil {
			ex.Threshold = def.Threshold
		}
		if ex.Circuit.FailureThreshold == 0 {
			ex.Circuit.FailureThreshold = def.Circuit.FailureThreshold
		}
		if ex.Circuit.OpenSecs == 0 {
			ex.Circuit.OpenSecs = def.Circuit.OpenSecs
		}
		if ex.Circuit.HalfOpenRequests == 0 {
			ex.Circuit.HalfOpenRequests = def.Circuit.HalfOpenRequests
		}
		c.Exchanges[name] = ex
	}
	c.resolveThresholds()
}

func f64(v float64) *float64 { return &v }
