package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/market"
	"github.com/sawpanic/densityrun/internal/metrics"
	"github.com/sawpanic/densityrun/internal/net/breaker"
	"github.com/sawpanic/densityrun/internal/net/client"
	"github.com/sawpanic/densityrun/internal/net/ratelimit"
	"github.com/sawpanic/densityrun/internal/net/retry"
	"github.com/sawpanic/densityrun/internal/notify"
	"github.com/sawpanic/densityrun/internal/persistence"
	"github.com/sawpanic/densityrun/internal/persistence/postgres"
	"github.com/sawpanic/densityrun/internal/scan"
	"github.com/sawpanic/densityrun/internal/venue"
	"github.com/sawpanic/densityrun/internal/venue/bingx"
	"github.com/sawpanic/densityrun/internal/venue/fake"
	"github.com/sawpanic/densityrun/internal/venue/hyperliquid"
	"github.com/sawpanic/densityrun/internal/venue/kucoin"
)

// app holds every long-lived component built from one configuration
type app struct {
	cfg          *config.Config
	metrics      *metrics.Registry
	limiter      *ratelimit.Limiter
	breakers     *breaker.Manager
	connectors   []venue.Connector
	cache        *market.Cache
	engine       *alert.Engine
	coordinators []*scan.Coordinator

	journalDB *sqlx.DB
	journal   persistence.AlertsRepo
	redis     *redis.Client
}

// appOptions tunes what newApp builds
type appOptions struct {
	Progress scan.ProgressTracker
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		metrics:  metrics.NewRegistry(),
		limiter:  ratelimit.NewLimiter(10, 10),
		breakers: breaker.NewManager(),
	}
	a.breakers.OnStateChange(func(exchange string, _, to gobreaker.State) {
		a.metrics.SetBreakerState(exchange, to.String())
	})

	connectors, err := a.buildConnectors()
	if err != nil {
		return nil, err
	}
	if len(connectors) == 0 {
		return nil, fmt.Errorf("no exchanges enabled")
	}
	a.connectors = connectors

	a.cache, err = market.New(connectors, market.Options{
		TTL:             cfg.MarketTTL(),
		QuoteCurrencies: cfg.QuoteCurrencies,
		ContractEntries: cfg.Scan.ContractCacheSize,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.engine, err = alert.NewEngine(alert.OptionsFromConfig(cfg, a.metrics))
	if err != nil {
		return nil, err
	}

	deps := scan.Deps{
		Config:   cfg,
		Cache:    a.cache,
		Engine:   a.engine,
		Metrics:  a.metrics,
		Retry:    retry.FromConfig(cfg.Scan.Retry),
		Progress: opts.Progress,
	}
	for _, conn := range connectors {
		a.coordinators = append(a.coordinators, scan.NewCoordinator(conn, deps))
	}
	return a, nil
}

// buildConnectors creates a connector for every enabled exchange, each with its
// own rate-limited, circuit-broken HTTP client
func (a *app) buildConnectors() ([]venue.Connector, error) {
	var out []venue.Connector
	for _, name := range a.cfg.EnabledExchanges() {
		ex := a.cfg.Exchanges[name]

		a.limiter.Configure(name, ex.RPS, ex.Burst)
		a.breakers.Configure(name, breaker.Settings{
			FailureThreshold: uint32(ex.Circuit.FailureThreshold),
			OpenTimeout:      time.Duration(ex.Circuit.OpenSecs) * time.Second,
			HalfOpenRequests: uint32(ex.Circuit.HalfOpenRequests),
		})
		a.metrics.SetBreakerState(name, a.breakers.State(name))

		httpClient := client.New(client.Config{
			Exchange: name,
			Timeout:  ex.Timeout(),
			Limiter:  a.limiter,
			Breakers: a.breakers,
		})

		var conn venue.Connector
		switch name {
		case "kucoin_futures":
			conn = kucoin.NewFutures(ex.BaseURL, httpClient)
		case "kucoin_spot":
			conn = kucoin.NewSpot(ex.BaseURL, httpClient)
		case "hyperliquid":
			conn = hyperliquid.New(ex.BaseURL, ex.WSURL, httpClient)
		case "bingx":
			conn = bingx.New(ex.BaseURL, httpClient)
		case "fake":
			conn = fake.NewDeterministic(name)
		default:
			return nil, fmt.Errorf("no connector for exchange %q", name)
		}
		out = append(out, conn)

		log.Info().
			Str("exchange", name).
			Str("market_type", string(conn.MarketType())).
			Float64("rps", ex.RPS).
			Int("concurrency", a.cfg.Concurrency(name)).
			Msg("Exchange connector ready")
	}
	return out, nil
}

// buildSinks connects every configured alert sink. A sink with credentials
// that cannot be reached is a startup error.
func (a *app) buildSinks(ctx context.Context) ([]notify.Sink, error) {
	n := a.cfg.Notify
	var sinks []notify.Sink

	if n.Log {
		sinks = append(sinks, notify.LogSink{})
	}

	if n.Telegram.Token != "" || n.Telegram.ChatID != "" {
		tg, err := notify.NewTelegramSink(n.Telegram.Token, n.Telegram.ChatID, n.Telegram.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}

	if n.Redis.Addr != "" {
		rdb, err := notify.NewRedisClient(ctx, n.Redis.Addr)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		sinks = append(sinks, notify.NewRedisSink(rdb, n.Redis.Stream, n.Redis.MaxLen))
	}

	if n.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, n.Postgres.DSN, postgres.DefaultOptions())
		if err != nil {
			return nil, err
		}
		a.journalDB = db
		a.journal = postgres.NewAlertsRepo(db, time.Duration(n.Postgres.TimeoutMS)*time.Millisecond)
		sinks = append(sinks, notify.NewJournalSink(a.journal))
	}

	if len(sinks) == 0 {
		log.Warn().Msg("No alert sinks configured, alerts will be dropped after decision")
	}
	return sinks, nil
}

func (a *app) dispatcher(sinks []notify.Sink) *notify.Dispatcher {
	return notify.NewDispatcher(sinks, time.Duration(a.cfg.Notify.SendTimeoutMS)*time.Millisecond, a.metrics)
}

func (a *app) exchanges() []string {
	names := make([]string, len(a.connectors))
	for i, c := range a.connectors {
		names[i] = c.Name()
	}
	return names
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.journalDB != nil {
		if err := a.journalDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close journal database")
		}
	}
}
