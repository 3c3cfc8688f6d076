// Package scan drives order-book fetching: one task per (exchange, symbol),
// one coordinator per exchange and an orchestrator running periodic cycles.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/density"
	"github.com/sawpanic/densityrun/internal/market"
	"github.com/sawpanic/densityrun/internal/metrics"
	"github.com/sawpanic/densityrun/internal/net/retry"
	"github.com/sawpanic/densityrun/internal/universe"
	"github.com/sawpanic/densityrun/internal/venue"
)

// Result of scanning one symbol
type Result string

const (
	ResultOK      Result = "ok"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// Outcome describes one symbol scan
type Outcome struct {
	Symbol   string
	Result   Result
	Depth    int // Depth of the book that was analysed
	Attempts int
	Events   []density.Event
	Err      error
}

// Deps are the shared components every coordinator scans with
type Deps struct {
	Config  *config.Config
	Cache   *market.Cache
	Engine  *alert.Engine
	Metrics *metrics.Registry
	Retry   retry.Policy
	Now     func() time.Time

	// Progress, when set, is told how many symbols each exchange plans to
	// scan and is advanced once per finished symbol.
	Progress ProgressTracker
}

// ProgressTracker receives per-symbol scan progress
type ProgressTracker interface {
	Add(n int)
	Increment(message string)
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// ScanSymbol fetches one order book, computes its densities and feeds them to
// the alert engine. Failures are reported in the outcome, never panicked.
func (c *Coordinator) ScanSymbol(ctx context.Context, symbol string) Outcome {
	name := c.conn.Name()
	cfg := c.deps.Config

	if cfg.IsBlacklisted(name, symbol) {
		return Outcome{Symbol: symbol, Result: ResultSkipped}
	}
	if universe.IsTestToken(universe.BaseOf(symbol)) {
		log.Debug().Str("exchange", name).Str("symbol", symbol).Msg("Skipping test token")
		return Outcome{Symbol: symbol, Result: ResultSkipped}
	}

	th := cfg.ResolveThreshold(name, symbol)
	policy := c.conn.DepthPolicy()
	depth := policy.Clamp(th.Depth)

	book, attempts, err := c.fetch(ctx, symbol, depth)
	if err != nil {
		return Outcome{Symbol: symbol, Result: ResultFailed, Depth: depth, Attempts: attempts, Err: err}
	}

	// A book that was cut at the requested depth while still inside the band
	// under-reports volume, so try once with the next accepted depth.
	if depth < th.Depth && truncated(book, depth) && !density.BandCovered(book, th.DistancePct) {
		if next, ok := policy.Next(depth); ok {
			c.deps.Metrics.RecordDepthEscalation(name)
			deeper, n, err := c.fetch(ctx, symbol, next)
			attempts += n
			if err == nil {
				book, depth = deeper, next
			} else {
				log.Warn().Err(err).
					Str("exchange", name).
					Str("symbol", symbol).
					Int("depth", next).
					Msg("Depth escalation failed, using shallow book")
			}
		}
	}

	events, err := c.process(ctx, book, th)
	if err != nil {
		return Outcome{Symbol: symbol, Result: ResultFailed, Depth: depth, Attempts: attempts, Err: err}
	}
	return Outcome{Symbol: symbol, Result: ResultOK, Depth: depth, Attempts: attempts, Events: events}
}

func truncated(book *venue.OrderBook, depth int) bool {
	return len(book.Bids) >= depth || len(book.Asks) >= depth
}

func (c *Coordinator) fetch(ctx context.Context, symbol string, depth int) (*venue.OrderBook, int, error) {
	name := c.conn.Name()
	op := func(ctx context.Context) (*venue.OrderBook, error) {
		return c.conn.FetchOrderBook(ctx, symbol, depth)
	}
	notify := func(attempt int, err error, wait time.Duration) {
		c.deps.Metrics.RecordRetry(name)
		log.Debug().Err(err).
			Str("exchange", name).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Retrying order book fetch")
	}

	book, attempts, err := retry.Do(ctx, c.deps.Retry, op, notify)
	if err != nil {
		return nil, attempts, fmt.Errorf("fetch %s %s depth %d: %w", name, symbol, depth, err)
	}
	if book == nil {
		return nil, attempts, fmt.Errorf("fetch %s %s: empty response: %w", name, symbol, venue.ErrMalformed)
	}
	return book, attempts, nil
}

// Process runs a book received outside the scan loop, e.g. from a stream,
// through the same calculator and engine path as a scan.
func (c *Coordinator) Process(ctx context.Context, book *venue.OrderBook) ([]density.Event, error) {
	th := c.deps.Config.ResolveThreshold(c.conn.Name(), book.Symbol)
	return c.process(ctx, book, th)
}

func (c *Coordinator) process(ctx context.Context, book *venue.OrderBook, th config.Threshold) ([]density.Event, error) {
	if book.Exchange == "" {
		book.Exchange = c.conn.Name()
	}
	contractSize, err := c.deps.Cache.ContractSize(ctx, c.conn.Name(), book.Symbol)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("contract size %s %s: %w", c.conn.Name(), book.Symbol, err)
	}

	events := density.Compute(book, th, contractSize, c.conn.MarketType(), c.deps.now())
	for _, ev := range events {
		c.deps.Engine.Observe(ev)
	}
	return events, nil
}
