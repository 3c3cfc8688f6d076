package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/sawpanic/densityrun/internal/universe"
	"github.com/sawpanic/densityrun/internal/venue"
)

// CycleReport summarises one exchange scan
type CycleReport struct {
	Exchange  string        `json:"exchange"`
	Scanned   int           `json:"scanned"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Events    int           `json:"events"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Coordinator scans every symbol of one exchange with bounded concurrency
type Coordinator struct {
	conn      venue.Connector
	deps      Deps
	sem       *semaphore.Weighted
	permits   int
	threshold int64

	failures atomic.Int64 // Consecutive symbol failures across cycles
}

// NewCoordinator creates the coordinator for conn
func NewCoordinator(conn venue.Connector, deps Deps) *Coordinator {
	permits := deps.Config.Concurrency(conn.Name())
	if permits < 1 {
		permits = 1
	}
	threshold := int64(deps.Config.Scan.FailureThreshold)
	if threshold < 1 {
		threshold = 10
	}
	return &Coordinator{
		conn:      conn,
		deps:      deps,
		sem:       semaphore.NewWeighted(int64(permits)),
		permits:   permits,
		threshold: threshold,
	}
}

// Exchange returns the exchange name
func (c *Coordinator) Exchange() string { return c.conn.Name() }

// Connector returns the underlying connector
func (c *Coordinator) Connector() venue.Connector { return c.conn }

// ConsecutiveFailures returns the current failure streak
func (c *Coordinator) ConsecutiveFailures() int64 { return c.failures.Load() }

// recordFailure extends the failure streak and invalidates the market cache
// when it reaches the threshold.
func (c *Coordinator) recordFailure() {
	n := c.failures.Add(1)
	if n >= c.threshold && c.failures.CompareAndSwap(n, 0) {
		log.Warn().
			Str("exchange", c.conn.Name()).
			Int64("consecutive_failures", n).
			Msg("Failure threshold reached, invalidating market cache")
		c.deps.Cache.Invalidate(c.conn.Name())
	}
}

// safeScan turns a panic inside one symbol scan into a failed outcome
func (c *Coordinator) safeScan(ctx context.Context, symbol string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("exchange", c.conn.Name()).
				Str("symbol", symbol).
				Interface("panic", r).
				Msg("Symbol scan panicked")
			out = Outcome{Symbol: symbol, Result: ResultFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.ScanSymbol(ctx, symbol)
}

// Scan runs one pass over the exchange universe. Priority symbols are started
// first; every symbol succeeds or fails independently.
func (c *Coordinator) Scan(ctx context.Context) CycleReport {
	name := c.conn.Name()
	timer := c.deps.Metrics.StartExchange(name)
	report := CycleReport{Exchange: name}

	symbols, err := c.deps.Cache.Symbols(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			c.recordFailure()
		}
		log.Error().Err(err).Str("exchange", name).Msg("Failed to load symbols")
		report.Err = err
		report.Duration = timer.Stop()
		return report
	}

	priority, rest := universe.PartitionPriority(symbols, c.deps.Config.PriorityTickers)
	ordered := append(priority, rest...)
	if c.deps.Progress != nil {
		c.deps.Progress.Add(len(ordered))
	}

	var (
		wg                                 sync.WaitGroup
		succeeded, failed, skipped, events atomic.Int64
	)

	for _, symbol := range ordered {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			break
		}
		report.Scanned++

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer c.sem.Release(1)

			out := c.safeScan(ctx, symbol)
			c.deps.Metrics.RecordSymbolScan(name, string(out.Result))
			if c.deps.Progress != nil {
				c.deps.Progress.Increment(name + " " + symbol)
			}

			switch out.Result {
			case ResultOK:
				succeeded.Add(1)
				events.Add(int64(len(out.Events)))
				c.failures.Store(0)
			case ResultSkipped:
				skipped.Add(1)
			case ResultFailed:
				failed.Add(1)
				if ctx.Err() != nil && errors.Is(out.Err, ctx.Err()) {
					return
				}
				c.recordFailure()
				log.Warn().Err(out.Err).
					Str("exchange", name).
					Str("symbol", symbol).
					Int("attempts", out.Attempts).
					Msg("Symbol scan failed")
			}
		}(symbol)
	}
	wg.Wait()

	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())
	report.Events = int(events.Load())
	report.Duration = timer.Stop()

	log.Info().
		Str("exchange", name).
		Int("scanned", report.Scanned).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("densities", report.Events).
		Dur("duration", report.Duration).
		Msg("Exchange scan complete")
	return report
}
