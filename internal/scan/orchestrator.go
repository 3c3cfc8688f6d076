package scan

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/metrics"
)

// CycleSummary is the result of one global scan cycle
type CycleSummary struct {
	Reports  []CycleReport `json:"reports"`
	Expired  int           `json:"expired"`
	Duration time.Duration `json:"duration"`
}

// Totals sums the per-exchange reports
func (s CycleSummary) Totals() CycleReport {
	var t CycleReport
	for _, r := range s.Reports {
		t.Scanned += r.Scanned
		t.Succeeded += r.Succeeded
		t.Failed += r.Failed
		t.Skipped += r.Skipped
		t.Events += r.Events
	}
	t.Duration = s.Duration
	return t
}

// Orchestrator runs every coordinator concurrently once per cycle and ends
// the cycle on the alert engine
type Orchestrator struct {
	coordinators []*Coordinator
	engine       *alert.Engine
	metrics      *metrics.Registry
	interval     time.Duration
}

// NewOrchestrator creates an orchestrator that waits interval between cycles
func NewOrchestrator(coordinators []*Coordinator, engine *alert.Engine, interval time.Duration, m *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		coordinators: coordinators,
		engine:       engine,
		metrics:      m,
		interval:     interval,
	}
}

// RunOnce runs a single cycle. A panic in one exchange is contained and
// reported as that exchange's error. Miss cleanup is skipped when ctx was
// cancelled mid-cycle.
func (o *Orchestrator) RunOnce(ctx context.Context) CycleSummary {
	timer := o.metrics.StartCycle()
	reports := make([]CycleReport, len(o.coordinators))

	var wg sync.WaitGroup
	for i, c := range o.coordinators {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("exchange", c.Exchange()).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("Exchange scan panicked")
					reports[i] = CycleReport{Exchange: c.Exchange(), Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			reports[i] = c.Scan(ctx)
		}(i, c)
	}
	wg.Wait()

	summary := CycleSummary{Reports: reports}
	if ctx.Err() == nil {
		summary.Expired = o.engine.EndCycle()
	}
	summary.Duration = timer.Stop()

	totals := summary.Totals()
	log.Info().
		Int("exchanges", len(reports)).
		Int("scanned", totals.Scanned).
		Int("failed", totals.Failed).
		Int("densities", totals.Events).
		Int("expired", summary.Expired).
		Int("tracked", o.engine.Len()).
		Dur("duration", summary.Duration).
		Msg("Scan cycle complete")
	return summary
}

// Run executes cycles until ctx is cancelled. The next cycle starts interval
// after the previous one ended.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().
		Int("exchanges", len(o.coordinators)).
		Dur("interval", o.interval).
		Msg("Starting scan loop")

	for {
		o.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Scan loop stopped")
			return nil
		}

		timer := time.NewTimer(o.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scan loop stopped")
			return nil
		case <-timer.C:
		}
	}
}
