// Package notify delivers accepted alerts to external sinks.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/metrics"
)

// Sink receives alerts
type Sink interface {
	Name() string
	Send(ctx context.Context, a alert.Alert) error
}

// Dispatcher fans alerts out to every sink
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Registry
}

// NewDispatcher creates a dispatcher that bounds each send by timeout
func NewDispatcher(sinks []Sink, timeout time.Duration, m *metrics.Registry) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, metrics: m}
}

// Sinks returns the configured sink names
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Run delivers alerts from in until it is closed or ctx is done
func (d *Dispatcher) Run(ctx context.Context, in <-chan alert.Alert) error {
	log.Info().Strs("sinks", d.Sinks()).Msg("Alert dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-in:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, a)
		}
	}
}

// Dispatch sends one alert to every sink concurrently. Sink errors are logged
// and counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, a alert.Alert) {
	var wg sync.WaitGroup
	for _, s := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := s.Send(sendCtx, a); err != nil {
				d.metrics.RecordNotifyError(s.Name())
				log.Error().Err(err).
					Str("sink", s.Name()).
					Str("exchange", a.Exchange).
					Str("symbol", a.Symbol).
					Str("alert_id", a.ID.String()).
					Msg("Failed to deliver alert")
			}
		}(s)
	}
	wg.Wait()
}

// LogSink writes alerts to the structured log
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, a alert.Alert) error {
	log.Info().
		Str("alert_id", a.ID.String()).
		Str("kind", string(a.Kind)).
		Str("exchange", a.Exchange).
		Str("symbol", a.Symbol).
		Str("side", string(a.Side)).
		Str("size", FormatSize(a.Size)).
		Str("price", FormatPrice(a.Price)).
		Float64("distance_pct", a.DistancePct).
		Str("lifetime", FormatLifetime(a.Lifetime())).
		Msg("Density alert")
	return nil
}
