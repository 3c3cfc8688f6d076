// Package alert decides which detected densities become user-visible alerts.
// It tracks every density across scans, applies cooldown and anti-spam rules
// and publishes accepted alerts on a bounded queue.
package alert

import (
	"context"
	"fmt"
	"iter"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/density"
	"github.com/sawpanic/densityrun/internal/metrics"
)

// Options configures an Engine
type Options struct {
	Enabled          bool
	FirstSighting    string // config.FirstSightingAlert or config.FirstSightingBaseline
	Cooldown         time.Duration
	DuplicateSizePct float64 // Size change below this is a duplicate inside the cooldown
	SurgePct         float64 // Size increase at or above this alerts as SURGE
	PriceMovePct     float64 // Price move at or above this alerts as NEW
	MaxMisses        int     // Cycles a density may be absent before it is forgotten
	QueueSize        int
	MinLifetime      func(exchange string) time.Duration
	Metrics          *metrics.Registry
	Now              func() time.Time
}

// OptionsFromConfig builds engine options from the loaded configuration
func OptionsFromConfig(cfg *config.Config, m *metrics.Registry) Options {
	return Options{
		Enabled:          cfg.Alerts.Enabled,
		FirstSighting:    cfg.Alerts.FirstSighting,
		Cooldown:         cfg.Cooldown(),
		DuplicateSizePct: cfg.Alerts.DuplicateSizePct,
		SurgePct:         cfg.Alerts.SurgePct,
		PriceMovePct:     cfg.Alerts.PriceMovePct,
		MaxMisses:        cfg.Alerts.MaxMisses,
		QueueSize:        cfg.Alerts.QueueSize,
		MinLifetime:      cfg.MinLifetime,
		Metrics:          m,
	}
}

// Engine owns all density tracking state
type Engine struct {
	opts Options

	mu      sync.Mutex
	records map[Key]*Record
	cycle   uint64
	closed  bool
	out     chan Alert
}

// NewEngine creates an engine with a bounded outbound queue
func NewEngine(opts Options) (*Engine, error) {
	if opts.QueueSize <= 0 {
		return nil, fmt.Errorf("alert queue size must be positive, got %d", opts.QueueSize)
	}
	if opts.MaxMisses <= 0 {
		opts.MaxMisses = 3
	}
	if opts.FirstSighting == "" {
		opts.FirstSighting = config.FirstSightingAlert
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:    opts,
		records: make(map[Key]*Record),
		cycle:   1,
		out:     make(chan Alert, opts.QueueSize),
	}, nil
}

// Alerts returns the outbound queue. It is closed by Close.
func (e *Engine) Alerts() <-chan Alert {
	return e.out
}

// Seq returns a lazy sequence over the outbound queue that ends when ctx is
// done or the engine is closed
func (e *Engine) Seq(ctx context.Context) iter.Seq[Alert] {
	return func(yield func(Alert) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case a, ok := <-e.out:
				if !ok || !yield(a) {
					return
				}
			}
		}
	}
}

func pctChange(from, to float64) float64 {
	if from <= 0 {
		return math.Inf(1)
	}
	return (to - from) / from * 100
}

// Observe records a density event and decides whether it alerts
func (e *Engine) Observe(ev density.Event) Decision {
	now := ev.DetectedAt
	if now.IsZero() {
		now = e.opts.Now()
	}
	key := Key{Exchange: ev.Exchange, Symbol: ev.Symbol, Side: ev.Side}
	size, price := ev.CumulativeQuoteVolume, ev.WeightedAvgPrice

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Decision{Reason: ReasonClosed}
	}

	rec, exists := e.records[key]
	if !exists {
		rec = &Record{FirstSeenAt: now}
		e.records[key] = rec
	}
	rec.LastSeenAt = now
	rec.ConsecutiveMisses = 0
	rec.seenCycle = e.cycle
	rec.lastSize, rec.lastPrice = size, price

	lifetime := now.Sub(rec.FirstSeenAt)

	if !e.opts.Enabled {
		return e.suppress(ReasonDisabled)
	}
	if e.opts.MinLifetime != nil {
		if min := e.opts.MinLifetime(ev.Exchange); min > 0 && lifetime < min {
			return e.suppress(ReasonMinLifetime)
		}
	}

	var kind Kind
	if rec.LastAlertAt.IsZero() {
		if !exists && e.opts.FirstSighting == config.FirstSightingBaseline {
			return e.suppress(ReasonBaseline)
		}
		kind = KindNew
	} else {
		sizeDelta := pctChange(rec.LastAlertedSize, size)
		priceDelta := math.Abs(pctChange(rec.LastAlertedPrice, price))
		inCooldown := now.Sub(rec.LastAlertAt) < e.opts.Cooldown

		switch {
		case inCooldown && math.Abs(sizeDelta) < e.opts.DuplicateSizePct && priceDelta < e.opts.PriceMovePct:
			return e.suppress(ReasonDuplicate)
		case sizeDelta >= e.opts.SurgePct:
			kind = KindSurge
		case priceDelta >= e.opts.PriceMovePct:
			kind = KindNew
		case !inCooldown:
			kind = KindLifetimeUpdate
		default:
			return e.suppress(ReasonCooldown)
		}
	}

	a := Alert{
		ID:              uuid.New(),
		Exchange:        ev.Exchange,
		Symbol:          ev.Symbol,
		Side:            ev.Side,
		Price:           price,
		Size:            size,
		DistancePct:     ev.DistanceFromMidPct,
		MarketType:      ev.MarketType,
		LifetimeSeconds: lifetime.Seconds(),
		Kind:            kind,
		EmittedAt:       now,
	}

	select {
	case e.out <- a:
	default:
		e.opts.Metrics.RecordDropped()
		log.Warn().
			Str("exchange", ev.Exchange).
			Str("symbol", ev.Symbol).
			Str("side", string(ev.Side)).
			Str("kind", string(kind)).
			Msg("Alert queue full, dropping alert")
		return Decision{Kind: kind, Reason: ReasonQueueFull}
	}

	rec.LastAlertAt = now
	rec.LastAlertedSize = size
	rec.LastAlertedPrice = price
	e.opts.Metrics.RecordAlert(ev.Exchange, string(kind))

	log.Info().
		Str("exchange", ev.Exchange).
		Str("symbol", ev.Symbol).
		Str("side", string(ev.Side)).
		Str("kind", string(kind)).
		Float64("size", size).
		Float64("price", price).
		Dur("lifetime", lifetime).
		Msg("Density alert")
	return Decision{Emitted: true, Kind: kind}
}

func (e *Engine) suppress(reason string) Decision {
	e.opts.Metrics.RecordSuppressed(reason)
	return Decision{Reason: reason}
}

// EndCycle closes a scan cycle: densities not seen during it gain a miss and
// are forgotten after MaxMisses consecutive misses. It returns how many were
// removed.
func (e *Engine) EndCycle() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for key, rec := range e.records {
		if rec.seenCycle == e.cycle {
			continue
		}
		rec.ConsecutiveMisses++
		if rec.ConsecutiveMisses >= e.opts.MaxMisses {
			delete(e.records, key)
			removed++
		}
	}
	e.cycle++
	e.opts.Metrics.SetTracked(len(e.records))

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("tracked", len(e.records)).Msg("Expired densities")
	}
	return removed
}

// Len returns the number of tracked densities
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// Snapshot returns every tracked density ordered by exchange, symbol and side
func (e *Engine) Snapshot() []Tracked {
	now := e.opts.Now()

	e.mu.Lock()
	out := make([]Tracked, 0, len(e.records))
	for key, rec := range e.records {
		out = append(out, Tracked{
			Key:             key,
			Record:          *rec,
			LastSize:        rec.lastSize,
			LastPrice:       rec.lastPrice,
			LifetimeSeconds: now.Sub(rec.FirstSeenAt).Seconds(),
		})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// Close stops accepting events and closes the outbound queue
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.out)
	}
}
