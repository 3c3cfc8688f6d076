package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/universe"
	"github.com/sawpanic/densityrun/internal/venue"
)

// StreamOptions bounds the push-mode watchers of one exchange
type StreamOptions struct {
	MaxSymbols     int
	ReconnectDelay time.Duration
	MaxReconnects  int
}

// StreamOptionsFromConfig converts the stream section of the config
func StreamOptionsFromConfig(c config.StreamConfig) StreamOptions {
	return StreamOptions{
		MaxSymbols:     c.MaxPerExchange,
		ReconnectDelay: time.Duration(c.ReconnectDelaySecs) * time.Second,
		MaxReconnects:  c.MaxReconnects,
	}
}

// Watcher streams order books for the priority symbols of one exchange and
// feeds them through the coordinator's density path
type Watcher struct {
	coord    *Coordinator
	streamer venue.Streamer
	opts     StreamOptions
}

// NewWatcher returns a watcher for c, or false when its connector cannot stream
func NewWatcher(c *Coordinator, opts StreamOptions) (*Watcher, bool) {
	s, ok := c.conn.(venue.Streamer)
	if !ok {
		return nil, false
	}
	return &Watcher{coord: c, streamer: s, opts: opts}, true
}

// Symbols returns the symbols the watcher subscribes to
func (w *Watcher) Symbols(ctx context.Context) ([]string, error) {
	all, err := w.coord.deps.Cache.Symbols(ctx, w.coord.Exchange())
	if err != nil {
		return nil, err
	}
	priority, _ := universe.PartitionPriority(all, w.coord.deps.Config.PriorityTickers)

	var out []string
	for _, s := range priority {
		if w.coord.deps.Config.IsBlacklisted(w.coord.Exchange(), s) {
			continue
		}
		if w.opts.MaxSymbols > 0 && len(out) >= w.opts.MaxSymbols {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

// Run watches every priority symbol until ctx is done or each stream gave up
func (w *Watcher) Run(ctx context.Context) error {
	symbols, err := w.Symbols(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("exchange", w.coord.Exchange()).
		Int("symbols", len(symbols)).
		Msg("Starting order book streams")

	var wg sync.WaitGroup
	for _, s := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			w.watch(ctx, symbol)
		}(s)
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Watcher) watch(ctx context.Context, symbol string) {
	name := w.coord.Exchange()
	th := w.coord.deps.Config.ResolveThreshold(name, symbol)
	depth := w.coord.conn.DepthPolicy().Clamp(th.Depth)

	var reconnects atomic.Int32
	handle := func(book *venue.OrderBook) {
		reconnects.Store(0)
		if book.Symbol == "" {
			book.Symbol = symbol
		}
		if _, err := w.coord.Process(ctx, book); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("exchange", name).Str("symbol", symbol).Msg("Failed to process streamed book")
		}
	}

	for {
		err := w.streamer.Stream(ctx, symbol, depth, handle)
		if ctx.Err() != nil {
			return
		}

		n := int(reconnects.Add(1))
		if n > w.opts.MaxReconnects {
			log.Error().Err(err).
				Str("exchange", name).
				Str("symbol", symbol).
				Int("reconnects", n-1).
				Msg("Giving up on order book stream")
			return
		}
		w.coord.deps.Metrics.RecordReconnect(name)
		log.Warn().Err(err).
			Str("exchange", name).
			Str("symbol", symbol).
			Int("attempt", n).
			Dur("delay", w.opts.ReconnectDelay).
			Msg("Order book stream disconnected, reconnecting")

		timer := time.NewTimer(w.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
