// Package market caches per-exchange instrument metadata: the scanned symbol
// universe and contract sizes.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/sawpanic/densityrun/internal/metrics"
	"github.com/sawpanic/densityrun/internal/universe"
	"github.com/sawpanic/densityrun/internal/venue"
)

// Options configures a Cache
type Options struct {
	TTL             time.Duration
	QuoteCurrencies []string
	ContractEntries int // Bound on the derived contract-size cache
	Metrics         *metrics.Registry
	Now             func() time.Time
}

type entry struct {
	markets   map[string]venue.Market
	symbols   []string
	fetchedAt time.Time
}

// Cache holds one metadata entry per exchange. A read of an entry older than
// the TTL refreshes it synchronously; concurrent readers share one refresh.
type Cache struct {
	connectors map[string]venue.Connector
	ttl        time.Duration
	quotes     []string
	metrics    *metrics.Registry
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	sizes   *lru.Cache[string, float64]
}

// New creates a cache over the given connectors
func New(connectors []venue.Connector, opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = 300 * time.Second
	}
	if opts.ContractEntries <= 0 {
		opts.ContractEntries = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sizes, err := lru.New[string, float64](opts.ContractEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create contract size cache: %w", err)
	}

	byName := make(map[string]venue.Connector, len(connectors))
	for _, c := range connectors {
		byName[c.Name()] = c
	}

	return &Cache{
		connectors: byName,
		ttl:        opts.TTL,
		quotes:     opts.QuoteCurrencies,
		metrics:    opts.Metrics,
		now:        opts.Now,
		entries:    make(map[string]*entry),
		sizes:      sizes,
	}, nil
}

func (c *Cache) fresh(exchange string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.entries[exchange]
	if e != nil && c.now().Sub(e.fetchedAt) < c.ttl {
		return e
	}
	return nil
}

// load returns a fresh entry, refreshing through singleflight when stale
func (c *Cache) load(ctx context.Context, exchange string) (*entry, error) {
	if e := c.fresh(exchange); e != nil {
		return e, nil
	}

	conn, ok := c.connectors[exchange]
	if !ok {
		return nil, fmt.Errorf("no connector for exchange %q", exchange)
	}

	v, err, _ := c.group.Do(exchange, func() (interface{}, error) {
		// Another flight may have finished between the check and Do.
		if e := c.fresh(exchange); e != nil {
			return e, nil
		}

		// A cancelled caller must not fail the readers sharing this flight.
		markets, err := conn.LoadMarkets(context.WithoutCancel(ctx))
		c.metrics.RecordCacheRefresh(exchange, err)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s markets: %w", exchange, err)
		}

		symbols := make([]string, 0, len(markets))
		for sym := range markets {
			symbols = append(symbols, sym)
		}
		if len(c.quotes) > 0 {
			symbols = universe.FilterQuotes(symbols, c.quotes)
		} else {
			sort.Strings(symbols)
		}

		e := &entry{markets: markets, symbols: symbols, fetchedAt: c.now()}
		c.mu.Lock()
		c.entries[exchange] = e
		c.purgeSizes(exchange)
		c.mu.Unlock()

		log.Info().
			Str("exchange", exchange).
			Int("markets", len(markets)).
			Int("symbols", len(symbols)).
			Msg("Market metadata refreshed")
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// Symbols returns the exchange's symbols quoted in a configured quote currency
func (c *Cache) Symbols(ctx context.Context, exchange string) ([]string, error) {
	e, err := c.load(ctx, exchange)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.symbols...), nil
}

// Market returns the metadata for one symbol
func (c *Cache) Market(ctx context.Context, exchange, symbol string) (venue.Market, bool, error) {
	e, err := c.load(ctx, exchange)
	if err != nil {
		return venue.Market{}, false, err
	}
	m, ok := e.markets[symbol]
	return m, ok, nil
}

// ContractSize returns the multiplier that converts book amounts into base
// units: 1.0 for spot markets, and for contracts the connector's size with
// missing or non-positive values defaulting to 1.0.
func (c *Cache) ContractSize(ctx context.Context, exchange, symbol string) (float64, error) {
	e, err := c.load(ctx, exchange)
	if err != nil {
		return 0, err
	}

	key := exchange + "|" + symbol
	if size, ok := c.sizes.Get(key); ok {
		return size, nil
	}

	size := 1.0
	m, ok := e.markets[symbol]
	switch {
	case !ok:
		log.Debug().Str("exchange", exchange).Str("symbol", symbol).Msg("No market metadata, using contract size 1")
	case !m.Contract:
	case m.ContractSize > 0:
		size = m.ContractSize
	default:
		log.Warn().
			Str("exchange", exchange).
			Str("symbol", symbol).
			Float64("contract_size", m.ContractSize).
			Msg("Invalid contract size, using 1")
	}

	c.storeSize(exchange, e, key, size)
	return size, nil
}

// storeSize caches a size derived from e unless e has since been replaced or
// invalidated. Purges run under the same lock, so a stale size cannot
// outlive them.
func (c *Cache) storeSize(exchange string, e *entry, key string, size float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entries[exchange] == e {
		c.sizes.Add(key, size)
	}
}

// Invalidate drops the exchange entry and its derived contract sizes
func (c *Cache) Invalidate(exchange string) {
	c.mu.Lock()
	delete(c.entries, exchange)
	c.purgeSizes(exchange)
	c.mu.Unlock()

	c.metrics.RecordCacheInvalidation(exchange)
	log.Warn().Str("exchange", exchange).Msg("Market cache invalidated")
}

// purgeSizes must be called with mu held for writing.
func (c *Cache) purgeSizes(exchange string) {
	prefix := exchange + "|"
	for _, key := range c.sizes.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.sizes.Remove(key)
		}
	}
}

// Stats describes one cached exchange entry
type Stats struct {
	Exchange  string    `json:"exchange"`
	Markets   int       `json:"markets"`
	Symbols   int       `json:"symbols"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

// Stats returns the state of every cached exchange, sorted by name
func (c *Cache) Stats() []Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Stats, 0, len(c.entries))
	for name, e := range c.entries {
		out = append(out, Stats{
			Exchange:  name,
			Markets:   len(e.markets),
			Symbols:   len(e.symbols),
			FetchedAt: e.fetchedAt,
			Stale:     c.now().Sub(e.fetchedAt) >= c.ttl,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// ContractEntries returns how many contract sizes are cached
func (c *Cache) ContractEntries() int {
	return c.sizes.Len()
}
