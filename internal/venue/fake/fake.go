// Package fake provides an in-memory connector with scripted books and
// failures for tests, and seeded synthetic books for dry runs.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/venue"
)

// Connector implements venue.Connector and venue.Streamer without any network
type Connector struct {
	name       string
	marketType venue.MarketType
	policy     venue.DepthPolicy

	mu          sync.Mutex
	markets     map[string]venue.Market
	marketsErr  error
	books       map[string]*venue.OrderBook
	errs        map[string][]error
	streams     map[string][]*venue.OrderBook
	calls       map[string]int
	depths      map[string][]int
	marketLoads int
	delay       time.Duration

	rng        *rand.Rand // nil unless synthetic
	basePrices map[string]float64
}

// New creates an empty fake connector
func New(name string, marketType venue.MarketType) *Connector {
	return &Connector{
		name:       name,
		marketType: marketType,
		markets:    make(map[string]venue.Market),
		books:      make(map[string]*venue.OrderBook),
		errs:       make(map[string][]error),
		streams:    make(map[string][]*venue.OrderBook),
		calls:      make(map[string]int),
		depths:     make(map[string][]int),
	}
}

// NewDeterministic creates a connector whose books are generated from a seed
// derived from name, so repeated runs see the same sequence.
func NewDeterministic(name string) *Connector {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	seed := int64(h.Sum64())

	c := New(name, venue.Spot)
	c.rng = rand.New(rand.NewSource(seed))
	c.basePrices = map[string]float64{
		"BTC": 65000, "ETH": 3200, "SOL": 150, "XRP": 0.6, "DOGE": 0.15,
		"LINK": 15, "ADA": 0.45, "AVAX": 35, "DOT": 7, "PEPE": 0.00001,
	}
	for base := range c.basePrices {
		sym := venue.Symbol(base, "USDT", "")
		c.markets[sym] = venue.Market{Symbol: sym, ID: base + "USDT", Base: base, Quote: "USDT", ContractSize: 1, Type: venue.Spot}
	}

	log.Info().Str("exchange", name).Int64("seed", seed).Msg("Created deterministic fake connector")
	return c
}

func (c *Connector) Name() string                 { return c.name }
func (c *Connector) MarketType() venue.MarketType { return c.marketType }

func (c *Connector) DepthPolicy() venue.DepthPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetDepthPolicy restricts the depths FetchOrderBook accepts
func (c *Connector) SetDepthPolicy(p venue.DepthPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// SetMarket adds or replaces a market
func (c *Connector) SetMarket(m venue.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.Symbol] = m
}

// SetMarketsError makes LoadMarkets fail with err until cleared with nil
func (c *Connector) SetMarketsError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketsErr = err
}

// SetBook sets the book returned for symbol
func (c *Connector) SetBook(symbol string, bids, asks []venue.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[symbol] = &venue.OrderBook{Exchange: c.name, Symbol: symbol, Bids: bids, Asks: asks}
}

// FailNext queues errors returned by the next fetches of symbol, in order
func (c *Connector) FailNext(symbol string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[symbol] = append(c.errs[symbol], errs...)
}

// SetDelay makes every fetch block for d or until its context is done
func (c *Connector) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// PushStream queues books that Stream delivers for symbol
func (c *Connector) PushStream(symbol string, books ...*venue.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[symbol] = append(c.streams[symbol], books...)
}

// Calls returns how many fetches were made for symbol
func (c *Connector) Calls(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[symbol]
}

// Depths returns the depths requested for symbol, in call order
func (c *Connector) Depths(symbol string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.depths[symbol]...)
}

// MarketLoads returns how many times LoadMarkets ran
func (c *Connector) MarketLoads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marketLoads
}

// LoadMarkets returns a copy of the configured markets
func (c *Connector) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.marketLoads++
	if c.marketsErr != nil {
		return nil, c.marketsErr
	}
	out := make(map[string]venue.Market, len(c.markets))
	for k, v := range c.markets {
		out[k] = v
	}
	return out, nil
}

// FetchOrderBook returns the scripted book for symbol truncated to depth
func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	c.mu.Lock()
	c.calls[symbol]++
	c.depths[symbol] = append(c.depths[symbol], depth)
	delay := c.delay

	if !c.policy.Valid(depth) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s depth %d: %w", c.name, depth, venue.ErrInvalidDepth)
	}
	if queued := c.errs[symbol]; len(queued) > 0 {
		err := queued[0]
		c.errs[symbol] = queued[1:]
		c.mu.Unlock()
		return nil, err
	}

	var book *venue.OrderBook
	if b, ok := c.books[symbol]; ok {
		book = truncate(b, depth)
	} else if m, ok := c.markets[symbol]; ok && c.rng != nil {
		book = c.generate(m, depth)
	}
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if book == nil {
		return nil, fmt.Errorf("%s %s: %w", c.name, symbol, venue.ErrSymbolNotFound)
	}
	book.FetchedAt = time.Now()
	return book, nil
}

// Stream delivers queued books for symbol, then blocks until ctx is done
func (c *Connector) Stream(ctx context.Context, symbol string, depth int, fn func(*venue.OrderBook)) error {
	c.mu.Lock()
	queued := c.streams[symbol]
	c.streams[symbol] = nil
	c.mu.Unlock()

	for _, b := range queued {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(truncate(b, depth))
	}
	<-ctx.Done()
	return ctx.Err()
}

func truncate(b *venue.OrderBook, depth int) *venue.OrderBook {
	cut := func(levels []venue.Level) []venue.Level {
		if depth > 0 && len(levels) > depth {
			levels = levels[:depth]
		}
		return append([]venue.Level(nil), levels...)
	}
	out := &venue.OrderBook{Exchange: b.Exchange, Symbol: b.Symbol, Bids: cut(b.Bids), Asks: cut(b.Asks), FetchedAt: b.FetchedAt}
	out.Normalize()
	return out
}

// generate builds a synthetic book with 0.05% tick spacing and an occasional
// liquidity wall. Caller holds c.mu.
func (c *Connector) generate(m venue.Market, depth int) *venue.OrderBook {
	if depth <= 0 || depth > 200 {
		depth = 200
	}
	mid := c.basePrices[m.Base] * (1 + (c.rng.Float64()-0.5)*0.002)
	tick := mid * 0.0005
	baseNotional := 20_000.0

	wallSide := c.rng.Intn(4) // 0 bid wall, 1 ask wall, otherwise none
	wallLevel := 5 + c.rng.Intn(10)

	book := &venue.OrderBook{Exchange: c.name, Symbol: m.Symbol}
	for i := 0; i < depth; i++ {
		bidPx := mid - tick*float64(i+1)
		askPx := mid + tick*float64(i+1)
		bidNotional := baseNotional * (0.5 + c.rng.Float64())
		askNotional := baseNotional * (0.5 + c.rng.Float64())
		if i == wallLevel && wallSide == 0 {
			bidNotional *= 150
		}
		if i == wallLevel && wallSide == 1 {
			askNotional *= 150
		}
		book.Bids = append(book.Bids, venue.Level{Price: bidPx, Amount: bidNotional / bidPx})
		book.Asks = append(book.Asks, venue.Level{Price: askPx, Amount: askNotional / askPx})
	}
	return book
}
