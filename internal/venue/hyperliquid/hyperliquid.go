// Package hyperliquid implements the Hyperliquid perpetuals connector: REST
// snapshots through the /info endpoint and pushed l2Book updates over
// websocket.
package hyperliquid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/net/client"
	"github.com/sawpanic/densityrun/internal/venue"
)

// The public API returns at most 20 levels per side.
const maxDepth = 20

// Perps are settled in USDC.
const quote = "USDC"

// Connector fetches Hyperliquid perpetual order books
type Connector struct {
	baseURL string
	wsURL   string
	http    *client.Client

	pingInterval time.Duration
	readTimeout  time.Duration
}

// New creates a Hyperliquid connector
func New(baseURL, wsURL string, c *client.Client) *Connector {
	return &Connector{
		baseURL:      baseURL,
		wsURL:        wsURL,
		http:         c,
		pingInterval: pingInterval,
		readTimeout:  pingInterval + 15*time.Second,
	}
}

func (c *Connector) Name() string                   { return "hyperliquid" }
func (c *Connector) MarketType() venue.MarketType   { return venue.Perp }
func (c *Connector) DepthPolicy() venue.DepthPolicy { return venue.DepthPolicy{Max: maxDepth} }

type metaResponse struct {
	Universe []struct {
		Name       string `json:"name"`
		IsDelisted bool   `json:"isDelisted"`
	} `json:"universe"`
}

// LoadMarkets lists listed perpetuals. Sizes are in coins, so contract size is 1.
func (c *Connector) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	var meta metaResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/info", map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, fmt.Errorf("failed to load hyperliquid meta: %w", err)
	}

	markets := make(map[string]venue.Market, len(meta.Universe))
	for _, asset := range meta.Universe {
		if asset.IsDelisted || asset.Name == "" {
			continue
		}
		unified := venue.Symbol(asset.Name, quote, quote)
		markets[unified] = venue.Market{
			Symbol:       unified,
			ID:           asset.Name,
			Base:         asset.Name,
			Quote:        quote,
			Contract:     true,
			ContractSize: 1,
			Type:         venue.Perp,
		}
	}

	log.Debug().Str("exchange", c.Name()).Int("markets", len(markets)).Msg("Loaded markets")
	return markets, nil
}

// level is a Hyperliquid book entry: price, size and order count.
type level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2Book struct {
	Coin   string     `json:"coin"`
	Time   int64      `json:"time"`
	Levels [2][]level `json:"levels"`
}

func (b *l2Book) toOrderBook(exchange, symbol string, depth int) (*venue.OrderBook, error) {
	convert := func(in []level) ([]venue.Level, error) {
		if depth > 0 && len(in) > depth {
			in = in[:depth]
		}
		out := make([]venue.Level, 0, len(in))
		for i, l := range in {
			price, err := strconv.ParseFloat(l.Px, 64)
			if err != nil {
				return nil, fmt.Errorf("level %d price %q: %w", i, l.Px, venue.ErrMalformed)
			}
			size, err := strconv.ParseFloat(l.Sz, 64)
			if err != nil {
				return nil, fmt.Errorf("level %d size %q: %w", i, l.Sz, venue.ErrMalformed)
			}
			out = append(out, venue.Level{Price: price, Amount: size})
		}
		return out, nil
	}

	bids, err := convert(b.Levels[0])
	if err != nil {
		return nil, fmt.Errorf("%s %s bids: %w", exchange, symbol, err)
	}
	asks, err := convert(b.Levels[1])
	if err != nil {
		return nil, fmt.Errorf("%s %s asks: %w", exchange, symbol, err)
	}

	fetched := time.Now()
	if b.Time > 0 {
		fetched = time.UnixMilli(b.Time)
	}
	book := &venue.OrderBook{Exchange: exchange, Symbol: symbol, Bids: bids, Asks: asks, FetchedAt: fetched}
	book.Normalize()
	return book, nil
}

// coinOf maps BTC/USDC:USDC to the Hyperliquid coin name.
func coinOf(symbol string) string {
	pair, _, _ := strings.Cut(symbol, ":")
	coin, _, _ := strings.Cut(pair, "/")
	return coin
}

// FetchOrderBook fetches an l2Book snapshot truncated to depth levels
func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	if depth < 1 || depth > maxDepth {
		return nil, fmt.Errorf("hyperliquid depth %d: %w", depth, venue.ErrInvalidDepth)
	}
	coin := coinOf(symbol)
	if coin == "" {
		return nil, fmt.Errorf("hyperliquid %q: %w", symbol, venue.ErrSymbolNotFound)
	}

	var book *l2Book
	req := map[string]string{"type": "l2Book", "coin": coin}
	if err := c.http.PostJSON(ctx, c.baseURL+"/info", req, &book); err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("hyperliquid %s: %w", symbol, venue.ErrSymbolNotFound)
	}
	return book.toOrderBook(c.Name(), symbol, depth)
}
