// Package bingx implements the BingX USDT-margined perpetual swap connector.
package bingx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/net/client"
	"github.com/sawpanic/densityrun/internal/venue"
)

var depthPolicy = venue.DepthPolicy{Accepted: []int{5, 10, 20, 50, 100, 500, 1000}}

// Connector fetches BingX perpetual swap order books
type Connector struct {
	baseURL string
	http    *client.Client
}

// New creates a BingX connector
func New(baseURL string, c *client.Client) *Connector {
	return &Connector{baseURL: baseURL, http: c}
}

func (c *Connector) Name() string                   { return "bingx" }
func (c *Connector) MarketType() venue.MarketType   { return venue.Perp }
func (c *Connector) DepthPolicy() venue.DepthPolicy { return depthPolicy }

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *envelope) err(symbol string) error {
	switch e.Code {
	case 0:
		if len(e.Data) == 0 || string(e.Data) == "null" {
			return fmt.Errorf("bingx %s: empty data: %w", symbol, venue.ErrSymbolNotFound)
		}
		return nil
	case 100410:
		return fmt.Errorf("bingx %s: %s: %w", symbol, e.Msg, venue.ErrRateLimited)
	case 109400, 80014:
		return fmt.Errorf("bingx %s: %s: %w", symbol, e.Msg, venue.ErrSymbolNotFound)
	case 100500, 100503:
		return fmt.Errorf("bingx %s: %s: %w", symbol, e.Msg, venue.ErrExchangeUnavailable)
	}
	return fmt.Errorf("bingx %s: code %d %s: %w", symbol, e.Code, e.Msg, venue.ErrMalformed)
}

type contract struct {
	Symbol   string `json:"symbol"`
	Asset    string `json:"asset"`
	Currency string `json:"currency"`
	Status   int    `json:"status"`
}

// LoadMarkets lists trading perpetual contracts. Depth quantities are quoted
// in coins, so contract size is 1.
func (c *Connector) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	var env envelope
	if err := c.http.GetJSON(ctx, c.baseURL+"/openApi/swap/v2/quote/contracts", &env); err != nil {
		return nil, fmt.Errorf("failed to load bingx contracts: %w", err)
	}
	if err := env.err("contracts"); err != nil {
		return nil, err
	}

	var contracts []contract
	if err := json.Unmarshal(env.Data, &contracts); err != nil {
		return nil, fmt.Errorf("bingx contracts: %v: %w", err, venue.ErrMalformed)
	}

	markets := make(map[string]venue.Market, len(contracts))
	for _, ct := range contracts {
		if ct.Status != 1 {
			continue
		}
		base, quote, ok := strings.Cut(ct.Symbol, "-")
		if !ok {
			continue
		}
		unified := venue.Symbol(base, quote, quote)
		markets[unified] = venue.Market{
			Symbol:       unified,
			ID:           ct.Symbol,
			Base:         base,
			Quote:        quote,
			Contract:     true,
			ContractSize: 1,
			Type:         venue.Perp,
		}
	}

	log.Debug().Str("exchange", c.Name()).Int("markets", len(markets)).Msg("Loaded markets")
	return markets, nil
}

type depthData struct {
	T    int64               `json:"T"`
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

// FetchOrderBook fetches a depth snapshot with one of the accepted limits
func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	if !depthPolicy.Valid(depth) {
		return nil, fmt.Errorf("bingx depth %d: %w", depth, venue.ErrInvalidDepth)
	}
	pair, _, _ := strings.Cut(symbol, ":")
	base, quote, ok := strings.Cut(pair, "/")
	if !ok {
		return nil, fmt.Errorf("bingx %q: %w", symbol, venue.ErrSymbolNotFound)
	}

	endpoint := fmt.Sprintf("%s/openApi/swap/v2/quote/depth?symbol=%s&limit=%d", c.baseURL, url.QueryEscape(base+"-"+quote), depth)

	var env envelope
	if err := c.http.GetJSON(ctx, endpoint, &env); err != nil {
		return nil, err
	}
	if err := env.err(symbol); err != nil {
		return nil, err
	}

	var data depthData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("bingx %s depth: %v: %w", symbol, err, venue.ErrMalformed)
	}
	bids, err := venue.ParseLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bingx %s bids: %w", symbol, err)
	}
	asks, err := venue.ParseLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("bingx %s asks: %w", symbol, err)
	}

	fetched := time.Now()
	if data.T > 0 {
		fetched = time.UnixMilli(data.T)
	}
	// Asks arrive highest first; Normalize restores walking order.
	book := &venue.OrderBook{Exchange: c.Name(), Symbol: symbol, Bids: bids, Asks: asks, FetchedAt: fetched}
	book.Normalize()
	return book, nil
}
