package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/net/client"
	"github.com/sawpanic/densityrun/internal/venue"
)

// Spot fetches KuCoin spot order books
type Spot struct {
	baseURL string
	http    *client.Client
}

// NewSpot creates a KuCoin spot connector
func NewSpot(baseURL string, c *client.Client) *Spot {
	return &Spot{baseURL: baseURL, http: c}
}

func (s *Spot) Name() string                   { return "kucoin_spot" }
func (s *Spot) MarketType() venue.MarketType   { return venue.Spot }
func (s *Spot) DepthPolicy() venue.DepthPolicy { return depthPolicy }

type spotSymbol struct {
	Symbol        string `json:"symbol"`
	BaseCurrency  string `json:"baseCurrency"`
	QuoteCurrency string `json:"quoteCurrency"`
	EnableTrading bool   `json:"enableTrading"`
}

// LoadMarkets lists tradable spot pairs
func (s *Spot) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	var env envelope
	if err := s.http.GetJSON(ctx, s.baseURL+"/api/v2/symbols", &env); err != nil {
		return nil, fmt.Errorf("failed to load kucoin spot symbols: %w", err)
	}
	if err := env.err(s.Name(), "symbols"); err != nil {
		return nil, err
	}

	var symbols []spotSymbol
	if err := json.Unmarshal(env.Data, &symbols); err != nil {
		return nil, fmt.Errorf("kucoin spot symbols: %v: %w", err, venue.ErrMalformed)
	}

	markets := make(map[string]venue.Market, len(symbols))
	for _, sym := range symbols {
		if !sym.EnableTrading {
			continue
		}
		unified := venue.Symbol(sym.BaseCurrency, sym.QuoteCurrency, "")
		markets[unified] = venue.Market{
			Symbol:       unified,
			ID:           sym.Symbol,
			Base:         sym.BaseCurrency,
			Quote:        sym.QuoteCurrency,
			ContractSize: 1,
			Type:         venue.Spot,
		}
	}

	log.Debug().Str("exchange", s.Name()).Int("markets", len(markets)).Msg("Loaded markets")
	return markets, nil
}

// FetchOrderBook fetches the aggregated level-2 book at depth 20 or 100
func (s *Spot) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	if !depthPolicy.Valid(depth) {
		return nil, fmt.Errorf("kucoin spot depth %d: %w", depth, venue.ErrInvalidDepth)
	}
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("kucoin spot %q: %w", symbol, venue.ErrSymbolNotFound)
	}

	endpoint := fmt.Sprintf("%s/api/v1/market/orderbook/level2_%d?symbol=%s", s.baseURL, depth, url.QueryEscape(base+"-"+quote))

	var env envelope
	if err := s.http.GetJSON(ctx, endpoint, &env); err != nil {
		return nil, err
	}
	if err := env.err(s.Name(), symbol); err != nil {
		return nil, err
	}

	var data bookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("kucoin spot %s book: %v: %w", symbol, err, venue.ErrMalformed)
	}
	bids, asks, err := data.levels()
	if err != nil {
		return nil, fmt.Errorf("kucoin spot %s: %w", symbol, err)
	}

	book := &venue.OrderBook{Exchange: s.Name(), Symbol: symbol, Bids: bids, Asks: asks, FetchedAt: time.Now()}
	book.Normalize()
	return book, nil
}
