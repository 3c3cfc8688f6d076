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

// Futures fetches KuCoin USDT-margined perpetual order books
type Futures struct {
	baseURL string
	http    *client.Client
}

// NewFutures creates a KuCoin futures connector
func NewFutures(baseURL string, c *client.Client) *Futures {
	return &Futures{baseURL: baseURL, http: c}
}

func (f *Futures) Name() string                   { return "kucoin_futures" }
func (f *Futures) MarketType() venue.MarketType   { return venue.Perp }
func (f *Futures) DepthPolicy() venue.DepthPolicy { return depthPolicy }

type contract struct {
	Symbol         string  `json:"symbol"`
	BaseCurrency   string  `json:"baseCurrency"`
	QuoteCurrency  string  `json:"quoteCurrency"`
	SettleCurrency string  `json:"settleCurrency"`
	Multiplier     float64 `json:"multiplier"`
	LotSize        float64 `json:"lotSize"`
	IsInverse      bool    `json:"isInverse"`
	Status         string  `json:"status"`
	Type           string  `json:"type"`
}

// LoadMarkets lists open linear perpetual contracts. Contract size comes from
// the multiplier, falling back to the lot size.
func (f *Futures) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	var env envelope
	if err := f.http.GetJSON(ctx, f.baseURL+"/api/v1/contracts/active", &env); err != nil {
		return nil, fmt.Errorf("failed to load kucoin futures contracts: %w", err)
	}
	if err := env.err(f.Name(), "contracts"); err != nil {
		return nil, err
	}

	var contracts []contract
	if err := json.Unmarshal(env.Data, &contracts); err != nil {
		return nil, fmt.Errorf("kucoin futures contracts: %v: %w", err, venue.ErrMalformed)
	}

	markets := make(map[string]venue.Market, len(contracts))
	for _, c := range contracts {
		// FFWCSX is the perpetual swap type; inverse contracts quote in coin.
		if c.Status != "Open" || c.IsInverse || (c.Type != "" && c.Type != "FFWCSX") {
			continue
		}
		size := c.Multiplier
		if size <= 0 {
			size = c.LotSize
		}
		base := toUnifiedBase(c.BaseCurrency)
		unified := venue.Symbol(base, c.QuoteCurrency, c.SettleCurrency)
		markets[unified] = venue.Market{
			Symbol:       unified,
			ID:           c.Symbol,
			Base:         base,
			Quote:        c.QuoteCurrency,
			Contract:     true,
			ContractSize: size,
			Type:         venue.Perp,
		}
	}

	log.Debug().Str("exchange", f.Name()).Int("markets", len(markets)).Msg("Loaded markets")
	return markets, nil
}

// FetchOrderBook fetches the depth20 or depth100 snapshot. Sizes are in
// contracts.
func (f *Futures) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	if !depthPolicy.Valid(depth) {
		return nil, fmt.Errorf("kucoin futures depth %d: %w", depth, venue.ErrInvalidDepth)
	}
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("kucoin futures %q: %w", symbol, venue.ErrSymbolNotFound)
	}

	id := toExchangeBase(base) + quote + "M"
	endpoint := fmt.Sprintf("%s/api/v1/level2/depth%d?symbol=%s", f.baseURL, depth, url.QueryEscape(id))

	var env envelope
	if err := f.http.GetJSON(ctx, endpoint, &env); err != nil {
		return nil, err
	}
	if err := env.err(f.Name(), symbol); err != nil {
		return nil, err
	}

	var data bookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("kucoin futures %s book: %v: %w", symbol, err, venue.ErrMalformed)
	}
	bids, asks, err := data.levels()
	if err != nil {
		return nil, fmt.Errorf("kucoin futures %s: %w", symbol, err)
	}

	book := &venue.OrderBook{Exchange: f.Name(), Symbol: symbol, Bids: bids, Asks: asks, FetchedAt: time.Now()}
	book.Normalize()
	return book, nil
}
