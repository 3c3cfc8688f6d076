package venue

import (
	"context"
	"sort"
	"time"
)

// MarketType distinguishes spot books from perpetual-contract books.
type MarketType string

const (
	Spot MarketType = "SPOT"
	Perp MarketType = "PERP"
)

// Level is a single price level. Amount is in base units for spot books and
// in contracts for derivative books.
type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook is an immutable snapshot owned by the task that fetched it.
// Bids are sorted descending and asks ascending.
type OrderBook struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BestBid returns the top bid price, or 0 for an empty side.
func (b *OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 for an empty side.
func (b *OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Normalize sorts both sides into walking order. Connectors call it before
// handing a book out.
func (b *OrderBook) Normalize() {
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// Market is the instrument metadata a connector exposes.
type Market struct {
	Symbol       string     `json:"symbol"`
	ID           string     `json:"id"`
	Base         string     `json:"base"`
	Quote        string     `json:"quote"`
	Contract     bool       `json:"contract"`
	ContractSize float64    `json:"contract_size"`
	Type         MarketType `json:"market_type"`
}

// Connector is the read-only view of one exchange's public market data.
type Connector interface {
	Name() string
	MarketType() MarketType
	DepthPolicy() DepthPolicy
	LoadMarkets(ctx context.Context) (map[string]Market, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
}

// Streamer is implemented by connectors that can push order books. Stream
// blocks until ctx is done or the connection fails, calling fn for every book.
type Streamer interface {
	Stream(ctx context.Context, symbol string, depth int, fn func(*OrderBook)) error
}

// Symbol builds a canonical unified symbol: BASE/QUOTE for spot and
// BASE/QUOTE:SETTLE for contracts.
func Symbol(base, quote, settle string) string {
	if settle == "" {
		return base + "/" + quote
	}
	return base + "/" + quote + ":" + settle
}
