// Package density turns order-book snapshots into density events: one-sided
// liquidity clusters near the mid-price whose cumulative quote volume clears a
// configured threshold.
package density

import (
	"math"
	"time"

	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/venue"
)

// Side of the book a density sits on
type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

// Event is a density detected in one scan. Price is the volume-weighted
// average price of the accumulated levels.
type Event struct {
	Exchange              string           `json:"exchange"`
	Symbol                string           `json:"symbol"`
	Side                  Side             `json:"side"`
	Price                 float64          `json:"price"`
	CumulativeQuoteVolume float64          `json:"cumulative_quote_volume"`
	WeightedAvgPrice      float64          `json:"weighted_avg_price"`
	DistanceFromMidPct    float64          `json:"distance_from_mid_pct"`
	MarketType            venue.MarketType `json:"market_type"`
	DetectedAt            time.Time        `json:"detected_at"`
}

// Mid returns the mid-price of a book, or 0 when either side is empty or
// non-positive.
func Mid(book *venue.OrderBook) float64 {
	bid, ask := book.BestBid(), book.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Compute returns the density events in book for threshold th. A degenerate
// or too-shallow book yields no events.
func Compute(book *venue.OrderBook, th config.Threshold, contractSize float64, marketType venue.MarketType, now time.Time) []Event {
	mid := Mid(book)
	if mid <= 0 {
		return nil
	}
	if contractSize <= 0 {
		contractSize = 1.0
	}
	band := mid * th.DistancePct / 100

	var events []Event
	sides := []struct {
		side   Side
		levels []venue.Level
		inBand func(price float64) bool
	}{
		{Bid, book.Bids, func(p float64) bool { return p >= mid-band }},
		{Ask, book.Asks, func(p float64) bool { return p <= mid+band }},
	}

	for _, s := range sides {
		cumulative, weighted := accumulate(s.levels, th.Depth, contractSize, s.inBand)
		if cumulative <= 0 || cumulative < th.MinSize {
			continue
		}
		vwap := weighted / cumulative
		events = append(events, Event{
			Exchange:              book.Exchange,
			Symbol:                book.Symbol,
			Side:                  s.side,
			Price:                 vwap,
			CumulativeQuoteVolume: cumulative,
			WeightedAvgPrice:      vwap,
			DistanceFromMidPct:    math.Abs(vwap-mid) / mid * 100,
			MarketType:            marketType,
			DetectedAt:            now,
		})
	}
	return events
}

// accumulate walks levels in book order until the band is left or depth
// levels were consumed. It returns the quote volume and the price-weighted
// quote volume.
func accumulate(levels []venue.Level, depth int, contractSize float64, inBand func(float64) bool) (cumulative, weighted float64) {
	for i, lvl := range levels {
		if depth > 0 && i >= depth {
			break
		}
		if !inBand(lvl.Price) {
			break
		}
		if lvl.Price <= 0 || lvl.Amount <= 0 {
			continue
		}
		quote := lvl.Price * lvl.Amount * contractSize
		cumulative += quote
		weighted += lvl.Price * quote
	}
	return cumulative, weighted
}

// BandCovered reports whether both sides of book extend past the band, i.e.
// a deeper fetch could not add volume inside it.
func BandCovered(book *venue.OrderBook, distancePct float64) bool {
	mid := Mid(book)
	if mid <= 0 {
		return true
	}
	band := mid * distancePct / 100
	bidsCovered := len(book.Bids) > 0 && book.Bids[len(book.Bids)-1].Price < mid-band
	asksCovered := len(book.Asks) > 0 && book.Asks[len(book.Asks)-1].Price > mid+band
	return bidsCovered && asksCovered
}
