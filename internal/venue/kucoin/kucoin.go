// Package kucoin implements public order-book connectors for KuCoin spot and
// KuCoin futures.
package kucoin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sawpanic/densityrun/internal/venue"
)

const codeOK = "200000"

// depthPolicy is shared by spot and futures: only 20 or 100 levels.
var depthPolicy = venue.DepthPolicy{Accepted: []int{20, 100}}

// envelope is the common KuCoin response wrapper
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *envelope) err(exchange, symbol string) error {
	if e.Code == codeOK {
		if len(e.Data) == 0 || string(e.Data) == "null" {
			return fmt.Errorf("%s %s: empty data: %w", exchange, symbol, venue.ErrSymbolNotFound)
		}
		return nil
	}
	switch e.Code {
	case "429000":
		return fmt.Errorf("%s %s: %s: %w", exchange, symbol, e.Msg, venue.ErrRateLimited)
	case "400100", "900001", "400200":
		return fmt.Errorf("%s %s: %s: %w", exchange, symbol, e.Msg, venue.ErrSymbolNotFound)
	case "500000", "503000":
		return fmt.Errorf("%s %s: %s: %w", exchange, symbol, e.Msg, venue.ErrExchangeUnavailable)
	}
	return fmt.Errorf("%s %s: code %s %s: %w", exchange, symbol, e.Code, e.Msg, venue.ErrMalformed)
}

// bookData is the order-book payload; spot sends strings, futures numbers.
type bookData struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

func (d *bookData) levels() (bids, asks []venue.Level, err error) {
	if bids, err = venue.ParseLevels(d.Bids); err != nil {
		return nil, nil, fmt.Errorf("bids: %w", err)
	}
	if asks, err = venue.ParseLevels(d.Asks); err != nil {
		return nil, nil, fmt.Errorf("asks: %w", err)
	}
	return bids, asks, nil
}

// KuCoin futures names bitcoin XBT.
func toUnifiedBase(base string) string {
	if strings.EqualFold(base, "XBT") {
		return "BTC"
	}
	return strings.ToUpper(base)
}

func toExchangeBase(base string) string {
	if strings.EqualFold(base, "BTC") {
		return "XBT"
	}
	return strings.ToUpper(base)
}

// splitSymbol parses BASE/QUOTE[:SETTLE].
func splitSymbol(symbol string) (base, quote string, ok bool) {
	pair, _, _ := strings.Cut(symbol, ":")
	base, quote, ok = strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}
