package config

import (
	"fmt"
	"strings"

	"github.com/sawpanic/densityrun/internal/universe"
)

// Tier records which configuration level a threshold was resolved from.
// Exchange-scoped and global ticker overrides both report TierTicker.
type Tier string

const (
	TierTicker   Tier = "ticker"
	TierExchange Tier = "exchange"
	TierGlobal   Tier = "global"
)

// Threshold is a fully resolved density threshold.
type Threshold struct {
	MinSize     float64 `yaml:"min_size" json:"min_size"`         // Quote-currency volume
	DistancePct float64 `yaml:"distance_pct" json:"distance_pct"` // Band half-width, percent of mid
	Depth       int     `yaml:"depth" json:"depth"`               // Max levels walked per side
	Tier        Tier    `yaml:"-" json:"tier"`
}

// resolvedThresholds is the load-time completion of every override tier.
type resolvedThresholds struct {
	global          Threshold
	globalTickers   map[string]Threshold
	exchanges       map[string]Threshold
	exchangeTickers map[string]map[string]Threshold
}

func (o ThresholdOverride) complete(def Threshold, tier Tier) Threshold {
	t := def
	t.Tier = tier
	if o.MinSize != nil {
		t.MinSize = *o.MinSize
	}
	if o.DistancePct != nil {
		t.DistancePct = *o.DistancePct
	}
	if o.Depth != nil {
		t.Depth = *o.Depth
	}
	return t
}

func (c *Config) resolveThresholds() {
	global := c.Thresholds.Default
	global.Tier = TierGlobal

	r := resolvedThresholds{
		global:          global,
		globalTickers:   make(map[string]Threshold),
		exchanges:       make(map[string]Threshold),
		exchangeTickers: make(map[string]map[string]Threshold),
	}
	for ticker, o := range c.Thresholds.Tickers {
		r.globalTickers[strings.ToUpper(ticker)] = o.complete(global, TierTicker)
	}
	for name, ex := range c.Exchanges {
		if ex.Threshold != nil {
			r.exchanges[name] = ex.Threshold.complete(global, TierExchange)
		}
		if len(ex.Tickers) > 0 {
			r.exchangeTickers[name] = make(map[string]Threshold, len(ex.Tickers))
			for ticker, o := range ex.Tickers {
				r.exchangeTickers[name][strings.ToUpper(ticker)] = o.complete(global, TierTicker)
			}
		}
	}
	c.resolved = r
}

// ResolveThreshold returns the threshold for a symbol on an exchange. The
// first match wins: exchange ticker override, global ticker override,
// exchange override, global default.
func (c *Config) ResolveThreshold(exchange, symbol string) Threshold {
	base := universe.BaseOf(symbol)

	if t, ok := c.resolved.exchangeTickers[exchange][base]; ok {
		return t
	}
	if t, ok := c.resolved.globalTickers[base]; ok {
		return t
	}
	if t, ok := c.resolved.exchanges[exchange]; ok {
		return t
	}
	return c.resolved.global
}

// IsBlacklisted reports whether the symbol's base asset is blacklisted
// globally or on the exchange.
func (c *Config) IsBlacklisted(exchange, symbol string) bool {
	base := universe.BaseOf(symbol)
	for _, b := range c.Blacklist {
		if strings.EqualFold(b, base) {
			return true
		}
	}
	for _, b := range c.Exchanges[exchange].Blacklist {
		if strings.EqualFold(b, base) {
			return true
		}
	}
	return false
}

// Validate ensures a threshold can be used for density detection
func (t Threshold) Validate() error {
	if t.MinSize <= 0 {
		return fmt.Errorf("min_size must be positive, got %g", t.MinSize)
	}
	if t.DistancePct < 0 {
		return fmt.Errorf("distance_pct cannot be negative, got %g", t.DistancePct)
	}
	if t.Depth <= 0 {
		return fmt.Errorf("depth must be positive, got %d", t.Depth)
	}
	return nil
}
