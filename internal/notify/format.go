package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/density"
	"github.com/sawpanic/densityrun/internal/universe"
)

var exchangeLabels = map[string]string{
	"kucoin_futures": "KuCoin Futures",
	"kucoin_spot":    "KuCoin Spot",
	"hyperliquid":    "HL (Hyperliquid)",
	"bingx":          "BingX",
}

var tradeURLs = map[string]string{
	"hyperliquid":    "https://app.hyperliquid.xyz/trade/%s",
	"kucoin_futures": "https://www.kucoin.com/futures/trade/%sUSDT",
	"kucoin_spot":    "https://www.kucoin.com/trade/%s-USDT",
	"bingx":          "https://bingx.com/en/futures/%sUSDT/",
}

// ExchangeLabel returns the display name of an exchange
func ExchangeLabel(exchange string) string {
	if label, ok := exchangeLabels[exchange]; ok {
		return label
	}
	return strings.ToUpper(exchange)
}

// TradeURL returns the exchange trading page for a symbol, or "" when unknown
func TradeURL(exchange, symbol string) string {
	tmpl, ok := tradeURLs[exchange]
	if !ok {
		return ""
	}
	return fmt.Sprintf(tmpl, universe.BaseOf(symbol))
}

// SizeEmoji grades a quote volume
func SizeEmoji(size float64) string {
	switch {
	case size < 500_000:
		return "📊"
	case size < 1_000_000:
		return "🔥"
	case size < 5_000_000:
		return "🔥🔥"
	case size < 10_000_000:
		return "💎"
	default:
		return "💎💎💎"
	}
}

// FormatSize renders a quote volume as $356.65K, $1.23M or $1.05B
func FormatSize(size float64) string {
	switch {
	case size >= 1_000_000_000:
		return fmt.Sprintf("$%.2fB", size/1_000_000_000)
	case size >= 1_000_000:
		return fmt.Sprintf("$%.2fM", size/1_000_000)
	default:
		return fmt.Sprintf("$%.2fK", size/1_000)
	}
}

// FormatLifetime renders a duration as 45s, 2m 30s or 1h 5m
func FormatLifetime(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

// FormatPrice renders a price with fixed precision and no trailing zeros
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).Round(8).String()
}

// formatAmount renders a whole quote amount with thousands separators
func formatAmount(v float64) string {
	digits := decimal.NewFromFloat(v).Round(0).StringFixed(0)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func sideText(side density.Side) (emoji, text string) {
	if side == density.Bid {
		return "🟩", "BID (buy wall)"
	}
	return "🟥", "ASK (sell wall)"
}

// FormatMessage renders an alert as Telegram HTML
func FormatMessage(a alert.Alert) string {
	base := html.EscapeString(universe.BaseOf(a.Symbol))
	ticker := base
	if url := TradeURL(a.Exchange, a.Symbol); url != "" {
		ticker = fmt.Sprintf(`<a href="%s">%s</a>`, url, base)
	}
	sideEmoji, side := sideText(a.Side)

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> | <b>%s</b> | %s\n",
		SizeEmoji(a.Size), html.EscapeString(ExchangeLabel(a.Exchange)), FormatSize(a.Size), a.Side)
	fmt.Fprintf(&b, "Alert: %s\n", a.Kind)
	fmt.Fprintf(&b, "Market: %s\n", a.MarketType)
	fmt.Fprintf(&b, "Ticker: %s\n", ticker)
	fmt.Fprintf(&b, "Side: %s %s\n", sideEmoji, side)
	fmt.Fprintf(&b, "Price: %s\n", FormatPrice(a.Price))
	fmt.Fprintf(&b, "Size: $%s\n", formatAmount(a.Size))
	fmt.Fprintf(&b, "Distance: %.2f%%\n", a.DistancePct)
	fmt.Fprintf(&b, "⏱️ Lifetime: %s", FormatLifetime(a.Lifetime()))
	return b.String()
}
