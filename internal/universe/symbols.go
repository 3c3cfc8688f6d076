package universe

import (
	"sort"
	"strings"
)

var (
	skipPrefixes = []string{"TEST", "XYZ"}
	skipPatterns = []string{"DEMO", "SANDBOX", "MOCK"}
)

// BaseOf extracts the base asset from BASE/QUOTE, BASE/QUOTE:SETTLE or
// BASE-QUOTE symbols.
func BaseOf(symbol string) string {
	switch {
	case strings.Contains(symbol, "/"):
		return strings.ToUpper(symbol[:strings.Index(symbol, "/")])
	case strings.Contains(symbol, ":"):
		return strings.ToUpper(symbol[:strings.Index(symbol, ":")])
	case strings.Contains(symbol, "-"):
		return strings.ToUpper(symbol[:strings.Index(symbol, "-")])
	}
	return strings.ToUpper(symbol)
}

// HasQuote reports whether symbol is quoted or settled in one of quotes.
func HasQuote(symbol string, quotes []string) bool {
	upper := strings.ToUpper(symbol)
	for _, q := range quotes {
		q = strings.ToUpper(q)
		if strings.HasSuffix(upper, "/"+q) || strings.HasSuffix(upper, ":"+q) || strings.HasSuffix(upper, "-"+q) {
			return true
		}
	}
	return false
}

// IsTestToken reports whether a base asset looks like a test or demo listing.
func IsTestToken(base string) bool {
	upper := strings.ToUpper(base)
	for _, p := range skipPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	for _, p := range skipPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}

// FilterQuotes keeps the symbols quoted in one of quotes, sorted.
func FilterQuotes(symbols []string, quotes []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if HasQuote(s, quotes) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// PartitionPriority splits symbols into those whose base is a priority ticker
// and the rest. Priority symbols come back in ticker order; the rest keep
// their input order.
func PartitionPriority(symbols []string, tickers []string) (priority, rest []string) {
	rank := make(map[string]int, len(tickers))
	for i, t := range tickers {
		rank[strings.ToUpper(t)] = i
	}

	for _, s := range symbols {
		if _, ok := rank[BaseOf(s)]; ok {
			priority = append(priority, s)
		} else {
			rest = append(rest, s)
		}
	}
	sort.SliceStable(priority, func(i, j int) bool {
		return rank[BaseOf(priority[i])] < rank[BaseOf(priority[j])]
	})
	return priority, rest
}
