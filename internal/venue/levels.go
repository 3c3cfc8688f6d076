package venue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseNumber decodes a JSON number or a numeric string.
func ParseNumber(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("empty number: %w", ErrMalformed)
	}
	if s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return 0, fmt.Errorf("bad string number %s: %w", s, ErrMalformed)
		}
		s = unq
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %s: %w", s, ErrMalformed)
	}
	return v, nil
}

// ParseLevels converts positional level arrays into Levels. Entries may carry
// extra fields (order counts, liquidation volume); only price and amount are
// read.
func ParseLevels(raw [][]json.RawMessage) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %d has %d fields: %w", i, len(entry), ErrMalformed)
		}
		price, err := ParseNumber(entry[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		amount, err := ParseNumber(entry[1])
		if err != nil {
			return nil, fmt.Errorf("level %d amount: %w", i, err)
		}
		levels = append(levels, Level{Price: price, Amount: amount})
	}
	return levels, nil
}
