package density

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/venue"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func book(bids, asks []venue.Level) *venue.OrderBook {
	return &venue.OrderBook{Exchange: "kucoin_spot", Symbol: "BTC/USDT", Bids: bids, Asks: asks, FetchedAt: now}
}

func TestCompute_VolumeAccumulation(t *testing.T) {
	b := book(
		[]venue.Level{{Price: 49900, Amount: 10}, {Price: 49800, Amount: 15}, {Price: 49700, Amount: 5}},
		[]venue.Level{{Price: 50100, Amount: 0.1}},
	)
	th := config.Threshold{MinSize: 1_000_000, DistancePct: 5, Depth: 50}

	events := Compute(b, th, 1, venue.Spot, now)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, Bid, ev.Side)
	assert.InDelta(t, 1_494_500, ev.CumulativeQuoteVolume, 1e-6)
	assert.InDelta(t, 49816.76, ev.WeightedAvgPrice, 0.01)
	assert.InDelta(t, 49817.89, ev.WeightedAvgPrice, 1.5)
	assert.Equal(t, ev.WeightedAvgPrice, ev.Price)
	assert.InDelta(t, 0.3665, ev.DistanceFromMidPct, 0.001)
	assert.Equal(t, venue.Spot, ev.MarketType)
	assert.Equal(t, now, ev.DetectedAt)
}

func TestCompute_BandStopsWalk(t *testing.T) {
	// mid 100, 1% band: only levels at or above 99 count.
	b := book(
		[]venue.Level{{Price: 99.9, Amount: 1000}, {Price: 99.0, Amount: 1000}, {Price: 98.9, Amount: 1_000_000}},
		[]venue.Level{{Price: 100.1, Amount: 1}},
	)
	th := config.Threshold{MinSize: 150_000, DistancePct: 1, Depth: 50}

	events := Compute(b, th, 1, venue.Spot, now)

	require.Len(t, events, 1)
	assert.InDelta(t, 99900+99000, events[0].CumulativeQuoteVolume, 1e-6)
}

func TestCompute_DepthLimit(t *testing.T) {
	b := book(
		[]venue.Level{{Price: 99.9, Amount: 1000}, {Price: 99.8, Amount: 1000}, {Price: 99.7, Amount: 1000}},
		[]venue.Level{{Price: 100.1, Amount: 1}},
	)
	th := config.Threshold{MinSize: 150_000, DistancePct: 5, Depth: 1}

	assert.Empty(t, Compute(b, th, 1, venue.Spot, now))

	th.Depth = 2
	assert.Len(t, Compute(b, th, 1, venue.Spot, now), 1)
}

func TestCompute_ContractSize(t *testing.T) {
	b := book(
		[]venue.Level{{Price: 100, Amount: 1}},
		[]venue.Level{{Price: 100.2, Amount: 5_000}},
	)
	th := config.Threshold{MinSize: 1_000_000, DistancePct: 3, Depth: 20}

	assert.Empty(t, Compute(b, th, 1, venue.Perp, now))

	events := Compute(b, th, 1000, venue.Perp, now)
	require.Len(t, events, 1)
	assert.Equal(t, Ask, events[0].Side)
	assert.InDelta(t, 100.2*5_000*1000, events[0].CumulativeQuoteVolume, 1e-3)
}

func TestCompute_NonPositiveContractSizeTreatedAsOne(t *testing.T) {
	b := book([]venue.Level{{Price: 100, Amount: 20_000}}, []venue.Level{{Price: 101, Amount: 1}})
	th := config.Threshold{MinSize: 1_000_000, DistancePct: 3, Depth: 20}

	for _, cs := range []float64{0, -3} {
		events := Compute(b, th, cs, venue.Perp, now)
		require.Len(t, events, 1)
		assert.InDelta(t, 2_000_000, events[0].CumulativeQuoteVolume, 1e-6)
	}
}

func TestCompute_DegenerateBooks(t *testing.T) {
	th := config.Threshold{MinSize: 1, DistancePct: 50, Depth: 50}
	big := []venue.Level{{Price: 100, Amount: 1e9}}

	tests := []struct {
		name string
		book *venue.OrderBook
	}{
		{"empty", book(nil, nil)},
		{"no bids", book(nil, big)},
		{"zero bid", book([]venue.Level{{Price: 0, Amount: 1e9}}, big)},
		{"zero ask", book(big, []venue.Level{{Price: 0, Amount: 1e9}})},
		{"negative prices", book([]venue.Level{{Price: -1, Amount: 1}}, []venue.Level{{Price: -2, Amount: 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Empty(t, Compute(tt.book, th, 1, venue.Spot, now))
			})
		})
	}
}

func TestCompute_BothSides(t *testing.T) {
	b := book(
		[]venue.Level{{Price: 99, Amount: 20_000}},
		[]venue.Level{{Price: 101, Amount: 20_000}},
	)
	th := config.Threshold{MinSize: 1_000_000, DistancePct: 3, Depth: 20}

	events := Compute(b, th, 1, venue.Spot, now)
	require.Len(t, events, 2)
	assert.Equal(t, Bid, events[0].Side)
	assert.Equal(t, Ask, events[1].Side)
	assert.InDelta(t, 1.0, events[0].DistanceFromMidPct, 1e-9)
	assert.InDelta(t, 1.0, events[1].DistanceFromMidPct, 1e-9)
}

func TestBandCovered(t *testing.T) {
	shallow := book([]venue.Level{{Price: 99.5, Amount: 1}}, []venue.Level{{Price: 100.5, Amount: 1}})
	assert.False(t, BandCovered(shallow, 3))

	deep := book(
		[]venue.Level{{Price: 99.5, Amount: 1}, {Price: 96, Amount: 1}},
		[]venue.Level{{Price: 100.5, Amount: 1}, {Price: 104, Amount: 1}},
	)
	assert.True(t, BandCovered(deep, 3))
	assert.True(t, BandCovered(book(nil, nil), 3))
}
