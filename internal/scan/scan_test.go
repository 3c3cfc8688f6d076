package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/market"
	"github.com/sawpanic/densityrun/internal/net/retry"
	"github.com/sawpanic/densityrun/internal/venue"
	"github.com/sawpanic/densityrun/internal/venue/fake"
)

const testConfig = `
thresholds:
  default: {min_size: 100000, distance_pct: 1.0, depth: 50}
priority_tickers: [AVAX]
scan:
  failure_threshold: 3
exchanges:
  fake: {concurrency: 1}
  bingx: {concurrency: 2}
`

type env struct {
	cfg    *config.Config
	cache  *market.Cache
	engine *alert.Engine
	deps   Deps
}

func newEnv(t *testing.T, conns ...venue.Connector) *env {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	cache, err := market.New(conns, market.Options{TTL: time.Hour, QuoteCurrencies: []string{"USDT"}})
	require.NoError(t, err)

	engine, err := alert.NewEngine(alert.OptionsFromConfig(cfg, nil))
	require.NoError(t, err)

	return &env{
		cfg:    cfg,
		cache:  cache,
		engine: engine,
		deps: Deps{
			Config: cfg,
			Cache:  cache,
			Engine: engine,
			Retry:  retry.Policy{MaxAttempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond},
		},
	}
}

func spotMarket(base string) venue.Market {
	sym := venue.Symbol(base, "USDT", "")
	return venue.Market{Symbol: sym, ID: base + "USDT", Base: base, Quote: "USDT", ContractSize: 1, Type: venue.Spot}
}

func newFake(name string, bases ...string) *fake.Connector {
	c := fake.New(name, venue.Spot)
	for _, b := range bases {
		c.SetMarket(spotMarket(b))
	}
	return c
}

// wallBook has mid 100 and an ask wall of 201,000 USDT at 100.5.
func setWallBook(c *fake.Connector, symbol string) {
	c.SetBook(symbol,
		[]venue.Level{{Price: 99.5, Amount: 10}, {Price: 97, Amount: 10}},
		[]venue.Level{{Price: 100.5, Amount: 2000}, {Price: 103, Amount: 10}},
	)
}

// ladder builds n levels starting at start, step apart
func ladder(start, step float64, n int) []venue.Level {
	levels := make([]venue.Level, n)
	for i := range levels {
		levels[i] = venue.Level{Price: start + step*float64(i), Amount: 100}
	}
	return levels
}

func TestScanSymbol(t *testing.T) {
	conn := newFake("fake", "DOT")
	setWallBook(conn, "DOT/USDT")
	e := newEnv(t, conn)
	c := NewCoordinator(conn, e.deps)

	out := c.ScanSymbol(context.Background(), "DOT/USDT")
	require.NoError(t, out.Err)
	assert.Equal(t, ResultOK, out.Result)
	assert.Equal(t, 1, out.Attempts)
	require.Len(t, out.Events, 1)
	assert.InDelta(t, 201_000, out.Events[0].CumulativeQuoteVolume, 1e-6)

	a := <-e.engine.Alerts()
	assert.Equal(t, alert.KindNew, a.Kind)
	assert.Equal(t, "DOT/USDT", a.Symbol)
	assert.Equal(t, venue.Spot, a.MarketType)
}

func TestScanSymbolSkips(t *testing.T) {
	conn := newFake("fake", "BCH", "TESTCOIN", "MOCKUSD")
	e := newEnv(t, conn)
	c := NewCoordinator(conn, e.deps)

	for _, sym := range []string{"BCH/USDT", "TESTCOIN/USDT", "MOCKUSD/USDT"} {
		out := c.ScanSymbol(context.Background(), sym)
		assert.Equal(t, ResultSkipped, out.Result, sym)
		assert.Zero(t, conn.Calls(sym), sym)
	}
}

func TestScanSymbolRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		want      Result
		wantCalls int
	}{
		{name: "transient errors are retried", errs: []error{venue.ErrNetwork, venue.ErrRateLimited}, want: ResultOK, wantCalls: 3},
		{name: "retries are capped", errs: []error{venue.ErrNetwork, venue.ErrNetwork, venue.ErrExchangeUnavailable}, want: ResultFailed, wantCalls: 3},
		{name: "unknown symbol is not retried", errs: []error{venue.ErrSymbolNotFound}, want: ResultFailed, wantCalls: 1},
		{name: "malformed response is not retried", errs: []error{venue.ErrMalformed}, want: ResultFailed, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFake("fake", "DOT")
			setWallBook(conn, "DOT/USDT")
			conn.FailNext("DOT/USDT", tt.errs...)
			c := NewCoordinator(conn, newEnv(t, conn).deps)

			out := c.ScanSymbol(context.Background(), "DOT/USDT")
			assert.Equal(t, tt.want, out.Result)
			assert.Equal(t, tt.wantCalls, conn.Calls("DOT/USDT"))
			assert.Equal(t, tt.wantCalls, out.Attempts)
			if tt.want == ResultFailed {
				assert.True(t, errors.Is(out.Err, tt.errs[len(tt.errs)-1]))
			}
		})
	}
}

func TestScanSymbolDepth(t *testing.T) {
	tests := []struct {
		name   string
		bids   []venue.Level
		asks   []venue.Level
		depths []int
	}{
		{
			name:   "band covered at clamped depth",
			bids:   ladder(99.5, -0.1, 30),
			asks:   ladder(100.5, 0.1, 30),
			depths: []int{20},
		},
		{
			name:   "escalates when the book ends inside the band",
			bids:   ladder(99.99, -0.01, 60),
			asks:   ladder(100.01, 0.01, 60),
			depths: []int{20, 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFake("fake", "DOT")
			conn.SetDepthPolicy(venue.DepthPolicy{Accepted: []int{20, 100}})
			conn.SetBook("DOT/USDT", tt.bids, tt.asks)
			c := NewCoordinator(conn, newEnv(t, conn).deps)

			out := c.ScanSymbol(context.Background(), "DOT/USDT")
			require.NoError(t, out.Err)
			assert.Equal(t, tt.depths, conn.Depths("DOT/USDT"))
			assert.Equal(t, tt.depths[len(tt.depths)-1], out.Depth)
		})
	}
}

// narrowConnector advertises a deeper depth than the exchange accepts
type narrowConnector struct {
	*fake.Connector
}

func (n narrowConnector) DepthPolicy() venue.DepthPolicy {
	return venue.DepthPolicy{Accepted: []int{20, 100}}
}

func TestScanSymbolEscalationFailureKeepsShallowBook(t *testing.T) {
	inner := newFake("fake", "DOT")
	inner.SetDepthPolicy(venue.DepthPolicy{Accepted: []int{20}})
	inner.SetBook("DOT/USDT", ladder(99.99, -0.01, 60), ladder(100.01, 0.01, 60))
	conn := narrowConnector{inner}
	c := NewCoordinator(conn, newEnv(t, conn).deps)

	out := c.ScanSymbol(context.Background(), "DOT/USDT")
	require.NoError(t, out.Err)
	assert.Equal(t, ResultOK, out.Result)
	assert.Equal(t, 20, out.Depth)
	assert.Equal(t, []int{20, 100}, inner.Depths("DOT/USDT"))
	assert.Len(t, out.Events, 2)
}

type orderedConnector struct {
	*fake.Connector
	mu    sync.Mutex
	order []string
}

func (c *orderedConnector) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	c.mu.Lock()
	c.order = append(c.order, symbol)
	c.mu.Unlock()
	return c.Connector.FetchOrderBook(ctx, symbol, depth)
}

func TestCoordinatorScanPriorityFirst(t *testing.T) {
	conn := &orderedConnector{Connector: newFake("fake", "DOT", "AVAX", "ATOM", "BCH")}
	for _, sym := range []string{"DOT/USDT", "AVAX/USDT", "ATOM/USDT"} {
		setWallBook(conn.Connector, sym)
	}
	e := newEnv(t, conn)
	c := NewCoordinator(conn, e.deps)

	report := c.Scan(context.Background())
	assert.NoError(t, report.Err)
	assert.Equal(t, "fake", report.Exchange)
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, report.Events)
	assert.Equal(t, []string{"AVAX/USDT", "ATOM/USDT", "DOT/USDT"}, conn.order)
}

type countingProgress struct {
	mu       sync.Mutex
	total    int
	messages []string
}

func (p *countingProgress) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += n
}

func (p *countingProgress) Increment(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func TestCoordinatorReportsProgress(t *testing.T) {
	conn := newFake("fake", "DOT", "ATOM", "BCH")
	setWallBook(conn, "DOT/USDT")
	progress := &countingProgress{}
	deps := newEnv(t, conn).deps
	deps.Progress = progress

	NewCoordinator(conn, deps).Scan(context.Background())
	assert.Equal(t, 3, progress.total)
	assert.ElementsMatch(t, []string{"fake ATOM/USDT", "fake BCH/USDT", "fake DOT/USDT"}, progress.messages)
}

func TestCoordinatorFailureThresholdInvalidatesCache(t *testing.T) {
	conn := newFake("fake", "DOT", "ATOM", "LTC")
	c := NewCoordinator(conn, newEnv(t, conn).deps)

	report := c.Scan(context.Background())
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, int64(0), c.ConsecutiveFailures())
	assert.Equal(t, 1, conn.MarketLoads())

	c.Scan(context.Background())
	assert.Equal(t, 2, conn.MarketLoads())
}

func TestCoordinatorSuccessResetsFailures(t *testing.T) {
	conn := newFake("fake", "AVAX", "ATOM", "DOT")
	setWallBook(conn, "DOT/USDT")
	c := NewCoordinator(conn, newEnv(t, conn).deps)

	// Order is AVAX (fails), ATOM (fails), DOT (ok)
	report := c.Scan(context.Background())
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, int64(0), c.ConsecutiveFailures())
	assert.Equal(t, 1, conn.MarketLoads())
}

func TestCoordinatorSymbolLoadFailure(t *testing.T) {
	conn := newFake("fake", "DOT")
	conn.SetMarketsError(venue.ErrExchangeUnavailable)
	c := NewCoordinator(conn, newEnv(t, conn).deps)

	report := c.Scan(context.Background())
	assert.ErrorIs(t, report.Err, venue.ErrExchangeUnavailable)
	assert.Zero(t, report.Scanned)
	assert.Equal(t, int64(1), c.ConsecutiveFailures())
}

type panicConnector struct {
	*fake.Connector
}

func (p *panicConnector) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	panic("boom")
}

func TestOrchestratorContainsPanics(t *testing.T) {
	good := newFake("fake", "DOT")
	setWallBook(good, "DOT/USDT")
	bad := &panicConnector{Connector: newFake("bingx")}
	e := newEnv(t, good, bad)

	o := NewOrchestrator([]*Coordinator{NewCoordinator(good, e.deps), NewCoordinator(bad, e.deps)}, e.engine, time.Second, nil)
	summary := o.RunOnce(context.Background())

	require.Len(t, summary.Reports, 2)
	assert.NoError(t, summary.Reports[0].Err)
	assert.Equal(t, 1, summary.Reports[0].Succeeded)
	require.Error(t, summary.Reports[1].Err)
	assert.Contains(t, summary.Reports[1].Err.Error(), "panic")
	assert.Equal(t, 1, summary.Totals().Events)
	assert.Equal(t, 1, e.engine.Len())
}

type outageConnector struct {
	*fake.Connector
	marketsDown bool
	fetches     atomic.Int64
}

func (o *outageConnector) LoadMarkets(ctx context.Context) (map[string]venue.Market, error) {
	if o.marketsDown {
		return nil, venue.ErrExchangeUnavailable
	}
	return o.Connector.LoadMarkets(ctx)
}

func (o *outageConnector) FetchOrderBook(ctx context.Context, symbol string, depth int) (*venue.OrderBook, error) {
	o.fetches.Add(1)
	return nil, venue.ErrExchangeUnavailable
}

func TestOrchestratorExchangeOutageIsolated(t *testing.T) {
	tests := []struct {
		name        string
		marketsDown bool
		wantScanned int
	}{
		{name: "markets unavailable", marketsDown: true, wantScanned: 0},
		{name: "every book unavailable", marketsDown: false, wantScanned: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good := newFake("fake", "DOT")
			setWallBook(good, "DOT/USDT")
			down := &outageConnector{Connector: newFake("bingx", "ADA", "XRP"), marketsDown: tt.marketsDown}
			e := newEnv(t, good, down)

			o := NewOrchestrator([]*Coordinator{NewCoordinator(down, e.deps), NewCoordinator(good, e.deps)}, e.engine, time.Second, nil)
			summary := o.RunOnce(context.Background())

			require.Len(t, summary.Reports, 2)
			outage, healthy := summary.Reports[0], summary.Reports[1]
			assert.Equal(t, "bingx", outage.Exchange)
			assert.Equal(t, tt.wantScanned, outage.Scanned)
			assert.Zero(t, outage.Succeeded)
			if tt.marketsDown {
				assert.ErrorIs(t, outage.Err, venue.ErrExchangeUnavailable)
				assert.Zero(t, down.fetches.Load())
			} else {
				assert.Equal(t, 2, outage.Failed)
				assert.Equal(t, int64(2*e.deps.Retry.MaxAttempts), down.fetches.Load())
			}

			assert.NoError(t, healthy.Err)
			assert.Equal(t, 1, healthy.Succeeded)
			select {
			case a := <-e.engine.Alerts():
				assert.Equal(t, "fake", a.Exchange)
				assert.Equal(t, "DOT/USDT", a.Symbol)
				assert.Equal(t, alert.KindNew, a.Kind)
			default:
				t.Fatal("healthy exchange produced no alert")
			}
		})
	}
}

func TestOrchestratorEndsCycleAndExpires(t *testing.T) {
	conn := newFake("fake", "DOT")
	setWallBook(conn, "DOT/USDT")
	e := newEnv(t, conn)
	o := NewOrchestrator([]*Coordinator{NewCoordinator(conn, e.deps)}, e.engine, time.Second, nil)

	o.RunOnce(context.Background())
	require.Equal(t, 1, e.engine.Len())

	// The wall disappears: three missed cycles expire it
	conn.SetBook("DOT/USDT", []venue.Level{{Price: 99.5, Amount: 1}}, []venue.Level{{Price: 100.5, Amount: 1}})
	var expired int
	for i := 0; i < 3; i++ {
		expired += o.RunOnce(context.Background()).Expired
	}
	assert.Equal(t, 1, expired)
	assert.Zero(t, e.engine.Len())
}

func TestOrchestratorCancelledCycleKeepsMisses(t *testing.T) {
	conn := newFake("fake", "DOT")
	setWallBook(conn, "DOT/USDT")
	e := newEnv(t, conn)
	o := NewOrchestrator([]*Coordinator{NewCoordinator(conn, e.deps)}, e.engine, time.Second, nil)
	o.RunOnce(context.Background())
	e.engine.EndCycle()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := o.RunOnce(ctx)
	assert.Zero(t, summary.Expired)

	snap := e.engine.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].ConsecutiveMisses)
}

func TestOrchestratorRunStopsOnCancel(t *testing.T) {
	conn := newFake("fake", "DOT")
	setWallBook(conn, "DOT/USDT")
	e := newEnv(t, conn)
	o := NewOrchestrator([]*Coordinator{NewCoordinator(conn, e.deps)}, e.engine, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, conn.Calls("DOT/USDT"), 2)
}

type restOnly struct {
	venue.Connector
}

func TestNewWatcherRequiresStreamer(t *testing.T) {
	conn := newFake("fake", "AVAX")
	e := newEnv(t, conn)

	_, ok := NewWatcher(NewCoordinator(restOnly{conn}, e.deps), StreamOptions{})
	assert.False(t, ok)

	_, ok = NewWatcher(NewCoordinator(conn, e.deps), StreamOptions{})
	assert.True(t, ok)
}

func TestWatcherSymbols(t *testing.T) {
	conn := newFake("fake", "AVAX", "DOT", "SOL", "BCH")
	e := newEnv(t, conn)
	e.cfg.PriorityTickers = []string{"BCH", "SOL", "AVAX"}

	w, ok := NewWatcher(NewCoordinator(conn, e.deps), StreamOptions{MaxSymbols: 1})
	require.True(t, ok)
	symbols, err := w.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL/USDT"}, symbols)
}

func TestWatcherFeedsEngine(t *testing.T) {
	conn := newFake("fake", "AVAX", "DOT")
	conn.PushStream("AVAX/USDT", &venue.OrderBook{
		Exchange: "fake",
		Symbol:   "AVAX/USDT",
		Bids:     []venue.Level{{Price: 99.5, Amount: 3000}},
		Asks:     []venue.Level{{Price: 100.5, Amount: 1}},
	})
	e := newEnv(t, conn)
	w, ok := NewWatcher(NewCoordinator(conn, e.deps), StreamOptions{MaxSymbols: 30, ReconnectDelay: time.Millisecond, MaxReconnects: 1})
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case a := <-e.engine.Alerts():
		assert.Equal(t, "AVAX/USDT", a.Symbol)
		assert.Equal(t, "BID", string(a.Side))
	case <-time.After(2 * time.Second):
		t.Fatal("no alert from streamed book")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type flakyStreamer struct {
	*fake.Connector
	deliver int // Calls that deliver one book before failing
	calls   atomic.Int32
}

func (f *flakyStreamer) Stream(ctx context.Context, symbol string, depth int, fn func(*venue.OrderBook)) error {
	n := f.calls.Add(1)
	if int(n) <= f.deliver {
		fn(&venue.OrderBook{Symbol: symbol, Bids: []venue.Level{{Price: 99, Amount: 1}}, Asks: []venue.Level{{Price: 101, Amount: 1}}})
	}
	return errors.New("connection reset")
}

func TestWatcherReconnects(t *testing.T) {
	tests := []struct {
		name      string
		deliver   int
		wantCalls int32
	}{
		{name: "gives up after max reconnects", deliver: 0, wantCalls: 3},
		{name: "messages reset the reconnect count", deliver: 3, wantCalls: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &flakyStreamer{Connector: newFake("fake", "AVAX"), deliver: tt.deliver}
			e := newEnv(t, conn)
			w, ok := NewWatcher(NewCoordinator(conn, e.deps), StreamOptions{MaxSymbols: 30, ReconnectDelay: time.Millisecond, MaxReconnects: 2})
			require.True(t, ok)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, w.Run(ctx))
			assert.Equal(t, tt.wantCalls, conn.calls.Load())
		})
	}
}

func TestStreamOptionsFromConfig(t *testing.T) {
	opts := StreamOptionsFromConfig(config.Default().Stream)
	assert.Equal(t, 30, opts.MaxSymbols)
	assert.Equal(t, 5*time.Second, opts.ReconnectDelay)
	assert.Equal(t, 10, opts.MaxReconnects)
}
