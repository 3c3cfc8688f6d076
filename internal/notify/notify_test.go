package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/density"
	"github.com/sawpanic/densityrun/internal/metrics"
	"github.com/sawpanic/densityrun/internal/persistence"
	"github.com/sawpanic/densityrun/internal/persistence/postgres"
	"github.com/sawpanic/densityrun/internal/venue"
)

func sampleAlert() alert.Alert {
	return alert.Alert{
		ID:              uuid.MustParse("6f1c2a7e-2c1b-4d7e-9b1a-0d5c7e1f2a3b"),
		Exchange:        "hyperliquid",
		Symbol:          "BTC/USDC:USDC",
		Side:            density.Bid,
		Price:           64_950.5,
		Size:            1_234_567,
		DistancePct:     0.42,
		MarketType:      venue.Perp,
		LifetimeSeconds: 150,
		Kind:            alert.KindSurge,
		EmittedAt:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSizeEmoji(t *testing.T) {
	tests := []struct {
		size float64
		want string
	}{
		{100_000, "📊"},
		{499_999, "📊"},
		{500_000, "🔥"},
		{1_000_000, "🔥🔥"},
		{4_999_999, "🔥🔥"},
		{5_000_000, "💎"},
		{10_000_000, "💎💎💎"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SizeEmoji(tt.size), tt.size)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "$356.65K", FormatSize(356_650))
	assert.Equal(t, "$1.23M", FormatSize(1_234_567))
	assert.Equal(t, "$1.05B", FormatSize(1_050_000_000))
}

func TestFormatLifetime(t *testing.T) {
	assert.Equal(t, "0s", FormatLifetime(0))
	assert.Equal(t, "45s", FormatLifetime(45*time.Second))
	assert.Equal(t, "2m 30s", FormatLifetime(150*time.Second))
	assert.Equal(t, "1h 5m", FormatLifetime(65*time.Minute+20*time.Second))
}

func TestFormatPriceAndAmount(t *testing.T) {
	assert.Equal(t, "64950.5", FormatPrice(64_950.5))
	assert.Equal(t, "0.00001234", FormatPrice(0.0000123401))
	assert.Equal(t, "1,234,567", formatAmount(1_234_567.4))
	assert.Equal(t, "999", formatAmount(999))
	assert.Equal(t, "1,000", formatAmount(1_000))
}

func TestTradeURL(t *testing.T) {
	tests := []struct {
		exchange string
		symbol   string
		want     string
	}{
		{"hyperliquid", "BTC/USDC:USDC", "https://app.hyperliquid.xyz/trade/BTC"},
		{"kucoin_futures", "ETH/USDT:USDT", "https://www.kucoin.com/futures/trade/ETHUSDT"},
		{"kucoin_spot", "SOL/USDT", "https://www.kucoin.com/trade/SOL-USDT"},
		{"bingx", "DOGE/USDT:USDT", "https://bingx.com/en/futures/DOGEUSDT/"},
		{"fake", "DOT/USDT", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TradeURL(tt.exchange, tt.symbol), tt.exchange)
	}
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(sampleAlert())

	assert.Contains(t, msg, "🔥🔥 <b>HL (Hyperliquid)</b> | <b>$1.23M</b> | BID")
	assert.Contains(t, msg, "Alert: SURGE")
	assert.Contains(t, msg, "Market: PERP")
	assert.Contains(t, msg, `<a href="https://app.hyperliquid.xyz/trade/BTC">BTC</a>`)
	assert.Contains(t, msg, "🟩 BID (buy wall)")
	assert.Contains(t, msg, "Price: 64950.5")
	assert.Contains(t, msg, "Size: $1,234,567")
	assert.Contains(t, msg, "Distance: 0.42%")
	assert.Contains(t, msg, "Lifetime: 2m 30s")
}

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []alert.Alert
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(ctx context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type blockingSink struct{}

func (blockingSink) Name() string { return "blocking" }

func (blockingSink) Send(ctx context.Context, a alert.Alert) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcherRun(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("sink down")}
	d := NewDispatcher([]Sink{ok, failing, LogSink{}}, time.Second, nil)
	assert.Equal(t, []string{"ok", "failing", "log"}, d.Sinks())

	in := make(chan alert.Alert, 2)
	in <- sampleAlert()
	in <- sampleAlert()
	close(in)

	require.NoError(t, d.Run(context.Background(), in))
	assert.Equal(t, 2, ok.count())
	assert.Equal(t, 2, failing.count())
}

func TestDispatcherSendTimeout(t *testing.T) {
	m := metrics.NewRegistry()
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher([]Sink{blockingSink{}, ok}, 20*time.Millisecond, m)

	start := time.Now()
	d.Dispatch(context.Background(), sampleAlert())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, ok.count())
}

func TestDispatcherStopsOnContext(t *testing.T) {
	d := NewDispatcher([]Sink{LogSink{}}, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx, make(chan alert.Alert)))
}

func TestTelegramSink(t *testing.T) {
	var got telegramMessage
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer server.Close()

	sink, err := NewTelegramSink("123456789:ABC", "-100200300", server.URL, server.Client())
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), sampleAlert()))

	assert.Equal(t, "/bot123456789:ABC/sendMessage", path)
	assert.Equal(t, "-100200300", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.True(t, got.DisableWebPagePreview)
	assert.Equal(t, FormatMessage(sampleAlert()), got.Text)
}

func TestTelegramSinkAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	sink, err := NewTelegramSink("token", "chat", server.URL, server.Client())
	require.NoError(t, err)

	err = sink.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNewTelegramSinkValidation(t *testing.T) {
	_, err := NewTelegramSink("", "chat", "", nil)
	assert.Error(t, err)
	_, err = NewTelegramSink("token", "", "", nil)
	assert.Error(t, err)
}

func TestRedisSink(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sink := NewRedisSink(db, "densityrun:alerts", 10_000)
	a := sampleAlert()

	mock.ExpectXAdd(sink.XAddArgs(a)).SetVal("1700000000000-0")
	require.NoError(t, sink.Send(context.Background(), a))

	mock.ExpectXAdd(sink.XAddArgs(a)).SetErr(redis.ErrClosed)
	err := sink.Send(context.Background(), a)
	assert.ErrorIs(t, err, redis.ErrClosed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSinkEntry(t *testing.T) {
	sink := NewRedisSink(nil, "alerts", 500)
	args := sink.XAddArgs(sampleAlert())

	assert.Equal(t, "alerts", args.Stream)
	assert.Equal(t, int64(500), args.MaxLen)
	assert.True(t, args.Approx)
	values, ok := args.Values.([]interface{})
	require.True(t, ok)
	assert.Equal(t, "id", values[0])
	assert.Equal(t, "6f1c2a7e-2c1b-4d7e-9b1a-0d5c7e1f2a3b", values[1])
	assert.Equal(t, "SURGE", values[3])
}

type stubRepo struct {
	persistence.AlertsRepo
	err  error
	rows []persistence.AlertRow
}

func (s *stubRepo) Insert(ctx context.Context, row persistence.AlertRow) error {
	s.rows = append(s.rows, row)
	return s.err
}

func TestJournalSink(t *testing.T) {
	repo := &stubRepo{}
	sink := NewJournalSink(repo)
	require.NoError(t, sink.Send(context.Background(), sampleAlert()))
	require.Len(t, repo.rows, 1)
	assert.Equal(t, "6f1c2a7e-2c1b-4d7e-9b1a-0d5c7e1f2a3b", repo.rows[0].AlertID)
	assert.Equal(t, "BID", repo.rows[0].Side)
	assert.Equal(t, "PERP", repo.rows[0].MarketType)
	assert.Equal(t, 150.0, repo.rows[0].LifetimeSeconds)

	repo.err = postgres.ErrDuplicateAlert
	assert.NoError(t, sink.Send(context.Background(), sampleAlert()))

	repo.err = errors.New("connection refused")
	assert.Error(t, sink.Send(context.Background(), sampleAlert()))
}
