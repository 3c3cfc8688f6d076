package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/densityrun/internal/net/client"
	"github.com/sawpanic/densityrun/internal/venue"
)

const bookJSON = `{"coin":"BTC","time":1700000000000,"levels":[
	[{"px":"49900","sz":"10","n":3},{"px":"49800","sz":"15","n":2},{"px":"49700","sz":"5","n":1}],
	[{"px":"50100","sz":"1","n":1},{"px":"50200","sz":"2","n":4}]]}`

func infoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch {
		case req["type"] == "meta":
			_, _ = w.Write([]byte(`{"universe":[{"name":"BTC","szDecimals":5},{"name":"OLD","isDelisted":true},{"name":"HYPE"}]}`))
		case req["type"] == "l2Book" && req["coin"] == "BTC":
			_, _ = w.Write([]byte(bookJSON))
		default:
			_, _ = w.Write([]byte(`null`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnector_LoadMarkets(t *testing.T) {
	srv := infoServer(t)
	c := New(srv.URL, "", client.New(client.Config{Exchange: "hyperliquid"}))

	markets, err := c.LoadMarkets(context.Background())
	require.NoError(t, err)

	require.Len(t, markets, 2)
	assert.Contains(t, markets, "BTC/USDC:USDC")
	assert.Contains(t, markets, "HYPE/USDC:USDC")
	assert.Equal(t, 1.0, markets["BTC/USDC:USDC"].ContractSize)
}

func TestConnector_FetchOrderBook(t *testing.T) {
	srv := infoServer(t)
	c := New(srv.URL, "", client.New(client.Config{Exchange: "hyperliquid"}))

	book, err := c.FetchOrderBook(context.Background(), "BTC/USDC:USDC", 2)
	require.NoError(t, err)

	assert.Len(t, book.Bids, 2, "truncated to requested depth")
	assert.Equal(t, 49900.0, book.BestBid())
	assert.Equal(t, 50100.0, book.BestAsk())
	assert.Equal(t, time.UnixMilli(1700000000000), book.FetchedAt)
}

func TestConnector_UnknownCoin(t *testing.T) {
	srv := infoServer(t)
	c := New(srv.URL, "", client.New(client.Config{Exchange: "hyperliquid"}))

	_, err := c.FetchOrderBook(context.Background(), "NOPE/USDC:USDC", 20)
	assert.ErrorIs(t, err, venue.ErrSymbolNotFound)
}

func TestConnector_DepthAboveMax(t *testing.T) {
	c := New("http://unused", "", client.New(client.Config{Exchange: "hyperliquid"}))

	_, err := c.FetchOrderBook(context.Background(), "BTC/USDC:USDC", 50)
	assert.ErrorIs(t, err, venue.ErrInvalidDepth)
	assert.Equal(t, 20, c.DepthPolicy().Clamp(50))
}

func TestConnector_Stream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub subscribeRequest
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub.Method)
		assert.Equal(t, "BTC", sub.Subscription["coin"])

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"subscriptionResponse","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"l2Book","data":`+bookJSON+`}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"l2Book","data":`+bookJSON+`}`))

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New("", wsURL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	books := make(chan *venue.OrderBook, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Stream(ctx, "BTC/USDC:USDC", 20, func(b *venue.OrderBook) { books <- b })
	}()

	for i := 0; i < 2; i++ {
		select {
		case b := <-books:
			assert.Equal(t, "BTC/USDC:USDC", b.Symbol)
			assert.Len(t, b.Bids, 3)
		case <-ctx.Done():
			t.Fatal("timed out waiting for pushed book")
		}
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestConnector_StreamSilentPeer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub subscribeRequest
		require.NoError(t, conn.ReadJSON(&sub))

		// Stay connected without sending or reading anything.
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New("", wsURL, nil)
	c.pingInterval = time.Hour
	c.readTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := c.Stream(ctx, "BTC/USDC:USDC", 20, func(*venue.OrderBook) {
		t.Error("unexpected book from a silent peer")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrNetwork)
	assert.True(t, venue.IsTransient(err))
	assert.NoError(t, ctx.Err(), "stream must end on the read deadline, not the test timeout")
	assert.Less(t, time.Since(start), 3*time.Second)
}
