package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/venue"
)

// The server drops connections idle for 60s.
const pingInterval = 50 * time.Second

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type subscribeRequest struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription,omitempty"`
}

// Stream subscribes to l2Book for symbol and calls fn for every pushed book.
// It returns when ctx is done or the connection fails.
func (c *Connector) Stream(ctx context.Context, symbol string, depth int, fn func(*venue.OrderBook)) error {
	if c.wsURL == "" {
		return fmt.Errorf("hyperliquid: no websocket url configured: %w", venue.ErrExchangeUnavailable)
	}
	coin := coinOf(symbol)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, http.Header{"User-Agent": []string{"DensityRun/1.0"}})
	if err != nil {
		return venue.ClassifyTransport(c.Name(), err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	if err := write(subscribeRequest{Method: "subscribe", Subscription: map[string]string{"type": "l2Book", "coin": coin}}); err != nil {
		return venue.ClassifyTransport(c.Name(), err)
	}

	log.Info().Str("exchange", c.Name()).Str("symbol", symbol).Msg("Subscribed to l2Book stream")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := write(subscribeRequest{Method: "ping"}); err != nil {
					log.Debug().Err(err).Str("exchange", c.Name()).Msg("Ping failed")
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		// Pings draw a pong, so a silent socket past the deadline is dead.
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return venue.ClassifyTransport(c.Name(), err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("exchange", c.Name()).Msg("Ignoring undecodable message")
			continue
		}
		if msg.Channel != "l2Book" {
			continue
		}

		var raw l2Book
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			log.Debug().Err(err).Str("exchange", c.Name()).Msg("Ignoring malformed l2Book")
			continue
		}
		book, err := raw.toOrderBook(c.Name(), symbol, depth)
		if err != nil {
			log.Debug().Err(err).Str("exchange", c.Name()).Msg("Ignoring malformed l2Book")
			continue
		}
		fn(book)
	}
}
