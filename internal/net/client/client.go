package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/net/breaker"
	"github.com/sawpanic/densityrun/internal/net/ratelimit"
	"github.com/sawpanic/densityrun/internal/venue"
)

const userAgent = "DensityRun/1.0 (public market data)"

// Config configures an exchange HTTP client
type Config struct {
	Exchange string
	Timeout  time.Duration
	Limiter  *ratelimit.Limiter // Optional
	Breakers *breaker.Manager   // Optional
	HTTP     *http.Client       // Optional, for tests
}

// Client performs JSON requests against one exchange with rate limiting and
// circuit breaking. All failures are classified into the venue error taxonomy.
type Client struct {
	exchange string
	http     *http.Client
	limiter  *ratelimit.Limiter
	breakers *breaker.Manager
}

// New creates an exchange client
func New(cfg Config) *Client {
	hc := cfg.HTTP
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		exchange: cfg.Exchange,
		http:     hc,
		limiter:  cfg.Limiter,
		breakers: cfg.Breakers,
	}
}

// GetJSON issues a GET and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// PostJSON marshals body, POSTs it and decodes the JSON response into out
func (c *Client) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context(), c.exchange); err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return ctxErr
			}
			return &ExchangeError{Exchange: c.exchange, Type: "rate_limit", Err: fmt.Errorf("rate limit wait: %v: %w", err, venue.ErrRateLimited)}
		}
	}

	execute := func() error {
		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return &ExchangeError{Exchange: c.exchange, Type: "transport", Err: venue.ClassifyTransport(c.exchange, err)}
		}
		defer resp.Body.Close()

		log.Debug().
			Str("exchange", c.exchange).
			Str("url", req.URL.Path).
			Int("status", resp.StatusCode).
			Dur("latency", time.Since(start)).
			Msg("Exchange request")

		if classified := venue.ClassifyStatus(c.exchange, resp.StatusCode); classified != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &ExchangeError{
				Exchange:   c.exchange,
				Type:       "http_error",
				StatusCode: resp.StatusCode,
				Body:       string(body),
				Err:        classified,
			}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return &ExchangeError{Exchange: c.exchange, Type: "transport", Err: venue.ClassifyTransport(c.exchange, ctxErr)}
			}
			return &ExchangeError{Exchange: c.exchange, Type: "decode", Err: fmt.Errorf("decode response: %v: %w", err, venue.ErrMalformed)}
		}
		return nil
	}

	if c.breakers != nil {
		err := c.breakers.Execute(c.exchange, execute)
		var exErr *ExchangeError
		if err != nil && !errors.As(err, &exErr) {
			return &ExchangeError{Exchange: c.exchange, Type: "circuit", Err: err}
		}
		return err
	}
	return execute()
}

// ExchangeError carries request context around a classified venue error
type ExchangeError struct {
	Exchange   string `json:"exchange"`
	Type       string `json:"type"` // "rate_limit", "circuit", "transport", "http_error", "decode"
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Err        error  `json:"-"`
}

func (e *ExchangeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("exchange %s %s error (HTTP %d): %v", e.Exchange, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("exchange %s %s error: %v", e.Exchange, e.Type, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
