package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/densityrun/internal/alert"
)

// RedisSink appends alerts to a capped Redis stream
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink writing to stream, trimmed to about maxLen entries
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient connects to addr and verifies the connection
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisSink) Name() string { return "redis" }

// XAddArgs builds the stream entry for an alert
func (r *RedisSink) XAddArgs(a alert.Alert) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: []interface{}{
			"id", a.ID.String(),
			"kind", string(a.Kind),
			"exchange", a.Exchange,
			"symbol", a.Symbol,
			"side", string(a.Side),
			"market_type", string(a.MarketType),
			"price", FormatPrice(a.Price),
			"size", a.Size,
			"distance_pct", a.DistancePct,
			"lifetime_seconds", a.LifetimeSeconds,
			"emitted_at", a.EmittedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Send appends one alert to the stream
func (r *RedisSink) Send(ctx context.Context, a alert.Alert) error {
	if err := r.client.XAdd(ctx, r.XAddArgs(a)).Err(); err != nil {
		return fmt.Errorf("failed to append alert to %s: %w", r.stream, err)
	}
	return nil
}
