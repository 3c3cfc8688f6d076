package persistence

import (
	"context"
	"time"
)

// TimeRange represents a closed time window for journal queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// AlertRow is one journaled density alert
type AlertRow struct {
	ID              int64     `json:"id" db:"id"`
	AlertID         string    `json:"alert_id" db:"alert_id"`
	EmittedAt       time.Time `json:"emitted_at" db:"emitted_at"`
	Exchange        string    `json:"exchange" db:"exchange"`
	Symbol          string    `json:"symbol" db:"symbol"`
	Side            string    `json:"side" db:"side"`
	Kind            string    `json:"kind" db:"kind"`
	MarketType      string    `json:"market_type" db:"market_type"`
	Price           float64   `json:"price" db:"price"`
	Size            float64   `json:"size" db:"size"`
	DistancePct     float64   `json:"distance_pct" db:"distance_pct"`
	LifetimeSeconds float64   `json:"lifetime_seconds" db:"lifetime_seconds"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// AlertsRepo persists emitted alerts
type AlertsRepo interface {
	// Insert journals one alert; a repeated alert id is rejected
	Insert(ctx context.Context, row AlertRow) error

	// ListBySymbol returns alerts for a symbol inside tr, newest first
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]AlertRow, error)

	// GetLatest returns the most recent alerts across all exchanges
	GetLatest(ctx context.Context, limit int) ([]AlertRow, error)

	// CountByKind returns alert counts inside tr grouped by kind
	CountByKind(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// HealthCheck describes journal connectivity
type HealthCheck struct {
	Healthy   bool          `json:"healthy"`
	LatencyMS int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Timeout   time.Duration `json:"-"`
}
