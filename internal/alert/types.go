package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/densityrun/internal/density"
	"github.com/sawpanic/densityrun/internal/venue"
)

// Kind classifies why an alert was emitted
type Kind string

const (
	KindNew            Kind = "NEW"
	KindSurge          Kind = "SURGE"
	KindLifetimeUpdate Kind = "LIFETIME_UPDATE"
)

// Key identifies one tracked density
type Key struct {
	Exchange string       `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Side     density.Side `json:"side"`
}

// Record is the tracking state of one density. It is only mutated by the
// engine under its lock.
type Record struct {
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	LastAlertAt       time.Time `json:"last_alert_at,omitempty"`
	LastAlertedSize   float64   `json:"last_alerted_size"`
	LastAlertedPrice  float64   `json:"last_alerted_price"`
	ConsecutiveMisses int       `json:"consecutive_misses"`

	lastSize  float64
	lastPrice float64
	seenCycle uint64
}

// Alert is an accepted alert delivered on the outbound queue
type Alert struct {
	ID              uuid.UUID        `json:"id"`
	Exchange        string           `json:"exchange"`
	Symbol          string           `json:"symbol"`
	Side            density.Side     `json:"side"`
	Price           float64          `json:"price"`
	Size            float64          `json:"size"`
	DistancePct     float64          `json:"distance_pct"`
	MarketType      venue.MarketType `json:"market_type"`
	LifetimeSeconds float64          `json:"lifetime_seconds"`
	Kind            Kind             `json:"alert_kind"`
	EmittedAt       time.Time        `json:"emitted_at"`
}

// Lifetime returns the alert lifetime as a duration
func (a Alert) Lifetime() time.Duration {
	return time.Duration(a.LifetimeSeconds * float64(time.Second))
}

// Suppression reasons reported in Decision.Reason
const (
	ReasonDisabled    = "disabled"
	ReasonMinLifetime = "min_lifetime"
	ReasonBaseline    = "baseline"
	ReasonDuplicate   = "duplicate"
	ReasonCooldown    = "cooldown"
	ReasonQueueFull   = "queue_full"
	ReasonClosed      = "closed"
)

// Decision is the outcome of observing one density event
type Decision struct {
	Emitted bool
	Kind    Kind   // Set when an alert was due, even if it was dropped
	Reason  string // Set when nothing was emitted
}

// Tracked is a read-only view of a tracked density
type Tracked struct {
	Key
	Record
	LastSize        float64 `json:"last_size"`
	LastPrice       float64 `json:"last_price"`
	LifetimeSeconds float64 `json:"lifetime_seconds"`
}
