package http

import (
	"time"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/metrics"
	"github.com/sawpanic/densityrun/internal/persistence"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                    `json:"status"` // healthy, degraded
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	Version   string                    `json:"version"`
	System    SystemInfo                `json:"system"`
	Exchanges map[string]ExchangeHealth `json:"exchanges"`
	Summary   metrics.Summary           `json:"summary"`
	Journal   *persistence.HealthCheck  `json:"journal,omitempty"`
}

// SystemInfo provides process-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// ExchangeHealth represents one exchange's connectivity state
type ExchangeHealth struct {
	Breaker         string    `json:"breaker"` // closed, half-open, open
	Markets         int       `json:"markets"`
	Symbols         int       `json:"symbols"`
	MarketsLoadedAt time.Time `json:"markets_loaded_at,omitempty"`
	MarketsStale    bool      `json:"markets_stale"`
	Throttled       bool      `json:"throttled"`
}

// DensitiesResponse lists tracked densities
type DensitiesResponse struct {
	Count     int             `json:"count"`
	Densities []alert.Tracked `json:"densities"`
	Generated time.Time       `json:"generated"`
}

// AlertsResponse lists journaled alerts
type AlertsResponse struct {
	Count     int                    `json:"count"`
	Alerts    []persistence.AlertRow `json:"alerts"`
	Generated time.Time              `json:"generated"`
}
