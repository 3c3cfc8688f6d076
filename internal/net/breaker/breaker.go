package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/densityrun/internal/venue"
)

// Settings configures one exchange breaker
type Settings struct {
	FailureThreshold uint32        // Consecutive transient failures that open the breaker
	OpenTimeout      time.Duration // Time spent open before a half-open probe
	HalfOpenRequests uint32        // Probes allowed while half-open
}

// Manager holds one circuit breaker per exchange. Only transient failures
// count against a breaker; an unknown symbol says nothing about exchange health.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	onChange func(exchange string, from, to gobreaker.State)
}

// NewManager creates an empty breaker manager
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// OnStateChange registers a callback for breaker transitions. It must be set
// before Configure.
func (m *Manager) OnStateChange(fn func(exchange string, from, to gobreaker.State)) {
	m.onChange = fn
}

// Configure creates or replaces the breaker for exchange
func (m *Manager) Configure(exchange string, s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := s.FailureThreshold
	settings := gobreaker.Settings{
		Name:        exchange,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !venue.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("exchange", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			if m.onChange != nil {
				m.onChange(name, from, to)
			}
		},
	}
	m.breakers[exchange] = gobreaker.NewCircuitBreaker(settings)
}

// Execute runs fn through the exchange breaker. An open breaker is reported
// as venue.ErrExchangeUnavailable. Exchanges without a breaker run fn directly.
func (m *Manager) Execute(exchange string, fn func() error) error {
	m.mu.RLock()
	cb, exists := m.breakers[exchange]
	m.mu.RUnlock()

	if !exists {
		return fn()
	}

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: circuit %s: %w", exchange, cb.State(), venue.ErrExchangeUnavailable)
	}
	return err
}

// State returns the breaker state for exchange, or "none" if not configured
func (m *Manager) State(exchange string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cb, ok := m.breakers[exchange]; ok {
		return cb.State().String()
	}
	return "none"
}

// States returns the state of every configured breaker
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.State().String()
	}
	return out
}
