package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for DensityRun. Every method is safe
// on a nil *Registry so components can run without metrics in tests.
type Registry struct {
	reg *prometheus.Registry

	CycleDuration    prometheus.Histogram
	ExchangeDuration *prometheus.HistogramVec
	SymbolScans      *prometheus.CounterVec
	FetchRetries     *prometheus.CounterVec
	DepthEscalations *prometheus.CounterVec

	CacheRefreshes     *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	AlertsEmitted    *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	AlertsDropped    prometheus.Counter
	TrackedDensities prometheus.Gauge

	StreamReconnects *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	NotifyErrors     *prometheus.CounterVec
}

// NewRegistry creates a registry with all DensityRun metrics plus the Go
// runtime and process collectors
func NewRegistry() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "densityrun_cycle_duration_seconds",
			Help:    "Duration of a full scan cycle across all exchanges",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "densityrun_exchange_scan_duration_seconds",
			Help:    "Duration of one exchange's share of a scan cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"exchange"}),
		SymbolScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_symbol_scans_total",
			Help: "Symbol scans by exchange and result (ok, failed, skipped)",
		}, []string{"exchange", "result"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_fetch_retries_total",
			Help: "Order-book fetch retries after transient failures",
		}, []string{"exchange"}),
		DepthEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_depth_escalations_total",
			Help: "Refetches at a larger depth because the band was not covered",
		}, []string{"exchange"}),

		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_market_cache_refreshes_total",
			Help: "Market metadata refreshes by exchange and result",
		}, []string{"exchange", "result"}),
		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_market_cache_invalidations_total",
			Help: "Market cache invalidations after repeated scan failures",
		}, []string{"exchange"}),

		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_alerts_emitted_total",
			Help: "Alerts accepted onto the outbound queue by exchange and kind",
		}, []string{"exchange", "kind"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_alerts_suppressed_total",
			Help: "Densities that did not alert, by reason",
		}, []string{"reason"}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "densityrun_alerts_dropped_total",
			Help: "Alerts dropped because the outbound queue was full",
		}),
		TrackedDensities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "densityrun_tracked_densities",
			Help: "Densities currently tracked by the alert engine",
		}),

		StreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_stream_reconnects_total",
			Help: "Order-book stream reconnect attempts",
		}, []string{"exchange"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "densityrun_circuit_state",
			Help: "Circuit breaker state per exchange (0=closed, 1=half-open, 2=open)",
		}, []string{"exchange"}),
		NotifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "densityrun_notify_errors_total",
			Help: "Failed alert deliveries by sink",
		}, []string{"sink"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CycleDuration,
		m.ExchangeDuration,
		m.SymbolScans,
		m.FetchRetries,
		m.DepthEscalations,
		m.CacheRefreshes,
		m.CacheInvalidations,
		m.AlertsEmitted,
		m.AlertsSuppressed,
		m.AlertsDropped,
		m.TrackedDensities,
		m.StreamReconnects,
		m.BreakerState,
		m.NotifyErrors,
	)

	return m
}

// Handler returns an HTTP handler exposing this registry
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// CycleTimer tracks execution time of a scan cycle or an exchange scan
type CycleTimer struct {
	metrics  *Registry
	exchange string
	start    time.Time
}

// StartCycle begins timing a full cycle
func (m *Registry) StartCycle() *CycleTimer {
	return &CycleTimer{metrics: m, start: time.Now()}
}

// StartExchange begins timing one exchange's scan
func (m *Registry) StartExchange(exchange string) *CycleTimer {
	return &CycleTimer{metrics: m, exchange: exchange, start: time.Now()}
}

// Stop records the elapsed time and returns it
func (t *CycleTimer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.metrics == nil {
		return elapsed
	}
	if t.exchange == "" {
		t.metrics.CycleDuration.Observe(elapsed.Seconds())
	} else {
		t.metrics.ExchangeDuration.WithLabelValues(t.exchange).Observe(elapsed.Seconds())
	}
	log.Debug().Str("exchange", t.exchange).Dur("duration", elapsed).Msg("Scan timer stopped")
	return elapsed
}

// RecordSymbolScan counts one symbol scan outcome
func (m *Registry) RecordSymbolScan(exchange, result string) {
	if m == nil {
		return
	}
	m.SymbolScans.WithLabelValues(exchange, result).Inc()
}

// RecordRetry counts one fetch retry
func (m *Registry) RecordRetry(exchange string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(exchange).Inc()
}

// RecordDepthEscalation counts one deeper refetch
func (m *Registry) RecordDepthEscalation(exchange string) {
	if m == nil {
		return
	}
	m.DepthEscalations.WithLabelValues(exchange).Inc()
}

// RecordCacheRefresh counts one market metadata load
func (m *Registry) RecordCacheRefresh(exchange string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CacheRefreshes.WithLabelValues(exchange, result).Inc()
}

// RecordCacheInvalidation counts one forced cache drop
func (m *Registry) RecordCacheInvalidation(exchange string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(exchange).Inc()
}

// RecordAlert counts one emitted alert
func (m *Registry) RecordAlert(exchange, kind string) {
	if m == nil {
		return
	}
	m.AlertsEmitted.WithLabelValues(exchange, kind).Inc()
}

// RecordSuppressed counts one suppressed density
func (m *Registry) RecordSuppressed(reason string) {
	if m == nil {
		return
	}
	m.AlertsSuppressed.WithLabelValues(reason).Inc()
}

// RecordDropped counts one alert lost to a full queue
func (m *Registry) RecordDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}

// SetTracked publishes the number of tracked densities
func (m *Registry) SetTracked(n int) {
	if m == nil {
		return
	}
	m.TrackedDensities.Set(float64(n))
}

// RecordReconnect counts one stream reconnect
func (m *Registry) RecordReconnect(exchange string) {
	if m == nil {
		return
	}
	m.StreamReconnects.WithLabelValues(exchange).Inc()
}

// SetBreakerState publishes a breaker state by name
func (m *Registry) SetBreakerState(exchange, state string) {
	if m == nil {
		return
	}
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(exchange).Set(v)
}

// RecordNotifyError counts one failed delivery
func (m *Registry) RecordNotifyError(sink string) {
	if m == nil {
		return
	}
	m.NotifyErrors.WithLabelValues(sink).Inc()
}

// Summary is a point-in-time digest of the main counters
type Summary struct {
	SymbolScans      float64 `json:"symbol_scans"`
	SymbolFailures   float64 `json:"symbol_failures"`
	AlertsEmitted    float64 `json:"alerts_emitted"`
	AlertsSuppressed float64 `json:"alerts_suppressed"`
	AlertsDropped    float64 `json:"alerts_dropped"`
	TrackedDensities float64 `json:"tracked_densities"`
}

// Summary gathers the registry and folds the main families into a Summary
func (m *Registry) Summary() Summary {
	var s Summary
	if m == nil {
		return s
	}
	families, err := m.reg.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather metrics")
		return s
	}

	for _, mf := range families {
		switch mf.GetName() {
		case "densityrun_symbol_scans_total":
			s.SymbolScans = sum(mf)
			s.SymbolFailures = sumWhere(mf, "result", "failed")
		case "densityrun_alerts_emitted_total":
			s.AlertsEmitted = sum(mf)
		case "densityrun_alerts_suppressed_total":
			s.AlertsSuppressed = sum(mf)
		case "densityrun_alerts_dropped_total":
			s.AlertsDropped = sum(mf)
		case "densityrun_tracked_densities":
			s.TrackedDensities = sum(mf)
		}
	}
	return s
}

func value(metric *dto.Metric) float64 {
	switch {
	case metric.GetCounter() != nil:
		return metric.GetCounter().GetValue()
	case metric.GetGauge() != nil:
		return metric.GetGauge().GetValue()
	}
	return 0
}

func sum(mf *dto.MetricFamily) float64 {
	total := 0.0
	for _, metric := range mf.GetMetric() {
		total += value(metric)
	}
	return total
}

func sumWhere(mf *dto.MetricFamily, label, want string) float64 {
	total := 0.0
	for _, metric := range mf.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == want {
				total += value(metric)
			}
		}
	}
	return total
}
