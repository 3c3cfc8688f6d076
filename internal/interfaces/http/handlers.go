package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/market"
	"github.com/sawpanic/densityrun/internal/metrics"
	"github.com/sawpanic/densityrun/internal/net/breaker"
	"github.com/sawpanic/densityrun/internal/net/ratelimit"
	"github.com/sawpanic/densityrun/internal/persistence"
	"github.com/sawpanic/densityrun/internal/persistence/postgres"
)

// Deps are the components the endpoints read from. Every field except
// Engine may be nil.
type Deps struct {
	Engine    *alert.Engine
	Cache     *market.Cache
	Breakers  *breaker.Manager
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Registry
	Journal   persistence.AlertsRepo
	JournalDB *sqlx.DB
	Exchanges []string
	Version   string
}

// handlers serves the read-only endpoints
type handlers struct {
	deps      Deps
	startTime time.Time
}

func newHandlers(deps Deps) *handlers {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &handlers{deps: deps, startTime: time.Now()}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes the standard error body
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// Health reports uptime, per-exchange connectivity and scan counters
func (h *handlers) Health(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
		Exchanges: make(map[string]ExchangeHealth, len(h.deps.Exchanges)),
		Summary:   h.deps.Metrics.Summary(),
	}

	for _, name := range h.deps.Exchanges {
		eh := ExchangeHealth{Breaker: "closed"}
		if h.deps.Breakers != nil {
			eh.Breaker = h.deps.Breakers.State(name)
		}
		if eh.Breaker == "open" {
			resp.Status = "degraded"
		}
		resp.Exchanges[name] = eh
	}
	if h.deps.Cache != nil {
		for _, s := range h.deps.Cache.Stats() {
			eh, ok := resp.Exchanges[s.Exchange]
			if !ok {
				continue
			}
			eh.Markets, eh.Symbols = s.Markets, s.Symbols
			eh.MarketsLoadedAt, eh.MarketsStale = s.FetchedAt, s.Stale
			resp.Exchanges[s.Exchange] = eh
		}
	}
	if h.deps.Limiter != nil {
		for name, s := range h.deps.Limiter.Stats() {
			if eh, ok := resp.Exchanges[name]; ok {
				eh.Throttled = s.IsThrottled()
				resp.Exchanges[name] = eh
			}
		}
	}
	if h.deps.JournalDB != nil {
		check := postgres.Health(r.Context(), h.deps.JournalDB, 2*time.Second)
		resp.Journal = &check
		if !check.Healthy {
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, resp)
}

// Densities lists tracked densities, optionally filtered by exchange, symbol and side
func (h *handlers) Densities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exchange := q.Get("exchange")
	symbol := strings.ToUpper(q.Get("symbol"))
	side := strings.ToUpper(q.Get("side"))
	if side != "" && side != "BID" && side != "ASK" {
		writeError(w, r, http.StatusBadRequest, "invalid_side", "side must be BID or ASK")
		return
	}

	all := h.deps.Engine.Snapshot()
	out := make([]alert.Tracked, 0, len(all))
	for _, d := range all {
		if exchange != "" && d.Exchange != exchange {
			continue
		}
		if symbol != "" && strings.ToUpper(d.Symbol) != symbol {
			continue
		}
		if side != "" && string(d.Side) != side {
			continue
		}
		out = append(out, d)
	}

	writeJSON(w, http.StatusOK, DensitiesResponse{Count: len(out), Densities: out, Generated: time.Now().UTC()})
}

// Alerts lists the latest journaled alerts
func (h *handlers) Alerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, "journal_disabled", "the alert journal is not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	rows, err := h.deps.Journal.GetLatest(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to read alert journal")
		writeError(w, r, http.StatusInternalServerError, "journal_error", "failed to read the alert journal")
		return
	}
	writeJSON(w, http.StatusOK, AlertsResponse{Count: len(rows), Alerts: rows, Generated: time.Now().UTC()})
}

// Density returns tracked densities of one symbol on one exchange
func (h *handlers) Density(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var out []alert.Tracked
	for _, d := range h.deps.Engine.Snapshot() {
		if d.Exchange == vars["exchange"] && strings.EqualFold(d.Symbol, vars["symbol"]) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		writeError(w, r, http.StatusNotFound, "density_not_found", "no tracked density for this symbol")
		return
	}
	writeJSON(w, http.StatusOK, DensitiesResponse{Count: len(out), Densities: out, Generated: time.Now().UTC()})
}

// NotFound handles 404 responses
func (h *handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}
