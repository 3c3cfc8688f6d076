package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/densityrun/internal/persistence"
)

// ErrDuplicateAlert is returned when an alert id was already journaled
var ErrDuplicateAlert = errors.New("duplicate alert")

// Schema creates the alert journal table
const Schema = `
CREATE TABLE IF NOT EXISTS density_alerts (
	id               BIGSERIAL PRIMARY KEY,
	alert_id         UUID NOT NULL UNIQUE,
	emitted_at       TIMESTAMPTZ NOT NULL,
	exchange         TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	market_type      TEXT NOT NULL,
	price            DOUBLE PRECISION NOT NULL,
	size             DOUBLE PRECISION NOT NULL,
	distance_pct     DOUBLE PRECISION NOT NULL,
	lifetime_seconds DOUBLE PRECISION NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS density_alerts_symbol_ts ON density_alerts (symbol, emitted_at DESC);`

const alertColumns = `id, alert_id, emitted_at, exchange, symbol, side, kind, market_type,
	price, size, distance_pct, lifetime_seconds, created_at`

// alertsRepo implements persistence.AlertsRepo for PostgreSQL
type alertsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAlertsRepo creates a PostgreSQL alert journal
func NewAlertsRepo(db *sqlx.DB, timeout time.Duration) persistence.AlertsRepo {
	return &alertsRepo{
		db:      db,
		timeout: timeout,
	}
}

// EnsureSchema creates the journal table when missing
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create alert journal schema: %w", err)
	}
	return nil
}

// Insert journals one alert
func (r *alertsRepo) Insert(ctx context.Context, row persistence.AlertRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO density_alerts (alert_id, emitted_at, exchange, symbol, side, kind, market_type,
			price, size, distance_pct, lifetime_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		row.AlertID, row.EmittedAt, row.Exchange, row.Symbol, row.Side, row.Kind, row.MarketType,
		row.Price, row.Size, row.DistancePct, row.LifetimeSeconds).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateAlert, row.AlertID)
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListBySymbol retrieves alerts for a symbol within a time range
func (r *alertsRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.AlertRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + alertColumns + `
		FROM density_alerts
		WHERE symbol = $1 AND emitted_at >= $2 AND emitted_at <= $3
		ORDER BY emitted_at DESC
		LIMIT $4`

	var rows []persistence.AlertRow
	if err := r.db.SelectContext(ctx, &rows, query, symbol, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to query alerts by symbol: %w", err)
	}
	return rows, nil
}

// GetLatest returns the most recent alerts
func (r *alertsRepo) GetLatest(ctx context.Context, limit int) ([]persistence.AlertRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + alertColumns + `
		FROM density_alerts
		ORDER BY emitted_at DESC
		LIMIT $1`

	var rows []persistence.AlertRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query latest alerts: %w", err)
	}
	return rows, nil
}

// CountByKind returns alert counts grouped by kind
func (r *alertsRepo) CountByKind(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT kind, COUNT(*)
		FROM density_alerts
		WHERE emitted_at >= $1 AND emitted_at <= $2
		GROUP BY kind
		ORDER BY kind`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		counts[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return counts, nil
}
