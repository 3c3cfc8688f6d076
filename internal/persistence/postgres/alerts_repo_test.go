package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/densityrun/internal/persistence"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

var emitted = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRow() persistence.AlertRow {
	return persistence.AlertRow{
		AlertID:         "6f1c2a7e-2c1b-4d7e-9b1a-0d5c7e1f2a3b",
		EmittedAt:       emitted,
		Exchange:        "bingx",
		Symbol:          "BTC/USDT:USDT",
		Side:            "ASK",
		Kind:            "NEW",
		MarketType:      "PERP",
		Price:           50_100,
		Size:            1_250_000,
		DistancePct:     0.2,
		LifetimeSeconds: 0,
	}
}

func TestAlertsRepo_Insert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAlertsRepo(db, time.Second)
	row := sampleRow()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO density_alerts")).
		WithArgs(row.AlertID, row.EmittedAt, row.Exchange, row.Symbol, row.Side, row.Kind, row.MarketType,
			row.Price, row.Size, row.DistancePct, row.LifetimeSeconds).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, emitted))

	require.NoError(t, repo.Insert(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsRepo_InsertDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAlertsRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO density_alerts")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Insert(context.Background(), sampleRow())
	assert.ErrorIs(t, err, ErrDuplicateAlert)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsRepo_InsertError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAlertsRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO density_alerts")).
		WillReturnError(assert.AnError)

	err := repo.Insert(context.Background(), sampleRow())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateAlert)
	assert.ErrorIs(t, err, assert.AnError)
}

func alertRows(rows ...persistence.AlertRow) *sqlmock.Rows {
	out := sqlmock.NewRows([]string{"id", "alert_id", "emitted_at", "exchange", "symbol", "side", "kind", "market_type",
		"price", "size", "distance_pct", "lifetime_seconds", "created_at"})
	for i, r := range rows {
		out.AddRow(int64(i+1), r.AlertID, r.EmittedAt, r.Exchange, r.Symbol, r.Side, r.Kind, r.MarketType,
			r.Price, r.Size, r.DistancePct, r.LifetimeSeconds, r.EmittedAt)
	}
	return out
}

func TestAlertsRepo_GetLatest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAlertsRepo(db, time.Second)

	first := sampleRow()
	second := sampleRow()
	second.AlertID = "0b6f9a3c-5c1e-4f0a-8d7b-1e2f3a4b5c6d"
	second.Kind = "SURGE"

	mock.ExpectQuery(regexp.QuoteMeta("FROM density_alerts")).
		WithArgs(2).
		WillReturnRows(alertRows(first, second))

	rows, err := repo.GetLatest(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, "BTC/USDT:USDT", rows[0].Symbol)
	assert.Equal(t, "SURGE", rows[1].Kind)
	assert.Equal(t, 1_250_000.0, rows[1].Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsRepo_ListBySymbol(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAlertsRepo(db, time.Second)
	tr := persistence.TimeRange{From: emitted.Add(-time.Hour), To: emitted}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE symbol = $1")).
		WithArgs("BTC/USDT:USDT", tr.From, tr.To, 10).
		WillReturnRows(alertRows(sampleRow()))

	rows, err := repo.ListBySymbol(context.Background(), "BTC/USDT:USDT", tr, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, tr.Contains(rows[0].EmittedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsRepo_CountByKind(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAlertsRepo(db, time.Second)
	tr := persistence.TimeRange{From: emitted.Add(-24 * time.Hour), To: emitted}

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY kind")).
		WithArgs(tr.From, tr.To).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "count"}).
			AddRow("LIFETIME_UPDATE", 4).
			AddRow("NEW", 12).
			AddRow("SURGE", 3))

	counts, err := repo.CountByKind(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"LIFETIME_UPDATE": 4, "NEW": 12, "SURGE": 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS density_alerts")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectPing()
	check := Health(context.Background(), db, time.Second)
	assert.True(t, check.Healthy)
	assert.Empty(t, check.Error)

	mock.ExpectPing().WillReturnError(assert.AnError)
	check = Health(context.Background(), db, time.Second)
	assert.False(t, check.Healthy)
	assert.Contains(t, check.Error, assert.AnError.Error())
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "", DefaultOptions())
	assert.Error(t, err)
}
