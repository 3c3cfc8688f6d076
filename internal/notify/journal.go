package notify

import (
	"context"
	"errors"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/persistence"
	"github.com/sawpanic/densityrun/internal/persistence/postgres"
)

// JournalSink records alerts in the alert journal
type JournalSink struct {
	repo persistence.AlertsRepo
}

// NewJournalSink creates a sink backed by repo
func NewJournalSink(repo persistence.AlertsRepo) *JournalSink {
	return &JournalSink{repo: repo}
}

func (j *JournalSink) Name() string { return "journal" }

// Row converts an alert into a journal row
func Row(a alert.Alert) persistence.AlertRow {
	return persistence.AlertRow{
		AlertID:         a.ID.String(),
		EmittedAt:       a.EmittedAt,
		Exchange:        a.Exchange,
		Symbol:          a.Symbol,
		Side:            string(a.Side),
		Kind:            string(a.Kind),
		MarketType:      string(a.MarketType),
		Price:           a.Price,
		Size:            a.Size,
		DistancePct:     a.DistancePct,
		LifetimeSeconds: a.LifetimeSeconds,
	}
}

// Send journals one alert. Redelivery of an already journaled alert is not an error.
func (j *JournalSink) Send(ctx context.Context, a alert.Alert) error {
	err := j.repo.Insert(ctx, Row(a))
	if errors.Is(err, postgres.ErrDuplicateAlert) {
		return nil
	}
	return err
}
