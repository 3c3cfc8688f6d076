// Package output writes scan results to files for offline review.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sawpanic/densityrun/internal/alert"
	atomicio "github.com/sawpanic/densityrun/internal/io"
	"github.com/sawpanic/densityrun/internal/scan"
)

type Emitter struct {
	now func() time.Time
}

func NewEmitter() *Emitter {
	return &Emitter{now: time.Now}
}

// EmitAlertsCSV writes one row per alert
func (e *Emitter) EmitAlertsCSV(filePath string, alerts []alert.Alert) error {
	return atomicio.WriteAtomic(filePath, func(w io.Writer) error {
		return writeAlertsCSV(w, alerts)
	})
}

func writeAlertsCSV(w io.Writer, alerts []alert.Alert) error {
	writer := csv.NewWriter(w)

	header := []string{
		"EmittedAt", "Exchange", "Symbol", "Side", "Kind", "MarketType",
		"Price", "Size", "DistancePct", "LifetimeSeconds", "AlertID",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, a := range alerts {
		record := []string{
			a.EmittedAt.UTC().Format(time.RFC3339),
			a.Exchange,
			a.Symbol,
			string(a.Side),
			string(a.Kind),
			string(a.MarketType),
			strconv.FormatFloat(a.Price, 'f', -1, 64),
			fmt.Sprintf("%.2f", a.Size),
			fmt.Sprintf("%.3f", a.DistancePct),
			fmt.Sprintf("%.0f", a.LifetimeSeconds),
			a.ID.String(),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// EmitCycleJSON writes the cycle summary together with the alerts it produced
func (e *Emitter) EmitCycleJSON(filePath string, summary scan.CycleSummary, alerts []alert.Alert) error {
	totals := summary.Totals()
	exchanges := make([]map[string]interface{}, 0, len(summary.Reports))
	for _, r := range summary.Reports {
		entry := map[string]interface{}{
			"exchange":    r.Exchange,
			"scanned":     r.Scanned,
			"succeeded":   r.Succeeded,
			"failed":      r.Failed,
			"skipped":     r.Skipped,
			"events":      r.Events,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		exchanges = append(exchanges, entry)
	}

	data := map[string]interface{}{
		"metadata": map[string]interface{}{
			"timestamp":   e.now().UTC(),
			"duration_ms": summary.Duration.Milliseconds(),
			"expired":     summary.Expired,
		},
		"totals": map[string]interface{}{
			"scanned":   totals.Scanned,
			"succeeded": totals.Succeeded,
			"failed":    totals.Failed,
			"skipped":   totals.Skipped,
			"events":    totals.Events,
			"alerts":    len(alerts),
		},
		"exchanges": exchanges,
		"alerts":    alerts,
	}

	return atomicio.WriteAtomic(filePath, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(data); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	})
}
