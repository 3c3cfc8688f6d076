package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/densityrun/internal/secrets"
)

// runConfigValidate reports the loaded configuration; loading already validated it
func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	global := cfg.Thresholds.Default

	fmt.Fprintln(out, "✅ Configuration is valid")
	fmt.Fprintf(out, "  Exchanges:        %s\n", strings.Join(cfg.EnabledExchanges(), ", "))
	fmt.Fprintf(out, "  Scan interval:    %v\n", cfg.ScanInterval())
	fmt.Fprintf(out, "  Market TTL:       %v\n", cfg.MarketTTL())
	fmt.Fprintf(out, "  Default threshold: min_size=%.0f distance=%.2f%% depth=%d\n", global.MinSize, global.DistancePct, global.Depth)
	fmt.Fprintf(out, "  Ticker overrides: %d\n", len(cfg.Thresholds.Tickers))
	fmt.Fprintf(out, "  Priority tickers: %s\n", strings.Join(cfg.PriorityTickers, ", "))
	fmt.Fprintf(out, "  Blacklist:        %s\n", strings.Join(cfg.Blacklist, ", "))
	fmt.Fprintf(out, "  Alerts:           enabled=%t first_sighting=%s cooldown=%v\n", cfg.Alerts.Enabled, cfg.Alerts.FirstSighting, cfg.Cooldown())
	fmt.Fprintf(out, "  Streaming:        enabled=%t max_per_exchange=%d\n", cfg.Stream.Enabled, cfg.Stream.MaxPerExchange)
	fmt.Fprintf(out, "  Sinks:            %s\n", strings.Join(configuredSinks(), ", "))
	return nil
}

// runConfigShow prints the effective configuration with secrets masked
func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.Notify.Telegram.Token != "" {
		shown.Notify.Telegram.Token = "[REDACTED]"
	}
	shown.Notify.Postgres.DSN = secrets.Redact(shown.Notify.Postgres.DSN)
	shown.Notify.Redis.Addr = secrets.Redact(shown.Notify.Redis.Addr)

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&shown)
}

func configuredSinks() []string {
	var sinks []string
	n := cfg.Notify
	if n.Log {
		sinks = append(sinks, "log")
	}
	if n.Telegram.Token != "" {
		sinks = append(sinks, "telegram")
	}
	if n.Redis.Addr != "" {
		sinks = append(sinks, "redis")
	}
	if n.Postgres.DSN != "" {
		sinks = append(sinks, "journal")
	}
	if len(sinks) == 0 {
		return []string{"none"}
	}
	return sinks
}
