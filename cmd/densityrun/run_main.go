package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/sawpanic/densityrun/internal/interfaces/http"
	"github.com/sawpanic/densityrun/internal/scan"
)

// drainTimeout bounds how long queued alerts are delivered after shutdown starts
const drainTimeout = 15 * time.Second

func runScanner(cmd *cobra.Command, args []string) error {
	noHTTP, _ := cmd.Flags().GetBool("no-http")
	noStream, _ := cmd.Flags().GetBool("no-stream")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	sinks, err := a.buildSinks(ctx)
	if err != nil {
		return err
	}
	dispatcher := a.dispatcher(sinks)

	log.Info().
		Str("version", version).
		Strs("exchanges", a.exchanges()).
		Strs("sinks", dispatcher.Sinks()).
		Dur("interval", cfg.ScanInterval()).
		Msg("Starting " + appName)

	// The dispatcher outlives the scan context so queued alerts are drained
	// after the engine closes its channel.
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	dispatched := make(chan error, 1)
	go func() { dispatched <- dispatcher.Run(dispatchCtx, a.engine.Alerts()) }()

	g, gctx := errgroup.WithContext(ctx)

	orchestrator := scan.NewOrchestrator(a.coordinators, a.engine, cfg.ScanInterval(), a.metrics)
	g.Go(func() error { return orchestrator.Run(gctx) })

	if cfg.Stream.Enabled && !noStream {
		opts := scan.StreamOptionsFromConfig(cfg.Stream)
		for _, c := range a.coordinators {
			w, ok := scan.NewWatcher(c, opts)
			if !ok {
				continue
			}
			g.Go(func() error {
				if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
	}

	if cfg.HTTP.Enabled && !noHTTP {
		server := httpapi.NewServer(httpapi.DefaultServerConfig(cfg.HTTP.Host, cfg.HTTP.Port), httpapi.Deps{
			Engine:    a.engine,
			Cache:     a.cache,
			Breakers:  a.breakers,
			Limiter:   a.limiter,
			Metrics:   a.metrics,
			Journal:   a.journal,
			JournalDB: a.journalDB,
			Exchanges: a.exchanges(),
			Version:   version,
		})
		g.Go(func() error { return server.Run(gctx) })
	}

	runErr := g.Wait()
	log.Info().Msg("Shutting down, draining queued alerts")

	a.engine.Close()
	select {
	case <-dispatched:
	case <-time.After(drainTimeout):
		log.Warn().Dur("timeout", drainTimeout).Msg("Alert drain timed out")
		cancelDispatch()
		<-dispatched
	}

	summary := a.metrics.Summary()
	log.Info().
		Float64("symbol_scans", summary.SymbolScans).
		Float64("alerts_emitted", summary.AlertsEmitted).
		Float64("alerts_dropped", summary.AlertsDropped).
		Msg(appName + " stopped")
	return runErr
}
