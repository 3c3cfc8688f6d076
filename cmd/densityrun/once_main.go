package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/interfaces/output"
	applog "github.com/sawpanic/densityrun/internal/log"
	"github.com/sawpanic/densityrun/internal/notify"
	"github.com/sawpanic/densityrun/internal/scan"
)

func runOnce(cmd *cobra.Command, args []string) error {
	send, _ := cmd.Flags().GetBool("send")
	csvPath, _ := cmd.Flags().GetString("csv")
	jsonPath, _ := cmd.Flags().GetString("json")
	progressMode, _ := cmd.Flags().GetString("progress")

	showProgress := term.IsTerminal(int(os.Stdout.Fd()))
	switch progressMode {
	case "on":
		showProgress = true
	case "off":
		showProgress = false
	case "auto":
	default:
		return fmt.Errorf("invalid progress mode %q (auto|on|off)", progressMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := applog.NewProgress("Scanning", cmd.OutOrStdout(), showProgress)
	a, err := newApp(cfg, appOptions{Progress: progress})
	if err != nil {
		return err
	}
	defer a.close()

	var dispatcher *notify.Dispatcher
	if send {
		sinks, err := a.buildSinks(ctx)
		if err != nil {
			return err
		}
		dispatcher = a.dispatcher(sinks)
	}

	summary := scan.NewOrchestrator(a.coordinators, a.engine, 0, a.metrics).RunOnce(ctx)
	current, _ := progress.Counts()
	if ctx.Err() != nil {
		progress.Fail("interrupted")
	} else {
		progress.Finish(fmt.Sprintf("%d symbols", current))
	}

	a.engine.Close()
	var alerts []alert.Alert
	for al := range a.engine.Alerts() {
		alerts = append(alerts, al)
		if dispatcher != nil {
			dispatcher.Dispatch(ctx, al)
		}
	}

	printCycle(cmd.OutOrStdout(), summary, alerts)

	emitter := output.NewEmitter()
	if csvPath != "" {
		if err := emitter.EmitAlertsCSV(csvPath, alerts); err != nil {
			return err
		}
	}
	if jsonPath != "" {
		if err := emitter.EmitCycleJSON(jsonPath, summary, alerts); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// printCycle renders per-exchange results and the accepted alerts as tables
func printCycle(w io.Writer, summary scan.CycleSummary, alerts []alert.Alert) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXCHANGE\tSCANNED\tOK\tFAILED\tSKIPPED\tDENSITIES\tDURATION\tERROR")
	for _, r := range summary.Reports {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%v\t%s\n",
			r.Exchange, r.Scanned, r.Succeeded, r.Failed, r.Skipped, r.Events, r.Duration.Round(time.Millisecond), errText)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d alerts\n", len(alerts))
	if len(alerts) == 0 {
		return
	}

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tEXCHANGE\tSYMBOL\tSIDE\tPRICE\tSIZE\tDISTANCE\tLIFETIME")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f%%\t%s\n",
			a.Kind, notify.ExchangeLabel(a.Exchange), a.Symbol, a.Side,
			notify.FormatPrice(a.Price), notify.FormatSize(a.Size), a.DistancePct,
			notify.FormatLifetime(a.Lifetime()))
	}
	tw.Flush()
}
