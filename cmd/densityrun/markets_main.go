package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func runMarkets(cmd *cobra.Command, args []string) error {
	exchange := args[0]
	if ex, ok := cfg.Exchanges[exchange]; !ok || !ex.IsEnabled() {
		return fmt.Errorf("exchange %q is not enabled (enabled: %v)", exchange, cfg.EnabledExchanges())
	}

	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	symbols, err := a.cache.Symbols(cmd.Context(), exchange)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tTYPE\tCONTRACT\tMIN_SIZE\tDISTANCE\tDEPTH\tTIER\tSTATUS")
	skipped := 0
	for _, sym := range symbols {
		status := "scan"
		if cfg.IsBlacklisted(exchange, sym) {
			status = "blacklisted"
			skipped++
		}
		m, _, err := a.cache.Market(cmd.Context(), exchange, sym)
		if err != nil {
			return err
		}
		size, err := a.cache.ContractSize(cmd.Context(), exchange, sym)
		if err != nil {
			return err
		}
		th := cfg.ResolveThreshold(exchange, sym)
		fmt.Fprintf(tw, "%s\t%s\t%g\t%.0f\t%.2f%%\t%d\t%s\t%s\n",
			sym, m.Type, size, th.MinSize, th.DistancePct, th.Depth, th.Tier, status)
	}
	tw.Flush()

	fmt.Fprintf(out, "\n%d symbols, %d blacklisted\n", len(symbols), skipped)
	return nil
}
