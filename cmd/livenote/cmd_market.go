package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"livenote/internal/logging"
	"livenote/internal/market"
)

var (
	marketDoc      string
	marketInterval string
	marketRange    string
	marketJSON     bool
	marketMaxAge   time.Duration
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Inspect and maintain the market-data cache",
	Long: `Market data is cached per note folder (in .market-data/, or the sqlite
database when market.cache_backend is sqlite). --doc selects the folder by
naming any note in it.`,
}

var marketGetCmd = &cobra.Command{
	Use:   "get [symbol]",
	Short: "Fetch a series through the cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketGet,
}

var marketStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the cache holds",
	Args:  cobra.NoArgs,
	RunE:  runMarketStats,
}

var marketCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove symbols not updated recently",
	Args:  cobra.NoArgs,
	RunE:  runMarketCleanup,
}

func init() {
	marketCmd.PersistentFlags().StringVar(&marketDoc, "doc", "index.md", "Note whose folder cache to use")
	marketCmd.PersistentFlags().BoolVar(&marketJSON, "json", false, "Print JSON")
	marketGetCmd.Flags().StringVar(&marketInterval, "interval", "daily", "Interval: 1min, 5min, 15min, 30min, 60min, daily")
	marketGetCmd.Flags().StringVar(&marketRange, "range", "1mo", "Range: 1d, 5d, 1w, 1mo, 3mo, 6mo, 1y or a duration")
	marketCleanupCmd.Flags().DurationVar(&marketMaxAge, "max-age", 7*24*time.Hour, "Remove symbols older than this")

	marketCmd.AddCommand(marketGetCmd)
	marketCmd.AddCommand(marketStatsCmd)
	marketCmd.AddCommand(marketCleanupCmd)
}

var (
	marketHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	marketDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func openMarket() (*market.Stores, market.Store, string, error) {
	doc, err := docArg(marketDoc)
	if err != nil {
		return nil, nil, "", err
	}
	stores, err := market.OpenStores(vaultDir, cfg.Market)
	if err != nil {
		return nil, nil, "", err
	}
	return stores, stores.For(doc), doc, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMarketGet(cmd *cobra.Command, args []string) error {
	interval, err := market.ParseInterval(marketInterval)
	if err != nil {
		return err
	}
	req, err := market.RangeRequest(args[0], interval, marketRange, time.Now())
	if err != nil {
		return err
	}
	if !cfg.HasMarketKeys() {
		logger.Warn("no provider keys configured; only cached data can be served")
	}

	stores, store, _, err := openMarket()
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := commandContext(timeout)
	defer cancel()

	svc := market.NewServiceFromConfig(cfg)
	start := time.Now()
	candles, err := svc.GetSeries(ctx, req, store)
	if err != nil {
		return err
	}
	logger.Debug("series resolved", zap.String("request", req.String()),
		zap.Int("candles", len(candles)), zap.Duration("took", time.Since(start)))

	if marketJSON {
		return printJSON(cmd, candles)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, marketHeader.Render(fmt.Sprintf("%s %s (%d candles)", req.Symbol, req.Interval, len(candles))))
	layout := "2006-01-02 15:04"
	if interval == market.IntervalDaily {
		layout = "2006-01-02"
	}
	fmt.Fprintln(out, marketDim.Render(fmt.Sprintf("%-17s %10s %10s %10s %10s %12s", "time", "open", "high", "low", "close", "volume")))
	for _, c := range candles {
		fmt.Fprintf(out, "%-17s %10.2f %10.2f %10.2f %10.2f %12.0f\n",
			time.UnixMilli(c.Time).UTC().Format(layout), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return nil
}

func runMarketStats(cmd *cobra.Command, args []string) error {
	stores, store, _, err := openMarket()
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := commandContext(timeout)
	defer cancel()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	info := store.Info(ctx)
	if marketJSON {
		return printJSON(cmd, map[string]interface{}{"info": info, "stats": stats})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, marketHeader.Render("Cache "+info.BasePath))
	fmt.Fprintf(out, "initialized: %v\nfiles: %d\nsize: %d bytes\nsymbols: %d\n",
		info.Initialized, stats.FileCount, stats.TotalSize, stats.SymbolCount)

	symbols := make([]string, 0, len(stats.Symbols))
	for s := range stats.Symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		st := stats.Symbols[s]
		intervals := make([]string, len(st.Intervals))
		for i, iv := range st.Intervals {
			intervals[i] = string(iv)
		}
		updated := "never"
		if st.LastUpdated > 0 {
			updated = time.UnixMilli(st.LastUpdated).Format(time.RFC3339)
		}
		fmt.Fprintf(out, "  %-8s %-30s %s\n", s, strings.Join(intervals, ","), marketDim.Render(updated))
	}
	return nil
}

func runMarketCleanup(cmd *cobra.Command, args []string) error {
	stores, store, doc, err := openMarket()
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := commandContext(timeout)
	defer cancel()

	removed, err := store.Cleanup(ctx, marketMaxAge)
	logging.AuditFor(doc).Log(logging.AuditEvent{
		EventType: logging.AuditCacheCleanup,
		Block:     -1,
		Target:    strings.Join(removed, ","),
		Success:   err == nil,
		Error:     errString(err),
		Message:   fmt.Sprintf("max age %v", marketMaxAge),
	})
	if err != nil {
		return err
	}
	if marketJSON {
		return printJSON(cmd, map[string]interface{}{"removed": removed})
	}
	if len(removed) == 0 {
		cmd.Println("Nothing to clean up")
		return nil
	}
	cmd.Printf("Removed %d symbols: %s\n", len(removed), strings.Join(removed, ", "))
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
