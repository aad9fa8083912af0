package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perptrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display closed trades and equity snapshots.

The journal is the --db SQLite file when given, otherwise the SQLite or
PostgreSQL journal named in the config.

Subcommands:
  trade  - Get details of a specific trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day
  equity - List equity snapshots for a day

Examples:
  perptrader journal trade 01HV6Z3J8X9Y0Q7W2M4N5P6R7S
  perptrader journal today
  perptrader journal day 2025-03-10 --db ./journal.db`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity [YYYY-MM-DD]",
	Short: "List equity snapshots for a day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalEquity,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalEquityCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	r, closeFn, err := openReader(context.Background(), journalDBPath)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := r.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	fmt.Printf("Trade %s\n", rec.TradeID)
	fmt.Printf("  %s %s %.6f @ %dx\n", rec.Side, rec.Symbol, rec.Size, rec.Leverage)
	fmt.Printf("  Entry: %.2f  %s\n", rec.EntryPrice, rec.OpenTime.Local().Format(time.DateTime))
	fmt.Printf("  Exit:  %.2f  %s\n", rec.ExitPrice, rec.CloseTime.Local().Format(time.DateTime))
	fmt.Printf("  PnL:   $%.2f\n", rec.RealizedPnL)
	fmt.Printf("  Reason: %s\n", rec.Reason)
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return listTradesForDay(time.Now().In(time.Local).Format(time.DateOnly))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listTradesForDay(args[0])
}

func listTradesForDay(day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	r, closeFn, err := openReader(context.Background(), journalDBPath)
	if err != nil {
		return err
	}
	defer closeFn()

	recs, err := r.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printTrades(recs)
	return nil
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	day := time.Now().In(time.Local).Format(time.DateOnly)
	if len(args) == 1 {
		day = args[0]
	}
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	r, closeFn, err := openReader(context.Background(), journalDBPath)
	if err != nil {
		return err
	}
	defer closeFn()

	snaps, err := r.ListEquityBetween(start, end)
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCAPITAL\tUNREALIZED\tREALIZED\tDRAWDOWN\tPOSITIONS")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f%%\t%d\n",
			s.Time.Local().Format(time.TimeOnly), s.Capital, s.UnrealizedPnL, s.RealizedPnL, s.Drawdown*100, s.NumPositions)
	}
	return w.Flush()
}

func printTrades(recs []journal.TradeRecord) {
	if len(recs) == 0 {
		fmt.Println("No trades.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLOSED\tSYMBOL\tSIDE\tSIZE\tLEV\tENTRY\tEXIT\tPNL\tREASON")
	for _, t := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6f\t%dx\t%.2f\t%.2f\t%.2f\t%s\n",
			t.CloseTime.Local().Format(time.TimeOnly), t.Symbol, t.Side, t.Size, t.Leverage,
			t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.Reason)
	}
	w.Flush()

	s := journal.Summarize(recs)
	fmt.Printf("\n%d trades, %d wins, %d losses, net $%.2f", s.Trades, s.Wins, s.Losses, s.NetPnL)
	if s.ProfitFactor > 0 {
		fmt.Printf(", profit factor %.2f", s.ProfitFactor)
	}
	fmt.Println()
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
