package cmd

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/perptrader/engine"
	"github.com/rustyeddy/perptrader/logging"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the risk engine",
	Long: `Run the engine until interrupted. Each cycle marks open positions,
closes those whose stop-loss or take-profit was hit, records an equity
snapshot and applies any new signal decisions.

LIVE mode needs venue credentials in the environment; without them the
engine falls back to PAPER trading. On SIGINT or SIGTERM every open
position is closed before exit.

Example:
  perptrader run -c perptrader.yaml`,
	RunE: runRun,
}

var runMode string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "override trading.mode (PAPER or LIVE)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMode != "" {
		cfg.Trading.Mode = runMode
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, err := buildExecutor(cfg, log)
	if err != nil {
		return fmt.Errorf("execution adapter: %w", err)
	}

	prices, closePrices, err := buildPrices(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("prices: %w", err)
	}
	defer closePrices()

	j, err := buildJournal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer j.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	interval, _ := cfg.Trading.IntervalDuration()
	shutdown, _ := cfg.Trading.ShutdownDuration()

	var vol *market.Volatility
	if cfg.Trading.VolatilityWindow > 0 {
		vol = market.NewVolatility(cfg.Trading.VolatilityWindow)
	}

	eng, err := engine.New(engine.Deps{
		Policy:            cfg.Risk.Policy(),
		Limits:            cfg.Risk.Limits(),
		InitialCapital:    cfg.Account.InitialCapital,
		Executor:          exec,
		Prices:            prices,
		Journal:           j,
		Metrics:           metrics,
		Logger:            log,
		DefaultVolatility: cfg.Trading.DefaultVolatility,
		Volatility:        vol,
		Watch:             cfg.Trading.Symbols,
		MaxSizeRetries:    cfg.Trading.MaxSizeRetries,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	src, stopSource := buildSource(ctx, cfg, log)
	defer stopSource()

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  server.DefaultConfig().ReadTimeout,
			WriteTimeout: server.DefaultConfig().WriteTimeout,
			IdleTimeout:  server.DefaultConfig().IdleTimeout,
		}, eng, reg, log)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	fmt.Printf("Running perptrader\n")
	fmt.Printf("  Session: %s\n", eng.SessionID())
	fmt.Printf("  Mode: %s\n", eng.Mode())
	if exec.FellBack() {
		fmt.Printf("  ! LIVE requested without venue credentials, trading on paper\n")
	}
	fmt.Printf("  Capital: $%.2f\n", cfg.Account.InitialCapital)
	fmt.Printf("  Interval: %s\n\n", interval)

	runner := &engine.Runner{
		Engine:          eng,
		Source:          src,
		Interval:        interval,
		Log:             log,
		ShutdownTimeout: shutdown,
	}
	runErr := runner.Run(ctx)

	m := eng.RiskMetrics()
	fmt.Printf("\nSession Complete!\n")
	fmt.Printf("  Capital: $%.2f (peak $%.2f)\n", m.CurrentCapital, m.PeakCapital)
	fmt.Printf("  Realized PnL: $%.2f\n", m.RealizedPnL)
	fmt.Printf("  Drawdown: %.2f%%\n", m.Drawdown*100)
	fmt.Printf("  Open positions: %d\n", m.NumPositions)
	return runErr
}
