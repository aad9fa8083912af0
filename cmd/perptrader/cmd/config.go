package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perptrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Secrets are never written to or read from the file. Set them in the
environment or the dotenv file:
  ` + config.EnvVenueAddress + `
  ` + config.EnvVenueSecret + `
  ` + config.EnvRedisAddr + `
  ` + config.EnvPostgresDSN + `

Examples:
  perptrader config init -o perptrader.yaml
  perptrader config validate -f perptrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "perptrader.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  perptrader run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	p := cfg.Risk.Policy()
	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Mode: %s  Capital: $%.2f %s\n", strings.ToUpper(cfg.Trading.Mode), cfg.Account.InitialCapital, cfg.Account.Currency)
	fmt.Printf("  Symbols: %s\n", strings.Join(cfg.Trading.Symbols, ", "))
	fmt.Printf("  Per symbol: %.0f%%  Total: %.0f%%  Leverage: %dx (max %s)\n",
		p.MaxPositionPerSymbol*100, p.MaxTotalPosition*100, p.DefaultLeverage, maxLeverageLabel(p.MaxLeverage))
	fmt.Printf("  Stop loss: %.1f%%  Take profit: %.1f%%\n", p.StopLossPct*100, p.TakeProfitPct*100)
	fmt.Printf("  Max drawdown: %.0f%%  Max daily loss: %.0f%%\n", cfg.Risk.MaxDrawdown*100, cfg.Risk.MaxDailyLoss*100)
	fmt.Printf("  Prices: %s  Signals: %s  Journal: %s\n", cfg.Prices.Type, cfg.Signals.Type, cfg.Journal.Type)
	if cfg.Venue.Secret == "" {
		fmt.Printf("  Venue credentials: not set (LIVE falls back to PAPER)\n")
	} else {
		fmt.Printf("  Venue credentials: set\n")
	}
	return nil
}

func maxLeverageLabel(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%dx", n)
}
