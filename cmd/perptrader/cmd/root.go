package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rustyeddy/perptrader/config"
)

var rootCmd = &cobra.Command{
	Use:   "perptrader",
	Short: "Risk and position management for leveraged perpetual futures",
	Long: `Perptrader sits between a source of trading signals and a perpetual
futures venue. It sizes and validates every trade against exposure and
leverage limits, tracks capital and drawdown, and closes positions when
their stop-loss or take-profit is hit.

It provides tools for:
  - Running the engine in PAPER or LIVE mode
  - Checking a prospective trade against the risk policy
  - Generating and validating configuration files
  - Querying the trade journal and equity history`,
	SilenceUsage: true,
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetGlobalNormalizationFunc(dashedFlags)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with venue and database secrets")
}

// loadConfig reads the dotenv file and then the config file, or the
// defaults when none was given.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}

	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// dashedFlags lets --max_size and --max-size name the same flag.
func dashedFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
