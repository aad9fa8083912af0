package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perptrader/risk"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Check trades against the risk policy",
	Long: `Evaluate a prospective trade offline using the configured policy.

Subcommands:
  check - Validate a trade against exposure and leverage limits
  size  - Compute the position size for a signal

Examples:
  perptrader risk check --symbol BTC --size 0.1 --price 50000 --leverage 5
  perptrader risk size --symbol ETH --price 3000 --confidence 0.8`,
}

var riskCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a trade against the risk policy",
	RunE:  runRiskCheck,
}

var riskSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Compute position size, stop-loss and take-profit",
	RunE:  runRiskSize,
}

var (
	rkSymbol       string
	rkSize         float64
	rkPrice        float64
	rkLeverage     int
	rkCapital      float64
	rkOpenNotional float64
	rkDisabled     bool
	rkConfidence   float64
	rkVolatility   float64
	rkShort        bool
)

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.AddCommand(riskCheckCmd)
	riskCmd.AddCommand(riskSizeCmd)

	riskCmd.PersistentFlags().StringVarP(&rkSymbol, "symbol", "s", "BTC", "symbol")
	riskCmd.PersistentFlags().Float64VarP(&rkPrice, "price", "p", 0, "entry price (required)")
	riskCmd.PersistentFlags().Float64Var(&rkCapital, "capital", 0, "current capital (default: account.initial_capital)")

	riskCheckCmd.Flags().Float64Var(&rkSize, "size", 0, "size in base units (required)")
	riskCheckCmd.Flags().IntVarP(&rkLeverage, "leverage", "l", 0, "leverage (default: policy default)")
	riskCheckCmd.Flags().Float64Var(&rkOpenNotional, "open", 0, "notional already open across all symbols")
	riskCheckCmd.Flags().BoolVar(&rkDisabled, "disabled", false, "evaluate as if the risk latch had tripped")
	riskCheckCmd.MarkFlagRequired("size")

	riskSizeCmd.Flags().Float64Var(&rkConfidence, "confidence", 1, "signal confidence in [0,1]")
	riskSizeCmd.Flags().Float64Var(&rkVolatility, "volatility", 0, "volatility estimate, damps the size")
	riskSizeCmd.Flags().BoolVar(&rkShort, "short", false, "size a short position")

	riskCmd.MarkPersistentFlagRequired("price")
}

func riskInputs() (*risk.Validator, float64, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	capital := rkCapital
	if capital <= 0 {
		capital = cfg.Account.InitialCapital
	}
	return risk.NewValidator(cfg.Risk.Policy()), capital, nil
}

func runRiskCheck(cmd *cobra.Command, args []string) error {
	v, capital, err := riskInputs()
	if err != nil {
		return err
	}

	lev := rkLeverage
	if lev == 0 {
		lev = v.Leverage(nil)
	}
	d := v.Validate(
		risk.TradeIntent{Symbol: strings.ToUpper(rkSymbol), Size: rkSize, Price: rkPrice, Leverage: lev},
		risk.Exposure{CurrentCapital: capital, OpenNotional: rkOpenNotional, TradingEnabled: !rkDisabled},
	)

	if d.Allowed {
		fmt.Printf("✓ %s %.6f @ %.2f (%dx) allowed\n", strings.ToUpper(rkSymbol), rkSize, rkPrice, lev)
	} else {
		fmt.Printf("✗ %s %.6f @ %.2f (%dx) rejected: %s\n", strings.ToUpper(rkSymbol), rkSize, rkPrice, lev, d.Code)
	}
	fmt.Printf("  Reason: %s\n", d.Reason)
	fmt.Printf("  Notional: $%.2f of $%.2f per symbol\n", d.Notional, capital*v.Policy.MaxPositionPerSymbol)
	if d.TotalNotional > 0 {
		fmt.Printf("  Total: $%.2f of $%.2f\n", d.TotalNotional, capital*v.Policy.MaxTotalPosition)
	}
	return nil
}

func runRiskSize(cmd *cobra.Command, args []string) error {
	v, capital, err := riskInputs()
	if err != nil {
		return err
	}
	if rkPrice <= 0 {
		return fmt.Errorf("price must be positive")
	}

	long := !rkShort
	size := v.PositionSize(capital, rkPrice, rkConfidence, rkVolatility)
	sl := v.StopLoss(rkPrice, long)
	tp := v.TakeProfit(rkPrice, long)

	side := "LONG"
	if !long {
		side = "SHORT"
	}
	fmt.Printf("%s %s @ %.2f\n", side, strings.ToUpper(rkSymbol), rkPrice)
	fmt.Printf("  Size: %.6f (notional $%.2f)\n", size, size*rkPrice)
	fmt.Printf("  Leverage: %dx\n", v.Leverage(nil))
	fmt.Printf("  Stop loss: %.2f\n", sl)
	fmt.Printf("  Take profit: %.2f\n", tp)
	fmt.Printf("  Reward/risk: %.2f\n", risk.RewardRisk(rkPrice, sl, tp))
	return nil
}
