package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ai-viability-watch/internal/app"
)

var (
	pdSpread   string
	pdRecovery float64
	pdHorizon  int

	classifyMetric string
	classifyValue  float64
)

var pdCmd = &cobra.Command{
	Use:   "pd",
	Short: "Convert a CDS spread (bps) into a cumulative default probability",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.DefaultProbabilityOptions{HorizonYears: pdHorizon}
		if pdSpread != "" {
			spread, err := decimal.NewFromString(pdSpread)
			if err != nil {
				return fmt.Errorf("invalid --spread value: %w", err)
			}
			opts.Spread = decimal.NewNullDecimal(spread)
		}
		if cmd.Flags().Changed("recovery") {
			opts.RecoveryRate = &pdRecovery
		}
		if cmd.Flags().Changed("horizon") && pdHorizon == 0 {
			return fmt.Errorf("--horizon must be positive")
		}
		return getApp().DefaultProbability(opts)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label a metric value with the configured thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if classifyMetric == "" {
			return fmt.Errorf("--metric is required")
		}
		if !cmd.Flags().Changed("value") {
			return fmt.Errorf("--value is required")
		}
		return getApp().Classify(classifyMetric, classifyValue)
	},
}

func init() {
	pdCmd.Flags().StringVar(&pdSpread, "spread", "", "Spread in basis points")
	pdCmd.Flags().Float64Var(&pdRecovery, "recovery", 0, "Recovery rate in [0,1) (defaults to config)")
	pdCmd.Flags().IntVar(&pdHorizon, "horizon", 0, "Horizon in years (defaults to config)")

	classifyCmd.Flags().StringVar(&classifyMetric, "metric", "", "Metric name (utilization, inference_margin, token_growth, default_probability)")
	classifyCmd.Flags().Float64Var(&classifyValue, "value", 0, "Metric value")
}
