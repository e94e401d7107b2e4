package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateMetric string
	simulateValue  float64
	simulateSpread bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次指标取值并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMetric == "" && !simulateSpread {
			return errors.New("--metric 或 --spread 必须指定其一")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateMetric, decimal.NewFromFloat(simulateValue), simulateSpread)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMetric, "metric", "", "指标名称")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "指标取值 (spread 模式下为 bps)")
	simulateCmd.Flags().BoolVar(&simulateSpread, "spread", false, "将 value 视为 CDS 利差并换算违约概率")
}
