package cli

import (
	"github.com/spf13/cobra"

	"ai-viability-watch/internal/app"
	"ai-viability-watch/internal/report"
)

var (
	reportFormat string
	reportView   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the dashboard report",
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := report.ParseView(reportView)
		if err != nil {
			return err
		}
		return getApp().Report(cmd.Context(), app.ReportOptions{Format: reportFormat, View: view})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", app.FormatText, "Output format: text, markdown, html or json")
	reportCmd.Flags().StringVar(&reportView, "view", string(report.ViewDerived), "Quarterly table: raw or derived")
}
