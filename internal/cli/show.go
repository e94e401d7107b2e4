package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ai-viability-watch/internal/app"
)

var (
	showLimit  int
	showSince  time.Duration
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display cached live observations or alert history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showSince < 0 {
			return fmt.Errorf("--since cannot be negative")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Since:  showSince,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().DurationVar(&showSince, "since", 0, "Show observations within this window instead of the latest --limit")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show alert records instead of observations")
}
