package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ai-viability-watch/internal/app"
)

var (
	exportCSVPath   string
	exportPNGDir    string
	exportDelimiter string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the report as CSV and/or PNG charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath: exportCSVPath,
			PNGDir:  exportPNGDir,
		}

		if exportDelimiter != "" {
			d := []rune(exportDelimiter)
			if len(d) != 1 {
				return fmt.Errorf("--delimiter must be a single character")
			}
			opts.Delimiter = d[0]
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportPNGDir, "png-dir", "", "Directory to write PNG charts")
	exportCmd.Flags().StringVar(&exportDelimiter, "delimiter", "", "CSV delimiter (defaults to config)")
}
