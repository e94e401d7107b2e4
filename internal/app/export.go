package app

import (
	"context"
	"errors"
	"path/filepath"

	"ai-viability-watch/internal/report"
)

// Export renders the report as CSV and/or PNG charts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGDir == "" {
		opts.CSVPath = filepath.Join(a.Config.Export.Dir, "aiwatch.csv")
		opts.PNGDir = a.Config.Export.Dir
	}
	if opts.Delimiter == 0 {
		if d := []rune(a.Config.Export.Delimiter); len(d) == 1 {
			opts.Delimiter = d[0]
		}
	}
	if opts.Delimiter == '\n' || opts.Delimiter == '"' {
		return errors.New("delimiter cannot be a newline or quote")
	}

	rep, err := a.buildReport(ctx)
	if err != nil {
		return err
	}

	if opts.CSVPath != "" {
		if err := report.WriteCSVFile(opts.CSVPath, rep, opts.Delimiter); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("rows", len(rep.Quarters)).Msg("csv exported")
	}

	if opts.PNGDir != "" {
		paths, err := report.WriteCharts(opts.PNGDir, rep)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("dir", opts.PNGDir).Strs("charts", paths).Msg("charts exported")
	}

	return nil
}
