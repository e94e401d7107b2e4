package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/report"
)

// Report prints the dashboard in the requested format.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	rep, err := a.buildReport(ctx)
	if err != nil {
		return err
	}

	switch opts.Format {
	case "", FormatText:
		return report.WriteText(a.out(), rep, opts.View)
	case FormatMarkdown:
		_, err = a.out().Write(report.Markdown(rep, opts.View))
	case FormatHTML:
		_, err = a.out().Write(report.HTML(rep, opts.View))
	case FormatJSON:
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		err = enc.Encode(rep)
	default:
		return fmt.Errorf("unknown format %q (want text, markdown, html or json)", opts.Format)
	}
	return err
}

// DefaultProbabilityOptions configure the pd command. Zero recovery and
// horizon fall back to configuration.
type DefaultProbabilityOptions struct {
	Spread       decimal.NullDecimal
	RecoveryRate *float64
	HorizonYears int
}

// DefaultProbability prints the cumulative default probability of a spread.
func (a *App) DefaultProbability(opts DefaultProbabilityOptions) error {
	recovery := a.Config.Credit.RecoveryRate
	if opts.RecoveryRate != nil {
		recovery = *opts.RecoveryRate
	}
	horizon := a.Config.Credit.HorizonYears
	if opts.HorizonYears != 0 {
		horizon = opts.HorizonYears
	}

	pct, err := credit.DefaultProbability(opts.Spread, recovery, horizon)
	if err != nil {
		return err
	}
	if !pct.Valid {
		a.printf("no signal (spread absent or negative)\n")
		return nil
	}

	hazard := credit.HazardRate(opts.Spread.Decimal, recovery)
	a.printf("spread: %s bps\nrecovery: %.2f\nhorizon: %dy\nhazard: %.4f\ndefault probability: %s%%\n",
		opts.Spread.Decimal.String(), recovery, horizon, hazard, pct.Decimal.StringFixed(1))
	return nil
}

// Classify prints the label of a metric value.
func (a *App) Classify(metric string, value float64) error {
	res, err := a.Config.RuleTable().Classify(classify.Sample{Name: metric, Value: value})
	if err != nil {
		return err
	}
	a.printf("%s = %v %s: %s (%s)\n", res.Metric, res.Value, res.Unit, res.Label, res.Severity)
	return nil
}
