// Package report assembles the dashboard from the curated dataset, the
// credit estimator and the live observation cache, and renders it as text,
// Markdown, HTML, CSV and PNG charts.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/dataset"
	"ai-viability-watch/internal/storage"
)

// View selects which quarterly table a rendering shows.
type View string

const (
	ViewRaw     View = "raw"
	ViewDerived View = "derived"
)

// ParseView maps user input to a View. Empty input means derived.
func ParseView(v string) (View, error) {
	switch View(v) {
	case "", ViewDerived:
		return ViewDerived, nil
	case ViewRaw:
		return ViewRaw, nil
	}
	return "", fmt.Errorf("unknown view %q (want raw or derived)", v)
}

// Derived holds the per-quarter figures computed from raw inputs.
type Derived struct {
	Period        string  `json:"period"`
	ProfitGapB    float64 `json:"profit_gap_b"`
	MarginRatio   float64 `json:"margin_ratio"`
	CapExPerUtil  float64 `json:"capex_per_utilization_pt"`
	PriceSpreadPM float64 `json:"price_spread_per_m"`
}

// Signal is one early-warning indicator with its classification.
type Signal struct {
	Name   string          `json:"name"`
	Period string          `json:"period"`
	Result classify.Result `json:"result"`
}

// CreditSeries is the spread history of one entity and its implied default
// probabilities.
type CreditSeries struct {
	Entity     string                            `json:"entity"`
	Instrument string                            `json:"instrument"`
	Spreads    []credit.SpreadObservation        `json:"spreads"`
	Default    []credit.DefaultProbabilityResult `json:"default_probability"`
}

// Report is the full dashboard payload.
type Report struct {
	ID           string                `json:"id"`
	GeneratedAt  time.Time             `json:"generated_at"`
	Title        string                `json:"title"`
	AsOf         string                `json:"as_of"`
	Sources      []string              `json:"sources"`
	RecoveryRate float64               `json:"recovery_rate"`
	HorizonYears int                   `json:"horizon_years"`
	Quarters     []dataset.Quarter     `json:"quarters"`
	Derived      []Derived             `json:"derived"`
	Pricing      []dataset.ModelPrice  `json:"pricing"`
	Signals      []Signal              `json:"signals"`
	Credit       []CreditSeries        `json:"credit"`
	Summaries    []Summary             `json:"summaries"`
	Live         []storage.Observation `json:"live"`
}

// Builder derives reports. It holds no mutable state and may be shared.
type Builder struct {
	table     classify.Table
	estimator credit.Estimator
	now       func() time.Time
}

// NewBuilder constructs a report builder.
func NewBuilder(table classify.Table, estimator credit.Estimator) *Builder {
	return &Builder{
		table:     table,
		estimator: estimator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles a report. live may be nil.
func (b *Builder) Build(ds *dataset.Dataset, live []storage.Observation) (*Report, error) {
	if ds == nil {
		return nil, fmt.Errorf("build report: dataset is nil")
	}

	rep := &Report{
		ID:           uuid.NewString(),
		GeneratedAt:  b.now(),
		Title:        ds.Title,
		AsOf:         ds.AsOf,
		Sources:      ds.Sources,
		RecoveryRate: b.estimator.RecoveryRate,
		HorizonYears: b.estimator.HorizonYears,
		Quarters:     ds.Quarters,
		Pricing:      ds.Pricing,
		Live:         live,
	}

	for _, q := range ds.Quarters {
		rep.Derived = append(rep.Derived, derive(q))
	}

	for _, series := range ds.Spreads {
		spreads := series.Observations()
		pd, err := b.estimator.Series(spreads)
		if err != nil {
			return nil, fmt.Errorf("credit series %s: %w", series.Entity, err)
		}
		rep.Credit = append(rep.Credit, CreditSeries{
			Entity:     series.Entity,
			Instrument: series.Instrument,
			Spreads:    spreads,
			Default:    pd,
		})
	}

	signals, err := b.signals(ds, rep.Credit)
	if err != nil {
		return nil, err
	}
	rep.Signals = signals

	summaries, err := summarize(ds, rep.Derived)
	if err != nil {
		return nil, err
	}
	rep.Summaries = summaries

	return rep, nil
}

func derive(q dataset.Quarter) Derived {
	d := Derived{
		Period:        q.Period,
		ProfitGapB:    q.ProfitGapB(),
		MarginRatio:   q.MarginRatio(),
		PriceSpreadPM: q.RevenuePerMTokens - q.CostPerMTokens,
	}
	if q.UtilizationPct > 0 {
		d.CapExPerUtil = q.AICapExB / q.UtilizationPct
	}
	return d
}

func (b *Builder) signals(ds *dataset.Dataset, series []CreditSeries) ([]Signal, error) {
	var out []Signal

	add := func(name, period, metric string, value float64) error {
		res, err := b.table.Classify(classify.Sample{Name: metric, Value: value})
		if err != nil {
			return fmt.Errorf("signal %s: %w", name, err)
		}
		out = append(out, Signal{Name: name, Period: period, Result: res})
		return nil
	}

	if latest, ok := ds.Latest(); ok {
		if err := add("GPU utilization", latest.Period, classify.MetricUtilization, latest.UtilizationPct); err != nil {
			return nil, err
		}
		if latest.InferenceCostB > 0 {
			if err := add("Inference margin", latest.Period, classify.MetricInferenceMargin, latest.MarginRatio()); err != nil {
				return nil, err
			}
		}
	}

	// token growth is not published for every quarter; use the newest figure
	for i := len(ds.Quarters) - 1; i >= 0; i-- {
		q := ds.Quarters[i]
		if q.TokenVolumeYoY == nil {
			continue
		}
		if err := add("Token volume growth", q.Period, classify.MetricTokenGrowth, *q.TokenVolumeYoY); err != nil {
			return nil, err
		}
		break
	}

	for _, s := range series {
		latest, ok := credit.Latest(s.Default)
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s default probability", s.Entity)
		if err := add(name, latest.Period, classify.MetricDefaultProbability, latest.CumulativePct.Decimal.InexactFloat64()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Worst returns the highest severity among signals.
func (r *Report) Worst() classify.Severity {
	worst := classify.SeverityOK
	for _, s := range r.Signals {
		if s.Result.Severity.Rank() > worst.Rank() {
			worst = s.Result.Severity
		}
	}
	return worst
}
