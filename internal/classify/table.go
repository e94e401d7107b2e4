package classify

import (
	"fmt"
	"sort"
)

// Metric names used by the built-in tables.
const (
	MetricUtilization        = "utilization"
	MetricInferenceMargin    = "inference_margin"
	MetricTokenGrowth        = "token_growth"
	MetricDefaultProbability = "default_probability"
)

// Table holds one RuleSet per metric.
type Table map[string]RuleSet

// DefaultTable returns the early-warning thresholds of the dashboard.
func DefaultTable() Table {
	return Table{
		MetricUtilization: {
			Metric: MetricUtilization,
			Unit:   "%",
			Rules: []Rule{
				{Op: OpLess, Bound: 65, Label: "at risk", Severity: SeverityCritical},
				{Op: OpGreaterEqual, Bound: 65, Label: "healthy", Severity: SeverityOK},
			},
		},
		MetricInferenceMargin: {
			Metric: MetricInferenceMargin,
			Unit:   "x",
			Rules: []Rule{
				{Op: OpLess, Bound: 1.0, Label: "burning cash", Severity: SeverityCritical},
				{Op: OpLess, Bound: 1.3, Label: "breakeven near", Severity: SeverityWarning},
				{Op: OpGreaterEqual, Bound: 1.3, Label: "profitable", Severity: SeverityOK},
			},
		},
		MetricTokenGrowth: {
			Metric: MetricTokenGrowth,
			Unit:   "x",
			Rules: []Rule{
				{Op: OpLess, Bound: 5, Label: "demand cliff", Severity: SeverityCritical},
				{Op: OpGreaterEqual, Bound: 5, Label: "exploding", Severity: SeverityOK},
			},
		},
		MetricDefaultProbability: {
			Metric: MetricDefaultProbability,
			Unit:   "%",
			Rules: []Rule{
				{Op: OpGreater, Bound: 40, Label: "distressed", Severity: SeverityCritical},
				{Op: OpLessEqual, Bound: 40, Label: "normal", Severity: SeverityOK},
			},
		},
	}
}

// Merge returns a copy of t with every entry of overrides replacing the
// built-in set of the same name. Metric names are filled from map keys.
func (t Table) Merge(overrides map[string]RuleSet) Table {
	out := make(Table, len(t)+len(overrides))
	for name, rs := range t {
		out[name] = rs
	}
	for name, rs := range overrides {
		if rs.Metric == "" {
			rs.Metric = name
		}
		out[name] = rs
	}
	return out
}

// Validate checks every rule set.
func (t Table) Validate() error {
	for _, name := range t.Names() {
		if err := t[name].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Names lists metrics in stable order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the rule set for metric.
func (t Table) Lookup(metric string) (RuleSet, error) {
	rs, ok := t[metric]
	if !ok {
		return RuleSet{}, fmt.Errorf("%w: unknown metric %q", ErrInvalidRule, metric)
	}
	return rs, nil
}

// Classify classifies a sample with the rule set registered under its name.
func (t Table) Classify(sample Sample) (Result, error) {
	rs, err := t.Lookup(sample.Name)
	if err != nil {
		return Result{}, err
	}
	res, err := Classify(sample.Value, rs)
	if err != nil {
		return Result{}, err
	}
	if sample.Unit != "" {
		res.Unit = sample.Unit
	}
	return res, nil
}
