// Package classify maps scalar metrics onto qualitative risk labels using
// ordered threshold tables. The first rule a value satisfies wins; direction
// ("higher is better" or the reverse) is encoded by the table, not here.
package classify

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnmatchedRule signals a gap in a threshold table.
	ErrUnmatchedRule = errors.New("classify: no rule matched")
	// ErrInvalidRule signals a malformed threshold table.
	ErrInvalidRule = errors.New("classify: invalid rule")
)

// Severity is the qualitative weight of a label.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityOK, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities, ok < warning < critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	}
	return 0
}

// Operator compares a value against a rule bound.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

func (op Operator) apply(value, bound float64) (bool, error) {
	switch op {
	case OpLess:
		return value < bound, nil
	case OpLessEqual:
		return value <= bound, nil
	case OpGreater:
		return value > bound, nil
	case OpGreaterEqual:
		return value >= bound, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, string(op))
}

// Rule is one (operator bound, label, severity) entry.
type Rule struct {
	Op       Operator `mapstructure:"op" yaml:"op" json:"op"`
	Bound    float64  `mapstructure:"bound" yaml:"bound" json:"bound"`
	Label    string   `mapstructure:"label" yaml:"label" json:"label"`
	Severity Severity `mapstructure:"severity" yaml:"severity" json:"severity"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %g => %s (%s)", r.Op, r.Bound, r.Label, r.Severity)
}

// RuleSet is the ordered rule list for one metric.
type RuleSet struct {
	Metric string `mapstructure:"metric" yaml:"metric" json:"metric"`
	Unit   string `mapstructure:"unit" yaml:"unit" json:"unit"`
	Rules  []Rule `mapstructure:"rules" yaml:"rules" json:"rules"`
}

// Validate rejects empty tables and rules with unknown operators, blank
// labels, unknown severities or non-finite bounds.
func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("%w: metric %q has no rules", ErrInvalidRule, rs.Metric)
	}
	for i, rule := range rs.Rules {
		if _, err := rule.Op.apply(0, 0); err != nil {
			return fmt.Errorf("metric %q rule %d: %w", rs.Metric, i, err)
		}
		if math.IsNaN(rule.Bound) || math.IsInf(rule.Bound, 0) {
			return fmt.Errorf("%w: metric %q rule %d bound must be finite", ErrInvalidRule, rs.Metric, i)
		}
		if rule.Label == "" {
			return fmt.Errorf("%w: metric %q rule %d has empty label", ErrInvalidRule, rs.Metric, i)
		}
		if !rule.Severity.Valid() {
			return fmt.Errorf("%w: metric %q rule %d severity %q", ErrInvalidRule, rs.Metric, i, string(rule.Severity))
		}
	}
	return nil
}

// Result is the outcome of a classification.
type Result struct {
	Metric   string   `json:"metric"`
	Value    float64  `json:"value"`
	Unit     string   `json:"unit,omitempty"`
	Label    string   `json:"label"`
	Severity Severity `json:"severity"`
}

// Classify returns the label of the first rule value satisfies.
func Classify(value float64, rules RuleSet) (Result, error) {
	for _, rule := range rules.Rules {
		ok, err := rule.Op.apply(value, rule.Bound)
		if err != nil {
			return Result{}, fmt.Errorf("metric %q: %w", rules.Metric, err)
		}
		if ok {
			return Result{
				Metric:   rules.Metric,
				Value:    value,
				Unit:     rules.Unit,
				Label:    rule.Label,
				Severity: rule.Severity,
			}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: metric %q value %v", ErrUnmatchedRule, rules.Metric, value)
}

// Sample is a named scalar awaiting classification.
type Sample struct {
	Name  string
	Value float64
	Unit  string
}
