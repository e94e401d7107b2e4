package dataset

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ai-viability-watch/internal/credit"
)

//go:embed data/default.yaml
var defaultYAML []byte

// Quarter is one row of the hand-curated industry table. Pointer fields
// are optional and stay nil when the figure was not published.
type Quarter struct {
	Period            string   `yaml:"period" json:"period"`
	TokenVolumeYoY    *float64 `yaml:"token_volume_yoy" json:"token_volume_yoy"`
	InferenceRevenueB float64  `yaml:"inference_revenue_b" json:"inference_revenue_b"`
	InferenceCostB    float64  `yaml:"inference_cost_b" json:"inference_cost_b"`
	AICapExB          float64  `yaml:"ai_capex_b" json:"ai_capex_b"`
	UtilizationPct    float64  `yaml:"utilization_pct" json:"utilization_pct"`
	CostPerMTokens    float64  `yaml:"cost_per_m_tokens" json:"cost_per_m_tokens"`
	RevenuePerMTokens float64  `yaml:"revenue_per_m_tokens" json:"revenue_per_m_tokens"`
	GPURentalUSDHr    *float64 `yaml:"gpu_rental_usd_hr" json:"gpu_rental_usd_hr"`
	SentimentIndex    *float64 `yaml:"sentiment_index" json:"sentiment_index"`
}

// ProfitGapB is inference revenue minus cost, in $B.
func (q Quarter) ProfitGapB() float64 {
	return q.InferenceRevenueB - q.InferenceCostB
}

// MarginRatio is inference revenue over cost. Zero cost yields 0.
func (q Quarter) MarginRatio() float64 {
	if q.InferenceCostB == 0 {
		return 0
	}
	return q.InferenceRevenueB / q.InferenceCostB
}

// ModelPrice is list pricing per million tokens.
type ModelPrice struct {
	Model       string  `yaml:"model" json:"model"`
	InputPerM   float64 `yaml:"input_per_m" json:"input_per_m"`
	OutputPerM  float64 `yaml:"output_per_m" json:"output_per_m"`
	BlendedPerM float64 `yaml:"blended_per_m" json:"blended_per_m"`
}

// SpreadPoint is a quoted spread; nil means not observable yet.
type SpreadPoint struct {
	Period    string   `yaml:"period" json:"period"`
	SpreadBps *float64 `yaml:"spread_bps" json:"spread_bps"`
}

// SpreadSeries is the spread history of one reference entity.
type SpreadSeries struct {
	Entity     string        `yaml:"entity" json:"entity"`
	Instrument string        `yaml:"instrument" json:"instrument"`
	Points     []SpreadPoint `yaml:"points" json:"points"`
}

// Observations converts the series for the credit estimator.
func (s SpreadSeries) Observations() []credit.SpreadObservation {
	out := make([]credit.SpreadObservation, 0, len(s.Points))
	for _, p := range s.Points {
		obs := credit.SpreadObservation{Period: p.Period}
		if p.SpreadBps != nil {
			obs.SpreadBps = decimal.NewNullDecimal(decimal.NewFromFloat(*p.SpreadBps))
		}
		out = append(out, obs)
	}
	return out
}

// Dataset bundles every curated table.
type Dataset struct {
	AsOf     string         `yaml:"as_of" json:"as_of"`
	Title    string         `yaml:"title" json:"title"`
	Sources  []string       `yaml:"sources" json:"sources"`
	Quarters []Quarter      `yaml:"quarters" json:"quarters"`
	Pricing  []ModelPrice   `yaml:"pricing" json:"pricing"`
	Spreads  []SpreadSeries `yaml:"spreads" json:"spreads"`
}

// Latest returns the most recent quarter.
func (d *Dataset) Latest() (Quarter, bool) {
	if d == nil || len(d.Quarters) == 0 {
		return Quarter{}, false
	}
	return d.Quarters[len(d.Quarters)-1], true
}

// Periods lists quarter labels in order.
func (d *Dataset) Periods() []string {
	out := make([]string, len(d.Quarters))
	for i, q := range d.Quarters {
		out[i] = q.Period
	}
	return out
}

// Default returns the embedded dataset.
func Default() (*Dataset, error) {
	return Parse(defaultYAML)
}

// Load reads a dataset file, falling back to the embedded one when path is empty.
func Load(path string) (*Dataset, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML.
func Parse(raw []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks structural consistency of the tables.
func (d *Dataset) Validate() error {
	if len(d.Quarters) == 0 {
		return errors.New("dataset: no quarters")
	}

	seen := make(map[string]struct{}, len(d.Quarters))
	for _, q := range d.Quarters {
		if q.Period == "" {
			return errors.New("dataset: quarter without period")
		}
		if _, dup := seen[q.Period]; dup {
			return fmt.Errorf("dataset: duplicate period %s", q.Period)
		}
		seen[q.Period] = struct{}{}
		if name, ok := q.nonFinite(); ok {
			return fmt.Errorf("dataset: %s is not finite in %s", name, q.Period)
		}
		if q.InferenceRevenueB < 0 || q.InferenceCostB < 0 || q.AICapExB < 0 {
			return fmt.Errorf("dataset: negative financials in %s", q.Period)
		}
		if q.UtilizationPct < 0 || q.UtilizationPct > 100 {
			return fmt.Errorf("dataset: utilization_pct %v out of range in %s", q.UtilizationPct, q.Period)
		}
	}

	for _, p := range d.Pricing {
		if !finite(p.InputPerM) || !finite(p.OutputPerM) || !finite(p.BlendedPerM) {
			return fmt.Errorf("dataset: %s pricing is not finite", p.Model)
		}
	}

	for _, s := range d.Spreads {
		if s.Entity == "" {
			return errors.New("dataset: spread series without entity")
		}
		for _, p := range s.Points {
			if _, ok := seen[p.Period]; !ok {
				return fmt.Errorf("dataset: %s spread period %s not in quarter list", s.Entity, p.Period)
			}
			if p.SpreadBps != nil && !finite(*p.SpreadBps) {
				return fmt.Errorf("dataset: %s spread in %s is not finite", s.Entity, p.Period)
			}
			if p.SpreadBps != nil && *p.SpreadBps < 0 {
				return fmt.Errorf("dataset: %s negative spread in %s", s.Entity, p.Period)
			}
		}
	}
	return nil
}

// nonFinite reports the first NaN or infinite figure of the quarter.
func (q Quarter) nonFinite() (string, bool) {
	fields := []struct {
		name  string
		value *float64
	}{
		{"token_volume_yoy", q.TokenVolumeYoY},
		{"inference_revenue_b", &q.InferenceRevenueB},
		{"inference_cost_b", &q.InferenceCostB},
		{"ai_capex_b", &q.AICapExB},
		{"utilization_pct", &q.UtilizationPct},
		{"cost_per_m_tokens", &q.CostPerMTokens},
		{"revenue_per_m_tokens", &q.RevenuePerMTokens},
		{"gpu_rental_usd_hr", q.GPURentalUSDHr},
		{"sentiment_index", q.SentimentIndex},
	}
	for _, f := range fields {
		if f.value != nil && !finite(*f.value) {
			return f.name, true
		}
	}
	return "", false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
