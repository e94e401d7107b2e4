package report

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"ai-viability-watch/internal/dataset"
)

// Summary describes the spread of one quarterly series.
type Summary struct {
	Series string  `json:"series"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	// Change is last over first, 0 when the first value is 0.
	Change float64 `json:"change"`
}

func summarize(ds *dataset.Dataset, derived []Derived) ([]Summary, error) {
	var (
		utilization []float64
		capex       []float64
		costPerM    []float64
		tokens      []float64
		gap         []float64
		margin      []float64
	)
	for _, q := range ds.Quarters {
		utilization = append(utilization, q.UtilizationPct)
		capex = append(capex, q.AICapExB)
		costPerM = append(costPerM, q.CostPerMTokens)
		if q.TokenVolumeYoY != nil {
			tokens = append(tokens, *q.TokenVolumeYoY)
		}
	}
	for _, d := range derived {
		gap = append(gap, d.ProfitGapB)
		margin = append(margin, d.MarginRatio)
	}

	named := []struct {
		name string
		data []float64
	}{
		{"utilization_pct", utilization},
		{"ai_capex_b", capex},
		{"cost_per_m_tokens", costPerM},
		{"token_volume_yoy", tokens},
		{"profit_gap_b", gap},
		{"margin_ratio", margin},
	}

	out := make([]Summary, 0, len(named))
	for _, n := range named {
		if len(n.data) == 0 {
			continue
		}
		s, err := describe(n.name, n.data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func describe(name string, data []float64) (Summary, error) {
	min, err := stats.Min(data)
	if err != nil {
		return Summary{}, fmt.Errorf("summary %s: %w", name, err)
	}
	max, err := stats.Max(data)
	if err != nil {
		return Summary{}, fmt.Errorf("summary %s: %w", name, err)
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return Summary{}, fmt.Errorf("summary %s: %w", name, err)
	}
	median, err := stats.Median(data)
	if err != nil {
		return Summary{}, fmt.Errorf("summary %s: %w", name, err)
	}

	s := Summary{Series: name, Count: len(data), Min: min, Max: max, Mean: mean, Median: median}
	if first := data[0]; first != 0 {
		s.Change = data[len(data)-1] / first
	}
	return s, nil
}
