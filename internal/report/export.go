package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
)

// WriteCSV writes one row per quarter with raw inputs, derived figures and
// the default probability of every credit series.
func WriteCSV(w io.Writer, rep *Report, delimiter rune) error {
	writer := csv.NewWriter(w)
	if delimiter != 0 {
		writer.Comma = delimiter
	}

	header := []string{
		"period", "token_volume_yoy", "inference_revenue_b", "inference_cost_b", "ai_capex_b",
		"utilization_pct", "cost_per_m_tokens", "revenue_per_m_tokens", "gpu_rental_usd_hr", "sentiment_index",
		"profit_gap_b", "margin_ratio",
	}
	for _, c := range rep.Credit {
		header = append(header, columnName(c.Entity, "spread_bps"), columnName(c.Entity, "default_pct"))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, q := range rep.Quarters {
		record := []string{
			q.Period,
			optionalCSV(q.TokenVolumeYoY),
			formatFloat(q.InferenceRevenueB),
			formatFloat(q.InferenceCostB),
			formatFloat(q.AICapExB),
			formatFloat(q.UtilizationPct),
			formatFloat(q.CostPerMTokens),
			formatFloat(q.RevenuePerMTokens),
			optionalCSV(q.GPURentalUSDHr),
			optionalCSV(q.SentimentIndex),
			formatFloat(rep.Derived[i].ProfitGapB),
			strconv.FormatFloat(rep.Derived[i].MarginRatio, 'f', 4, 64),
		}
		for _, c := range rep.Credit {
			spread, pd := "", ""
			if j := creditIndex(c, q.Period); j >= 0 {
				if c.Spreads[j].SpreadBps.Valid {
					spread = c.Spreads[j].SpreadBps.Decimal.String()
				}
				if c.Default[j].CumulativePct.Valid {
					pd = c.Default[j].CumulativePct.Decimal.StringFixed(1)
				}
			}
			record = append(record, spread, pd)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the CSV export to path, creating parent directories.
func WriteCSVFile(path string, rep *Report, delimiter rune) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteCSV(file, rep, delimiter)
}

// Chart names produced by WriteCharts.
const (
	ChartProfitGap          = "profit_gap.png"
	ChartCapExUtilization   = "capex_utilization.png"
	ChartTokenGrowth        = "token_growth.png"
	ChartPriceDeflation     = "price_deflation.png"
	ChartDefaultProbability = "default_probability.png"
)

// WriteCharts renders the dashboard charts as PNG files under dir and
// returns the written paths.
func WriteCharts(dir string, rep *Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	periods, err := parsePeriods(rep)
	if err != nil {
		return nil, err
	}

	graphs := []struct {
		name  string
		graph chart.Chart
	}{
		{ChartProfitGap, profitGapChart(rep, periods)},
		{ChartCapExUtilization, capexUtilizationChart(rep, periods)},
		{ChartTokenGrowth, tokenGrowthChart(rep, periods)},
		{ChartPriceDeflation, priceDeflationChart(rep, periods)},
		{ChartDefaultProbability, defaultProbabilityChart(rep)},
	}

	written := make([]string, 0, len(graphs))
	for _, g := range graphs {
		if len(g.graph.Series) == 0 {
			continue
		}
		path := filepath.Join(dir, g.name)
		if err := renderPNG(path, g.graph); err != nil {
			return written, fmt.Errorf("render %s: %w", g.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func renderPNG(path string, graph chart.Chart) error {
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func baseChart(title, yName string, yFormat string) chart.Chart {
	formatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, yFormat)
	}
	return chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		YAxis: chart.YAxis{
			Name:           yName,
			ValueFormatter: formatter,
		},
	}
}

func profitGapChart(rep *Report, x []time.Time) chart.Chart {
	graph := baseChart("Inference revenue vs cost", "$B", "%.1f")

	revenue := make([]float64, len(rep.Quarters))
	cost := make([]float64, len(rep.Quarters))
	gap := make([]float64, len(rep.Quarters))
	for i, q := range rep.Quarters {
		revenue[i] = q.InferenceRevenueB
		cost[i] = q.InferenceCostB
		gap[i] = rep.Derived[i].ProfitGapB
	}
	graph.Series = []chart.Series{
		chart.TimeSeries{Name: "Revenue", XValues: x, YValues: revenue},
		chart.TimeSeries{Name: "Cost", XValues: x, YValues: cost},
		chart.TimeSeries{Name: "Profit gap", XValues: x, YValues: gap},
	}
	return graph
}

func capexUtilizationChart(rep *Report, x []time.Time) chart.Chart {
	graph := baseChart("AI capex vs GPU utilization", "CapEx ($B)", "%.0f")
	graph.YAxisSecondary = chart.YAxis{
		Name: "Utilization (%)",
		ValueFormatter: func(v interface{}) string {
			return chart.FloatValueFormatterWithFormat(v, "%.0f")
		},
	}

	capex := make([]float64, len(rep.Quarters))
	util := make([]float64, len(rep.Quarters))
	for i, q := range rep.Quarters {
		capex[i] = q.AICapExB
		util[i] = q.UtilizationPct
	}
	graph.Series = []chart.Series{
		chart.TimeSeries{Name: "CapEx $B", XValues: x, YValues: capex},
		chart.TimeSeries{Name: "Utilization %", XValues: x, YValues: util, YAxis: chart.YAxisSecondary},
	}
	return graph
}

func tokenGrowthChart(rep *Report, periods []time.Time) chart.Chart {
	graph := baseChart("Token volume growth (YoY)", "x", "%.1f")

	var (
		x []time.Time
		y []float64
	)
	for i, q := range rep.Quarters {
		if q.TokenVolumeYoY == nil {
			continue
		}
		x = append(x, periods[i])
		y = append(y, *q.TokenVolumeYoY)
	}
	// go-chart needs two points to draw a line
	if len(x) < 2 {
		return graph
	}
	graph.Series = []chart.Series{
		chart.TimeSeries{Name: "Token YoY", XValues: x, YValues: y},
	}
	return graph
}

func priceDeflationChart(rep *Report, x []time.Time) chart.Chart {
	graph := baseChart("Price per 1M tokens", "$", "%.2f")

	cost := make([]float64, len(rep.Quarters))
	revenue := make([]float64, len(rep.Quarters))
	for i, q := range rep.Quarters {
		cost[i] = q.CostPerMTokens
		revenue[i] = q.RevenuePerMTokens
	}
	graph.Series = []chart.Series{
		chart.TimeSeries{Name: "Cost / 1M", XValues: x, YValues: cost},
		chart.TimeSeries{Name: "Revenue / 1M", XValues: x, YValues: revenue},
	}
	return graph
}

func defaultProbabilityChart(rep *Report) chart.Chart {
	graph := baseChart(fmt.Sprintf("Implied %d-year default probability", rep.HorizonYears), "%", "%.1f")

	for _, c := range rep.Credit {
		var (
			x []time.Time
			y []float64
		)
		for _, pd := range c.Default {
			if !pd.CumulativePct.Valid {
				continue
			}
			t, err := time.Parse(periodLayout, pd.Period)
			if err != nil {
				continue
			}
			x = append(x, t)
			y = append(y, pd.CumulativePct.Decimal.InexactFloat64())
		}
		if len(x) < 2 {
			continue
		}
		graph.Series = append(graph.Series, chart.TimeSeries{Name: c.Entity, XValues: x, YValues: y})
	}
	return graph
}

const periodLayout = "2006-01"

func parsePeriods(rep *Report) ([]time.Time, error) {
	out := make([]time.Time, len(rep.Quarters))
	for i, q := range rep.Quarters {
		t, err := time.Parse(periodLayout, q.Period)
		if err != nil {
			return nil, fmt.Errorf("period %q: %w", q.Period, err)
		}
		out[i] = t
	}
	return out, nil
}

func creditIndex(c CreditSeries, period string) int {
	for i, pd := range c.Default {
		if pd.Period == period {
			return i
		}
	}
	return -1
}

func columnName(entity, suffix string) string {
	name := make([]rune, 0, len(entity))
	for _, r := range entity {
		switch {
		case r >= 'A' && r <= 'Z':
			name = append(name, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			name = append(name, r)
		default:
			name = append(name, '_')
		}
	}
	return string(name) + "_" + suffix
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalCSV(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
