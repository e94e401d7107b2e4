package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/shopspring/decimal"

	"ai-viability-watch/internal/storage"
)

const absent = "—"

// WriteText renders the report as aligned plain-text tables.
func WriteText(w io.Writer, rep *Report, view View) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s (as of %s)\n", rep.Title, rep.AsOf)
	fmt.Fprintf(tw, "Report %s generated %s\n\n", rep.ID, rep.GeneratedAt.UTC().Format(time.RFC3339))

	fmt.Fprintln(tw, "Signal\tPeriod\tValue\tStatus\tSeverity")
	for _, s := range rep.Signals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Period, formatValue(s.Result.Value, s.Result.Unit), s.Result.Label, s.Result.Severity)
	}
	fmt.Fprintln(tw)

	writeQuarters(tw, rep, view, "\t", "")
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Default probability (recovery %.0f%%, %dy horizon)\n", rep.RecoveryRate*100, rep.HorizonYears)
	fmt.Fprintln(tw, "Entity\tPeriod\tSpread (bps)\tCumulative PD %")
	for _, c := range rep.Credit {
		for i, pd := range c.Default {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Entity, pd.Period, nullString(c.Spreads[i].SpreadBps, 0), nullString(pd.CumulativePct, 1))
		}
	}

	if len(rep.Live) > 0 {
		fmt.Fprintln(tw)
		writeLive(tw, rep.Live, "\t", "")
	}

	return tw.Flush()
}

// Markdown renders the report as a Markdown document.
func Markdown(rep *Report, view View) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", rep.Title)
	fmt.Fprintf(&b, "As of **%s**. Overall status: **%s**.\n\n", rep.AsOf, rep.Worst())

	b.WriteString("## Early warning signals\n\n")
	b.WriteString("| Signal | Period | Value | Status | Severity |\n|---|---|---|---|---|\n")
	for _, s := range rep.Signals {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", s.Name, s.Period, formatValue(s.Result.Value, s.Result.Unit), s.Result.Label, s.Result.Severity)
	}
	b.WriteString("\n")

	if view == ViewRaw {
		b.WriteString("## Quarterly inputs\n\n")
	} else {
		b.WriteString("## Quarterly economics\n\n")
	}
	writeQuarters(&b, rep, view, " | ", "|")
	b.WriteString("\n")

	b.WriteString("## Model pricing ($ per 1M tokens)\n\n")
	b.WriteString("| Model | Input | Output | Blended |\n|---|---|---|---|\n")
	for _, p := range rep.Pricing {
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %.2f |\n", p.Model, p.InputPerM, p.OutputPerM, p.BlendedPerM)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Credit stress\n\nCumulative default probability implied by CDS spreads, recovery %.0f%%, %d-year horizon.\n\n", rep.RecoveryRate*100, rep.HorizonYears)
	b.WriteString("| Entity | Period | Spread (bps) | Default probability % |\n|---|---|---|---|\n")
	for _, c := range rep.Credit {
		for i, pd := range c.Default {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", c.Entity, pd.Period, nullString(c.Spreads[i].SpreadBps, 0), nullString(pd.CumulativePct, 1))
		}
	}
	b.WriteString("\n")

	if len(rep.Summaries) > 0 {
		b.WriteString("## Series summary\n\n")
		b.WriteString("| Series | N | Min | Max | Mean | Median | Last/First |\n|---|---|---|---|---|---|---|\n")
		for _, s := range rep.Summaries {
			fmt.Fprintf(&b, "| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2fx |\n", s.Series, s.Count, s.Min, s.Max, s.Mean, s.Median, s.Change)
		}
		b.WriteString("\n")
	}

	if len(rep.Live) > 0 {
		b.WriteString("## Live observations\n\n")
		writeLive(&b, rep.Live, " | ", "|")
		b.WriteString("\n")
	}

	if len(rep.Sources) > 0 {
		fmt.Fprintf(&b, "_Sources: %s._\n", strings.Join(rep.Sources, ", "))
	}
	return []byte(b.String())
}

// HTML renders the Markdown report as a complete HTML page with a link
// toggling between the raw and derived views.
func HTML(rep *Report, view View) []byte {
	md := Markdown(rep, view)
	md = append(md, viewToggle(view)...)

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: rep.Title,
		Flags: html.CommonFlags | html.CompletePage | html.SkipHTML,
	})
	return markdown.ToHTML(md, p, renderer)
}

func viewToggle(view View) string {
	other := ViewRaw
	if view == ViewRaw {
		other = ViewDerived
	}
	return fmt.Sprintf("\n[Show %s view](/?view=%s)\n", other, other)
}

// writeQuarters emits either the raw inputs or the derived economics.
// Text output uses tab separators; Markdown passes " | " and a fence.
func writeQuarters(w io.Writer, rep *Report, view View, sep, fence string) {
	row := func(cells ...string) {
		line := strings.Join(cells, sep)
		if fence != "" {
			line = fence + " " + line + " " + fence
		}
		fmt.Fprintln(w, line)
	}
	rule := func(n int) {
		if fence == "" {
			return
		}
		fmt.Fprintln(w, fence+strings.Repeat("---"+fence, n))
	}

	if view == ViewRaw {
		row("Period", "Token YoY", "Revenue $B", "Cost $B", "CapEx $B", "Util %", "Cost/1M", "Rev/1M", "GPU $/hr", "Sentiment")
		rule(10)
		for _, q := range rep.Quarters {
			row(q.Period, optional(q.TokenVolumeYoY, "%.1fx"),
				fmt.Sprintf("%.1f", q.InferenceRevenueB), fmt.Sprintf("%.1f", q.InferenceCostB),
				fmt.Sprintf("%.0f", q.AICapExB), fmt.Sprintf("%.0f", q.UtilizationPct),
				fmt.Sprintf("%.2f", q.CostPerMTokens), fmt.Sprintf("%.2f", q.RevenuePerMTokens),
				optional(q.GPURentalUSDHr, "%.2f"), optional(q.SentimentIndex, "%.0f"))
		}
		return
	}

	row("Period", "Profit gap $B", "Revenue/Cost", "CapEx per util pt $B", "Price-cost spread /1M")
	rule(5)
	for _, d := range rep.Derived {
		row(d.Period, fmt.Sprintf("%+.1f", d.ProfitGapB), fmt.Sprintf("%.2fx", d.MarginRatio),
			fmt.Sprintf("%.2f", d.CapExPerUtil), fmt.Sprintf("%.2f", d.PriceSpreadPM))
	}
}

func writeLive(w io.Writer, live []storage.Observation, sep, fence string) {
	row := func(cells ...string) {
		line := strings.Join(cells, sep)
		if fence != "" {
			line = fence + " " + line + " " + fence
		}
		fmt.Fprintln(w, line)
	}
	row("Source", "Bucket (UTC)", "Value", "Unit", "Status")
	if fence != "" {
		fmt.Fprintln(w, fence+strings.Repeat("---"+fence, 5))
	}
	for _, obs := range live {
		row(obs.Source, obs.Bucket.UTC().Format(time.RFC3339), nullString(obs.Value, 4), obs.Unit, obs.Status)
	}
}

func formatValue(v float64, unit string) string {
	switch unit {
	case "%":
		return fmt.Sprintf("%.1f%%", v)
	case "x":
		return fmt.Sprintf("%.2fx", v)
	case "":
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.2f %s", v, unit)
}

func nullString(v decimal.NullDecimal, places int32) string {
	if !v.Valid {
		return absent
	}
	return v.Decimal.StringFixed(places)
}

func optional(v *float64, format string) string {
	if v == nil {
		return absent
	}
	return fmt.Sprintf(format, *v)
}
