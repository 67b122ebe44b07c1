package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"

	"oi-signals/internal/impact"
)

// Impact prints how each constituent moves the configured index and optionally
// writes the ranking as CSV and a PNG bar chart.
func (a *App) Impact(ctx context.Context, opts ImpactOptions) error {
	rt, err := a.openRuntime(ctx, nil, false)
	if err != nil {
		return err
	}
	defer rt.close()

	snapshot, err := rt.svc.GetIndexImpact(ctx)
	if err != nil {
		return err
	}

	if opts.CSVPath != "" {
		if err := writeImpactCSV(opts.CSVPath, snapshot); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("rows", len(snapshot.Constituents)).Msg("impact csv written")
	}
	if opts.PNGPath != "" {
		if err := writeImpactPNG(opts.PNGPath, snapshot); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.PNGPath).Msg("impact chart written")
	}

	if opts.JSON {
		return writeJSON(a.out, snapshot)
	}
	return writeImpactTable(a.out, snapshot)
}

func writeImpactTable(w io.Writer, snapshot impact.Snapshot) error {
	writer := newTable(w)
	fmt.Fprintf(writer, "Index\t%s\n", snapshot.Index)
	fmt.Fprintf(writer, "Total impact\t%s\n\n", snapshot.TotalImpact.StringFixed(4))

	fmt.Fprintln(writer, "Rank\tSymbol\tCompany\tWeight\tLast\tChange%\tImpact")
	for i, c := range snapshot.Constituents {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			c.Symbol,
			sanitizeInline(c.CompanyName),
			c.Weight.StringFixed(2),
			c.LastPrice.StringFixed(2),
			c.PercentChange.StringFixed(2),
			c.Impact.StringFixed(4),
		)
	}

	if len(snapshot.TopDraggers) > 0 {
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "Top draggers")
		for _, c := range snapshot.TopDraggers {
			fmt.Fprintf(writer, "%s\t%s\n", c.Symbol, c.Impact.StringFixed(4))
		}
	}
	return writer.Flush()
}

func writeImpactCSV(path string, snapshot impact.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"index", "symbol", "company_name", "weight", "last_price", "percent_change", "impact"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range snapshot.Constituents {
		record := []string{
			snapshot.Index,
			c.Symbol,
			c.CompanyName,
			c.Weight.String(),
			c.LastPrice.String(),
			c.PercentChange.String(),
			c.Impact.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeImpactPNG(path string, snapshot impact.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bars := make([]chart.Value, 0, len(snapshot.Constituents))
	for _, c := range snapshot.Constituents {
		color := chart.ColorGreen
		if c.Impact.IsNegative() {
			color = chart.ColorRed
		}
		bars = append(bars, chart.Value{
			Label: c.Symbol,
			Value: c.Impact.InexactFloat64(),
			Style: chart.Style{FillColor: color, StrokeColor: color},
		})
	}

	graph := chart.BarChart{
		Title:        fmt.Sprintf("%s constituent impact (total %s)", snapshot.Index, snapshot.TotalImpact.StringFixed(2)),
		Width:        1600,
		Height:       720,
		BarWidth:     20,
		BarSpacing:   8,
		UseBaseValue: true,
		BaseValue:    0,
		Background: chart.Style{
			Padding: chart.Box{Top: 60, Bottom: 40},
		},
		XAxis: chart.Style{TextRotationDegrees: 90},
		YAxis: chart.YAxis{
			Name: "Impact (weight x change%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
