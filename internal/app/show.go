package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"oi-signals/internal/service"
	"oi-signals/internal/signal"
)

// Signal prints the latest signal for one symbol, or every configured symbol when
// opts.Symbol is empty. Refresh bypasses the cached result.
func (a *App) Signal(ctx context.Context, opts SignalOptions) error {
	rt, err := a.openRuntime(ctx, nil, a.requestAlerts())
	if err != nil {
		return err
	}
	defer rt.close()

	var results []signal.Result
	for _, symbol := range a.Config.ResolveSymbols(opts.Symbol) {
		var result signal.Result
		if opts.Refresh {
			result, err = rt.svc.RecomputeSignal(ctx, symbol)
		} else {
			result, err = rt.svc.GetLatestSignal(ctx, symbol)
		}
		if err != nil {
			return fmt.Errorf("signal %s: %w", symbol, err)
		}
		results = append(results, result)
	}

	if opts.JSON {
		return writeJSON(a.out, results)
	}
	return writeSignals(a.out, results)
}

// Analytics prints option-chain analytics for one symbol and expiry.
func (a *App) Analytics(ctx context.Context, opts AnalyticsOptions) error {
	symbols := a.Config.ResolveSymbols(opts.Symbol)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbol given and none configured")
	}

	rt, err := a.openRuntime(ctx, nil, false)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.svc.GetAnalytics(ctx, symbols[0], opts.Expiry)
	if err != nil {
		return err
	}

	if opts.JSON {
		return writeJSON(a.out, report)
	}
	return writeAnalytics(a.out, report)
}

func writeSignals(w io.Writer, results []signal.Result) error {
	writer := newTable(w)
	fmt.Fprintln(writer, "Symbol\tScore\tClassification\tPCR\tChangeOI\tProximity\tBuildup\tGenerated (UTC)")

	for _, r := range results {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Symbol,
			r.Score,
			r.Classification,
			formatScore(r.Components.PCR),
			formatScore(r.Components.ChangeOI),
			formatScore(r.Components.Proximity),
			formatScore(r.Components.Buildup),
			r.GeneratedAt.UTC().Format(time.RFC3339),
		)
	}

	return writer.Flush()
}

func writeAnalytics(w io.Writer, report service.AnalyticsReport) error {
	writer := newTable(w)
	rows := [][2]string{
		{"Symbol", report.Symbol},
		{"Expiry", report.ExpiryDate},
		{"Computed (UTC)", report.Timestamp.UTC().Format(time.RFC3339)},
		{"Underlying", formatNull(report.UnderlyingValue, 2)},
		{"Total call OI", strconv.FormatInt(report.TotalCallOI, 10)},
		{"Total put OI", strconv.FormatInt(report.TotalPutOI, 10)},
		{"PCR", formatNull(report.PCR, 4)},
		{"Change in call OI", strconv.FormatInt(report.ChangeCallOI, 10)},
		{"Change in put OI", strconv.FormatInt(report.ChangePutOI, 10)},
		{"Change OI PCR", formatNull(report.ChangeOIPCR, 4)},
		{"Support", formatNull(report.Support, 2)},
		{"Resistance", formatNull(report.Resistance, 2)},
		{"Max pain", formatNull(report.MaxPain, 2)},
	}
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\n", row[0], sanitizeInline(row[1]))
	}
	return writer.Flush()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatNull(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
