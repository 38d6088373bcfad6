package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"gopkg.in/yaml.v3"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/ingest"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/store"
	"github.com/lox/buoyforecast/internal/wqi"
)

var (
	goodColor     = color.New(color.FgGreen).SprintFunc()
	moderateColor = color.New(color.FgYellow).SprintFunc()
	poorColor     = color.New(color.FgRed, color.Bold).SprintFunc()
	dimColor      = color.New(color.Faint).SprintFunc()
)

func statusLabel(status string) string {
	switch status {
	case wqi.StatusGood:
		return goodColor(status)
	case wqi.StatusModerate:
		return moderateColor(status)
	case wqi.StatusPoor:
		return poorColor(status)
	default:
		return dimColor(status)
	}
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	return table
}

func fmtPtr(v *float64, format string) string {
	if v == nil {
		return dimColor("-")
	}
	return fmt.Sprintf(format, *v)
}

func printForecast(w io.Writer, doc *models.ForecastDocument) error {
	headers := []string{"Date", "WQI", "PI", "Status", "P(<60)", "pH", "TDS", "Turbidity", "Temp"}
	var data [][]string
	for _, day := range doc.Daily {
		row := []string{
			day.Date,
			fmt.Sprintf("%.1f", day.WQI.Value),
			fmt.Sprintf("%.1f-%.1f", day.WQI.PI.Low, day.WQI.PI.High),
			statusLabel(day.WQI.Status),
			fmt.Sprintf("%.0f%%", day.WQI.Probs[forecast.ProbBelow60]*100),
		}
		for _, p := range []models.Param{models.PH, models.TDS, models.Turbidity, models.Temperature} {
			if pf, ok := day.Params[p]; ok {
				row = append(row, fmt.Sprintf("%.2f", pf.Mean))
			} else {
				row = append(row, dimColor("-"))
			}
		}
		data = append(data, row)
	}

	table := newTable(w, headers)
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printEvaluation(w io.Writer, doc *models.EvaluationDocument) error {
	if !doc.Prediction.Found {
		fmt.Fprintf(w, "%s %s: no forecast covered %s (actuals from %s)\n",
			doc.BuoyID, doc.ID, doc.Date, doc.ActualDate)
		return nil
	}
	fmt.Fprintf(w, "%s evaluated %s against forecast %s (actuals from %s)\n",
		doc.BuoyID, doc.Date, doc.Prediction.ForecastID, doc.ActualDate)

	var data [][]string
	for _, p := range models.Params {
		m, ok := doc.Metrics.ByParam[p]
		if !ok {
			continue
		}
		data = append(data, metricRow(string(p), m))
	}
	data = append(data, metricRow("wqi", doc.Metrics.WQI))
	data = append(data, []string{
		"overall", "", "",
		fmtPtr(doc.Metrics.Overall.SMAPE, "%.4f"),
		fmtPtr(doc.Metrics.Overall.AccuracyPct, "%.1f%%"),
	})

	table := newTable(w, []string{"Parameter", "Actual", "Predicted", "SMAPE", "Accuracy"})
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func metricRow(name string, m models.Metric) []string {
	return []string{
		name,
		fmtPtr(m.Actual, "%.2f"),
		fmtPtr(m.Pred, "%.2f"),
		fmtPtr(m.SMAPE, "%.4f"),
		fmtPtr(m.AccuracyPct, "%.1f%%"),
	}
}

func printDailyResults(w io.Writer, results []ingest.BuoyResult) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No buoys produced a forecast")
		return nil
	}
	var data [][]string
	for _, r := range results {
		data = append(data, []string{
			r.BuoyID,
			r.ForecastID,
			statusLabel(r.Status),
			fmt.Sprintf("%.1f", r.WQIAvg3d),
			fmtPtr(r.EvalAccuracyPct, "%.1f%%"),
		})
	}
	table := newTable(w, []string{"Buoy", "Forecast", "Status", "WQI (3d)", "Yesterday"})
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printBuoys(w io.Writer, st *store.Store, buoys []models.Buoy) error {
	var data [][]string
	for _, b := range buoys {
		latest, err := st.GetLatestReadingTime(b.BuoyID)
		if err != nil {
			return err
		}
		last := dimColor("never")
		if !latest.IsZero() {
			last = latest.Local().Format(time.DateTime)
		}
		data = append(data, []string{
			b.BuoyID,
			b.Name,
			fmt.Sprintf("%.4f", b.Latitude),
			fmt.Sprintf("%.4f", b.Longitude),
			last,
		})
	}
	table := newTable(w, []string{"Buoy", "Name", "Lat", "Lon", "Last Reading"})
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printConfig(w io.Writer, st *store.Store) error {
	cfg, err := st.LoadWQIConfig()
	version := 0
	switch {
	case errors.Is(err, wqi.ErrConfigMissing):
		cfg = wqi.Default()
	case err != nil:
		return err
	default:
		if version, err = st.WQIConfigVersion(); err != nil {
			return err
		}
	}

	if version == 0 {
		fmt.Fprintln(w, dimColor("# built-in default"))
	} else {
		fmt.Fprintf(w, "# version %d\n", version)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
