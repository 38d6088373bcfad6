// Package export flattens stored forecasts and evaluations into Parquet files
// for offline accuracy analysis.
package export

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/models"
)

// ForecastDayRecord is one horizon day of one forecast run.
type ForecastDayRecord struct {
	ForecastID   string    `parquet:"forecast_id,snappy"`
	BuoyID       string    `parquet:"buoy_id,snappy,dict"`
	ForecastDate string    `parquet:"forecast_date,snappy"`
	Date         string    `parquet:"date,snappy"`
	LeadDays     int32     `parquet:"lead_days,snappy"`
	WQI          float64   `parquet:"wqi,snappy"`
	WQILow       float64   `parquet:"wqi_pi_low,snappy"`
	WQIHigh      float64   `parquet:"wqi_pi_high,snappy"`
	Status       string    `parquet:"status,snappy,dict"`
	ProbBelow60  float64   `parquet:"prob_wqi_lt_60,snappy"`
	ProbBelow50  float64   `parquet:"prob_wqi_lt_50,snappy"`
	ProbWarn     float64   `parquet:"prob_warn_or_worse,snappy"`
	PH           *float64  `parquet:"ph,optional,snappy"`
	TDS          *float64  `parquet:"tds,optional,snappy"`
	EC           *float64  `parquet:"ec,optional,snappy"`
	Turbidity    *float64  `parquet:"turbidity,optional,snappy"`
	Temperature  *float64  `parquet:"temperature,optional,snappy"`
	Rainfall     *float64  `parquet:"rainfall,optional,snappy"`
	ActualWQI    *float64  `parquet:"actual_wqi,optional,snappy"`
	AccuracyPct  *float64  `parquet:"accuracy_pct,optional,snappy"`
	CreatedAt    time.Time `parquet:"created_at,snappy"`
}

// EvaluationRecord is one stored evaluation.
type EvaluationRecord struct {
	EvalID             string    `parquet:"eval_id,snappy"`
	BuoyID             string    `parquet:"buoy_id,snappy,dict"`
	Date               string    `parquet:"date,snappy"`
	ActualDate         string    `parquet:"actual_date,snappy"`
	Matched            bool      `parquet:"matched"`
	ForecastID         *string   `parquet:"forecast_id,optional,snappy"`
	ActualWQI          *float64  `parquet:"actual_wqi,optional,snappy"`
	PredWQI            *float64  `parquet:"pred_wqi,optional,snappy"`
	WQIAccuracyPct     *float64  `parquet:"wqi_accuracy_pct,optional,snappy"`
	OverallSMAPE       *float64  `parquet:"overall_smape,optional,snappy"`
	OverallAccuracyPct *float64  `parquet:"overall_accuracy_pct,optional,snappy"`
	CreatedAt          time.Time `parquet:"created_at,snappy"`
}

func ForecastDayRecords(docs []models.ForecastDocument) []ForecastDayRecord {
	var out []ForecastDayRecord
	for _, doc := range docs {
		issued, _ := time.Parse("2006-01-02", doc.ForecastDate)
		for _, day := range doc.Daily {
			rec := ForecastDayRecord{
				ForecastID:   doc.ID,
				BuoyID:       doc.BuoyID,
				ForecastDate: doc.ForecastDate,
				Date:         day.Date,
				WQI:          day.WQI.Value,
				WQILow:       day.WQI.PI.Low,
				WQIHigh:      day.WQI.PI.High,
				Status:       day.WQI.Status,
				ProbBelow60:  day.WQI.Probs[forecast.ProbBelow60],
				ProbBelow50:  day.WQI.Probs[forecast.ProbBelow50],
				ProbWarn:     day.WQI.Probs[forecast.ProbWarnOrBad],
				PH:           paramMean(day, models.PH),
				TDS:          paramMean(day, models.TDS),
				EC:           paramMean(day, models.EC),
				Turbidity:    paramMean(day, models.Turbidity),
				Temperature:  paramMean(day, models.Temperature),
				Rainfall:     paramMean(day, models.Rainfall),
				AccuracyPct:  day.WQI.AccuracyPct,
				CreatedAt:    doc.CreatedAt.UTC(),
			}
			if d, err := time.Parse("2006-01-02", day.Date); err == nil && !issued.IsZero() {
				rec.LeadDays = int32(d.Sub(issued).Hours() / 24)
			}
			if day.Actual != nil {
				rec.ActualWQI = day.Actual.WQI
			}
			out = append(out, rec)
		}
	}
	return out
}

func paramMean(day models.ForecastDay, p models.Param) *float64 {
	pf, ok := day.Params[p]
	if !ok {
		return nil
	}
	v := pf.Mean
	return &v
}

func EvaluationRecords(docs []models.EvaluationDocument) []EvaluationRecord {
	out := make([]EvaluationRecord, 0, len(docs))
	for _, doc := range docs {
		rec := EvaluationRecord{
			EvalID:             doc.ID,
			BuoyID:             doc.BuoyID,
			Date:               doc.Date,
			ActualDate:         doc.ActualDate,
			Matched:            doc.Prediction.Found,
			ActualWQI:          doc.Actual.WQI,
			PredWQI:            doc.Prediction.WQIPred,
			WQIAccuracyPct:     doc.Metrics.WQI.AccuracyPct,
			OverallSMAPE:       doc.Metrics.Overall.SMAPE,
			OverallAccuracyPct: doc.Metrics.Overall.AccuracyPct,
			CreatedAt:          doc.CreatedAt.UTC(),
		}
		if doc.Prediction.ForecastID != "" {
			id := doc.Prediction.ForecastID
			rec.ForecastID = &id
		}
		out = append(out, rec)
	}
	return out
}

func WriteForecastDays(records []ForecastDayRecord, outputPath string) error {
	return writeParquet(records, outputPath)
}

func WriteEvaluations(records []EvaluationRecord, outputPath string) error {
	return writeParquet(records, outputPath)
}

func writeParquet[T any](records []T, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(records); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return file.Close()
}
