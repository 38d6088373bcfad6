package export

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/models"
)

func fp(v float64) *float64 { return &v }

func sampleForecasts() []models.ForecastDocument {
	created := time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC)
	return []models.ForecastDocument{{
		ID:           "fc-1",
		BuoyID:       "B01",
		ForecastDate: "2024-03-11",
		CreatedAt:    created,
		Daily: []models.ForecastDay{
			{
				Date: "2024-03-11",
				Params: map[models.Param]models.ParamForecast{
					models.PH:  {Mean: 7.1, PILow: 6.9, PIHigh: 7.3},
					models.TDS: {Mean: 120},
				},
				WQI: models.WQIForecast{
					Value: 88, Status: "good",
					Probs:       map[string]float64{forecast.ProbBelow60: 0.02, forecast.ProbBelow50: 0, forecast.ProbWarnOrBad: 0.1},
					PI:          models.Interval{Low: 80, High: 93},
					AccuracyPct: fp(96.5),
				},
				Actual: &models.Actual{WQI: fp(85), Status: "good"},
			},
			{
				Date: "2024-03-13",
				WQI:  models.WQIForecast{Value: 64, Status: "moderate"},
			},
		},
	}}
}

func TestForecastDayRecords(t *testing.T) {
	records := ForecastDayRecords(sampleForecasts())
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "fc-1", first.ForecastID)
	assert.Equal(t, int32(0), first.LeadDays)
	assert.Equal(t, 0.1, first.ProbWarn)
	require.NotNil(t, first.PH)
	assert.Equal(t, 7.1, *first.PH)
	assert.Nil(t, first.EC)
	require.NotNil(t, first.ActualWQI)
	assert.Equal(t, 85.0, *first.ActualWQI)

	second := records[1]
	assert.Equal(t, int32(2), second.LeadDays)
	assert.Nil(t, second.ActualWQI)
	assert.Nil(t, second.AccuracyPct)
}

func TestEvaluationRecords(t *testing.T) {
	docs := []models.EvaluationDocument{
		{ID: "ev-1", BuoyID: "B01", Date: "2024-03-11", ActualDate: "2024-03-11",
			Prediction: models.Prediction{Found: true, ForecastID: "fc-1", WQIPred: fp(88)},
			Metrics:    models.EvaluationMetrics{Overall: models.OverallMetric{SMAPE: fp(0.03), AccuracyPct: fp(97)}}},
		{ID: "ev-2", BuoyID: "B01", Date: "2024-03-12", ActualDate: "2024-03-11"},
	}
	records := EvaluationRecords(docs)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].ForecastID)
	assert.Equal(t, "fc-1", *records[0].ForecastID)
	assert.True(t, records[0].Matched)
	assert.Nil(t, records[1].ForecastID)
	assert.Nil(t, records[1].OverallAccuracyPct)
}

func TestWriteForecastDays_RoundTrip(t *testing.T) {
	records := ForecastDayRecords(sampleForecasts())
	outputPath := filepath.Join(t.TempDir(), "forecast_days.parquet")
	require.NoError(t, WriteForecastDays(records, outputPath))

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer file.Close()

	reader := parquet.NewGenericReader[ForecastDayRecord](file)
	defer reader.Close()

	got := make([]ForecastDayRecord, reader.NumRows())
	n, err := reader.Read(got)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, len(records), n)
	assert.Equal(t, records[0].Date, got[0].Date)
	assert.Equal(t, records[0].WQI, got[0].WQI)
	require.NotNil(t, got[0].AccuracyPct)
	assert.Equal(t, 96.5, *got[0].AccuracyPct)
	assert.Nil(t, got[1].PH)
	assert.WithinDuration(t, records[0].CreatedAt, got[0].CreatedAt, time.Microsecond)
}

func TestWriteEvaluations_Schema(t *testing.T) {
	schema := parquet.SchemaOf(new(EvaluationRecord))
	for _, col := range []string{"eval_id", "buoy_id", "matched", "overall_smape", "overall_accuracy_pct", "created_at"} {
		_, ok := schema.Lookup(col)
		assert.True(t, ok, "column %s should exist", col)
	}

	outputPath := filepath.Join(t.TempDir(), "evaluations.parquet")
	require.NoError(t, WriteEvaluations(nil, outputPath))
	info, err := os.Stat(outputPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
