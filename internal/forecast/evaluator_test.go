package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

func forecastThenEvaluate(t *testing.T) (*memStore, *Evaluator) {
	t.Helper()
	st := &memStore{samples: dailySamples(historyStart, 10, constantMeans)}
	deps := newTestDeps(st, staticPredictors{p: lastSeen})
	_, _, err := NewForecaster(deps, testOptions()).RunForecast(context.Background(), "buoy-1")
	require.NoError(t, err)
	return st, NewEvaluator(deps, testOptions())
}

func TestEvaluate_MatchesAndBackfills(t *testing.T) {
	st, ev := forecastThenEvaluate(t)
	target := time.Date(2024, 3, 11, 0, 0, 0, 0, ICT)

	doc, err := ev.Evaluate(context.Background(), "buoy-1", target)
	require.NoError(t, err)

	assert.Equal(t, "2024-03-11", doc.Date)
	assert.Equal(t, "2024-03-10", doc.ActualDate, "falls back to most recent row")
	assert.True(t, doc.Prediction.Found)
	assert.Equal(t, "fc-1", doc.Prediction.ForecastID)
	require.NotNil(t, doc.Prediction.WQIPred)
	assert.Equal(t, wqi.StatusGood, doc.Actual.Status)

	for _, p := range models.Params {
		m := doc.Metrics.ByParam[p]
		require.NotNil(t, m.SMAPE, p)
		assert.InDelta(t, 0.0, *m.SMAPE, 1e-12, p)
		assert.InDelta(t, 100.0, *m.AccuracyPct, 1e-9, p)
	}
	require.NotNil(t, doc.Metrics.Overall.AccuracyPct)
	assert.InDelta(t, 100.0, *doc.Metrics.Overall.AccuracyPct, 1e-9)
	assert.InDelta(t, 100.0, *doc.Metrics.WQI.AccuracyPct, 1e-9)

	stored := st.forecasts[0].Daily[0]
	require.NotNil(t, stored.Actual)
	assert.Equal(t, wqi.StatusGood, stored.Actual.Status)
	require.NotNil(t, stored.WQI.AccuracyPct)
	assert.InDelta(t, 100.0, *stored.WQI.AccuracyPct, 1e-9)
	assert.Nil(t, st.forecasts[0].Daily[1].Actual, "only the matching day is touched")
}

func TestEvaluate_Idempotent(t *testing.T) {
	st, ev := forecastThenEvaluate(t)
	target := time.Date(2024, 3, 12, 0, 0, 0, 0, ICT)

	first, err := ev.Evaluate(context.Background(), "buoy-1", target)
	require.NoError(t, err)
	second, err := ev.Evaluate(context.Background(), "buoy-1", target)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.Actual, second.Actual)
	assert.Len(t, st.evaluations, 2)
}

func TestEvaluate_NoMatchingForecast(t *testing.T) {
	st := &memStore{samples: dailySamples(historyStart, 10, constantMeans)}
	ev := NewEvaluator(newTestDeps(st, nil), testOptions())

	doc, err := ev.Evaluate(context.Background(), "buoy-1", time.Date(2024, 3, 5, 0, 0, 0, 0, ICT))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", doc.ActualDate)
	assert.False(t, doc.Prediction.Found)
	assert.Nil(t, doc.Prediction.WQIPred)
	assert.Nil(t, doc.Metrics.Overall.SMAPE)
	assert.Nil(t, doc.Metrics.WQI.SMAPE)
	assert.NotNil(t, doc.Metrics.ByParam[models.PH].Actual)
	assert.Nil(t, doc.Metrics.ByParam[models.PH].Pred)
}

func TestEvaluate_DefaultsToToday(t *testing.T) {
	_, ev := forecastThenEvaluate(t)
	doc, err := ev.Evaluate(context.Background(), "buoy-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11", doc.Date)
	assert.True(t, doc.Prediction.Found)
}

func TestEvaluate_NoSamples(t *testing.T) {
	ev := NewEvaluator(newTestDeps(&memStore{}, nil), testOptions())
	_, err := ev.Evaluate(context.Background(), "buoy-1", time.Time{})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}
