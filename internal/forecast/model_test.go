package forecast

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/buoyforecast/internal/models"
)

func rowsFrom(days int, means func(int) models.Means) []models.DailyRow {
	rows := make([]models.DailyRow, days)
	for d := range rows {
		rows[d] = models.DailyRow{Date: historyStart.AddDate(0, 0, d), Means: means(d), DayCoverage: 1}
	}
	return rows
}

func TestTrainModel_ConstantSeries(t *testing.T) {
	m, err := TrainModel(rowsFrom(12, constantMeans), DefaultRidgeAlpha)
	require.NoError(t, err)
	assert.Equal(t, 11, m.Rows)

	pred, err := m.Predict(constantMeans(0))
	require.NoError(t, err)
	for p, v := range constantMeans(0) {
		assert.InDelta(t, v, pred[p], 1e-9, p)
	}
}

func TestTrainModel_TracksPersistence(t *testing.T) {
	wave := func(d int) models.Means {
		m := constantMeans(d)
		m[models.Temperature] = 28 + 2*math.Sin(float64(d)/3)
		return m
	}
	m, err := TrainModel(rowsFrom(40, wave), 0.1)
	require.NoError(t, err)

	warm := constantMeans(0)
	warm[models.Temperature] = 29.8
	cool := constantMeans(0)
	cool[models.Temperature] = 26.2

	a, err := m.Predict(warm)
	require.NoError(t, err)
	b, err := m.Predict(cool)
	require.NoError(t, err)
	assert.Greater(t, a[models.Temperature], b[models.Temperature])
}

func TestTrainModel_TooFewRows(t *testing.T) {
	_, err := TrainModel(rowsFrom(5, constantMeans), DefaultRidgeAlpha)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestModelPredict_MissingFeature(t *testing.T) {
	m, err := TrainModel(rowsFrom(12, constantMeans), DefaultRidgeAlpha)
	require.NoError(t, err)

	x := constantMeans(0)
	delete(x, models.EC)
	_, err = m.Predict(x)
	assert.True(t, errors.Is(err, ErrPredictorUnavailable))

	var nilModel *Model
	_, err = nilModel.Predict(constantMeans(0))
	assert.True(t, errors.Is(err, ErrPredictorUnavailable))
}

type memModels struct {
	saved map[string]*Model
}

func (m *memModels) LoadModel(id string) (*Model, error) { return m.saved[id], nil }

func (m *memModels) SaveModel(id string, model *Model) error {
	m.saved[id] = model
	return nil
}

func TestModelRegistry(t *testing.T) {
	store := &memModels{saved: map[string]*Model{}}
	reg := NewModelRegistry(store)

	_, err := reg.LoadPredictor("buoy-1")
	assert.True(t, errors.Is(err, ErrPredictorUnavailable))

	_, err = reg.TrainPredictor("buoy-1", rowsFrom(12, constantMeans))
	require.NoError(t, err)
	require.NotNil(t, store.saved["buoy-1"])
	assert.WithinDuration(t, time.Now(), store.saved["buoy-1"].TrainedAt, time.Minute)

	p, err := reg.LoadPredictor("buoy-1")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestBuildResidualBank(t *testing.T) {
	series := func(d int) models.Means {
		m := constantMeans(d)
		m[models.TDS] = float64(100 + 10*d)
		return m
	}
	rows := rowsFrom(4, series)
	rows = append(rows, models.DailyRow{Date: historyStart.AddDate(0, 0, 4), Means: models.Means{}})

	bank := BuildResidualBank(rows, lastSeen)
	assert.Equal(t, []float64{10, 10, 10}, bank[models.TDS])
	assert.Equal(t, []float64{0, 0, 0}, bank[models.PH])

	assert.Empty(t, BuildResidualBank(rows, nil))
}
