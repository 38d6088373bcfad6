package forecast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

// memStore is an in-memory stand-in for the sqlite store.
type memStore struct {
	mu          sync.Mutex
	samples     []models.RawSample
	cfg         *wqi.Config
	forecasts   []models.ForecastDocument
	evaluations []models.EvaluationDocument
	alerts      []models.Alert
	buoys       map[string]*models.Buoy
	seq         int
}

func (m *memStore) FetchSamples(buoyID string, lookbackDays int) ([]models.RawSample, error) {
	return m.samples, nil
}

func (m *memStore) LoadWQIConfig() (*wqi.Config, error) {
	if m.cfg == nil {
		return nil, wqi.ErrConfigMissing
	}
	return m.cfg, nil
}

func (m *memStore) InsertForecast(doc *models.ForecastDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("fc-%d", m.seq)
	cp := clone(*doc)
	cp.ID = id
	m.forecasts = append(m.forecasts, cp)
	return id, nil
}

func (m *memStore) UpdateForecastDays(id string, days []models.ForecastDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.forecasts {
		if m.forecasts[i].ID == id {
			m.forecasts[i].Daily = clone(days)
			return nil
		}
	}
	return fmt.Errorf("forecast %s not found", id)
}

func (m *memStore) ListForecasts(buoyID string) ([]models.ForecastDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ForecastDocument
	for _, d := range m.forecasts {
		if d.BuoyID == buoyID {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

func (m *memStore) InsertEvaluation(doc *models.EvaluationDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("ev-%d", m.seq)
	cp := clone(*doc)
	cp.ID = id
	m.evaluations = append(m.evaluations, cp)
	return id, nil
}

func (m *memStore) InsertAlert(a models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memStore) GetBuoy(id string) (*models.Buoy, error) {
	return m.buoys[id], nil
}

// clone deep-copies through JSON, mirroring what persistence does.
func clone[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

// funcPredictor adapts a function to Predictor.
type funcPredictor func(models.Means) (models.Means, error)

func (f funcPredictor) Predict(x models.Means) (models.Means, error) { return f(x) }

type staticPredictors struct {
	p   Predictor
	err error
}

func (s staticPredictors) LoadPredictor(string) (Predictor, error) {
	if s.p == nil {
		return nil, ErrPredictorUnavailable
	}
	return s.p, nil
}

func (s staticPredictors) TrainPredictor(string, []models.DailyRow) (Predictor, error) {
	if s.err != nil {
		return nil, s.err
	}
	return nil, ErrPredictorUnavailable
}

var lastSeen = funcPredictor(func(x models.Means) (models.Means, error) { return x.Clone(), nil })

// dailySamples emits one reading per parameter at noon local time for each
// day starting at start.
func dailySamples(start time.Time, days int, means func(day int) models.Means) []models.RawSample {
	var out []models.RawSample
	for d := 0; d < days; d++ {
		ts := start.AddDate(0, 0, d).Add(12 * time.Hour).UTC().Format(time.RFC3339)
		for p, v := range means(d) {
			out = append(out, models.RawSample{Timestamp: ts, Parameter: string(p), Value: v})
		}
	}
	return out
}

func constantMeans(int) models.Means {
	return models.Means{
		models.PH:          7.0,
		models.TDS:         100,
		models.EC:          100,
		models.Turbidity:   10,
		models.Temperature: 28,
		models.Rainfall:    700,
	}
}

var (
	historyStart = time.Date(2024, 3, 1, 0, 0, 0, 0, ICT)
	runTime      = time.Date(2024, 3, 11, 9, 0, 0, 0, ICT)
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return runTime }
	return opts
}

func newTestDeps(st *memStore, p PredictorSource) Deps {
	return Deps{
		Samples:     st,
		Config:      st,
		Predictors:  p,
		Forecasts:   st,
		Evaluations: st,
		Alerts:      st,
		Buoys:       st,
	}
}
