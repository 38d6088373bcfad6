package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/buoyforecast/internal/models"
)

var ErrPredictorUnavailable = errors.New("predictor unavailable")

// MinTrainingRows is the number of daily rows required before training.
const MinTrainingRows = 11

// DefaultRidgeAlpha regularizes the next-day regression.
const DefaultRidgeAlpha = 1.0

// Predictor returns next-day parameter means from one day's means.
type Predictor interface {
	Predict(features models.Means) (models.Means, error)
}

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// Model is a multi-output ridge regression on standardized features that
// predicts tomorrow's means from today's.
type Model struct {
	Features  []models.Param `json:"features"`
	Scaler    Scaler         `json:"scaler"`
	Coef      [][]float64    `json:"coef"` // [target][feature]
	Intercept []float64      `json:"intercept"`
	Alpha     float64        `json:"alpha"`
	Rows      int            `json:"rows"`
	TrainedAt time.Time      `json:"trained_at"`
}

// Predict requires every feature to be present and finite.
func (m *Model) Predict(features models.Means) (models.Means, error) {
	if m == nil || len(m.Coef) != len(m.Features) {
		return nil, ErrPredictorUnavailable
	}
	x := make([]float64, len(m.Features))
	for i, p := range m.Features {
		v, ok := features.Get(p)
		if !ok {
			return nil, fmt.Errorf("%w: missing feature %s", ErrPredictorUnavailable, p)
		}
		x[i] = v
	}
	z := m.Scaler.Transform(x)

	out := make(models.Means, len(m.Features))
	for t, p := range m.Features {
		y := m.Intercept[t]
		for j, c := range m.Coef[t] {
			y += c * z[j]
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("%w: non-finite prediction for %s", ErrPredictorUnavailable, p)
		}
		out[p] = y
	}
	return out, nil
}

// TrainModel fits the next-day model on consecutive pairs of complete rows.
func TrainModel(rows []models.DailyRow, alpha float64) (*Model, error) {
	if len(rows) < MinTrainingRows {
		return nil, fmt.Errorf("%w: need %d daily rows, have %d", ErrInsufficientData, MinTrainingRows, len(rows))
	}
	features := models.Params
	d := len(features)

	var xs, ys [][]float64
	for i := 0; i+1 < len(rows); i++ {
		if !rows[i].Means.Complete() || !rows[i+1].Means.Complete() {
			continue
		}
		xs = append(xs, vector(rows[i].Means, features))
		ys = append(ys, vector(rows[i+1].Means, features))
	}
	n := len(xs)
	if n < 2 {
		return nil, fmt.Errorf("%w: only %d complete training pairs", ErrInsufficientData, n)
	}

	scaler := Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range xs {
			col[i] = xs[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std < 1e-12 || math.IsNaN(std) {
			std = 1
		}
		scaler.Mean[j], scaler.Scale[j] = mean, std
	}

	X := mat.NewDense(n, d, nil)
	Y := mat.NewDense(n, d, nil)
	intercept := make([]float64, d)
	for j := 0; j < d; j++ {
		for i := range ys {
			col[i] = ys[i][j]
		}
		intercept[j] = stat.Mean(col, nil)
	}
	for i := range xs {
		X.SetRow(i, scaler.Transform(xs[i]))
		for j := 0; j < d; j++ {
			Y.Set(i, j, ys[i][j]-intercept[j])
		}
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	for j := 0; j < d; j++ {
		xtx.Set(j, j, xtx.At(j, j)+alpha)
	}
	var xty mat.Dense
	xty.Mul(X.T(), Y)

	var beta mat.Dense
	if err := beta.Solve(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("solve ridge system: %w", err)
	}

	coef := make([][]float64, d)
	for t := 0; t < d; t++ {
		coef[t] = make([]float64, d)
		for j := 0; j < d; j++ {
			coef[t][j] = beta.At(j, t)
		}
	}

	return &Model{
		Features:  append([]models.Param(nil), features...),
		Scaler:    scaler,
		Coef:      coef,
		Intercept: intercept,
		Alpha:     alpha,
		Rows:      n,
		TrainedAt: time.Now().UTC(),
	}, nil
}

func vector(m models.Means, params []models.Param) []float64 {
	out := make([]float64, len(params))
	for i, p := range params {
		out[i], _ = m.Get(p)
	}
	return out
}

// ModelStore persists trained models per buoy. LoadModel returns nil, nil
// when no model exists.
type ModelStore interface {
	LoadModel(buoyID string) (*Model, error)
	SaveModel(buoyID string, m *Model) error
}

// ModelRegistry serves stored models and trains new ones on demand.
type ModelRegistry struct {
	store ModelStore
	alpha float64
}

func NewModelRegistry(store ModelStore) *ModelRegistry {
	return &ModelRegistry{store: store, alpha: DefaultRidgeAlpha}
}

func (r *ModelRegistry) LoadPredictor(buoyID string) (Predictor, error) {
	m, err := r.store.LoadModel(buoyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
	}
	if m == nil {
		return nil, ErrPredictorUnavailable
	}
	return m, nil
}

func (r *ModelRegistry) TrainPredictor(buoyID string, rows []models.DailyRow) (Predictor, error) {
	m, err := TrainModel(rows, r.alpha)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveModel(buoyID, m); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	return m, nil
}
