package forecast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lox/buoyforecast/internal/metrics"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

var ErrInsufficientData = errors.New("insufficient data")

type SampleSource interface {
	FetchSamples(buoyID string, lookbackDays int) ([]models.RawSample, error)
}

// ConfigLoader returns wqi.ErrConfigMissing when nothing is stored.
type ConfigLoader interface {
	LoadWQIConfig() (*wqi.Config, error)
}

// PredictorSource returns ErrPredictorUnavailable when no fitted predictor exists.
type PredictorSource interface {
	LoadPredictor(buoyID string) (Predictor, error)
	TrainPredictor(buoyID string, rows []models.DailyRow) (Predictor, error)
}

type ForecastRepo interface {
	InsertForecast(doc *models.ForecastDocument) (string, error)
	UpdateForecastDays(forecastID string, days []models.ForecastDay) error
	ListForecasts(buoyID string) ([]models.ForecastDocument, error)
}

type EvaluationRepo interface {
	InsertEvaluation(doc *models.EvaluationDocument) (string, error)
}

type AlertSink interface {
	InsertAlert(a models.Alert) error
}

// BuoyDirectory looks up registry metadata. GetBuoy returns nil, nil for
// unknown buoys.
type BuoyDirectory interface {
	GetBuoy(buoyID string) (*models.Buoy, error)
}

// RainfallSource supplies externally forecast daily rainfall keyed by date.
type RainfallSource interface {
	DailyRainfall(ctx context.Context, lat, lon float64, days int) (map[string]float64, error)
}

// Deps are the collaborators shared by the forecaster and evaluator. Buoys and
// Rainfall are optional.
type Deps struct {
	Samples     SampleSource
	Config      ConfigLoader
	Predictors  PredictorSource
	Forecasts   ForecastRepo
	Evaluations EvaluationRepo
	Alerts      AlertSink
	Buoys       BuoyDirectory
	Rainfall    RainfallSource
}

type Options struct {
	LookbackDays int
	Horizon      int
	Draws        int
	LowQ         float64
	HighQ        float64
	SeedBase     int64
	// AccumulateResiduals widens intervals with lead time. When false every
	// horizon day draws a single residual per parameter.
	AccumulateResiduals bool
	Location            *time.Location
	Now                 func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LookbackDays:        60,
		Horizon:             3,
		Draws:               DefaultDraws,
		LowQ:                DefaultLowQ,
		HighQ:               DefaultHighQ,
		SeedBase:            1000,
		AccumulateResiduals: false,
		Location:            ICT,
		Now:                 time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LookbackDays <= 0 {
		o.LookbackDays = d.LookbackDays
	}
	if o.Horizon <= 0 {
		o.Horizon = d.Horizon
	}
	if o.Draws <= 0 {
		o.Draws = d.Draws
	}
	if o.LowQ <= 0 && o.HighQ <= 0 {
		o.LowQ, o.HighQ = d.LowQ, d.HighQ
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

func (o Options) today() time.Time {
	now := o.Now().In(o.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.Location)
}

// loadScorer builds a scorer from the stored configuration, falling back to
// the default when it is missing or unusable.
func loadScorer(loader ConfigLoader) *wqi.Scorer {
	if loader == nil {
		return wqi.MustScorer(wqi.Default())
	}
	cfg, err := loader.LoadWQIConfig()
	if err != nil {
		if errors.Is(err, wqi.ErrConfigMissing) {
			log.Printf("forecast: no stored wqi config, using default")
		} else {
			log.Printf("forecast: load wqi config: %v, using default", err)
		}
		return wqi.MustScorer(wqi.Default())
	}
	s, err := wqi.NewScorer(cfg)
	if err != nil {
		log.Printf("forecast: stored wqi config rejected: %v, using default", err)
		return wqi.MustScorer(wqi.Default())
	}
	return s
}

func loadRows(src SampleSource, buoyID string, opts Options) ([]models.DailyRow, error) {
	samples, err := src.FetchSamples(buoyID, opts.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("fetch samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples for %s in last %d days", ErrInsufficientData, buoyID, opts.LookbackDays)
	}
	rows := Aggregate(samples, opts.Location)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no usable samples for %s", ErrInsufficientData, buoyID)
	}
	return rows, nil
}

// Forecaster runs the multi-day forecast for one buoy at a time.
type Forecaster struct {
	deps Deps
	opts Options
}

func NewForecaster(deps Deps, opts Options) *Forecaster {
	return &Forecaster{deps: deps, opts: opts.withDefaults()}
}

// RunForecast predicts the next Horizon days starting today, persists the
// document and emits alerts for every day that is not good.
func (f *Forecaster) RunForecast(ctx context.Context, buoyID string) (string, *models.ForecastDocument, error) {
	start := time.Now()
	id, doc, err := f.run(ctx, buoyID)
	metrics.ForecastRunLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrInsufficientData) {
			outcome = "insufficient_data"
		}
		metrics.ForecastRuns.WithLabelValues(outcome).Inc()
		return "", nil, err
	}
	metrics.ForecastRuns.WithLabelValues("ok").Inc()
	metrics.ForecastWQI.WithLabelValues(buoyID).Set(doc.WQIAvg3d)
	return id, doc, nil
}

func (f *Forecaster) run(ctx context.Context, buoyID string) (string, *models.ForecastDocument, error) {
	rows, err := loadRows(f.deps.Samples, buoyID, f.opts)
	if err != nil {
		return "", nil, err
	}

	scorer := loadScorer(f.deps.Config)
	predictor := f.predictor(buoyID, rows)
	bank := BuildResidualBank(rows, predictor)
	log.Printf("forecast: %s: %d daily rows, %d residuals for ph", buoyID, len(rows), bank.Size(models.PH))

	var buoy *models.Buoy
	if f.deps.Buoys != nil {
		if buoy, err = f.deps.Buoys.GetBuoy(buoyID); err != nil {
			log.Printf("forecast: %s: lookup buoy: %v", buoyID, err)
		}
	}

	today := f.opts.today()
	rain := f.rainfall(ctx, buoy, scorer.Config())
	lastActual := LastKnown(rows)
	window := append([]models.DailyRow(nil), rows...)
	engine := &Engine{Scorer: scorer, Draws: f.opts.Draws, LowQ: f.opts.LowQ, HighQ: f.opts.HighQ}

	days := make([]models.ForecastDay, 0, f.opts.Horizon)
	for i := 0; i < f.opts.Horizon; i++ {
		date := today.AddDate(0, 0, i)
		dateStr := date.Format("2006-01-02")

		features := fillMissing(window[len(window)-1].Means, lastActual)
		pred, err := predict(predictor, features)
		if err != nil {
			log.Printf("forecast: %s: day %d: %v, carrying last actual means forward", buoyID, i, err)
			pred = lastActual.Clone()
		}
		pred = wqi.Clip(pred)

		var override *float64
		if v, ok := rain[dateStr]; ok {
			v = wqi.ClipValue(models.Rainfall, v)
			override = &v
			pred[models.Rainfall] = v
		}

		steps := 1
		if f.opts.AccumulateResiduals {
			steps = i + 1
		}
		mc := engine.Run(pred, bank, override, steps, NewRand(f.opts.SeedBase+int64(i)))

		value := scorer.WQI(pred)
		day := models.ForecastDay{
			Date:   dateStr,
			Params: make(map[models.Param]models.ParamForecast, len(pred)),
			WQI: models.WQIForecast{
				Value:      value,
				Status:     wqi.Status(value),
				Confidence: scorer.Config().PIConfidence,
				Probs:      mc.Probs,
				PI:         PredictionInterval(mc.WQISamples, f.opts.LowQ, f.opts.HighQ),
			},
		}
		for _, p := range models.Params {
			v, ok := pred.Get(p)
			if !ok {
				continue
			}
			day.Params[p] = models.ParamForecast{
				Mean:   v,
				PILow:  mc.ParamIntervals[p].Low,
				PIHigh: mc.ParamIntervals[p].High,
			}
		}
		days = append(days, day)

		window = upsertRow(window, models.DailyRow{Date: date, Means: pred, DayCoverage: 1})
	}

	var sum float64
	for _, d := range days {
		sum += d.WQI.Value
	}
	avg := sum / float64(len(days))

	doc := &models.ForecastDocument{
		BuoyID:       buoyID,
		Daily:        days,
		WQIAvg3d:     avg,
		Status3d:     wqi.Status(avg),
		ForecastDate: today.Format("2006-01-02"),
		CreatedAt:    time.Now().UTC(),
	}
	id, err := f.deps.Forecasts.InsertForecast(doc)
	if err != nil {
		return "", nil, fmt.Errorf("persist forecast: %w", err)
	}
	doc.ID = id
	log.Printf("forecast: %s: stored %s, avg wqi %.1f (%s)", buoyID, id, avg, doc.Status3d)

	f.emitAlerts(buoy, doc)
	return id, doc, nil
}

// predictor loads the stored predictor or trains one from rows. It returns
// nil when neither works; callers then carry actual means forward.
func (f *Forecaster) predictor(buoyID string, rows []models.DailyRow) Predictor {
	if f.deps.Predictors == nil {
		return nil
	}
	p, err := f.deps.Predictors.LoadPredictor(buoyID)
	if err == nil && p != nil {
		return p
	}
	log.Printf("forecast: %s: no stored predictor (%v), training", buoyID, err)
	p, err = f.deps.Predictors.TrainPredictor(buoyID, rows)
	if err != nil {
		log.Printf("forecast: %s: train predictor: %v", buoyID, err)
		return nil
	}
	return p
}

func (f *Forecaster) rainfall(ctx context.Context, buoy *models.Buoy, cfg *wqi.Config) map[string]float64 {
	if f.deps.Rainfall == nil || buoy == nil || cfg.RainUnit != "mm" {
		return nil
	}
	rain, err := f.deps.Rainfall.DailyRainfall(ctx, buoy.Latitude, buoy.Longitude, f.opts.Horizon)
	if err != nil {
		log.Printf("forecast: %s: rainfall forecast: %v", buoy.BuoyID, err)
		return nil
	}
	return rain
}

func (f *Forecaster) emitAlerts(buoy *models.Buoy, doc *models.ForecastDocument) {
	if f.deps.Alerts == nil {
		return
	}
	var uid string
	if buoy != nil {
		uid = buoy.OwnerUID
	}
	for _, d := range doc.Daily {
		if d.WQI.Status == wqi.StatusGood {
			continue
		}
		severity := wqi.Severity(d.WQI.Status)
		a := models.Alert{
			BuoyID:   doc.BuoyID,
			UID:      uid,
			Category: "forecast_wqi",
			Severity: severity,
			Value:    d.WQI.Value,
			Message:  fmt.Sprintf("Forecast water quality %s on %s (WQI=%.1f)", strings.ToUpper(severity), d.Date, d.WQI.Value),
			Reason: fmt.Sprintf("status=%s p(wqi<50)=%.2f p(wqi<60)=%.2f",
				d.WQI.Status, d.WQI.Probs[ProbBelow50], d.WQI.Probs[ProbBelow60]),
			Origin:    "forecast",
			RefDate:   d.Date,
			CreatedAt: time.Now().UTC(),
		}
		if err := f.deps.Alerts.InsertAlert(a); err != nil {
			log.Printf("forecast: %s: insert alert for %s: %v", doc.BuoyID, d.Date, err)
			continue
		}
		metrics.AlertsEmitted.WithLabelValues(severity).Inc()
	}
}

func predict(p Predictor, features models.Means) (models.Means, error) {
	if p == nil {
		return nil, ErrPredictorUnavailable
	}
	return p.Predict(features)
}

// fillMissing fills parameters absent from m with values from fallback.
func fillMissing(m, fallback models.Means) models.Means {
	out := m.Clone()
	for _, p := range models.Params {
		if _, ok := out.Get(p); ok {
			continue
		}
		if v, ok := fallback.Get(p); ok {
			out[p] = v
		} else {
			delete(out, p)
		}
	}
	return out
}

// upsertRow replaces the row with the same date or inserts it in order.
func upsertRow(rows []models.DailyRow, row models.DailyRow) []models.DailyRow {
	key := row.DateString()
	for i := range rows {
		if rows[i].DateString() == key {
			rows[i] = row
			return rows
		}
	}
	rows = append(rows, row)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}
