package forecast

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lox/buoyforecast/internal/metrics"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

// SMAPE is |pred-actual| / ((|pred|+|actual|)/2), or 0 when both are
// effectively zero.
func SMAPE(actual, pred float64) float64 {
	denom := (math.Abs(actual) + math.Abs(pred)) / 2
	if denom < 1e-9 {
		return 0
	}
	return math.Abs(pred-actual) / denom
}

// Accuracy converts a SMAPE into a percentage clamped to [0,100].
func Accuracy(smape float64) float64 {
	return math.Max(0, math.Min(100, (1-smape)*100))
}

// Evaluator compares stored forecasts with what was later observed.
type Evaluator struct {
	deps Deps
	opts Options
}

func NewEvaluator(deps Deps, opts Options) *Evaluator {
	return &Evaluator{deps: deps, opts: opts.withDefaults()}
}

// Evaluate scores the observed means for date, matches them against the
// first stored forecast day with the same date and records a new evaluation.
// A zero date means today. If date has no daily row the most recent row is
// used instead; ActualDate records which.
func (e *Evaluator) Evaluate(ctx context.Context, buoyID string, date time.Time) (*models.EvaluationDocument, error) {
	if date.IsZero() {
		date = e.opts.today()
	}
	target := date.Format("2006-01-02")

	rows, err := loadRows(e.deps.Samples, buoyID, e.opts)
	if err != nil {
		metrics.Evaluations.WithLabelValues("error").Inc()
		return nil, err
	}
	row, ok := RowFor(rows, date)
	if !ok {
		row = rows[len(rows)-1]
		log.Printf("evaluate: %s: no data for %s, using %s", buoyID, target, row.DateString())
	}

	scorer := loadScorer(e.deps.Config)
	actualWQI := scorer.WQI(row.Means)
	actual := models.Actual{
		Params: row.Means.Nullable(),
		WQI:    ptr(actualWQI),
		Status: wqi.Status(actualWQI),
	}

	match, err := e.findForecastDay(buoyID, target)
	if err != nil {
		return nil, err
	}

	doc := &models.EvaluationDocument{
		BuoyID:     buoyID,
		Date:       target,
		ActualDate: row.DateString(),
		Actual:     actual,
		Metrics: models.EvaluationMetrics{
			ByParam: make(map[models.Param]models.Metric, len(models.Params)),
		},
		CreatedAt: time.Now().UTC(),
	}

	var day *models.ForecastDay
	if match != nil {
		day = &match.doc.Daily[match.index]
		doc.Prediction = models.Prediction{Found: true, ForecastID: match.doc.ID, WQIPred: ptr(day.WQI.Value)}
	}

	var smapes []float64
	for _, p := range models.Params {
		a := actual.Params[p]
		var pred *float64
		if day != nil {
			if pf, ok := day.Params[p]; ok {
				pred = ptr(pf.Mean)
			}
		}
		m := metric(a, pred)
		if m.SMAPE != nil {
			smapes = append(smapes, *m.SMAPE)
		}
		doc.Metrics.ByParam[p] = m
	}
	doc.Metrics.WQI = metric(actual.WQI, doc.Prediction.WQIPred)
	if len(smapes) > 0 {
		var sum float64
		for _, s := range smapes {
			sum += s
		}
		overall := sum / float64(len(smapes))
		doc.Metrics.Overall = models.OverallMetric{SMAPE: ptr(overall), AccuracyPct: ptr(Accuracy(overall))}
	}

	id, err := e.deps.Evaluations.InsertEvaluation(doc)
	if err != nil {
		metrics.Evaluations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}
	doc.ID = id

	if day != nil {
		day.Actual = &models.Actual{Params: actual.Params, WQI: actual.WQI, Status: actual.Status}
		day.WQI.AccuracyPct = doc.Metrics.WQI.AccuracyPct
		if err := e.deps.Forecasts.UpdateForecastDays(match.doc.ID, match.doc.Daily); err != nil {
			log.Printf("evaluate: %s: backfill forecast %s: %v", buoyID, match.doc.ID, err)
		}
	}

	outcome := "matched"
	if day == nil {
		outcome = "unmatched"
	}
	metrics.Evaluations.WithLabelValues(outcome).Inc()
	if doc.Metrics.Overall.AccuracyPct != nil {
		metrics.ForecastAccuracy.WithLabelValues(buoyID).Set(*doc.Metrics.Overall.AccuracyPct)
	}
	log.Printf("evaluate: %s: %s actual wqi %.1f (%s), matched=%t", buoyID, target, actualWQI, actual.Status, day != nil)
	return doc, nil
}

type forecastMatch struct {
	doc   *models.ForecastDocument
	index int
}

// findForecastDay scans every stored forecast for the buoy and returns the
// first day dated target. The scan is linear in the number of forecasts.
func (e *Evaluator) findForecastDay(buoyID, target string) (*forecastMatch, error) {
	docs, err := e.deps.Forecasts.ListForecasts(buoyID)
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	for i := range docs {
		for j := range docs[i].Daily {
			if docs[i].Daily[j].Date == target {
				return &forecastMatch{doc: &docs[i], index: j}, nil
			}
		}
	}
	return nil, nil
}

func metric(actual, pred *float64) models.Metric {
	m := models.Metric{Actual: actual, Pred: pred}
	if actual != nil && pred != nil {
		s := SMAPE(*actual, *pred)
		m.SMAPE = ptr(s)
		m.AccuracyPct = ptr(Accuracy(s))
	}
	return m
}

func ptr(v float64) *float64 { return &v }
