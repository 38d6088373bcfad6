package ingest

import (
	"context"
	"log"
	"time"

	"github.com/lox/buoyforecast/internal/models"
)

type BuoyLister interface {
	GetActiveBuoys() ([]models.Buoy, error)
}

type ForecastRunner interface {
	RunForecast(ctx context.Context, buoyID string) (string, *models.ForecastDocument, error)
}

type DayEvaluator interface {
	Evaluate(ctx context.Context, buoyID string, date time.Time) (*models.EvaluationDocument, error)
}

type PayloadJanitor interface {
	CleanupOldRawPayloads(retentionDays int) (int64, error)
}

// BuoyResult is one buoy's outcome in a batch run.
type BuoyResult struct {
	BuoyID          string   `json:"buoy_id"`
	ForecastID      string   `json:"forecast_id"`
	Status          string   `json:"status"`
	WQIAvg3d        float64  `json:"wqi_avg_3d"`
	EvalAccuracyPct *float64 `json:"eval_accuracy_pct"`
}

type DailyJobs struct {
	buoys     BuoyLister
	forecasts ForecastRunner
	evals     DayEvaluator
	janitor   PayloadJanitor
	retention int
}

func NewDailyJobs(buoys BuoyLister, forecasts ForecastRunner, evals DayEvaluator) *DailyJobs {
	return &DailyJobs{buoys: buoys, forecasts: forecasts, evals: evals}
}

// SetPayloadRetention enables pruning archived payloads older than days after
// each batch.
func (d *DailyJobs) SetPayloadRetention(janitor PayloadJanitor, days int) {
	d.janitor = janitor
	d.retention = days
}

// RunAll forecasts every active buoy and evaluates the day before forDate. A
// buoy whose forecast fails is logged and left out of the results; a failed
// evaluation only leaves its accuracy empty.
func (d *DailyJobs) RunAll(ctx context.Context, forDate time.Time) ([]BuoyResult, error) {
	buoys, err := d.buoys.GetActiveBuoys()
	if err != nil {
		return nil, err
	}
	evalDate := forDate.AddDate(0, 0, -1)
	log.Printf("daily: running %d buoys for %s (evaluating %s)",
		len(buoys), forDate.Format("2006-01-02"), evalDate.Format("2006-01-02"))

	results := make([]BuoyResult, 0, len(buoys))
	for _, b := range buoys {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, ok := d.runBuoy(ctx, b.BuoyID, evalDate)
		if ok {
			results = append(results, res)
		}
	}

	if d.janitor != nil && d.retention > 0 {
		n, err := d.janitor.CleanupOldRawPayloads(d.retention)
		if err != nil {
			log.Printf("daily: cleanup raw payloads: %v", err)
		} else if n > 0 {
			log.Printf("daily: removed %d raw payloads older than %d days", n, d.retention)
		}
	}

	log.Printf("daily: completed %d/%d buoys", len(results), len(buoys))
	return results, nil
}

func (d *DailyJobs) runBuoy(ctx context.Context, buoyID string, evalDate time.Time) (res BuoyResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("daily: %s: panic: %v", buoyID, r)
			ok = false
		}
	}()

	forecastID, doc, err := d.forecasts.RunForecast(ctx, buoyID)
	if err != nil {
		log.Printf("daily: %s: forecast: %v", buoyID, err)
		return BuoyResult{}, false
	}
	res = BuoyResult{
		BuoyID:     buoyID,
		ForecastID: forecastID,
		Status:     doc.Status3d,
		WQIAvg3d:   doc.WQIAvg3d,
	}

	eval, err := d.evals.Evaluate(ctx, buoyID, evalDate)
	if err != nil {
		log.Printf("daily: %s: evaluate %s: %v", buoyID, evalDate.Format("2006-01-02"), err)
		return res, true
	}
	res.EvalAccuracyPct = eval.Metrics.Overall.AccuracyPct
	return res, true
}
