package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForecastRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buoyforecast_forecast_runs_total",
			Help: "Total forecast runs by outcome",
		},
		[]string{"outcome"},
	)

	ForecastRunLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buoyforecast_forecast_run_seconds",
			Help:    "Forecast run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ForecastWQI = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buoyforecast_forecast_wqi_avg",
			Help: "Average forecast WQI over the horizon of the latest run",
		},
		[]string{"buoy"},
	)

	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buoyforecast_evaluations_total",
			Help: "Total evaluations by outcome",
		},
		[]string{"outcome"},
	)

	ForecastAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buoyforecast_forecast_accuracy_pct",
			Help: "Overall accuracy of the latest evaluation",
		},
		[]string{"buoy"},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buoyforecast_alerts_emitted_total",
			Help: "Total forecast alerts emitted",
		},
		[]string{"severity"},
	)

	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buoyforecast_samples_ingested_total",
			Help: "Total sensor samples successfully ingested",
		},
		[]string{"buoy"},
	)

	RainfallAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buoyforecast_rainfall_api_calls_total",
			Help: "Total Open-Meteo rainfall API calls",
		},
		[]string{"status"},
	)

	RainfallAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buoyforecast_rainfall_api_latency_seconds",
			Help:    "Open-Meteo API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
