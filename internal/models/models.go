package models

import (
	"math"
	"time"
)

// Param names one of the water-quality parameters a buoy reports.
type Param string

const (
	PH          Param = "ph"
	TDS         Param = "tds"
	EC          Param = "ec"
	Turbidity   Param = "turbidity"
	Temperature Param = "temperature"
	Rainfall    Param = "rainfall"
)

// Params is the canonical parameter order used for feature vectors.
var Params = []Param{PH, TDS, EC, Turbidity, Temperature, Rainfall}

// ParseParam maps a sensor type string to a known parameter.
func ParseParam(s string) (Param, bool) {
	for _, p := range Params {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Means holds one value per parameter. An absent key or a NaN value is null.
type Means map[Param]float64

// Get returns the value for p and whether it is present.
func (m Means) Get(p Param) (float64, bool) {
	v, ok := m[p]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (m Means) Clone() Means {
	out := make(Means, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Complete reports whether every parameter has a value.
func (m Means) Complete() bool {
	for _, p := range Params {
		if _, ok := m.Get(p); !ok {
			return false
		}
	}
	return true
}

// Nullable converts to the wire shape where missing parameters are JSON null.
func (m Means) Nullable() map[Param]*float64 {
	out := make(map[Param]*float64, len(Params))
	for _, p := range Params {
		if v, ok := m.Get(p); ok {
			out[p] = &v
		} else {
			out[p] = nil
		}
	}
	return out
}

type Buoy struct {
	BuoyID    string
	Name      string
	Latitude  float64
	Longitude float64
	OwnerUID  string
	Active    bool
	CreatedAt time.Time
}

// RawSample is a single sensor reading as delivered by the buoy. The timestamp
// is kept as text because sources disagree on its format.
type RawSample struct {
	Timestamp string
	Parameter string
	Value     float64
}

// Reading is a stored sample after ingest validation.
type Reading struct {
	BuoyID       string
	ObservedAt   time.Time
	Parameter    Param
	Value        float64
	QualityFlags string
}

// DailyRow is one local calendar day of aggregated readings.
type DailyRow struct {
	Date        time.Time // midnight in the pipeline timezone
	Means       Means
	DayCoverage float64
}

func (r DailyRow) DateString() string {
	return r.Date.Format("2006-01-02")
}

type ParamForecast struct {
	Mean   float64 `json:"mean"`
	PILow  float64 `json:"pi_low"`
	PIHigh float64 `json:"pi_high"`
}

type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type WQIForecast struct {
	Value       float64            `json:"value"`
	Status      string             `json:"status"`
	Confidence  float64            `json:"confidence"`
	Probs       map[string]float64 `json:"probs"`
	PI          Interval           `json:"pi"`
	AccuracyPct *float64           `json:"accuracy_pct,omitempty"`
}

// Actual is the observed outcome for a day, attached to forecasts after evaluation.
type Actual struct {
	Params map[Param]*float64 `json:"params"`
	WQI    *float64           `json:"wqi"`
	Status string             `json:"status"`
}

type ForecastDay struct {
	Date   string                  `json:"date"`
	Params map[Param]ParamForecast `json:"params"`
	WQI    WQIForecast             `json:"wqi"`
	Actual *Actual                 `json:"actual,omitempty"`
}

type ForecastDocument struct {
	ID           string        `json:"forecast_id"`
	BuoyID       string        `json:"buoy_id"`
	Daily        []ForecastDay `json:"daily"`
	WQIAvg3d     float64       `json:"wqi_avg_3d"`
	Status3d     string        `json:"status_3d"`
	ForecastDate string        `json:"forecast_date"`
	CreatedAt    time.Time     `json:"created_at"`
}

type Prediction struct {
	Found      bool     `json:"found"`
	ForecastID string   `json:"forecast_id,omitempty"`
	WQIPred    *float64 `json:"wqi_pred"`
}

type Metric struct {
	Actual      *float64 `json:"actual"`
	Pred        *float64 `json:"pred"`
	SMAPE       *float64 `json:"smape"`
	AccuracyPct *float64 `json:"accuracy_pct"`
}

type OverallMetric struct {
	SMAPE       *float64 `json:"smape"`
	AccuracyPct *float64 `json:"accuracy_pct"`
}

type EvaluationMetrics struct {
	ByParam map[Param]Metric `json:"by_param"`
	WQI     Metric           `json:"wqi"`
	Overall OverallMetric    `json:"overall"`
}

type EvaluationDocument struct {
	ID         string            `json:"eval_id"`
	BuoyID     string            `json:"buoy_id"`
	Date       string            `json:"date"`
	ActualDate string            `json:"actual_date"` // row used; differs from Date on fallback
	Actual     Actual            `json:"actual"`
	Prediction Prediction        `json:"prediction"`
	Metrics    EvaluationMetrics `json:"metrics"`
	CreatedAt  time.Time         `json:"created_at"`
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

type Alert struct {
	ID        string    `json:"id"`
	BuoyID    string    `json:"buoy_id"`
	UID       string    `json:"uid,omitempty"`
	Category  string    `json:"category"`
	Severity  string    `json:"severity"`
	Parameter *string   `json:"parameter"`
	Value     float64   `json:"value"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
	Origin    string    `json:"origin"`
	RefDate   string    `json:"ref_date"`
	CreatedAt time.Time `json:"created_at"`
}
