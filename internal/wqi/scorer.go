package wqi

import (
	"fmt"
	"math"

	"github.com/lox/buoyforecast/internal/models"
)

const (
	StatusGood     = "good"
	StatusModerate = "moderate"
	StatusPoor     = "poor"
	StatusUnknown  = "unknown"

	// PHVetoScore is the pH sub-score below which the whole index is zero.
	PHVetoScore = 50.0
)

// Scores holds one sub-score per parameter, always in [0,100].
type Scores map[models.Param]float64

// Scorer turns parameter means into sub-scores and a combined index using a
// validated configuration.
type Scorer struct {
	cfg    *Config
	curves map[models.Param]Curve
}

func NewScorer(cfg *Config) (*Scorer, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := cfg.Ranges
	return &Scorer{
		cfg: cfg,
		curves: map[models.Param]Curve{
			models.PH:          bellCurve(r.PH, cfg.Bands),
			models.TDS:         descendingCurve(r.TDS, cfg.Bands),
			models.EC:          descendingCurve(r.EC, cfg.Bands),
			models.Turbidity:   descendingCurve(r.Turbidity, cfg.Bands),
			models.Temperature: uCurve(r.Temperature, cfg.Bands),
			models.Rainfall:    ascendingCurve(r.Rainfall, cfg.Bands),
		},
	}, nil
}

// MustScorer is NewScorer for configurations already known to be valid.
func MustScorer(cfg *Config) *Scorer {
	s, err := NewScorer(cfg)
	if err != nil {
		panic(fmt.Sprintf("wqi: %v", err))
	}
	return s
}

func (s *Scorer) Config() *Config { return s.cfg }

func (s *Scorer) Curve(p models.Param) (Curve, bool) {
	c, ok := s.curves[p]
	return c, ok
}

// ScoreParam scores a single raw value. Missing input yields 0.
func (s *Scorer) ScoreParam(p models.Param, v float64) float64 {
	c, ok := s.curves[p]
	if !ok {
		return 0
	}
	return resolveMissing(c.Score(v))
}

// ScoreParams scores every known parameter. A parameter absent from means
// scores 0 under the missing-parameter policy.
func (s *Scorer) ScoreParams(means models.Means) Scores {
	scores := make(Scores, len(models.Params))
	for _, p := range models.Params {
		v, ok := means.Get(p)
		if !ok {
			scores[p] = resolveMissing(math.NaN())
			continue
		}
		scores[p] = s.ScoreParam(p, v)
	}
	return scores
}

// WQI scores means and combines them into a single index.
func (s *Scorer) WQI(means models.Means) float64 {
	return FromScores(s.ScoreParams(means), s.cfg.Weights)
}

// resolveMissing is the single missing-parameter policy: a null or
// non-finite sub-score counts as 0.
func resolveMissing(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// FromScores combines sub-scores into an index in [0,100].
//
// The weighted sum is divided by the total of all configured weights, not just
// the weights of parameters that were scored. A parameter with no score
// therefore pulls the index down instead of being excluded. This keeps the
// index conservative when sensors drop out.
//
// A pH sub-score below PHVetoScore forces the index to 0.
func FromScores(scores Scores, weights map[models.Param]float64) float64 {
	if ph := resolveMissing(scoreOrNaN(scores, models.PH)); ph < PHVetoScore {
		return 0
	}
	var total, sum float64
	for _, p := range weightOrder(weights) {
		w := weights[p]
		total += w
		if v, ok := scores[p]; ok {
			sum += w * resolveMissing(v)
		}
	}
	if total <= 0 {
		return 0
	}
	return clamp(sum/total, 0, 100)
}

func scoreOrNaN(scores Scores, p models.Param) float64 {
	if v, ok := scores[p]; ok {
		return v
	}
	return math.NaN()
}

// Status classifies an index value. NaN is unknown.
func Status(wqi float64) string {
	switch {
	case math.IsNaN(wqi):
		return StatusUnknown
	case wqi >= 71:
		return StatusGood
	case wqi >= 50:
		return StatusModerate
	default:
		return StatusPoor
	}
}

// Severity maps a status to an alert severity.
func Severity(status string) string {
	switch status {
	case StatusGood:
		return models.SeverityInfo
	case StatusModerate, "fair":
		return models.SeverityWarning
	case StatusPoor, "bad", "very poor":
		return models.SeverityCritical
	default:
		return models.SeverityInfo
	}
}
