package forecast

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

const (
	DefaultDraws = 500
	DefaultLowQ  = 0.10
	DefaultHighQ = 0.90

	// DegenerateStd is the spread below which quantiles are replaced by a
	// synthetic ±5% interval.
	DegenerateStd = 1e-6

	ProbBelow60   = "wqi_lt_60"
	ProbBelow50   = "wqi_lt_50"
	ProbWarnOrBad = "warn_or_worse"
)

// Engine perturbs a point prediction with resampled residuals and scores
// every draw.
type Engine struct {
	Scorer *wqi.Scorer
	Draws  int
	LowQ   float64
	HighQ  float64
}

type MCResult struct {
	Probs          map[string]float64
	WQISamples     []float64
	ParamIntervals map[models.Param]models.Interval
}

// NewRand returns the deterministic generator used for one horizon day.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// Run draws e.Draws samples around point. Each draw adds, per parameter, the
// sum of steps residuals picked uniformly with replacement from the bank,
// then clips to QC bounds. Parameters with no residuals stay at the point
// value. A non-nil rainfall replaces the rainfall value in every draw, even
// when point has none.
//
// steps is 1 for a single residual per draw. Passing the horizon lead instead
// compounds one residual per elapsed day so intervals widen with lead time.
func (e *Engine) Run(point models.Means, bank ResidualBank, rainfall *float64, steps int, rng *rand.Rand) MCResult {
	draws := e.Draws
	if draws <= 0 {
		draws = DefaultDraws
	}
	if steps < 1 {
		steps = 1
	}

	paramSamples := make(map[models.Param][]float64, len(point))
	wqiSamples := make([]float64, draws)
	draw := make(models.Means, len(point))

	for i := 0; i < draws; i++ {
		for _, p := range models.Params {
			var v float64
			if p == models.Rainfall && rainfall != nil {
				v = wqi.ClipValue(p, *rainfall)
			} else {
				var ok bool
				if v, ok = point.Get(p); !ok {
					delete(draw, p)
					continue
				}
				if res := bank[p]; len(res) > 0 {
					for s := 0; s < steps; s++ {
						v += res[rng.IntN(len(res))]
					}
				}
				v = wqi.ClipValue(p, v)
			}
			draw[p] = v
			paramSamples[p] = append(paramSamples[p], v)
		}
		wqiSamples[i] = e.Scorer.WQI(draw)
	}

	var lt60, lt50, lt70 int
	for _, w := range wqiSamples {
		if w < 60 {
			lt60++
		}
		if w < 50 {
			lt50++
		}
		if w < 70 {
			lt70++
		}
	}
	n := float64(draws)

	intervals := make(map[models.Param]models.Interval, len(paramSamples))
	for p, xs := range paramSamples {
		intervals[p] = PredictionInterval(xs, e.LowQ, e.HighQ)
	}

	return MCResult{
		Probs: map[string]float64{
			ProbBelow60:   float64(lt60) / n,
			ProbBelow50:   float64(lt50) / n,
			ProbWarnOrBad: float64(lt70) / n,
		},
		WQISamples:     wqiSamples,
		ParamIntervals: intervals,
	}
}

// PredictionInterval returns the empirical (lowQ, highQ) quantiles of xs. When
// the samples are effectively constant it returns mean×0.95 and mean×1.05.
func PredictionInterval(xs []float64, lowQ, highQ float64) models.Interval {
	if len(xs) == 0 {
		return models.Interval{}
	}
	if lowQ <= 0 && highQ <= 0 {
		lowQ, highQ = DefaultLowQ, DefaultHighQ
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	if std < DegenerateStd || math.IsNaN(std) {
		lo, hi := mean*0.95, mean*1.05
		if lo > hi {
			lo, hi = hi, lo
		}
		return models.Interval{Low: lo, High: hi}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return models.Interval{Low: quantile(sorted, lowQ), High: quantile(sorted, highQ)}
}

// quantile interpolates linearly between closest ranks, placing q at
// position q*(n-1) of the sorted slice.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	q = math.Max(0, math.Min(1, q))
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
