package wqi

import (
	"fmt"
	"math"
	"sort"
)

// Family identifies the shape of a parameter's scoring curve.
type Family int

const (
	Bell       Family = iota // best in the middle, zero outside the mid ranges
	Descending               // higher raw value is worse
	Ascending                // higher raw value is better
	UShaped                  // plateau with ramps on both sides, zero outside all ranges
)

func (f Family) String() string {
	switch f {
	case Bell:
		return "bell"
	case Descending:
		return "descending"
	case Ascending:
		return "ascending"
	case UShaped:
		return "u-shaped"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

type Knot struct {
	X, Y float64
}

// Curve is a piecewise-linear map from raw value to sub-score. Gaps between
// configured ranges are bridged by the line joining the neighbouring knots.
type Curve struct {
	Family Family
	Knots  []Knot
	// ZeroOutside scores values beyond the first or last knot as 0 instead of
	// extending the end knots.
	ZeroOutside bool
	// Renormalize treats a raw result in [0,1] as a fraction of 100.
	Renormalize bool
}

func newCurve(f Family, zeroOutside bool, knots ...Knot) Curve {
	sort.SliceStable(knots, func(i, j int) bool { return knots[i].X < knots[j].X })
	return Curve{Family: f, Knots: knots, ZeroOutside: zeroOutside}
}

// Eval returns the raw curve value for v, or NaN when v is not finite.
func (c Curve) Eval(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || len(c.Knots) == 0 {
		return math.NaN()
	}
	first, last := c.Knots[0], c.Knots[len(c.Knots)-1]
	if v < first.X {
		if c.ZeroOutside {
			return 0
		}
		return first.Y
	}
	if v > last.X {
		if c.ZeroOutside {
			return 0
		}
		return last.Y
	}
	for i := 1; i < len(c.Knots); i++ {
		a, b := c.Knots[i-1], c.Knots[i]
		if v > b.X {
			continue
		}
		if b.X == a.X {
			return b.Y
		}
		t := (v - a.X) / (b.X - a.X)
		return a.Y + t*(b.Y-a.Y)
	}
	return last.Y
}

// Score evaluates v and applies the curve's renormalization flag. The result
// is NaN for non-finite input and otherwise lies in [0,100].
func (c Curve) Score(v float64) float64 {
	s := c.Eval(v)
	if math.IsNaN(s) {
		return s
	}
	if c.Renormalize && s >= 0 && s <= 1 {
		s *= 100
	}
	return clamp(s, 0, 100)
}

// bellCurve builds the pH curve: plateau at the good band's top over the good
// range, ramps down to the mid band's floor at the outer mid edges.
func bellCurve(r SplitRange, b Bands) Curve {
	top, edge := b.Good.High(), b.Mid.Low()
	return newCurve(Bell, true,
		Knot{r.MidLo.Low(), edge},
		Knot{r.Good.Low(), top},
		Knot{r.Good.High(), top},
		Knot{r.MidHi.High(), edge},
	)
}

func descendingCurve(r ThreeRange, b Bands) Curve {
	return newCurve(Descending, false,
		Knot{r.Good.Low(), b.Good.High()},
		Knot{r.Good.High(), b.Good.Low()},
		Knot{r.Mid.Low(), b.Mid.High()},
		Knot{r.Mid.High(), b.Mid.Low()},
		Knot{r.Bad.Low(), b.Bad.High()},
		Knot{r.Bad.High(), b.Bad.Low()},
	)
}

func ascendingCurve(r ThreeRange, b Bands) Curve {
	return newCurve(Ascending, false,
		Knot{r.Bad.Low(), b.Bad.Low()},
		Knot{r.Bad.High(), b.Bad.High()},
		Knot{r.Mid.Low(), b.Mid.Low()},
		Knot{r.Mid.High(), b.Mid.High()},
		Knot{r.Good.Low(), b.Good.Low()},
		Knot{r.Good.High(), b.Good.High()},
	)
}

// uCurve ramps each side from the band top nearest the plateau to the band
// floor furthest from it.
func uCurve(r SplitRange, b Bands) Curve {
	const plateau = 100
	return newCurve(UShaped, true,
		Knot{r.BadLo.Low(), b.Bad.Low()},
		Knot{r.BadLo.High(), b.Bad.High()},
		Knot{r.MidLo.Low(), b.Mid.Low()},
		Knot{r.MidLo.High(), b.Mid.High()},
		Knot{r.Good.Low(), plateau},
		Knot{r.Good.High(), plateau},
		Knot{r.MidHi.Low(), b.Mid.High()},
		Knot{r.MidHi.High(), b.Mid.Low()},
		Knot{r.BadHi.Low(), b.Bad.High()},
		Knot{r.BadHi.High(), b.Bad.Low()},
	)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
