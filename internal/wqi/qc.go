package wqi

import (
	"math"

	"github.com/lox/buoyforecast/internal/models"
)

// Bounds is the plausible range for a parameter.
type Bounds struct {
	Min, Max float64
}

// QCBounds clip predicted and resampled values before scoring. Rainfall is in
// raw ADC counts, so its ceiling is the 10-bit converter maximum.
var QCBounds = map[models.Param]Bounds{
	models.PH:          {4.5, 9.5},
	models.TDS:         {0, 1500},
	models.EC:          {0, 2000},
	models.Temperature: {0, 40},
	models.Turbidity:   {0, 200},
	models.Rainfall:    {0, 1023},
}

// ClipValue clips v into p's bounds. Unknown parameters and non-finite values
// pass through unchanged.
func ClipValue(p models.Param, v float64) float64 {
	b, ok := QCBounds[p]
	if !ok || math.IsNaN(v) {
		return v
	}
	return clamp(v, b.Min, b.Max)
}

// Clip returns a copy of m with every present value clipped.
func Clip(m models.Means) models.Means {
	out := make(models.Means, len(m))
	for p, v := range m {
		out[p] = ClipValue(p, v)
	}
	return out
}
