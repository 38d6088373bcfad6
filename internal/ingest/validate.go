package ingest

import (
	"encoding/json"
	"math"

	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

const (
	FlagPHOutOfRange          = "ph_out_of_range"
	FlagTDSOutOfRange         = "tds_out_of_range"
	FlagECOutOfRange          = "ec_out_of_range"
	FlagTurbidityOutOfRange   = "turbidity_out_of_range"
	FlagTemperatureOutOfRange = "temperature_out_of_range"
	FlagRainfallOutOfRange    = "rainfall_out_of_range"
	FlagNonFinite             = "non_finite"
)

var rangeFlags = map[models.Param]string{
	models.PH:          FlagPHOutOfRange,
	models.TDS:         FlagTDSOutOfRange,
	models.EC:          FlagECOutOfRange,
	models.Turbidity:   FlagTurbidityOutOfRange,
	models.Temperature: FlagTemperatureOutOfRange,
	models.Rainfall:    FlagRainfallOutOfRange,
}

// ValidateSample flags a reading that falls outside the plausible sensor
// range. Flagged readings are still stored.
func ValidateSample(p models.Param, v float64) []string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []string{FlagNonFinite}
	}
	b, ok := wqi.QCBounds[p]
	if !ok {
		return nil
	}
	if v < b.Min || v > b.Max {
		return []string{rangeFlags[p]}
	}
	return nil
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
