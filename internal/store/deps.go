package store

import "github.com/lox/buoyforecast/internal/forecast"

// ForecastDeps wires the store in as every persistence collaborator of the
// forecaster and evaluator. rain may be nil.
func (s *Store) ForecastDeps(rain forecast.RainfallSource) forecast.Deps {
	return forecast.Deps{
		Samples:     s,
		Config:      s,
		Predictors:  forecast.NewModelRegistry(s),
		Forecasts:   s,
		Evaluations: s,
		Alerts:      s,
		Buoys:       s,
		Rainfall:    rain,
	}
}
