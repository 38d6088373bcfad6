package forecast

import (
	"math"

	"github.com/lox/buoyforecast/internal/models"
)

// ResidualBank maps each parameter to past next-day errors (actual minus
// predicted). An empty or missing slice means no residual signal.
type ResidualBank map[models.Param][]float64

// BuildResidualBank replays the predictor over history: each complete row
// predicts the following day and the error against that day's actual mean is
// recorded. A nil predictor yields an empty bank.
func BuildResidualBank(rows []models.DailyRow, p Predictor) ResidualBank {
	bank := ResidualBank{}
	if p == nil {
		return bank
	}
	for i := 0; i+1 < len(rows); i++ {
		if !rows[i].Means.Complete() {
			continue
		}
		pred, err := p.Predict(rows[i].Means)
		if err != nil {
			continue
		}
		for _, param := range models.Params {
			actual, ok := rows[i+1].Means.Get(param)
			if !ok {
				continue
			}
			guess, ok := pred.Get(param)
			if !ok {
				continue
			}
			r := actual - guess
			if math.IsNaN(r) || math.IsInf(r, 0) {
				continue
			}
			bank[param] = append(bank[param], r)
		}
	}
	return bank
}

// Size returns the number of residuals held for p.
func (b ResidualBank) Size(p models.Param) int {
	return len(b[p])
}
