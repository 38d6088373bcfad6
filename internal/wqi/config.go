package wqi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lox/buoyforecast/internal/models"
)

var (
	// ErrConfigMissing is returned by loaders when no stored configuration
	// exists. Callers fall back to Default.
	ErrConfigMissing = errors.New("wqi config missing")
	ErrInvalidConfig = errors.New("invalid wqi config")
)

// Band is an inclusive [low, high] pair.
type Band [2]float64

func (b Band) Low() float64  { return b[0] }
func (b Band) High() float64 { return b[1] }

// Bands are the output score ranges each input segment maps onto.
type Bands struct {
	Good Band `json:"good" yaml:"good"`
	Mid  Band `json:"mid" yaml:"mid"`
	Bad  Band `json:"bad" yaml:"bad"`
}

// ThreeRange is the input layout for monotone parameters.
type ThreeRange struct {
	Good Band `json:"good" yaml:"good"`
	Mid  Band `json:"mid" yaml:"mid"`
	Bad  Band `json:"bad" yaml:"bad"`
}

// SplitRange is the input layout for parameters that are bad on both sides.
type SplitRange struct {
	Good  Band `json:"good" yaml:"good"`
	MidLo Band `json:"mid_lo" yaml:"mid_lo"`
	MidHi Band `json:"mid_hi" yaml:"mid_hi"`
	BadLo Band `json:"bad_lo" yaml:"bad_lo"`
	BadHi Band `json:"bad_hi" yaml:"bad_hi"`
}

type Ranges struct {
	PH          SplitRange `json:"ph" yaml:"ph"`
	TDS         ThreeRange `json:"tds" yaml:"tds"`
	EC          ThreeRange `json:"ec" yaml:"ec"`
	Turbidity   ThreeRange `json:"turbidity" yaml:"turbidity"`
	Temperature SplitRange `json:"temperature" yaml:"temperature"`
	Rainfall    ThreeRange `json:"rainfall" yaml:"rainfall"`
}

type Config struct {
	Weights      map[models.Param]float64 `json:"weights" yaml:"weights" validate:"required,min=1,dive,gte=0"`
	RainUnit     string                   `json:"rain_unit" yaml:"rain_unit" validate:"oneof=adc mm"`
	Bands        Bands                    `json:"bands" yaml:"bands"`
	Ranges       Ranges                   `json:"ranges" yaml:"ranges"`
	PIConfidence float64                  `json:"pi_confidence" yaml:"pi_confidence" validate:"gt=0,lt=1"`
}

// Default returns the built-in configuration used when nothing is stored.
func Default() *Config {
	return &Config{
		Weights: map[models.Param]float64{
			models.PH:          0.30,
			models.TDS:         0.125,
			models.EC:          0.125,
			models.Turbidity:   0.20,
			models.Temperature: 0.15,
			models.Rainfall:    0.10,
		},
		RainUnit: "adc",
		Bands: Bands{
			Good: Band{71, 100},
			Mid:  Band{50, 70},
			Bad:  Band{0, 49},
		},
		Ranges: Ranges{
			PH: SplitRange{
				Good:  Band{6.5, 8.5},
				MidLo: Band{6.0, 6.4},
				MidHi: Band{8.6, 9.0},
				BadLo: Band{0, 5.9},
				BadHi: Band{9.1, 14},
			},
			TDS:       ThreeRange{Good: Band{0, 599}, Mid: Band{600, 900}, Bad: Band{901, 1500}},
			EC:        ThreeRange{Good: Band{0, 894}, Mid: Band{895, 1343}, Bad: Band{1344, 2240}},
			Turbidity: ThreeRange{Good: Band{0, 25}, Mid: Band{26, 100}, Bad: Band{101, 1000}},
			Temperature: SplitRange{
				Good:  Band{26, 30},
				MidLo: Band{23, 25},
				MidHi: Band{31, 33},
				BadLo: Band{-100, 22},
				BadHi: Band{34, 100},
			},
			Rainfall: ThreeRange{Good: Band{683, 1023}, Mid: Band{342, 682}, Bad: Band{0, 341}},
		},
		PIConfidence: 0.80,
	}
}

// TotalWeight is the sum of all configured weights.
func (c *Config) TotalWeight() float64 {
	var total float64
	for _, p := range weightOrder(c.Weights) {
		total += c.Weights[p]
	}
	return total
}

// weightOrder lists weighted parameters in canonical order, then any
// unrecognised keys sorted, so float sums are stable across calls.
func weightOrder(weights map[models.Param]float64) []models.Param {
	out := make([]models.Param, 0, len(weights))
	for _, p := range models.Params {
		if _, ok := weights[p]; ok {
			out = append(out, p)
		}
	}
	var extra []models.Param
	for p := range weights {
		if _, known := models.ParseParam(string(p)); !known {
			extra = append(extra, p)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that every range is ordered the way
// its curve family expects.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for p := range c.Weights {
		if _, ok := models.ParseParam(string(p)); !ok {
			return fmt.Errorf("%w: unknown weight %q", ErrInvalidConfig, p)
		}
	}
	if total := c.TotalWeight(); !(total > 0) || math.IsInf(total, 0) {
		return fmt.Errorf("%w: weights must sum to a positive total", ErrInvalidConfig)
	}

	if err := checkBands("bands", c.Bands.Bad, c.Bands.Mid, c.Bands.Good); err != nil {
		return err
	}
	r := c.Ranges
	checks := []struct {
		name  string
		bands []Band
	}{
		{"ph", []Band{r.PH.BadLo, r.PH.MidLo, r.PH.Good, r.PH.MidHi, r.PH.BadHi}},
		{"tds", []Band{r.TDS.Good, r.TDS.Mid, r.TDS.Bad}},
		{"ec", []Band{r.EC.Good, r.EC.Mid, r.EC.Bad}},
		{"turbidity", []Band{r.Turbidity.Good, r.Turbidity.Mid, r.Turbidity.Bad}},
		{"temperature", []Band{r.Temperature.BadLo, r.Temperature.MidLo, r.Temperature.Good, r.Temperature.MidHi, r.Temperature.BadHi}},
		{"rainfall", []Band{r.Rainfall.Bad, r.Rainfall.Mid, r.Rainfall.Good}},
	}
	for _, ch := range checks {
		if err := checkBands(ch.name, ch.bands...); err != nil {
			return err
		}
	}
	return nil
}

// checkBands requires each band to be well formed and the sequence to be
// non-overlapping in ascending order.
func checkBands(name string, bands ...Band) error {
	for i, b := range bands {
		if math.IsNaN(b.Low()) || math.IsNaN(b.High()) || b.Low() > b.High() {
			return fmt.Errorf("%w: %s band %d has low > high", ErrInvalidConfig, name, i)
		}
		if i > 0 && bands[i-1].High() > b.Low() {
			return fmt.Errorf("%w: %s bands %d and %d overlap or are out of order", ErrInvalidConfig, name, i-1, i)
		}
	}
	return nil
}

// Merge deep-merges overrides onto the default configuration so that nested
// keys left unspecified keep their default values.
func Merge(overrides map[string]any) (*Config, error) {
	base, err := toMap(Default())
	if err != nil {
		return nil, err
	}
	merged := deepMerge(base, overrides)

	b, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse reads a JSON or YAML override document and merges it over the default.
func Parse(raw []byte) (*Config, error) {
	overrides, err := ParseOverrides(raw)
	if err != nil {
		return nil, err
	}
	return Merge(overrides)
}

// ParseOverrides decodes a JSON or YAML override document without merging it.
func ParseOverrides(raw []byte) (map[string]any, error) {
	var overrides map[string]any
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if overrides == nil {
		overrides = map[string]any{}
	}
	return overrides, nil
}

// MergeOverrides layers next over prev. Nested objects merge key by key.
func MergeOverrides(prev, next map[string]any) map[string]any {
	return deepMerge(prev, next)
}

func toMap(cfg *Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		bm, bok := out[k].(map[string]any)
		om, ook := v.(map[string]any)
		if bok && ook {
			out[k] = deepMerge(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}
