package wqi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/buoyforecast/internal/models"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.InDelta(t, 1.0, Default().TotalWeight(), 1e-9)
}

func TestMergeKeepsNestedDefaults(t *testing.T) {
	cfg, err := Merge(map[string]any{
		"weights": map[string]any{"ph": 0.5},
		"ranges": map[string]any{
			"tds": map[string]any{"good": []any{0, 500}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Weights[models.PH])
	assert.Equal(t, 0.2, cfg.Weights[models.Turbidity])
	assert.Equal(t, Band{0, 500}, cfg.Ranges.TDS.Good)
	assert.Equal(t, Band{600, 900}, cfg.Ranges.TDS.Mid)
	assert.Equal(t, Default().Ranges.PH, cfg.Ranges.PH)
	assert.Equal(t, "adc", cfg.RainUnit)
}

func TestParseYAMLAndJSON(t *testing.T) {
	yamlDoc := []byte(`
rain_unit: mm
ranges:
  rainfall:
    good: [0, 10]
    mid: [11, 50]
    bad: [51, 500]
`)
	_, err := Parse(yamlDoc)
	require.Error(t, err, "rainfall ordering is ascending bad→mid→good")

	jsonDoc := []byte(`{"rain_unit": "mm", "pi_confidence": 0.9}`)
	cfg, err := Parse(jsonDoc)
	require.NoError(t, err)
	assert.Equal(t, "mm", cfg.RainUnit)
	assert.Equal(t, 0.9, cfg.PIConfidence)
}

func TestValidateRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero weights", func(c *Config) {
			for p := range c.Weights {
				c.Weights[p] = 0
			}
		}},
		{"negative weight", func(c *Config) { c.Weights[models.EC] = -1 }},
		{"unknown weight", func(c *Config) { c.Weights["salinity"] = 0.1 }},
		{"bad rain unit", func(c *Config) { c.RainUnit = "inches" }},
		{"inverted band", func(c *Config) { c.Ranges.Turbidity.Good = Band{25, 0} }},
		{"overlapping ranges", func(c *Config) { c.Ranges.EC.Mid = Band{800, 1343} }},
		{"ph out of order", func(c *Config) { c.Ranges.PH.MidHi = Band{6.0, 6.4} }},
		{"confidence out of range", func(c *Config) { c.PIConfidence = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			_, err = NewScorer(cfg)
			assert.Error(t, err)
		})
	}
}
