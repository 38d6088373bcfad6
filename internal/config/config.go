// Package config loads service settings from the environment.
//
// Values come from the process environment, optionally seeded from a .env
// file in the working directory. Existing environment variables always win
// over the file.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lox/buoyforecast/internal/forecast"
)

const envPrefix = "BUOY"

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are read from BUOY_* environment variables, e.g. BUOY_DB_PATH.
type Settings struct {
	DBPath string `envconfig:"DB_PATH" default:"data/buoyforecast.db" validate:"required"`
	Port   string `envconfig:"PORT" default:"8080" validate:"required,numeric"`

	LookbackDays int     `envconfig:"LOOKBACK_DAYS" default:"60" validate:"gte=1,lte=365"`
	Horizon      int     `envconfig:"HORIZON" default:"3" validate:"gte=1,lte=14"`
	Draws        int     `envconfig:"MC_DRAWS" default:"500" validate:"gte=10,lte=100000"`
	LowQuantile  float64 `envconfig:"PI_LOW_Q" default:"0.1" validate:"gt=0,lt=1"`
	HighQuantile float64 `envconfig:"PI_HIGH_Q" default:"0.9" validate:"gt=0,lt=1,gtfield=LowQuantile"`
	SeedBase     int64   `envconfig:"SEED_BASE" default:"1000"`
	Accumulate   bool    `envconfig:"ACCUMULATE_RESIDUALS" default:"false"`

	DailyRunHour        int  `envconfig:"DAILY_RUN_HOUR" default:"6" validate:"gte=0,lte=23"`
	SchedulerEnabled    bool `envconfig:"SCHEDULER_ENABLED" default:"true"`
	RawPayloadRetention int  `envconfig:"RAW_PAYLOAD_RETENTION_DAYS" default:"90" validate:"gte=0"`
	RainfallForecast    bool `envconfig:"RAINFALL_FORECAST" default:"true"`
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Settings, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads settings from the current environment without touching .env.
func FromEnv() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// ForecastOptions maps the settings onto forecaster options in the ICT zone.
func (s *Settings) ForecastOptions() forecast.Options {
	opts := forecast.DefaultOptions()
	opts.LookbackDays = s.LookbackDays
	opts.Horizon = s.Horizon
	opts.Draws = s.Draws
	opts.LowQ = s.LowQuantile
	opts.HighQ = s.HighQuantile
	opts.SeedBase = s.SeedBase
	opts.AccumulateResiduals = s.Accumulate
	return opts
}
