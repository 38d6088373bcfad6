package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/lox/buoyforecast/internal/api"
	"github.com/lox/buoyforecast/internal/config"
	"github.com/lox/buoyforecast/internal/export"
	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/ingest"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/store"
	"github.com/lox/buoyforecast/internal/weather"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Load environment variables from this .env file.'"`
	DB      string                   `help:"SQLite database path (overrides BUOY_DB_PATH)."`

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API and the daily scheduler."`
	Forecast ForecastCmd `cmd:"" help:"Forecast water quality for one buoy."`
	Evaluate EvaluateCmd `cmd:"" help:"Evaluate a stored forecast against observed data."`
	RunDaily RunDailyCmd `cmd:"" name:"run-daily" help:"Forecast every active buoy and evaluate yesterday."`
	Train    TrainCmd    `cmd:"" help:"Fit and store the next-day model for one buoy."`
	Ingest   IngestCmd   `cmd:"" help:"Load a readings payload from a file."`
	Config   ConfigCmd   `cmd:"" help:"Show or update the WQI configuration."`
	Buoy     BuoyCmd     `cmd:"" help:"Manage the buoy registry."`
	Export   ExportCmd   `cmd:"" help:"Export forecasts and evaluations to Parquet."`
}

// App holds the wiring shared by every command.
type App struct {
	Settings   *config.Settings
	Store      *store.Store
	Forecaster *forecast.Forecaster
	Evaluator  *forecast.Evaluator
	Daily      *ingest.DailyJobs
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("buoyforecast"),
		kong.Description("Water quality forecasting for sensor buoys."),
		kong.UsageOnError(),
	)

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cli.DB != "" {
		settings.DBPath = cli.DB
	}

	if dir := filepath.Dir(settings.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create data dir: %v", err)
		}
	}
	db, err := sql.Open("sqlite", settings.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, forecast.ICT)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var rain forecast.RainfallSource
	if settings.RainfallForecast {
		rain = weather.NewClient()
	}
	deps := st.ForecastDeps(rain)
	opts := settings.ForecastOptions()
	forecaster := forecast.NewForecaster(deps, opts)
	evaluator := forecast.NewEvaluator(deps, opts)
	daily := ingest.NewDailyJobs(st, forecaster, evaluator)
	daily.SetPayloadRetention(st, settings.RawPayloadRetention)

	app := &App{
		Settings:   settings,
		Store:      st,
		Forecaster: forecaster,
		Evaluator:  evaluator,
		Daily:      daily,
	}
	kctx.FatalIfErrorf(kctx.Run(app))
}

type ServeCmd struct {
	Port        string `help:"HTTP port (overrides BUOY_PORT)."`
	NoScheduler bool   `help:"Disable the daily scheduler."`
}

func (c *ServeCmd) Run(app *App) error {
	port := app.Settings.Port
	if c.Port != "" {
		port = c.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := api.NewServer(app.Store, app.Forecaster, app.Evaluator, app.Daily, port, forecast.ICT)
	g, gctx := errgroup.WithContext(ctx)

	if app.Settings.SchedulerEnabled && !c.NoScheduler {
		scheduler := ingest.NewScheduler(app.Daily, forecast.ICT, app.Settings.DailyRunHour)
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	} else {
		log.Println("scheduler disabled")
	}

	g.Go(func() error {
		log.Printf("starting server on :%s", port)
		return server.Run(gctx)
	})
	return g.Wait()
}

type ForecastCmd struct {
	BuoyID string `arg:"" name:"buoy" help:"Buoy ID."`
}

func (c *ForecastCmd) Run(app *App) error {
	id, doc, err := app.Forecaster.RunForecast(context.Background(), c.BuoyID)
	if err != nil {
		return err
	}
	fmt.Printf("Forecast %s for %s (issued %s)\n", id, doc.BuoyID, doc.ForecastDate)
	if err := printForecast(os.Stdout, doc); err != nil {
		return err
	}
	fmt.Printf("3-day average WQI %.1f: %s\n", doc.WQIAvg3d, statusLabel(doc.Status3d))
	return nil
}

type EvaluateCmd struct {
	BuoyID string `arg:"" name:"buoy" help:"Buoy ID."`
	Date   string `help:"Date to evaluate (YYYY-MM-DD, ICT). Defaults to today."`
}

func (c *EvaluateCmd) Run(app *App) error {
	var date time.Time
	if c.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", c.Date, forecast.ICT)
		if err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		date = d
	}
	doc, err := app.Evaluator.Evaluate(context.Background(), c.BuoyID, date)
	if err != nil {
		return err
	}
	return printEvaluation(os.Stdout, doc)
}

type RunDailyCmd struct {
	Date string `help:"Run as if on this date (YYYY-MM-DD, ICT). Defaults to today."`
}

func (c *RunDailyCmd) Run(app *App) error {
	now := time.Now().In(forecast.ICT)
	forDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, forecast.ICT)
	if c.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", c.Date, forecast.ICT)
		if err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		forDate = d
	}
	results, err := app.Daily.RunAll(context.Background(), forDate)
	if err != nil {
		return err
	}
	return printDailyResults(os.Stdout, results)
}

type TrainCmd struct {
	BuoyID string `arg:"" name:"buoy" help:"Buoy ID."`
}

func (c *TrainCmd) Run(app *App) error {
	samples, err := app.Store.FetchSamples(c.BuoyID, app.Settings.LookbackDays)
	if err != nil {
		return err
	}
	rows := forecast.Aggregate(samples, forecast.ICT)
	if len(rows) < forecast.MinTrainingRows {
		return fmt.Errorf("%w: %s has %d daily rows, need at least %d",
			forecast.ErrInsufficientData, c.BuoyID, len(rows), forecast.MinTrainingRows)
	}
	registry := forecast.NewModelRegistry(app.Store)
	if _, err := registry.TrainPredictor(c.BuoyID, rows); err != nil {
		return err
	}
	fmt.Printf("Trained model for %s on %d daily rows\n", c.BuoyID, len(rows))
	return nil
}

type IngestCmd struct {
	BuoyID string `arg:"" name:"buoy" help:"Buoy ID."`
	File   string `arg:"" help:"Payload file, or - for stdin." default:"-"`
}

func (c *IngestCmd) Run(app *App) error {
	body, err := readInput(c.File)
	if err != nil {
		return err
	}
	res, err := ingest.NewReadingsIngester(app.Store).Ingest(c.BuoyID, body)
	if err != nil {
		return err
	}
	fmt.Printf("Stored %d of %d readings (%d duplicates, %d flagged, %d parse errors)\n",
		res.Stored, res.Parsed, res.Duplicates, res.Flagged, res.ParseErrors)
	return nil
}

type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" default:"1" help:"Print the active WQI configuration."`
	Set  ConfigSetCmd  `cmd:"" help:"Layer JSON or YAML overrides over the stored configuration."`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(app *App) error {
	return printConfig(os.Stdout, app.Store)
}

type ConfigSetCmd struct {
	File string `arg:"" help:"JSON or YAML overrides, or - for stdin."`
}

func (c *ConfigSetCmd) Run(app *App) error {
	body, err := readInput(c.File)
	if err != nil {
		return err
	}
	_, version, err := app.Store.SaveWQIConfig(body)
	if err != nil {
		return err
	}
	fmt.Printf("Saved WQI config version %d\n", version)
	return nil
}

type BuoyCmd struct {
	Add  BuoyAddCmd  `cmd:"" help:"Register or update a buoy."`
	List BuoyListCmd `cmd:"" default:"1" help:"List active buoys."`
}

type BuoyAddCmd struct {
	BuoyID   string  `arg:"" name:"buoy" help:"Buoy ID."`
	Name     string  `help:"Display name."`
	Lat      float64 `help:"Latitude in decimal degrees."`
	Lon      float64 `help:"Longitude in decimal degrees."`
	Owner    string  `help:"Owner uid attached to alerts."`
	Inactive bool    `help:"Register without scheduling forecasts."`
}

func (c *BuoyAddCmd) Run(app *App) error {
	err := app.Store.UpsertBuoy(models.Buoy{
		BuoyID:    c.BuoyID,
		Name:      c.Name,
		Latitude:  c.Lat,
		Longitude: c.Lon,
		OwnerUID:  c.Owner,
		Active:    !c.Inactive,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s\n", c.BuoyID)
	return nil
}

type BuoyListCmd struct{}

func (c *BuoyListCmd) Run(app *App) error {
	buoys, err := app.Store.GetActiveBuoys()
	if err != nil {
		return err
	}
	return printBuoys(os.Stdout, app.Store, buoys)
}

type ExportCmd struct {
	OutDir string `help:"Output directory." default:"export" type:"path"`
	Limit  int    `help:"Maximum evaluations to export." default:"10000"`
}

func (c *ExportCmd) Run(app *App) error {
	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return err
	}

	buoys, err := app.Store.GetActiveBuoys()
	if err != nil {
		return err
	}
	var docs []models.ForecastDocument
	for _, b := range buoys {
		fcs, err := app.Store.ListForecasts(b.BuoyID)
		if err != nil {
			return fmt.Errorf("list forecasts for %s: %w", b.BuoyID, err)
		}
		docs = append(docs, fcs...)
	}
	days := export.ForecastDayRecords(docs)
	daysPath := filepath.Join(c.OutDir, "forecast_days.parquet")
	if err := export.WriteForecastDays(days, daysPath); err != nil {
		return err
	}

	evals, err := app.Store.GetEvaluations("", c.Limit)
	if err != nil {
		return err
	}
	evalPath := filepath.Join(c.OutDir, "evaluations.parquet")
	if err := export.WriteEvaluations(export.EvaluationRecords(evals), evalPath); err != nil {
		return err
	}

	fmt.Printf("Wrote %d forecast days to %s\n", len(days), daysPath)
	fmt.Printf("Wrote %d evaluations to %s\n", len(evals), evalPath)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
