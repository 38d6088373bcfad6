package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/ingest"
	"github.com/lox/buoyforecast/internal/store"
)

const maxReadingsBody = 10 << 20

type Server struct {
	store      *store.Store
	forecaster *forecast.Forecaster
	evaluator  *forecast.Evaluator
	daily      *ingest.DailyJobs
	readings   *ingest.ReadingsIngester
	port       string
	loc        *time.Location
}

func NewServer(st *store.Store, forecaster *forecast.Forecaster, evaluator *forecast.Evaluator, daily *ingest.DailyJobs, port string, loc *time.Location) *Server {
	return &Server{
		store:      st,
		forecaster: forecaster,
		evaluator:  evaluator,
		daily:      daily,
		readings:   ingest.NewReadingsIngester(st),
		port:       port,
		loc:        loc,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /forecast/{buoy_id}", s.handleForecast)
	mux.HandleFunc("POST /evaluate/daily/{buoy_id}", s.handleEvaluateDaily)
	mux.HandleFunc("POST /run/daily-forecast-and-evaluate", s.handleRunDaily)

	mux.HandleFunc("GET /api/buoys", s.handleAPIBuoys)
	mux.HandleFunc("POST /api/buoys/{buoy_id}/readings", s.handleAPIReadings)
	mux.HandleFunc("GET /api/buoys/{buoy_id}/forecasts", s.handleAPIForecasts)
	mux.HandleFunc("GET /api/buoys/{buoy_id}/evaluations", s.handleAPIEvaluations)
	mux.HandleFunc("GET /api/buoys/{buoy_id}/alerts", s.handleAPIAlerts)
	mux.HandleFunc("GET /api/accuracy", s.handleAPIAccuracy)
	mux.HandleFunc("GET /api/ingest", s.handleAPIIngest)
	mux.HandleFunc("GET /api/config", s.handleAPIConfig)
	mux.HandleFunc("PUT /api/config", s.handleAPIConfigUpdate)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	OK     bool         `json:"ok"`
	Status string       `json:"status"`
	Buoys  []BuoyHealth `json:"buoys"`
	Errors []string     `json:"errors,omitempty"`
}

type BuoyHealth struct {
	BuoyID     string     `json:"buoy_id"`
	LastSeen   *time.Time `json:"last_seen"`
	AgeMinutes int        `json:"age_minutes"`
	Stale      bool       `json:"stale"`
}

const staleThreshold = 6 * time.Hour

// handleHealth reports per-buoy reading freshness. Stale buoys degrade the
// status but the service itself stays healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	buoys, err := s.store.GetActiveBuoys()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{
		OK:     true,
		Status: "ok",
		Buoys:  make([]BuoyHealth, 0, len(buoys)),
	}
	now := time.Now()
	for _, b := range buoys {
		latest, err := s.store.GetLatestReadingTime(b.BuoyID)
		if err != nil {
			health.Errors = append(health.Errors, b.BuoyID+": "+err.Error())
			continue
		}
		bh := BuoyHealth{BuoyID: b.BuoyID, AgeMinutes: -1, Stale: true}
		if !latest.IsZero() {
			bh.LastSeen = &latest
			bh.AgeMinutes = int(now.Sub(latest).Minutes())
			bh.Stale = now.Sub(latest) > staleThreshold
		}
		if bh.Stale {
			health.Status = "degraded"
		}
		health.Buoys = append(health.Buoys, bh)
	}

	code := http.StatusOK
	if len(health.Errors) > 0 {
		health.OK = false
		health.Status = "error"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"detail": err.Error()})
}
