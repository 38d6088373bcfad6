package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/ingest"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/store"
	"github.com/lox/buoyforecast/internal/wqi"
)

type ForecastResponse struct {
	ForecastID    string  `json:"forecast_id"`
	SummaryStatus string  `json:"summary_status"`
	WQIAvg3d      float64 `json:"wqi_avg_3d"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	buoyID := r.PathValue("buoy_id")
	id, doc, err := s.forecaster.RunForecast(r.Context(), buoyID)
	if err != nil {
		log.Printf("api: forecast %s: %v", buoyID, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ForecastResponse{
		ForecastID:    id,
		SummaryStatus: doc.Status3d,
		WQIAvg3d:      doc.WQIAvg3d,
	})
}

type EvaluateResponse struct {
	EvalID             string   `json:"eval_id"`
	BuoyID             string   `json:"buoy_id"`
	Date               string   `json:"date"`
	ActualDate         string   `json:"actual_date"`
	Matched            bool     `json:"matched"`
	OverallAccuracyPct *float64 `json:"overall_accuracy_pct"`
}

func (s *Server) handleEvaluateDaily(w http.ResponseWriter, r *http.Request) {
	buoyID := r.PathValue("buoy_id")

	var date time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("date must be YYYY-MM-DD: %q", raw))
			return
		}
		date = d
	}

	doc, err := s.evaluator.Evaluate(r.Context(), buoyID, date)
	if err != nil {
		log.Printf("api: evaluate %s: %v", buoyID, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{
		EvalID:             doc.ID,
		BuoyID:             doc.BuoyID,
		Date:               doc.Date,
		ActualDate:         doc.ActualDate,
		Matched:            doc.Prediction.Found,
		OverallAccuracyPct: doc.Metrics.Overall.AccuracyPct,
	})
}

func (s *Server) handleRunDaily(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	results, err := s.daily.RunAll(r.Context(), today)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": results})
}

func (s *Server) handleAPIBuoys(w http.ResponseWriter, r *http.Request) {
	buoys, err := s.store.GetActiveBuoys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if buoys == nil {
		buoys = []models.Buoy{}
	}
	writeJSON(w, http.StatusOK, buoys)
}

func (s *Server) handleAPIReadings(w http.ResponseWriter, r *http.Request) {
	buoyID := r.PathValue("buoy_id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReadingsBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	res, err := s.readings.Ingest(buoyID, body)
	switch {
	case errors.Is(err, ingest.ErrUnknownBuoy):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPIForecasts(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.GetLatestForecasts(r.PathValue("buoy_id"), limitParam(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []models.ForecastDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleAPIEvaluations(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.GetEvaluations(r.PathValue("buoy_id"), limitParam(r, 30))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []models.EvaluationDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleAPIAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.GetAlerts(r.PathValue("buoy_id"), limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type AccuracyRow struct {
	BuoyID          string   `json:"buoy_id"`
	Evaluations     int      `json:"evaluations"`
	Matched         int      `json:"matched"`
	MeanAccuracyPct *float64 `json:"mean_accuracy_pct"`
}

func (s *Server) handleAPIAccuracy(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && v > 0 {
		days = v
	}
	summary, err := s.store.GetAccuracySummary(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]AccuracyRow, 0, len(summary))
	for _, a := range summary {
		row := AccuracyRow{BuoyID: a.BuoyID, Evaluations: a.Evaluations, Matched: a.Matched}
		if a.MeanAccuracy.Valid {
			v := a.MeanAccuracy.Float64
			row.MeanAccuracyPct = &v
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

type IngestStatus struct {
	Health       []store.IngestHealthSummary `json:"health"`
	RecentErrors []IngestError               `json:"recent_errors"`
	RawPayloads  *store.RawPayloadStats      `json:"raw_payloads"`
}

type IngestError struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	BuoyID    string    `json:"buoy_id,omitempty"`
	Source    string    `json:"source"`
	Endpoint  string    `json:"endpoint"`
	Error     string    `json:"error"`
}

func (s *Server) handleAPIIngest(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.GetIngestHealth(7)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	failed, err := s.store.GetRecentIngestErrors(20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := s.store.GetRawPayloadStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := IngestStatus{
		Health:       health,
		RecentErrors: make([]IngestError, 0, len(failed)),
		RawPayloads:  stats,
	}
	if status.Health == nil {
		status.Health = []store.IngestHealthSummary{}
	}
	for _, run := range failed {
		status.RecentErrors = append(status.RecentErrors, IngestError{
			ID:        run.ID,
			StartedAt: run.StartedAt,
			BuoyID:    run.BuoyID.String,
			Source:    run.Source,
			Endpoint:  run.Endpoint,
			Error:     run.ErrorMessage.String,
		})
	}
	writeJSON(w, http.StatusOK, status)
}

type ConfigResponse struct {
	Version int         `json:"version"`
	Default bool        `json:"default"`
	Config  *wqi.Config `json:"config"`
}

func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.LoadWQIConfig()
	if errors.Is(err, wqi.ErrConfigMissing) {
		writeJSON(w, http.StatusOK, ConfigResponse{Default: true, Config: wqi.Default()})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	version, err := s.store.WQIConfigVersion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{Version: version, Config: cfg})
}

func (s *Server) handleAPIConfigUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	cfg, version, err := s.store.SaveWQIConfig(body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	log.Printf("api: wqi config updated to version %d", version)
	writeJSON(w, http.StatusOK, ConfigResponse{Version: version, Config: cfg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, forecast.ErrInsufficientData), errors.Is(err, wqi.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func limitParam(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		return v
	}
	return def
}
