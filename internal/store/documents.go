package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/buoyforecast/internal/models"
)

// InsertForecast stores a new forecast document and returns its assigned id.
func (s *Store) InsertForecast(doc *models.ForecastDocument) (string, error) {
	stored := *doc
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("marshal forecast: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO forecasts (forecast_id, buoy_id, forecast_date, wqi_avg_3d, status_3d, doc_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.BuoyID, stored.ForecastDate, stored.WQIAvg3d, stored.Status3d, string(body), stored.CreatedAt)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// UpdateForecastDays replaces the daily entries of an existing forecast.
func (s *Store) UpdateForecastDays(forecastID string, days []models.ForecastDay) error {
	doc, err := s.GetForecast(forecastID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("forecast %s not found", forecastID)
	}
	doc.Daily = days
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal forecast: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE forecasts SET doc_json = ?, updated_at = ? WHERE forecast_id = ?
	`, string(body), time.Now().UTC(), forecastID)
	return err
}

func (s *Store) GetForecast(forecastID string) (*models.ForecastDocument, error) {
	var body string
	err := s.db.QueryRow(`SELECT doc_json FROM forecasts WHERE forecast_id = ?`, forecastID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc models.ForecastDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode forecast %s: %w", forecastID, err)
	}
	return &doc, nil
}

// ListForecasts returns every forecast for the buoy in insertion order.
func (s *Store) ListForecasts(buoyID string) ([]models.ForecastDocument, error) {
	return s.queryForecasts(`
		SELECT doc_json FROM forecasts WHERE buoy_id = ? ORDER BY rowid ASC
	`, buoyID)
}

// GetLatestForecasts returns up to limit forecasts for the buoy, newest first.
func (s *Store) GetLatestForecasts(buoyID string, limit int) ([]models.ForecastDocument, error) {
	return s.queryForecasts(`
		SELECT doc_json FROM forecasts WHERE buoy_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, buoyID, limit)
}

func (s *Store) queryForecasts(query string, args ...any) ([]models.ForecastDocument, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.ForecastDocument
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc models.ForecastDocument
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decode forecast: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) InsertEvaluation(doc *models.EvaluationDocument) (string, error) {
	stored := *doc
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("marshal evaluation: %w", err)
	}

	var overall sql.NullFloat64
	if acc := stored.Metrics.Overall.AccuracyPct; acc != nil {
		overall = sql.NullFloat64{Float64: *acc, Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO evaluations (eval_id, buoy_id, date, matched, overall_accuracy, doc_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.BuoyID, stored.Date, stored.Prediction.Found, overall, string(body), stored.CreatedAt)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// GetEvaluations returns evaluations for a buoy (all buoys when buoyID is
// empty), newest first.
func (s *Store) GetEvaluations(buoyID string, limit int) ([]models.EvaluationDocument, error) {
	query := `SELECT doc_json FROM evaluations`
	var args []any
	if buoyID != "" {
		query += ` WHERE buoy_id = ?`
		args = append(args, buoyID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.EvaluationDocument
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc models.EvaluationDocument
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AccuracySummary aggregates evaluation accuracy per buoy.
type AccuracySummary struct {
	BuoyID       string
	Evaluations  int
	Matched      int
	MeanAccuracy sql.NullFloat64
}

func (s *Store) GetAccuracySummary(days int) ([]AccuracySummary, error) {
	rows, err := s.db.Query(`
		SELECT buoy_id, COUNT(*),
		       SUM(CASE WHEN matched THEN 1 ELSE 0 END),
		       AVG(overall_accuracy)
		FROM evaluations
		WHERE date >= DATE('now', '-' || ? || ' days')
		GROUP BY buoy_id
		ORDER BY buoy_id
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccuracySummary
	for rows.Next() {
		var a AccuracySummary
		if err := rows.Scan(&a.BuoyID, &a.Evaluations, &a.Matched, &a.MeanAccuracy); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) InsertAlert(a models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var param sql.NullString
	if a.Parameter != nil {
		param = sql.NullString{String: *a.Parameter, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (id, buoy_id, uid, category, severity, parameter, value, message, reason, origin, ref_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.BuoyID, nullString(a.UID), a.Category, a.Severity, param, a.Value,
		a.Message, a.Reason, a.Origin, a.RefDate, a.CreatedAt)
	return err
}

// GetAlerts returns the buoy's most recent alerts.
func (s *Store) GetAlerts(buoyID string, limit int) ([]models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, buoy_id, uid, category, severity, parameter, value, message, reason, origin, ref_date, created_at
		FROM alerts
		WHERE buoy_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, buoyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var uid, param, message, reason, origin, refDate sql.NullString
		var value sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.BuoyID, &uid, &a.Category, &a.Severity, &param, &value,
			&message, &reason, &origin, &refDate, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UID, a.Message, a.Reason, a.Origin = uid.String, message.String, reason.String, origin.String
		a.RefDate = refDate.String
		a.Value = value.Float64
		if param.Valid {
			p := param.String
			a.Parameter = &p
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
