package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/wqi"
)

const wqiConfigKey = "wqi_config"

// LoadWQIConfig returns the stored overrides merged over the current default,
// or wqi.ErrConfigMissing when none have been saved.
func (s *Store) LoadWQIConfig() (*wqi.Config, error) {
	overrides, err := s.loadWQIOverrides()
	if err != nil {
		return nil, err
	}
	if overrides == nil {
		return nil, wqi.ErrConfigMissing
	}
	return wqi.Merge(overrides)
}

func (s *Store) loadWQIOverrides() (map[string]any, error) {
	var body string
	err := s.db.QueryRow(`SELECT value_json FROM settings WHERE key = ?`, wqiConfigKey).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	overrides := map[string]any{}
	if err := json.Unmarshal([]byte(body), &overrides); err != nil {
		return nil, fmt.Errorf("decode stored wqi overrides: %w", err)
	}
	return overrides, nil
}

// SaveWQIConfig layers overrides (JSON or YAML) over the previously stored
// overrides and saves the result as a new version. Only overrides are stored;
// the default is merged in on every load. Returns the effective config and
// the new version.
func (s *Store) SaveWQIConfig(overrides []byte) (*wqi.Config, int, error) {
	next, err := wqi.ParseOverrides(overrides)
	if err != nil {
		return nil, 0, err
	}
	prev, err := s.loadWQIOverrides()
	if err != nil {
		return nil, 0, err
	}
	combined := wqi.MergeOverrides(prev, next)
	cfg, err := wqi.Merge(combined)
	if err != nil {
		return nil, 0, err
	}
	body, err := json.Marshal(combined)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal wqi overrides: %w", err)
	}

	var version int
	err = s.db.QueryRow(`
		INSERT INTO settings (key, value_json, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			version = settings.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, wqiConfigKey, string(body), time.Now().UTC()).Scan(&version)
	if err != nil {
		return nil, 0, err
	}
	return cfg, version, nil
}

// WQIConfigVersion returns the stored config version, 0 when unset.
func (s *Store) WQIConfigVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM settings WHERE key = ?`, wqiConfigKey).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func (s *Store) LoadModel(buoyID string) (*forecast.Model, error) {
	var body string
	err := s.db.QueryRow(`SELECT model_json FROM models WHERE buoy_id = ?`, buoyID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m forecast.Model
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", buoyID, err)
	}
	return &m, nil
}

func (s *Store) SaveModel(buoyID string, m *forecast.Model) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO models (buoy_id, model_json, training_rows, trained_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(buoy_id) DO UPDATE SET
			model_json = excluded.model_json,
			training_rows = excluded.training_rows,
			trained_at = excluded.trained_at
	`, buoyID, string(body), m.Rows, m.TrainedAt)
	return err
}
