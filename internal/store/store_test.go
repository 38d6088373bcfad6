package store

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/wqi"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, forecast.ICT)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestUpsertAndGetBuoy(t *testing.T) {
	store := setupTestStore(t)

	buoy := models.Buoy{BuoyID: "B01", Name: "Bang Pakong", Latitude: 13.5, Longitude: 100.9, OwnerUID: "u1", Active: true}
	if err := store.UpsertBuoy(buoy); err != nil {
		t.Fatalf("UpsertBuoy: %v", err)
	}
	buoy.Name = "Bang Pakong Mouth"
	if err := store.UpsertBuoy(buoy); err != nil {
		t.Fatalf("UpsertBuoy update: %v", err)
	}
	if err := store.UpsertBuoy(models.Buoy{BuoyID: "B02", Active: false}); err != nil {
		t.Fatalf("UpsertBuoy inactive: %v", err)
	}

	got, err := store.GetBuoy("B01")
	if err != nil {
		t.Fatalf("GetBuoy: %v", err)
	}
	if got == nil || got.Name != "Bang Pakong Mouth" || got.OwnerUID != "u1" {
		t.Errorf("GetBuoy = %+v", got)
	}

	missing, err := store.GetBuoy("nope")
	if err != nil || missing != nil {
		t.Errorf("GetBuoy(nope) = %v, %v; want nil, nil", missing, err)
	}

	active, err := store.GetActiveBuoys()
	if err != nil {
		t.Fatalf("GetActiveBuoys: %v", err)
	}
	if len(active) != 1 || active[0].BuoyID != "B01" {
		t.Errorf("GetActiveBuoys = %+v, want only B01", active)
	}
}

func TestInsertReadingsAndFetchSamples(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	readings := []models.Reading{
		{BuoyID: "B01", ObservedAt: now.Add(-2 * time.Hour), Parameter: models.PH, Value: 7.1},
		{BuoyID: "B01", ObservedAt: now.Add(-2 * time.Hour), Parameter: models.TDS, Value: 320},
		{BuoyID: "B01", ObservedAt: now.Add(-time.Hour), Parameter: models.PH, Value: 7.3},
		{BuoyID: "B01", ObservedAt: now.AddDate(0, 0, -90), Parameter: models.PH, Value: 6.0},
		{BuoyID: "B02", ObservedAt: now.Add(-time.Hour), Parameter: models.PH, Value: 8.0},
	}
	n, err := store.InsertReadings(readings)
	if err != nil {
		t.Fatalf("InsertReadings: %v", err)
	}
	if n != 5 {
		t.Errorf("inserted = %d, want 5", n)
	}

	dup, err := store.InsertReadings(readings[:1])
	if err != nil {
		t.Fatalf("InsertReadings duplicate: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate inserted = %d, want 0", dup)
	}

	samples, err := store.FetchSamples("B01", 60)
	if err != nil {
		t.Fatalf("FetchSamples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	ts, ok := forecast.ParseTimestamp(samples[0].Timestamp)
	if !ok || !ts.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("first timestamp = %q, want %v", samples[0].Timestamp, now.Add(-2*time.Hour))
	}
	if samples[2].Parameter != "ph" || samples[2].Value != 7.3 {
		t.Errorf("last sample = %+v", samples[2])
	}

	latest, err := store.GetLatestReadingTime("B01")
	if err != nil {
		t.Fatalf("GetLatestReadingTime: %v", err)
	}
	if !latest.Equal(now.Add(-time.Hour)) {
		t.Errorf("latest = %v, want %v", latest, now.Add(-time.Hour))
	}
}

func sampleForecast(buoyID string) *models.ForecastDocument {
	return &models.ForecastDocument{
		BuoyID: buoyID,
		Daily: []models.ForecastDay{
			{
				Date:   "2024-03-11",
				Params: map[models.Param]models.ParamForecast{models.PH: {Mean: 7, PILow: 6.8, PIHigh: 7.2}},
				WQI: models.WQIForecast{
					Value: 88, Status: wqi.StatusGood, Confidence: 0.8,
					Probs: map[string]float64{forecast.ProbBelow50: 0},
					PI:    models.Interval{Low: 84, High: 92},
				},
			},
			{Date: "2024-03-12", WQI: models.WQIForecast{Value: 65, Status: wqi.StatusModerate}},
		},
		WQIAvg3d:     76.5,
		Status3d:     wqi.StatusGood,
		ForecastDate: "2024-03-11",
	}
}

func TestForecastDocuments(t *testing.T) {
	store := setupTestStore(t)

	id1, err := store.InsertForecast(sampleForecast("B01"))
	if err != nil {
		t.Fatalf("InsertForecast: %v", err)
	}
	id2, err := store.InsertForecast(sampleForecast("B01"))
	if err != nil {
		t.Fatalf("InsertForecast: %v", err)
	}
	if _, err := store.InsertForecast(sampleForecast("B02")); err != nil {
		t.Fatalf("InsertForecast: %v", err)
	}
	if id1 == id2 || id1 == "" {
		t.Fatalf("ids not distinct: %q %q", id1, id2)
	}

	docs, err := store.ListForecasts("B01")
	if err != nil {
		t.Fatalf("ListForecasts: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != id1 || docs[1].ID != id2 {
		t.Fatalf("ListForecasts order wrong: %+v", docs)
	}
	if docs[0].Daily[0].Params[models.PH].PIHigh != 7.2 {
		t.Errorf("params not round-tripped: %+v", docs[0].Daily[0].Params)
	}

	days := docs[0].Daily
	acc := 97.5
	wqiActual := 90.0
	days[0].Actual = &models.Actual{WQI: &wqiActual, Status: wqi.StatusGood}
	days[0].WQI.AccuracyPct = &acc
	if err := store.UpdateForecastDays(id1, days); err != nil {
		t.Fatalf("UpdateForecastDays: %v", err)
	}

	got, err := store.GetForecast(id1)
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if got.Daily[0].Actual == nil || *got.Daily[0].WQI.AccuracyPct != 97.5 {
		t.Errorf("backfill not persisted: %+v", got.Daily[0])
	}
	if got.Daily[1].Actual != nil {
		t.Error("second day should be untouched")
	}

	if err := store.UpdateForecastDays("missing", days); err == nil {
		t.Error("expected error updating unknown forecast")
	}

	latest, err := store.GetLatestForecasts("B01", 1)
	if err != nil {
		t.Fatalf("GetLatestForecasts: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("len(latest) = %d, want 1", len(latest))
	}
}

func TestEvaluationsAndAlerts(t *testing.T) {
	store := setupTestStore(t)

	acc := 92.0
	doc := &models.EvaluationDocument{
		BuoyID:     "B01",
		Date:       time.Now().UTC().Format("2006-01-02"),
		Prediction: models.Prediction{Found: true},
		Metrics:    models.EvaluationMetrics{Overall: models.OverallMetric{AccuracyPct: &acc}},
	}
	id, err := store.InsertEvaluation(doc)
	if err != nil {
		t.Fatalf("InsertEvaluation: %v", err)
	}
	if _, err := store.InsertEvaluation(doc); err != nil {
		t.Fatalf("InsertEvaluation second: %v", err)
	}

	evals, err := store.GetEvaluations("B01", 10)
	if err != nil {
		t.Fatalf("GetEvaluations: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("len(evals) = %d, want 2", len(evals))
	}
	if evals[0].ID == evals[1].ID || (evals[0].ID != id && evals[1].ID != id) {
		t.Errorf("unexpected ids: %q %q", evals[0].ID, evals[1].ID)
	}

	summary, err := store.GetAccuracySummary(7)
	if err != nil {
		t.Fatalf("GetAccuracySummary: %v", err)
	}
	if len(summary) != 1 || summary[0].Matched != 2 || summary[0].MeanAccuracy.Float64 != 92 {
		t.Errorf("summary = %+v", summary)
	}

	alert := models.Alert{
		BuoyID: "B01", UID: "u1", Category: "forecast_wqi", Severity: models.SeverityWarning,
		Value: 62.5, Message: "Forecast water quality WARNING on 2024-03-12 (WQI=62.5)",
		Origin: "forecast", RefDate: "2024-03-12",
	}
	if err := store.InsertAlert(alert); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	alerts, err := store.GetAlerts("B01", 10)
	if err != nil {
		t.Fatalf("GetAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}
	if alerts[0].RefDate != "2024-03-12" || alerts[0].Parameter != nil || alerts[0].ID == "" {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestWQIConfigSettings(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.LoadWQIConfig(); !errors.Is(err, wqi.ErrConfigMissing) {
		t.Fatalf("LoadWQIConfig on empty store = %v, want ErrConfigMissing", err)
	}

	_, v1, err := store.SaveWQIConfig([]byte(`{"rain_unit": "mm"}`))
	if err != nil {
		t.Fatalf("SaveWQIConfig: %v", err)
	}
	_, v2, err := store.SaveWQIConfig([]byte("weights:\n  ph: 0.4\n"))
	if err != nil {
		t.Fatalf("SaveWQIConfig yaml: %v", err)
	}
	if v1 != 1 || v2 != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", v1, v2)
	}

	cfg, err := store.LoadWQIConfig()
	if err != nil {
		t.Fatalf("LoadWQIConfig: %v", err)
	}
	if cfg.Weights[models.PH] != 0.4 {
		t.Errorf("ph weight = %v, want 0.4", cfg.Weights[models.PH])
	}
	if cfg.RainUnit != "mm" {
		t.Errorf("rain_unit = %q, want mm kept from the earlier save", cfg.RainUnit)
	}
	if cfg.Weights[models.TDS] != wqi.Default().Weights[models.TDS] {
		t.Errorf("tds weight = %v, want default", cfg.Weights[models.TDS])
	}

	if _, _, err := store.SaveWQIConfig([]byte(`{"rain_unit": "furlongs"}`)); err == nil {
		t.Error("expected invalid config to be rejected")
	}
	if v, _ := store.WQIConfigVersion(); v != 2 {
		t.Errorf("version after rejected save = %d, want 2", v)
	}
}

func TestWQIConfigStoresOnlyOverrides(t *testing.T) {
	store := setupTestStore(t)

	if _, _, err := store.SaveWQIConfig([]byte(`{"bands": {"good": [75, 100]}}`)); err != nil {
		t.Fatalf("SaveWQIConfig: %v", err)
	}

	var body string
	if err := store.db.QueryRow(`SELECT value_json FROM settings WHERE key = ?`, wqiConfigKey).Scan(&body); err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if strings.Contains(body, "weights") || strings.Contains(body, "ranges") {
		t.Errorf("stored value should hold only overrides, got %s", body)
	}

	cfg, err := store.LoadWQIConfig()
	if err != nil {
		t.Fatalf("LoadWQIConfig: %v", err)
	}
	if cfg.Bands.Good != (wqi.Band{75, 100}) {
		t.Errorf("good band = %v, want [75 100]", cfg.Bands.Good)
	}
	if cfg.Bands.Mid != wqi.Default().Bands.Mid {
		t.Errorf("mid band = %v, want default %v", cfg.Bands.Mid, wqi.Default().Bands.Mid)
	}
}

func TestModels(t *testing.T) {
	store := setupTestStore(t)

	m, err := store.LoadModel("B01")
	if err != nil || m != nil {
		t.Fatalf("LoadModel on empty store = %v, %v", m, err)
	}

	saved := &forecast.Model{
		Features:  models.Params,
		Scaler:    forecast.Scaler{Mean: make([]float64, 6), Scale: []float64{1, 1, 1, 1, 1, 1}},
		Coef:      make([][]float64, 6),
		Intercept: []float64{7, 100, 100, 10, 28, 700},
		Rows:      12,
		TrainedAt: time.Now().UTC(),
	}
	for i := range saved.Coef {
		saved.Coef[i] = make([]float64, 6)
	}
	if err := store.SaveModel("B01", saved); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}

	loaded, err := store.LoadModel("B01")
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	pred, err := loaded.Predict(models.Means{
		models.PH: 1, models.TDS: 1, models.EC: 1, models.Turbidity: 1, models.Temperature: 1, models.Rainfall: 1,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred[models.Rainfall] != 700 {
		t.Errorf("rainfall = %v, want 700", pred[models.Rainfall])
	}
}

func TestRawPayloadsAndIngestRuns(t *testing.T) {
	store := setupTestStore(t)
	buoy := "B01"

	run, err := store.StartIngestRun("buoy", "readings", &buoy)
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}

	payload := []byte(`{"1704067200000":{"ph":7.1}}`)
	id, err := store.StoreRawPayload(&run.ID, "buoy", "readings", &buoy, payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("expected payload id")
	}
	dupID, err := store.StoreRawPayload(&run.ID, "buoy", "readings", &buoy, payload)
	if err != nil {
		t.Fatalf("StoreRawPayload duplicate: %v", err)
	}
	if dupID != 0 {
		t.Errorf("duplicate id = %d, want 0", dupID)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	run.Success = false
	run.ErrorMessage = sql.NullString{String: "bad timestamp", Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}
	failed, err := store.GetRecentIngestErrors(5)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage.String != "bad timestamp" {
		t.Errorf("failed runs = %+v", failed)
	}

	stats, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatalf("GetRawPayloadStats: %v", err)
	}
	if stats.TotalCount != 1 || stats.CountByBuoy["B01"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
