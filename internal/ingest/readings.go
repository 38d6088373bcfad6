package ingest

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/buoyforecast/internal/forecast"
	"github.com/lox/buoyforecast/internal/metrics"
	"github.com/lox/buoyforecast/internal/models"
	"github.com/lox/buoyforecast/internal/store"
)

const (
	sourceBuoy       = "buoy"
	endpointReadings = "readings"
)

var (
	ErrUnknownBuoy  = errors.New("unknown buoy")
	ErrEmptyPayload = errors.New("empty payload")
)

// ParseResult carries the counters for one decoded payload.
type ParseResult struct {
	Readings    []models.Reading
	Records     int
	ParseErrors int
	ParseError  string
	Flagged     int
}

// ParseReadings decodes a history payload keyed by timestamp:
//
//	{"1710115200000": {"ph": 7.1, "tds": 310, "temperature": 29.4}}
//
// Keys may be epoch seconds, epoch milliseconds or any timestamp ParseTimestamp
// accepts. Unknown sensor names are skipped; entries with a bad timestamp or a
// non-numeric value are counted as parse errors and skipped.
func ParseReadings(buoyID string, body []byte) (*ParseResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyPayload
	}

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := &ParseResult{Records: len(raw)}
	var errs []string
	for _, key := range keys {
		observedAt, ok := forecast.ParseTimestamp(key)
		if !ok {
			result.ParseErrors++
			errs = append(errs, fmt.Sprintf("bad timestamp %q", key))
			continue
		}
		for name, rawValue := range raw[key] {
			p, ok := models.ParseParam(strings.ToLower(name))
			if !ok {
				continue
			}
			v, err := parseValue(rawValue)
			if err != nil {
				result.ParseErrors++
				errs = append(errs, fmt.Sprintf("%s/%s: %v", key, name, err))
				continue
			}
			flags := ValidateSample(p, v)
			if len(flags) > 0 {
				result.Flagged++
			}
			result.Readings = append(result.Readings, models.Reading{
				BuoyID:       buoyID,
				ObservedAt:   observedAt.UTC(),
				Parameter:    p,
				Value:        v,
				QualityFlags: QualityFlagsToJSON(flags),
			})
		}
	}
	if len(errs) > 0 {
		if len(errs) > 5 {
			errs = append(errs[:5], fmt.Sprintf("and %d more", len(errs)-5))
		}
		result.ParseError = strings.Join(errs, "; ")
	}
	return result, nil
}

// parseValue accepts JSON numbers and numeric strings.
func parseValue(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}

// IngestResult summarises one readings upload.
type IngestResult struct {
	RunID       int64 `json:"run_id"`
	Records     int   `json:"records"`
	Parsed      int   `json:"parsed"`
	Stored      int   `json:"stored"`
	Duplicates  int   `json:"duplicates"`
	Flagged     int   `json:"flagged"`
	ParseErrors int   `json:"parse_errors"`
}

type ReadingsIngester struct {
	store *store.Store
}

func NewReadingsIngester(store *store.Store) *ReadingsIngester {
	return &ReadingsIngester{store: store}
}

// Ingest archives the raw payload, parses it and stores the readings, all
// recorded against one ingest run.
func (r *ReadingsIngester) Ingest(buoyID string, body []byte) (*IngestResult, error) {
	buoy, err := r.store.GetBuoy(buoyID)
	if err != nil {
		return nil, fmt.Errorf("lookup buoy: %w", err)
	}
	if buoy == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuoy, buoyID)
	}

	run, err := r.store.StartIngestRun(sourceBuoy, endpointReadings, &buoyID)
	if err != nil {
		log.Printf("ingest: start run for %s: %v", buoyID, err)
	}
	result := &IngestResult{}
	if run != nil {
		result.RunID = run.ID
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(body)), Valid: true}
		defer func() {
			if err := r.store.CompleteIngestRun(run); err != nil {
				log.Printf("ingest: complete run %d: %v", run.ID, err)
			}
		}()
	}

	if len(body) > 0 {
		var runID *int64
		if run != nil {
			runID = &run.ID
		}
		if _, err := r.store.StoreRawPayload(runID, sourceBuoy, endpointReadings, &buoyID, body); err != nil {
			log.Printf("ingest: store raw payload for %s: %v", buoyID, err)
		}
	}

	parsed, err := ParseReadings(buoyID, body)
	if err != nil {
		if run != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		return nil, err
	}
	result.Records = parsed.Records
	result.Parsed = len(parsed.Readings)
	result.Flagged = parsed.Flagged
	result.ParseErrors = parsed.ParseErrors
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.Parsed), Valid: true}
		if parsed.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(parsed.ParseErrors), Valid: true}
			run.ErrorMessage = sql.NullString{String: parsed.ParseError, Valid: true}
			log.Printf("ingest: %s: parse errors: %s", buoyID, parsed.ParseError)
		}
	}

	stored, err := r.store.InsertReadings(parsed.Readings)
	if err != nil {
		if run != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		return nil, fmt.Errorf("store readings: %w", err)
	}
	result.Stored = stored
	result.Duplicates = result.Parsed - stored
	metrics.SamplesIngested.WithLabelValues(buoyID).Add(float64(stored))

	if run != nil {
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		run.Success = true
	}
	log.Printf("ingest: %s: stored %d readings (%d duplicates, %d flagged, %d parse errors)",
		buoyID, result.Stored, result.Duplicates, result.Flagged, result.ParseErrors)
	return result, nil
}
