package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Archived payloads are zstd frames. Encoder and decoder are safe for
// concurrent EncodeAll/DecodeAll calls.
var (
	payloadEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	payloadDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

const payloadSchemaVersion = 2

// StoreRawPayload archives an inbound payload for replay. It returns the new
// row id, or 0 when an identical payload is already archived.
func (s *Store) StoreRawPayload(runID *int64, source, endpoint string, buoyID *string, payload []byte) (int64, error) {
	sum := sha256.Sum256(payload)

	var run sql.NullInt64
	if runID != nil {
		run = sql.NullInt64{Int64: *runID, Valid: true}
	}
	var buoy sql.NullString
	if buoyID != nil {
		buoy = sql.NullString{String: *buoyID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(ingest_run_id, fetched_at, source, endpoint, buoy_id, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, run, time.Now().UTC(), source, endpoint, buoy,
		payloadEncoder.EncodeAll(payload, nil), hex.EncodeToString(sum[:]), payloadSchemaVersion)
	if err != nil {
		return 0, fmt.Errorf("archive payload: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload returns the decompressed payload with the given id.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var frame []byte
	if err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).Scan(&frame); err != nil {
		return nil, err
	}
	out, err := payloadDecoder.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload %d: %w", id, err)
	}
	return out, nil
}

type RawPayloadStats struct {
	TotalCount     int            `json:"total_count"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	CountByBuoy    map[string]int `json:"count_by_buoy"`
}

func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{CountByBuoy: make(map[string]int)}

	if err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0) FROM raw_payloads
	`).Scan(&stats.TotalCount, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT COALESCE(buoy_id, source), COUNT(*) FROM raw_payloads
		GROUP BY COALESCE(buoy_id, source)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		stats.CountByBuoy[key] = n
	}
	return stats, rows.Err()
}

// CleanupOldRawPayloads prunes the archive to the retention window and
// returns how many payloads were removed.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`,
		time.Now().UTC().AddDate(0, 0, -retentionDays))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
