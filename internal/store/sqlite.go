package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/buoyforecast/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

func (s *Store) UpsertBuoy(b models.Buoy) error {
	_, err := s.db.Exec(`
		INSERT INTO buoys (buoy_id, name, latitude, longitude, owner_uid, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(buoy_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			owner_uid = excluded.owner_uid,
			active = excluded.active
	`, b.BuoyID, b.Name, b.Latitude, b.Longitude, b.OwnerUID, b.Active)
	return err
}

func (s *Store) GetBuoy(buoyID string) (*models.Buoy, error) {
	row := s.db.QueryRow(`
		SELECT buoy_id, name, latitude, longitude, owner_uid, active, created_at
		FROM buoys WHERE buoy_id = ?
	`, buoyID)

	var b models.Buoy
	var name, owner sql.NullString
	err := row.Scan(&b.BuoyID, &name, &b.Latitude, &b.Longitude, &owner, &b.Active, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Name, b.OwnerUID = name.String, owner.String
	return &b, nil
}

func (s *Store) GetActiveBuoys() ([]models.Buoy, error) {
	rows, err := s.db.Query(`
		SELECT buoy_id, name, latitude, longitude, owner_uid, active, created_at
		FROM buoys WHERE active = TRUE
		ORDER BY buoy_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buoys []models.Buoy
	for rows.Next() {
		var b models.Buoy
		var name, owner sql.NullString
		if err := rows.Scan(&b.BuoyID, &name, &b.Latitude, &b.Longitude, &owner, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Name, b.OwnerUID = name.String, owner.String
		buoys = append(buoys, b)
	}
	return buoys, rows.Err()
}

// InsertReadings stores readings in one transaction, skipping duplicates of
// (buoy, instant, parameter). Returns the number of rows inserted.
func (s *Store) InsertReadings(readings []models.Reading) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO samples (buoy_id, observed_at, parameter, value, quality_flags)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(buoy_id, observed_at, parameter) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range readings {
		res, err := stmt.Exec(r.BuoyID, r.ObservedAt.UTC(), string(r.Parameter), r.Value, nullString(r.QualityFlags))
		if err != nil {
			return 0, fmt.Errorf("insert reading %s/%s: %w", r.BuoyID, r.Parameter, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// FetchSamples returns the buoy's samples from the last lookbackDays days in
// time order, with timestamps rendered as RFC 3339.
func (s *Store) FetchSamples(buoyID string, lookbackDays int) ([]models.RawSample, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)
	rows, err := s.db.Query(`
		SELECT observed_at, parameter, value
		FROM samples
		WHERE buoy_id = ? AND observed_at >= ?
		ORDER BY observed_at ASC
	`, buoyID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.RawSample
	for rows.Next() {
		var observedAt time.Time
		var sample models.RawSample
		if err := rows.Scan(&observedAt, &sample.Parameter, &sample.Value); err != nil {
			return nil, err
		}
		sample.Timestamp = observedAt.UTC().Format(time.RFC3339Nano)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// GetLatestReadingTime returns the newest sample time for a buoy, or the zero
// time when it has none.
func (s *Store) GetLatestReadingTime(buoyID string) (time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRow(`
		SELECT observed_at FROM samples
		WHERE buoy_id = ?
		ORDER BY observed_at DESC
		LIMIT 1
	`, buoyID).Scan(&latest)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return latest.Time.In(s.loc), nil
}

func (s *Store) CountSamples(buoyID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE buoy_id = ?`, buoyID).Scan(&n)
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
