package session

import (
	"context"
	"encoding/json"

	"github.com/YetiSight/trackify-adventure/internal/db"
	"github.com/YetiSight/trackify-adventure/internal/telemetry"
)

// PostgresStore persists finished sessions to the ski_sessions table.
// Reads come back newest first to match the list contract.
type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(db db.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, recorded_at, distance_km, duration_sec, max_speed_kmh, avg_speed_kmh,
		       max_altitude_m, altitude_difference_m, slope_level, collision_risk_count, path
		FROM ski_sessions
		ORDER BY recorded_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var path []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.Distance, &rec.Duration, &rec.MaxSpeed,
			&rec.AvgSpeed, &rec.MaxAltitude, &rec.AltitudeDifference, &rec.SlopeLevel, &rec.CollisionRiskCount, &path); err != nil {
			return nil, err
		}
		if len(path) > 0 {
			if err := json.Unmarshal(path, &rec.Path); err != nil {
				return nil, err
			}
		} else {
			rec.Path = []telemetry.GeoPoint{}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, records []Record) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM ski_sessions`); err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.insert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, record Record) error {
	return s.insert(ctx, record)
}

func (s *PostgresStore) insert(ctx context.Context, rec Record) error {
	path, err := json.Marshal(rec.Path)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO ski_sessions (id, user_id, recorded_at, distance_km, duration_sec, max_speed_kmh, avg_speed_kmh,
		                          max_altitude_m, altitude_difference_m, slope_level, collision_risk_count, path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.ID, rec.UserID, rec.Date, rec.Distance, rec.Duration, rec.MaxSpeed, rec.AvgSpeed,
		rec.MaxAltitude, rec.AltitudeDifference, rec.SlopeLevel, rec.CollisionRiskCount, path)
	return err
}
