package session

import (
	"time"

	"github.com/YetiSight/trackify-adventure/internal/telemetry"
)

// Stats is the live state of the active session. Snapshots of it are what
// the dashboard renders.
type Stats struct {
	IsActive  bool      `json:"is_active"`
	StartTime time.Time `json:"start_time,omitempty"`
	Duration  float64   `json:"duration_sec"`

	Path         []telemetry.GeoPoint `json:"path"`
	Distance     float64              `json:"distance_km"`
	AverageSpeed float64              `json:"avg_speed_kmh"`
	MaxSpeed     float64              `json:"max_speed_kmh"`
	CurrentSpeed float64              `json:"current_speed_kmh"`

	StartAltitude float64 `json:"start_altitude_m"`
	MaxAltitude   float64 `json:"max_altitude_m"`

	CollisionRiskCount int  `json:"collision_risk_count"`
	LastCollisionRisk  bool `json:"last_collision_risk"`
}

type SlopeLevel string

const (
	SlopeEasy    SlopeLevel = "easy"
	SlopeMedium  SlopeLevel = "medium"
	SlopeHard    SlopeLevel = "hard"
	SlopeExtreme SlopeLevel = "extreme"
)

func slopeLevelFor(maxSpeedKmh float64) SlopeLevel {
	switch {
	case maxSpeedKmh > 60:
		return SlopeExtreme
	case maxSpeedKmh > 40:
		return SlopeHard
	case maxSpeedKmh > 20:
		return SlopeMedium
	default:
		return SlopeEasy
	}
}

// Record is one finished session. Written once at stop time, immutable
// thereafter.
type Record struct {
	ID                 string               `json:"id"`
	UserID             string               `json:"user_id"`
	Date               time.Time            `json:"date"`
	Distance           float64              `json:"distance_km"`
	Duration           int64                `json:"duration_sec"`
	MaxSpeed           float64              `json:"max_speed_kmh"`
	AvgSpeed           float64              `json:"avg_speed_kmh"`
	MaxAltitude        float64              `json:"max_altitude_m"`
	AltitudeDifference float64              `json:"altitude_difference_m"`
	Path               []telemetry.GeoPoint `json:"path"`
	SlopeLevel         SlopeLevel           `json:"slope_level"`
	CollisionRiskCount int                  `json:"collision_risk_count"`
}
