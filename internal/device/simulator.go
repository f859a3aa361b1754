package device

import (
	"math/rand"

	"github.com/YetiSight/trackify-adventure/internal/telemetry"
)

// Dolomites resorts used as starting points for simulated runs.
var baseCoordinates = []telemetry.GeoPoint{
	{Lat: 46.4086, Lng: 11.8735}, // Cortina d'Ampezzo
	{Lat: 46.5404, Lng: 11.8564}, // Val Gardena
	{Lat: 46.5295, Lng: 12.1366}, // Tre Cime di Lavaredo
	{Lat: 46.2730, Lng: 11.4383}, // Val di Fassa
}

// Simulator produces a plausible stream of ski-run telemetry for remote
// mode, so the dashboard can be demoed without hardware. Each reading walks
// on from the previous one: small position drift, bounded speed changes and
// a generally descending altitude. Not safe for concurrent use; the
// connection manager owns it.
type Simulator struct {
	rng  *rand.Rand
	last *telemetry.SensorReading
}

func NewSimulator(seed int64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulator) between(min, max float64) float64 {
	return min + s.rng.Float64()*(max-min)
}

// Next returns the next simulated reading.
func (s *Simulator) Next() telemetry.SensorReading {
	base := baseCoordinates[s.rng.Intn(len(baseCoordinates))]
	speed := s.between(5, 30)
	altitude := s.between(1500, 2500)
	if s.last != nil {
		base = s.last.GPS.Position
		speed = s.last.GPS.Speed + s.between(-3, 3)
		altitude = s.last.IMU.Altitude + s.between(-5, -1) // downhill
	}
	if speed < 5 {
		speed = 5
	}
	if speed > 60 {
		speed = 60
	}
	if altitude < 1200 {
		altitude = 1200
	}

	collisionRisk := s.rng.Float64() < 0.05
	obstacleDistance := s.between(300, 1000)
	if collisionRisk {
		obstacleDistance = s.between(50, 250)
	}

	reading := telemetry.SensorReading{
		Ultrasonic: telemetry.Ultrasonic{Distance: obstacleDistance},
		PIR:        telemetry.PIR{Detected: s.rng.Float64() > 0.7},
		IMU: telemetry.IMU{
			Acceleration: telemetry.Vector3{
				X: s.between(-1, 1),
				Y: s.between(-1, 1),
				Z: s.between(8, 10),
			},
			Gyro: telemetry.Vector3{
				X: s.between(-0.5, 0.5),
				Y: s.between(-0.5, 0.5),
				Z: s.between(-0.5, 0.5),
			},
			Orientation: telemetry.Orientation{
				Roll:  s.between(-10, 10),
				Pitch: s.between(-15, 15),
				Yaw:   s.between(0, 360),
			},
			Altitude: altitude,
		},
		GPS: telemetry.GPS{
			Position: telemetry.GeoPoint{
				Lat: base.Lat + s.between(-0.0005, 0.0005),
				Lng: base.Lng + s.between(-0.0005, 0.0005),
			},
			Speed:    speed,
			Heading:  s.between(0, 360),
			Accuracy: s.between(1, 5),
		},
		CollisionRisk: collisionRisk,
	}

	s.last = &reading
	return reading
}
