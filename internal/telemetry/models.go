package telemetry

import "encoding/json"

// GeoPoint is a single GPS fix. Immutable once appended to a session path.
type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Altitude  float64 `json:"altitude,omitempty"`  // meters
	Timestamp int64   `json:"timestamp,omitempty"` // epoch millis
	Speed     float64 `json:"speed,omitempty"`     // km/h
}

type Ultrasonic struct {
	Distance float64 `json:"distance"` // cm
	Velocity float64 `json:"velocity"` // cm/s
}

type PIR struct {
	Detected bool `json:"detected"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Orientation struct {
	Roll  float64 `json:"roll"`  // degrees
	Pitch float64 `json:"pitch"` // degrees
	Yaw   float64 `json:"yaw"`   // degrees
}

type IMU struct {
	Acceleration Vector3     `json:"acceleration"`
	Gyro         Vector3     `json:"gyro"`
	Orientation  Orientation `json:"orientation"`
	Altitude     float64     `json:"altitude"` // meters
}

type GPS struct {
	Position GeoPoint `json:"position"`
	Speed    float64  `json:"speed"`    // km/h
	Heading  float64  `json:"heading"`  // degrees, 0-360
	Accuracy float64  `json:"accuracy"` // meters
}

// HasFix reports whether the receiver holds a usable position. A position
// of exactly (0, 0) means the device never produced a fix.
func (g GPS) HasFix() bool {
	return g.Position.Lat != 0 || g.Position.Lng != 0
}

// SensorReading is the canonical telemetry unit. The zero value is a fully
// populated reading with every sub-field at its default; a reading is never
// partial.
type SensorReading struct {
	Ultrasonic    Ultrasonic `json:"ultrasonic"`
	PIR           PIR        `json:"pir"`
	IMU           IMU        `json:"imu"`
	GPS           GPS        `json:"gps"`
	CollisionRisk bool       `json:"collisionRisk,omitempty"`
}

// ParseReading decodes a direct-mode device frame. The payload is expected
// to already be canonical JSON; absent sub-objects keep their defaults.
func ParseReading(raw []byte) (SensorReading, error) {
	var reading SensorReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return SensorReading{}, err
	}
	return reading, nil
}
