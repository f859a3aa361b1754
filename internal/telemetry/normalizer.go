package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FieldTarget identifies one settable leaf of a SensorReading. Aggregator
// channels expose their telemetry as numbered fields; a mapping from field
// index to target decides where each value lands.
type FieldTarget int

const (
	TargetUnknown FieldTarget = iota
	TargetGPSLat
	TargetGPSLng
	TargetGPSSpeed
	TargetGPSHeading
	TargetGPSAccuracy
	TargetIMUAltitude
	TargetIMURoll
	TargetIMUPitch
	TargetIMUYaw
	TargetUltrasonicDistance
	TargetUltrasonicVelocity
	TargetPIRDetected
	TargetCollisionRisk
)

var targetsByPath = map[string]FieldTarget{
	"gps.position.lat":      TargetGPSLat,
	"gps.position.lng":      TargetGPSLng,
	"gps.speed":             TargetGPSSpeed,
	"gps.heading":           TargetGPSHeading,
	"gps.accuracy":          TargetGPSAccuracy,
	"imu.altitude":          TargetIMUAltitude,
	"imu.orientation.roll":  TargetIMURoll,
	"imu.orientation.pitch": TargetIMUPitch,
	"imu.orientation.yaw":   TargetIMUYaw,
	"ultrasonic.distance":   TargetUltrasonicDistance,
	"ultrasonic.velocity":   TargetUltrasonicVelocity,
	"pir.detected":          TargetPIRDetected,
	"collisionRisk":         TargetCollisionRisk,
}

// ParseFieldTarget resolves a dotted reading path, e.g. "imu.altitude".
func ParseFieldTarget(path string) (FieldTarget, bool) {
	target, ok := targetsByPath[strings.TrimSpace(path)]
	return target, ok
}

func (t FieldTarget) apply(r *SensorReading, value float64) {
	switch t {
	case TargetGPSLat:
		r.GPS.Position.Lat = value
	case TargetGPSLng:
		r.GPS.Position.Lng = value
	case TargetGPSSpeed:
		r.GPS.Speed = value
	case TargetGPSHeading:
		r.GPS.Heading = value
	case TargetGPSAccuracy:
		r.GPS.Accuracy = value
	case TargetIMUAltitude:
		r.IMU.Altitude = value
	case TargetIMURoll:
		r.IMU.Orientation.Roll = value
	case TargetIMUPitch:
		r.IMU.Orientation.Pitch = value
	case TargetIMUYaw:
		r.IMU.Orientation.Yaw = value
	case TargetUltrasonicDistance:
		r.Ultrasonic.Distance = value
	case TargetUltrasonicVelocity:
		r.Ultrasonic.Velocity = value
	case TargetPIRDetected:
		r.PIR.Detected = value > 0
	case TargetCollisionRisk:
		r.CollisionRisk = value > 0
	}
}

// FieldMapping maps an aggregator field index to a reading target.
type FieldMapping map[int]FieldTarget

// ParseFieldMapping converts a stringly-keyed index -> dotted-path table
// into a FieldMapping. Entries with an unknown path or a non-numeric index
// are dropped.
func ParseFieldMapping(paths map[string]string) FieldMapping {
	mapping := FieldMapping{}
	for key, path := range paths {
		index, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		if target, ok := ParseFieldTarget(path); ok {
			mapping[index] = target
		}
	}
	return mapping
}

// Normalize folds a raw aggregator payload (keys "field1".."fieldN" holding
// stringified numbers) into a SensorReading. Absent or unparseable fields
// keep the reading's defaults; unmapped payload keys are ignored. Never
// fails: a malformed payload yields the all-default reading.
func Normalize(payload map[string]any, mapping FieldMapping) SensorReading {
	var reading SensorReading
	for index, target := range mapping {
		raw, ok := payload[fieldKey(index)]
		if !ok || raw == nil {
			continue
		}
		value, err := toFloat(raw)
		if err != nil {
			continue
		}
		target.apply(&reading, value)
	}
	return reading
}

func fieldKey(index int) string {
	return fmt.Sprintf("field%d", index)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("unsupported field value %T", raw)
	}
}
