package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/YetiSight/trackify-adventure/internal/shared/geo"
	"github.com/YetiSight/trackify-adventure/internal/telemetry"

	"github.com/google/uuid"
)

var (
	ErrNotConnected    = errors.New("connect to a telemetry source before starting a session")
	ErrAlreadyActive   = errors.New("a session is already running")
	ErrNotActive       = errors.New("no active session")
	ErrSessionTooShort = errors.New("session too short to be saved")
)

const (
	// Segments shorter than 1 m are GPS noise and do not move the path.
	noiseFloorKm = 0.001
	// Sessions below these thresholds are discarded at stop time.
	minPersistDistanceKm  = 0.01
	minPersistDurationSec = 10.0

	tickInterval = time.Second
)

// ConnectionProbe reports whether a live telemetry source is connected.
type ConnectionProbe func() bool

// Engine folds the live reading stream into cumulative session statistics
// and persists finished sessions. It owns Stats exclusively; readings are
// folded synchronously in arrival order.
type Engine struct {
	mu        sync.Mutex
	connected ConnectionProbe
	store     Store
	userID    string
	now       func() time.Time

	stats    Stats
	tickStop chan struct{}

	onStats     []func(Stats)
	onPersisted []func(Record)
}

func NewEngine(connected ConnectionProbe, store Store, userID string) *Engine {
	return &Engine{
		connected: connected,
		store:     store,
		userID:    userID,
		now:       time.Now,
	}
}

// OnStats registers a callback invoked with a snapshot after every change.
func (e *Engine) OnStats(fn func(Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStats = append(e.onStats, fn)
}

// OnPersisted registers a callback invoked after a session record is saved.
func (e *Engine) OnPersisted(fn func(Record)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPersisted = append(e.onPersisted, fn)
}

// Snapshot returns a copy of the live stats safe to hand out.
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Stats {
	snapshot := e.stats
	snapshot.Path = append([]telemetry.GeoPoint(nil), e.stats.Path...)
	return snapshot
}

// Start begins a new session. The telemetry source must be connected;
// otherwise the call is rejected and no state changes.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.stats.IsActive {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	if e.connected == nil || !e.connected() {
		e.mu.Unlock()
		return ErrNotConnected
	}

	e.stats = Stats{
		IsActive:  true,
		StartTime: e.now(),
		Path:      []telemetry.GeoPoint{},
	}
	stop := make(chan struct{})
	e.tickStop = stop
	go e.tickLoop(stop)
	e.publishStatsUnlock()
	return nil
}

// tickLoop keeps the displayed duration moving between telemetry arrivals,
// which can be 15 s apart in aggregator mode.
func (e *Engine) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick recomputes the session duration. No-op when idle.
func (e *Engine) Tick() {
	e.mu.Lock()
	if !e.stats.IsActive {
		e.mu.Unlock()
		return
	}
	e.stats.Duration = e.now().Sub(e.stats.StartTime).Seconds()
	e.publishStatsUnlock()
}

// Ingest folds one reading into the session. No-op when idle.
func (e *Engine) Ingest(reading telemetry.SensorReading) {
	e.mu.Lock()
	if !e.stats.IsActive {
		e.mu.Unlock()
		return
	}

	// Collision risks count rising edges only: a sustained flag is one
	// event, a cleared-then-raised flag is a new one.
	if reading.CollisionRisk && !e.stats.LastCollisionRisk {
		e.stats.CollisionRiskCount++
	}
	e.stats.LastCollisionRisk = reading.CollisionRisk

	now := e.now()
	e.stats.Duration = now.Sub(e.stats.StartTime).Seconds()

	if !reading.GPS.HasFix() {
		e.publishStatsUnlock()
		return
	}

	point := reading.GPS.Position
	point.Timestamp = now.UnixMilli()
	point.Speed = reading.GPS.Speed

	if len(e.stats.Path) == 0 {
		e.stats.Path = append(e.stats.Path, point)
		e.stats.StartAltitude = reading.IMU.Altitude
		e.stats.MaxAltitude = reading.IMU.Altitude
		e.stats.CurrentSpeed = reading.GPS.Speed
		e.stats.MaxSpeed = reading.GPS.Speed
		e.publishStatsUnlock()
		return
	}

	last := e.stats.Path[len(e.stats.Path)-1]
	segment := geo.HaversineKm(last.Lat, last.Lng, point.Lat, point.Lng)
	if segment < noiseFloorKm {
		// The device's reported speed is still trustworthy while the
		// position jitters in place.
		e.stats.CurrentSpeed = reading.GPS.Speed
		if reading.GPS.Speed > e.stats.MaxSpeed {
			e.stats.MaxSpeed = reading.GPS.Speed
		}
		e.publishStatsUnlock()
		return
	}

	e.stats.Path = append(e.stats.Path, point)
	e.stats.Distance += segment
	if e.stats.Duration > 0 {
		e.stats.AverageSpeed = e.stats.Distance / (e.stats.Duration / 3600)
	}
	if reading.GPS.Speed > e.stats.MaxSpeed {
		e.stats.MaxSpeed = reading.GPS.Speed
	}
	if reading.IMU.Altitude > e.stats.MaxAltitude {
		e.stats.MaxAltitude = reading.IMU.Altitude
	}
	e.stats.CurrentSpeed = reading.GPS.Speed
	e.publishStatsUnlock()
}

// Stop ends the active session and persists it. Sessions shorter than the
// guard thresholds are discarded and reported via ErrSessionTooShort.
func (e *Engine) Stop(ctx context.Context) (Record, error) {
	e.mu.Lock()
	if !e.stats.IsActive {
		e.mu.Unlock()
		return Record{}, ErrNotActive
	}

	e.stats.IsActive = false
	e.stats.Duration = e.now().Sub(e.stats.StartTime).Seconds()
	e.stopTickerLocked()
	final := e.snapshotLocked()
	e.publishStatsUnlock()

	if final.Distance < minPersistDistanceKm || final.Duration < minPersistDurationSec {
		return Record{}, ErrSessionTooShort
	}

	record := e.buildRecord(final)
	if err := e.store.Append(ctx, record); err != nil {
		log.Printf("session: persisting record failed: %v", err)
		return Record{}, err
	}

	e.mu.Lock()
	onPersisted := e.onPersisted
	e.mu.Unlock()
	for _, fn := range onPersisted {
		fn(record)
	}
	return record, nil
}

// Reset discards the in-progress session without persisting anything.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.stopTickerLocked()
	e.stats = Stats{Path: []telemetry.GeoPoint{}}
	e.publishStatsUnlock()
}

func (e *Engine) buildRecord(final Stats) Record {
	altitudeDifference := 0.0
	if len(final.Path) > 0 {
		altitudeDifference = final.MaxAltitude - final.StartAltitude
	}
	return Record{
		ID:                 uuid.NewString(),
		UserID:             e.userID,
		Date:               e.now(),
		Distance:           final.Distance,
		Duration:           int64(final.Duration),
		MaxSpeed:           final.MaxSpeed,
		AvgSpeed:           final.AverageSpeed,
		MaxAltitude:        final.MaxAltitude,
		AltitudeDifference: altitudeDifference,
		Path:               final.Path,
		SlopeLevel:         slopeLevelFor(final.MaxSpeed),
		CollisionRiskCount: final.CollisionRiskCount,
	}
}

func (e *Engine) stopTickerLocked() {
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
}

// publishStatsUnlock snapshots the stats, releases the lock and notifies.
func (e *Engine) publishStatsUnlock() {
	snapshot := e.snapshotLocked()
	onStats := e.onStats
	e.mu.Unlock()
	for _, fn := range onStats {
		fn(snapshot)
	}
}
