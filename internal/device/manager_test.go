package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/YetiSight/trackify-adventure/internal/telemetry"

	"github.com/gorilla/websocket"
)

type fakeConn struct {
	msgs chan []byte
	errs chan error
	done chan struct{}
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan []byte, 8),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.msgs:
		return websocket.TextMessage, msg, nil
	case err := <-f.errs:
		return 0, nil, err
	case <-f.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) Closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []ErrorType
}

func (r *stateRecorder) record(state State, _ Mode, errType ErrorType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.errs = append(r.errs, errType)
}

func (r *stateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stubDial(t *testing.T, fn func(url string, timeout time.Duration) (transport, error)) {
	t.Helper()
	old := dialFn
	dialFn = fn
	t.Cleanup(func() { dialFn = old })
}

func newTestManager() *Manager {
	return NewManager(telemetry.NewRegistry(), "http://127.0.0.1:0")
}

func TestConnectDirectEmptyAddress(t *testing.T) {
	m := newTestManager()

	err := m.Connect("   ", "80", ModeDirect, SecurityInsecure)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	status := m.Status()
	if status.State != StateError || status.ErrorType != ErrorInvalidAddress {
		t.Fatalf("unexpected status: %+v", status)
	}
	if m.connectTimer != nil {
		t.Fatalf("no timer should be started for a rejected address")
	}
}

func TestConnectAggregatorNonNumericChannel(t *testing.T) {
	m := newTestManager()

	err := m.Connect("not-a-number", "key", ModeAggregator, SecurityInsecure)
	if !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	status := m.Status()
	if status.State != StateError || status.ErrorType != ErrorInvalidAddress {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestConnectDirectSuccessAndReadings(t *testing.T) {
	conn := newFakeConn()
	var gotURL string
	stubDial(t, func(url string, _ time.Duration) (transport, error) {
		gotURL = url
		return conn, nil
	})

	m := newTestManager()
	var mu sync.Mutex
	var readings []telemetry.SensorReading
	var notices []string
	m.OnReading(func(r telemetry.SensorReading, _ time.Time) {
		mu.Lock()
		readings = append(readings, r)
		mu.Unlock()
	})
	m.OnNotice(func(msg string) {
		mu.Lock()
		notices = append(notices, msg)
		mu.Unlock()
	})

	if err := m.Connect("192.168.1.50", "81", ModeDirect, SecurityInsecure); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	waitFor(t, "connected state", m.Connected)
	if gotURL != "ws://192.168.1.50:81/ws" {
		t.Fatalf("unexpected dial url: %s", gotURL)
	}

	conn.msgs <- []byte(`{"gps":{"position":{"lat":46.4,"lng":11.8},"speed":22}}`)
	waitFor(t, "reading", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(readings) == 1
	})
	mu.Lock()
	if readings[0].GPS.Speed != 22 {
		t.Fatalf("unexpected reading: %+v", readings[0])
	}
	mu.Unlock()

	// A malformed frame is dropped without tearing the connection down.
	conn.msgs <- []byte("not json")
	waitFor(t, "notice", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notices) == 1
	})
	if !m.Connected() {
		t.Fatalf("a bad frame must not disconnect")
	}

	m.Disconnect()
	if !conn.Closed() {
		t.Fatalf("expected transport closed on disconnect")
	}
}

func TestConnectDirectTimeout(t *testing.T) {
	oldTimeout := connectTimeout
	connectTimeout = 30 * time.Millisecond
	t.Cleanup(func() { connectTimeout = oldTimeout })

	conn := newFakeConn()
	stubDial(t, func(_ string, _ time.Duration) (transport, error) {
		time.Sleep(150 * time.Millisecond) // slower than the timeout
		return conn, nil
	})

	m := newTestManager()
	if err := m.Connect("10.0.0.9", "80", ModeDirect, SecurityInsecure); err != nil {
		t.Fatalf("connect error: %v", err)
	}

	waitFor(t, "timeout error", func() bool {
		s := m.Status()
		return s.State == StateError && s.ErrorType == ErrorTimeout
	})
	// The late dial success belongs to a stale attempt and must be closed.
	waitFor(t, "stale transport closed", conn.Closed)
}

func TestDialErrorClassification(t *testing.T) {
	stubDial(t, func(_ string, _ time.Duration) (transport, error) {
		return nil, errors.New("connection refused")
	})

	m := newTestManager()
	_ = m.Connect("10.0.0.9", "443", ModeDirect, SecuritySecure)
	waitFor(t, "secure failure reported as network", func() bool {
		s := m.Status()
		return s.State == StateError && s.ErrorType == ErrorNetwork
	})

	_ = m.Connect("10.0.0.9", "80", ModeDirect, SecurityInsecure)
	waitFor(t, "insecure failure reported as unknown", func() bool {
		s := m.Status()
		return s.State == StateError && s.ErrorType == ErrorUnknown
	})
}

func TestTransportErrorWhileConnected(t *testing.T) {
	conn := newFakeConn()
	stubDial(t, func(_ string, _ time.Duration) (transport, error) {
		return conn, nil
	})

	m := newTestManager()
	_ = m.Connect("10.0.0.9", "80", ModeDirect, SecurityInsecure)
	waitFor(t, "connected", m.Connected)

	conn.errs <- errors.New("read: connection reset by peer")
	waitFor(t, "error state", func() bool {
		s := m.Status()
		return s.State == StateError && s.ErrorType == ErrorUnknown
	})
}

func TestTransportCleanClose(t *testing.T) {
	conn := newFakeConn()
	stubDial(t, func(_ string, _ time.Duration) (transport, error) {
		return conn, nil
	})

	m := newTestManager()
	_ = m.Connect("10.0.0.9", "80", ModeDirect, SecurityInsecure)
	waitFor(t, "connected", m.Connected)

	conn.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	waitFor(t, "disconnected", func() bool {
		s := m.Status()
		return s.State == StateDisconnected && s.ErrorType == ErrorNone
	})
}

func TestDisconnectIdempotent(t *testing.T) {
	m := newTestManager()
	rec := &stateRecorder{}
	m.OnStateChange(rec.record)

	m.Disconnect()
	if m.Status().State != StateDisconnected {
		t.Fatalf("expected disconnected")
	}
	first := rec.count()

	m.Disconnect()
	if m.Status().State != StateDisconnected {
		t.Fatalf("expected disconnected after second call")
	}
	if rec.count() != first {
		t.Fatalf("second disconnect should not publish a transition")
	}
}

func TestRemoteModeSimulatedStream(t *testing.T) {
	oldDelay, oldInterval := remoteConnectDelay, simInterval
	remoteConnectDelay = 10 * time.Millisecond
	simInterval = 20 * time.Millisecond
	t.Cleanup(func() {
		remoteConnectDelay = oldDelay
		simInterval = oldInterval
	})

	m := newTestManager()
	var mu sync.Mutex
	var count int
	m.OnReading(func(_ telemetry.SensorReading, _ time.Time) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	if err := m.Connect("remote", "", ModeRemote, SecurityInsecure); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	if m.Connected() {
		t.Fatalf("remote mode must stay connecting until the delay elapses")
	}
	waitFor(t, "connected after delay", m.Connected)
	waitFor(t, "simulated readings", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 2
	})

	m.Disconnect()
	mu.Lock()
	settled := count
	mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	if after != settled {
		t.Fatalf("simulation must stop after disconnect")
	}
}

func TestReconnectInsecure(t *testing.T) {
	conn := newFakeConn()
	var gotURL string
	stubDial(t, func(url string, _ time.Duration) (transport, error) {
		gotURL = url
		return conn, nil
	})

	m := newTestManager()
	if err := m.ReconnectInsecure("192.168.1.50", "8080"); err != nil {
		t.Fatalf("reconnect error: %v", err)
	}
	waitFor(t, "connected", m.Connected)

	status := m.Status()
	if status.Mode != ModeDirect || status.Security != SecurityInsecure {
		t.Fatalf("unexpected status: %+v", status)
	}
	if gotURL != "ws://192.168.1.50:8080/ws" {
		t.Fatalf("expected plain scheme, got %s", gotURL)
	}
}

func TestConnectReplacesPriorAttempt(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	conns := []transport{first, second}
	var mu sync.Mutex
	stubDial(t, func(_ string, _ time.Duration) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		conn := conns[0]
		if len(conns) > 1 {
			conns = conns[1:]
		}
		return conn, nil
	})

	m := newTestManager()
	_ = m.Connect("10.0.0.1", "80", ModeDirect, SecurityInsecure)
	waitFor(t, "first connected", m.Connected)

	_ = m.Connect("10.0.0.2", "80", ModeDirect, SecurityInsecure)
	waitFor(t, "first transport closed", first.Closed)
	waitFor(t, "second connected", m.Connected)
	if second.Closed() {
		t.Fatalf("second transport should stay open")
	}
}
