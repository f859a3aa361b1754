package device

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/YetiSight/trackify-adventure/internal/telemetry"

	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeRemote     Mode = "remote"
	ModeAggregator Mode = "aggregator"
)

type Security string

const (
	SecuritySecure   Security = "secure"
	SecurityInsecure Security = "insecure"
)

type ErrorType string

const (
	ErrorNone           ErrorType = "none"
	ErrorForbidden      ErrorType = "forbidden"
	ErrorTimeout        ErrorType = "timeout"
	ErrorNetwork        ErrorType = "network"
	ErrorInvalidAddress ErrorType = "invalid_address"
	ErrorUnknown        ErrorType = "unknown"
)

var (
	ErrInvalidAddress = errors.New("device address is empty")
	ErrInvalidChannel = errors.New("aggregator channel id must be numeric")
)

// Connection timing. Package-level so tests can shrink them.
var (
	connectTimeout     = 10 * time.Second
	remoteConnectDelay = 1500 * time.Millisecond
	simInterval        = 2 * time.Second
	pollInterval       = 15 * time.Second
)

// transport is the minimal surface the manager needs from a device socket.
// *websocket.Conn satisfies it.
type transport interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

var dialFn = func(url string, timeout time.Duration) (transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	State        State     `json:"state"`
	Mode         Mode      `json:"mode"`
	Security     Security  `json:"security"`
	ErrorType    ErrorType `json:"error_type"`
	Target       string    `json:"target,omitempty"`
	ChannelID    int       `json:"channel_id,omitempty"`
	LastReceived time.Time `json:"last_received,omitempty"`
}

// Manager owns the device connection lifecycle across the three transport
// modes. It is the only component that touches the transport handle; every
// transition funnels through handle so stale timer and socket callbacks
// from a torn-down attempt cannot mutate state.
type Manager struct {
	mu sync.Mutex

	state     State
	mode      Mode
	security  Security
	errType   ErrorType
	target    string
	channelID int

	// attempt is bumped on every connect/teardown; events carry the
	// attempt they belong to and are dropped when it no longer matches.
	attempt      uint64
	done         chan struct{}
	conn         transport
	connectTimer *time.Timer

	registry   *telemetry.Registry
	aggregator *AggregatorClient
	sim        *Simulator

	lastReceived time.Time

	onState   []func(State, Mode, ErrorType)
	onReading []func(telemetry.SensorReading, time.Time)
	onNotice  []func(string)
}

func NewManager(registry *telemetry.Registry, aggregatorBaseURL string) *Manager {
	return &Manager{
		state:      StateDisconnected,
		mode:       ModeDirect,
		security:   SecurityInsecure,
		errType:    ErrorNone,
		registry:   registry,
		aggregator: NewAggregatorClient(aggregatorBaseURL, registry),
		sim:        NewSimulator(time.Now().UnixNano()),
	}
}

// OnStateChange registers a callback for every connection state transition.
func (m *Manager) OnStateChange(fn func(State, Mode, ErrorType)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// OnReading registers a callback for every received sensor reading.
func (m *Manager) OnReading(fn func(telemetry.SensorReading, time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReading = append(m.onReading, fn)
}

// OnNotice registers a callback for non-fatal conditions (dropped frames,
// failed poll iterations) that the UI may want to surface.
func (m *Manager) OnNotice(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotice = append(m.onNotice, fn)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state,
		Mode:         m.mode,
		Security:     m.security,
		ErrorType:    m.errType,
		Target:       m.target,
		ChannelID:    m.channelID,
		LastReceived: m.lastReceived,
	}
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Connect tears down any prior attempt and opens a new one. For direct mode
// secondary is the device port; for aggregator mode it is the channel read
// key; remote mode ignores both arguments.
func (m *Manager) Connect(target, secondary string, mode Mode, security Security) error {
	m.mu.Lock()
	m.teardownLocked()
	m.mode = mode
	m.security = security
	m.target = strings.TrimSpace(target)
	m.channelID = 0

	switch mode {
	case ModeDirect:
		if m.target == "" {
			m.state = StateError
			m.errType = ErrorInvalidAddress
			m.notifyStateUnlock()
			return ErrInvalidAddress
		}
		m.state = StateConnecting
		m.errType = ErrorNone
		attempt := m.attempt
		url := m.directURL(m.target, secondary)
		m.connectTimer = time.AfterFunc(connectTimeout, func() {
			m.handle(event{kind: evConnectTimeout, attempt: attempt})
		})
		go m.dial(attempt, url)

	case ModeRemote:
		m.state = StateConnecting
		m.errType = ErrorNone
		m.done = make(chan struct{})
		attempt := m.attempt
		m.connectTimer = time.AfterFunc(remoteConnectDelay, func() {
			m.handle(event{kind: evSimReady, attempt: attempt})
		})

	case ModeAggregator:
		id, err := strconv.Atoi(m.target)
		if err != nil {
			m.state = StateError
			m.errType = ErrorInvalidAddress
			m.notifyStateUnlock()
			return ErrInvalidChannel
		}
		m.channelID = id
		m.state = StateConnecting
		m.errType = ErrorNone
		m.done = make(chan struct{})
		go m.pollLoop(m.attempt, m.done, id, secondary)
	}

	m.notifyStateUnlock()
	return nil
}

// ReconnectInsecure retries a direct connection over the plain transport.
// One-click fallback after a secure-mode failure.
func (m *Manager) ReconnectInsecure(target, port string) error {
	return m.Connect(target, port, ModeDirect, SecurityInsecure)
}

// Disconnect is idempotent: it cancels outstanding timers and pollers,
// closes the transport and settles in the disconnected state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	changed := m.state != StateDisconnected || m.errType != ErrorNone
	m.teardownLocked()
	m.state = StateDisconnected
	m.errType = ErrorNone
	if changed {
		m.notifyStateUnlock()
		return
	}
	m.mu.Unlock()
}

func (m *Manager) directURL(host, port string) string {
	scheme := "ws"
	if m.security == SecuritySecure {
		scheme = "wss"
	}
	if strings.TrimSpace(port) == "" {
		port = "80"
	}
	return fmt.Sprintf("%s://%s:%s/ws", scheme, host, port)
}

// teardownLocked invalidates the current attempt: pending events become
// stale, timers stop, loops observe the closed done channel, the socket
// closes. Callers still hold the lock.
func (m *Manager) teardownLocked() {
	m.attempt++
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) failLocked(errType ErrorType) {
	m.teardownLocked()
	m.state = StateError
	m.errType = errType
}

// transportErrorType applies the coarse heuristic from the source system:
// failures in secure mode are reported as network errors (TLS handshake
// problems dominate there), everything else is unclassified.
func (m *Manager) transportErrorType() ErrorType {
	if m.security == SecuritySecure {
		return ErrorNetwork
	}
	return ErrorUnknown
}

func (m *Manager) dial(attempt uint64, url string) {
	conn, err := dialFn(url, connectTimeout)
	if err != nil {
		m.handle(event{kind: evDialError, attempt: attempt, err: err})
		return
	}
	m.handle(event{kind: evDialOK, attempt: attempt, conn: conn})
}

func (m *Manager) readLoop(attempt uint64, conn transport) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.handle(event{kind: evTransportClosed, attempt: attempt})
			} else {
				m.handle(event{kind: evTransportError, attempt: attempt, err: err})
			}
			return
		}
		m.handle(event{kind: evMessage, attempt: attempt, payload: msg})
	}
}

func (m *Manager) simLoop(attempt uint64, done chan struct{}) {
	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.handle(event{kind: evSimTick, attempt: attempt})
		}
	}
}

func (m *Manager) pollLoop(attempt uint64, done chan struct{}, channelID int, readKey string) {
	poll := func() {
		reading, err := m.aggregator.FetchLatest(channelID, readKey)
		if err != nil {
			m.handle(event{kind: evPollFailure, attempt: attempt, err: err, errType: classifyFetchError(err)})
			return
		}
		m.handle(event{kind: evPollSuccess, attempt: attempt, reading: reading})
	}

	poll()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			poll()
		}
	}
}

type eventKind int

const (
	evDialOK eventKind = iota
	evDialError
	evConnectTimeout
	evMessage
	evTransportError
	evTransportClosed
	evSimReady
	evSimTick
	evPollSuccess
	evPollFailure
)

type event struct {
	kind    eventKind
	attempt uint64
	conn    transport
	payload []byte
	reading telemetry.SensorReading
	err     error
	errType ErrorType
}

// handle is the single entry point for every asynchronous connection event.
// Events carrying a stale attempt are dropped (closing any socket they
// delivered), which makes late timeouts and callbacks after teardown no-ops.
func (m *Manager) handle(ev event) {
	m.mu.Lock()
	if ev.attempt != m.attempt {
		m.mu.Unlock()
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	var (
		stateChanged bool
		reading      *telemetry.SensorReading
		notice       string
	)

	switch ev.kind {
	case evDialOK:
		if m.state != StateConnecting {
			m.mu.Unlock()
			_ = ev.conn.Close()
			return
		}
		if m.connectTimer != nil {
			m.connectTimer.Stop()
			m.connectTimer = nil
		}
		m.conn = ev.conn
		m.state = StateConnected
		m.errType = ErrorNone
		stateChanged = true
		go m.readLoop(m.attempt, ev.conn)

	case evDialError:
		if m.state == StateConnecting {
			m.failLocked(m.transportErrorType())
			stateChanged = true
		}

	case evConnectTimeout:
		if m.state == StateConnecting {
			m.failLocked(ErrorTimeout)
			stateChanged = true
		}

	case evMessage:
		if m.state == StateConnected {
			parsed, err := telemetry.ParseReading(ev.payload)
			if err != nil {
				notice = "dropped malformed telemetry frame"
			} else {
				reading = &parsed
			}
		}

	case evTransportError:
		if m.state == StateConnected || m.state == StateConnecting {
			m.failLocked(m.transportErrorType())
			stateChanged = true
		}

	case evTransportClosed:
		if m.state == StateConnected {
			m.teardownLocked()
			m.state = StateDisconnected
			m.errType = ErrorNone
			stateChanged = true
		}

	case evSimReady:
		if m.state == StateConnecting && m.mode == ModeRemote {
			m.connectTimer = nil
			m.state = StateConnected
			m.errType = ErrorNone
			stateChanged = true
			go m.simLoop(m.attempt, m.done)
		}

	case evSimTick:
		if m.state == StateConnected && m.mode == ModeRemote {
			next := m.sim.Next()
			reading = &next
		}

	case evPollSuccess:
		if m.state == StateConnecting {
			m.state = StateConnected
			m.errType = ErrorNone
			stateChanged = true
		}
		if m.state == StateConnected {
			reading = &ev.reading
		}

	case evPollFailure:
		if m.state == StateConnecting {
			m.failLocked(ev.errType)
			stateChanged = true
		} else if m.state == StateConnected {
			notice = "aggregator poll failed, retrying on next interval"
		}
	}

	state, mode, errType := m.state, m.mode, m.errType
	onState := m.onState
	onReading := m.onReading
	onNotice := m.onNotice
	receivedAt := time.Now()
	if reading != nil {
		m.lastReceived = receivedAt
	}
	m.mu.Unlock()

	if ev.err != nil {
		log.Printf("device: %s event error: %v", m.describe(ev.kind), ev.err)
	}
	if stateChanged {
		for _, fn := range onState {
			fn(state, mode, errType)
		}
	}
	if reading != nil {
		for _, fn := range onReading {
			fn(*reading, receivedAt)
		}
	}
	if notice != "" {
		for _, fn := range onNotice {
			fn(notice)
		}
	}
}

// notifyStateUnlock publishes the current state and releases the lock.
func (m *Manager) notifyStateUnlock() {
	state, mode, errType := m.state, m.mode, m.errType
	onState := m.onState
	m.mu.Unlock()
	for _, fn := range onState {
		fn(state, mode, errType)
	}
}

func (m *Manager) describe(kind eventKind) string {
	switch kind {
	case evDialError:
		return "dial"
	case evTransportError:
		return "transport"
	case evPollFailure:
		return "poll"
	default:
		return "connection"
	}
}
