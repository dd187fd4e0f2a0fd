package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrManagerClosed is returned by Connect after Close.
	ErrManagerClosed = errors.New("connection manager closed")

	// ErrAlreadyConnected is returned by Connect while connected.
	ErrAlreadyConnected = errors.New("already connected")
)

// reconnectDialTimeout bounds a single reconnection attempt.
const reconnectDialTimeout = 30 * time.Second

// State represents the managed connection's state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc dials the relay and establishes a fresh authenticated
// session. It is called for the initial connect and again on every
// reconnection attempt; the previous session is gone by then.
type ConnectFunc func(ctx context.Context) error

// Manager drives a client connection's lifecycle with automatic
// reconnection. Backoff resets only when ConnectFunc succeeds, so a
// relay that keeps rejecting the credentials is retried at the full
// backoff cadence rather than hammered.
type Manager struct {
	mu sync.RWMutex

	state         State
	backoff       *Backoff
	connectFn     ConnectFunc
	autoReconnect bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// reconnectCh wakes the reconnect loop; capacity 1 so repeated
	// loss notifications collapse into one pending attempt.
	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager and starts its reconnect loop.
// Auto-reconnect is on by default. Call Close to release the loop.
func NewManager(connectFn ConnectFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		state:         StateDisconnected,
		backoff:       NewBackoff(),
		connectFn:     connectFn,
		autoReconnect: true,
		ctx:           ctx,
		cancel:        cancel,
		reconnectCh:   make(chan struct{}, 1),
	}

	m.wg.Add(1)
	go m.reconnectLoop()

	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a connection is currently established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect establishes the initial connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}
	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnecting)

	if err := m.connectFn(ctx); err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notifyStateChange(StateConnecting, StateDisconnected)
		return err
	}

	m.markConnected(StateConnecting)
	return nil
}

// Disconnect drops the managed connection. With auto-reconnect enabled
// the manager immediately starts dialing again; NotifyConnectionLost
// is the same operation for losses detected by the caller.
func (m *Manager) Disconnect() {
	m.connectionDown()
}

// NotifyConnectionLost tells the manager the connection died (a failed
// exchange, an EOF on receive). Triggers reconnection when enabled.
func (m *Manager) NotifyConnectionLost() {
	m.connectionDown()
}

// Close shuts the manager down and stops the reconnect loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback invoked after each successful connect.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback invoked when the connection drops.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each reconnection
// attempt with the attempt number and the delay about to be applied.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// BackoffAttempts returns the number of reconnection attempts since
// the last successful connect.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// connectionDown transitions out of StateConnected and kicks the
// reconnect loop when auto-reconnect is on.
func (m *Manager) connectionDown() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	autoReconnect := m.autoReconnect
	if autoReconnect {
		m.state = StateReconnecting
	} else {
		m.state = StateDisconnected
	}
	newState := m.state
	m.mu.Unlock()

	m.notifyStateChange(oldState, newState)
	if fn := m.disconnectedCallback(); fn != nil {
		fn()
	}

	if autoReconnect {
		select {
		case m.reconnectCh <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect dials with backoff until connected or closed.
func (m *Manager) attemptReconnect() {
	for {
		switch m.State() {
		case StateClosed, StateConnected:
			return
		}

		delay := m.backoff.Next()
		if fn := m.reconnectingCallback(); fn != nil {
			fn(m.backoff.Attempts(), delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		switch m.State() {
		case StateClosed, StateConnected:
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, reconnectDialTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.mu.Lock()
			oldState := m.state
			m.mu.Unlock()
			m.markConnected(oldState)
			return
		}
	}
}

// markConnected records a successful connect and resets backoff.
func (m *Manager) markConnected(oldState State) {
	m.mu.Lock()
	m.state = StateConnected
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnected)
	if fn := m.connectedCallback(); fn != nil {
		fn()
	}
}

func (m *Manager) notifyStateChange(oldState, newState State) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

func (m *Manager) connectedCallback() func() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onConnected
}

func (m *Manager) disconnectedCallback() func() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onDisconnected
}

func (m *Manager) reconnectingCallback() func(int, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onReconnecting
}
