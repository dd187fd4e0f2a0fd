package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPingInterval is how often the relay probes an idle connection.
	DefaultPingInterval = 30 * time.Second

	// DefaultPongTimeout is how long a probe waits for its pong.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is how many unanswered probes mark the peer dead.
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig tunes liveness probing. Pings and pongs travel as
// plaintext control frames, so probing works before a session has
// authenticated and independently of the payload cipher.
type KeepAliveConfig struct {
	// PingInterval is the time between probes.
	PingInterval time.Duration

	// PongTimeout is how long to wait for the matching pong.
	PongTimeout time.Duration

	// MaxMissedPongs is the unanswered-probe count that declares the
	// connection dead.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the probing defaults (30s interval,
// 5s pong timeout, 3 missed probes).
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay returns the worst-case time between a peer dying
// silently and this configuration noticing:
// PingInterval*MaxMissedPongs + PongTimeout.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAlive probes one connection for liveness. The relay runs one per
// accepted session; sendPing puts a ping control frame on the wire and
// onTimeout fires once MaxMissedPongs probes go unanswered, at which
// point the owner tears the connection down.
type KeepAlive struct {
	config KeepAliveConfig

	sendPing       func(seq uint32) error
	onTimeout      func()
	onPongReceived func(seq uint32, latency time.Duration)

	// sequence numbers pair each pong with its probe so a late pong
	// from an earlier probe cannot mask a dead peer.
	sequence     atomic.Uint32
	missedPongs  int
	lastPingTime time.Time
	lastPongTime time.Time
	pendingPing  uint32
	hasPending   bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pongCh  chan uint32
}

// NewKeepAlive creates a prober for one connection. Zero config fields
// fall back to the defaults.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}

	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan uint32, 1),
	}
}

// SetPongReceivedCallback registers an observer for answered probes,
// with the measured round-trip latency.
func (ka *KeepAlive) SetPongReceivedCallback(cb func(seq uint32, latency time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPongReceived = cb
}

// Start launches the probe loop. Starting a running prober is a no-op.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop halts the probe loop.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}

	ka.running = false
	close(ka.stopCh)
}

// PongReceived feeds a pong frame's sequence number to the prober. The
// connection's read loop calls this for every pong it sees.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
		// At most one pong is outstanding; extras carry no information.
	}
}

// IsRunning reports whether the probe loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats is a snapshot of probing state.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	MissedPongs  int
	CurrentSeq   uint32
}

// Stats returns the current probing state.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		MissedPongs:  ka.missedPongs,
		CurrentSeq:   ka.sequence.Load(),
	}
}

func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	ka.probe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ka.stopCh:
			return
		case <-ticker.C:
			ka.tick()
		case seq := <-ka.pongCh:
			ka.pong(seq)
		}
	}
}

// probe sends the next ping and records it as pending.
func (ka *KeepAlive) probe() {
	seq := ka.sequence.Add(1)

	ka.mu.Lock()
	ka.lastPingTime = time.Now()
	ka.pendingPing = seq
	ka.hasPending = true
	ka.mu.Unlock()

	if err := ka.sendPing(seq); err != nil {
		// The write failed, so no pong is coming. Clearing the pending
		// probe leaves detection to the next tick's missed-pong count.
		ka.mu.Lock()
		ka.hasPending = false
		ka.mu.Unlock()
	}
}

// tick accounts for the previous probe and sends the next one.
func (ka *KeepAlive) tick() {
	ka.mu.Lock()

	if ka.hasPending && time.Since(ka.lastPingTime) >= ka.config.PongTimeout {
		ka.missedPongs++
		ka.hasPending = false

		if ka.missedPongs >= ka.config.MaxMissedPongs {
			ka.mu.Unlock()
			if ka.onTimeout != nil {
				ka.onTimeout()
			}
			return
		}
	}

	ka.mu.Unlock()

	ka.probe()
}

// pong matches a received pong against the pending probe.
func (ka *KeepAlive) pong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.lastPongTime = now

	if ka.hasPending && seq == ka.pendingPing {
		latency := now.Sub(ka.lastPingTime)
		ka.hasPending = false
		ka.missedPongs = 0

		if ka.onPongReceived != nil {
			go ka.onPongReceived(seq, latency)
		}
	}
	// A stale sequence number is a late pong from an earlier probe.
}
