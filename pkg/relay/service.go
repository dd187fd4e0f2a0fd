package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/bridge"
	"github.com/cardlink-protocol/cardlink-go/pkg/log"
	"github.com/cardlink-protocol/cardlink-go/pkg/secure"
	"github.com/cardlink-protocol/cardlink-go/pkg/session"
	"github.com/cardlink-protocol/cardlink-go/pkg/transport"
)

// DefaultAuthTimeout is how long a connection may sit without presenting
// a token before the reaper closes it.
const DefaultAuthTimeout = 10 * time.Second

// reaperInterval is how often the reaper scans for stale connections.
const reaperInterval = time.Second

// Config configures the relay service.
type Config struct {
	// Address to listen on (default ":8765").
	Address string

	// Token is the bearer token all clients must present.
	Token string

	// Key is the process-lifetime symmetric key.
	Key secure.Key

	// Bridge executes APDU commands (default: the soft token).
	Bridge bridge.Bridge

	// AuthTimeout bounds the wait for the credential frame
	// (default: 10s).
	AuthTimeout time.Duration

	// BridgeTimeout bounds one bridge execution (default: 30s).
	BridgeTimeout time.Duration

	// MaxMessageSize is the maximum framed payload size (default: 1 MiB).
	MaxMessageSize uint32

	// MaxPendingConns caps connections awaiting authentication.
	MaxPendingConns int

	// EnableKeepAlive turns on transport liveness probing (default off).
	EnableKeepAlive bool

	// KeepAlive configures probing when enabled.
	KeepAlive transport.KeepAliveConfig

	// TLS enables TLS 1.3 on the listener when set.
	TLS *transport.TLSConfig

	// Logger is the operational logger (default slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger
}

// Service is a running CardLink relay.
type Service struct {
	config  Config
	server  *transport.Server
	channel *secure.Channel

	sessions   map[string]*session.Handler
	sessionsMu sync.RWMutex

	tracker *connTracker

	running    atomic.Bool
	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates a relay service.
func New(config Config) (*Service, error) {
	if config.Token == "" {
		return nil, session.ErrEmptyToken
	}
	channel, err := secure.NewChannel(config.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher channel: %w", err)
	}
	if config.Bridge == nil {
		config.Bridge = bridge.NewSoftToken()
	}
	if config.AuthTimeout == 0 {
		config.AuthTimeout = DefaultAuthTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Service{
		config:   config,
		channel:  channel,
		sessions: make(map[string]*session.Handler),
		tracker:  newConnTracker(),
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Address:         config.Address,
		TLSConfig:       config.TLS,
		MaxMessageSize:  config.MaxMessageSize,
		MaxPendingConns: config.MaxPendingConns,
		EnableKeepAlive: config.EnableKeepAlive,
		KeepAlive:       config.KeepAlive,
		Logger:          config.ProtocolLogger,
		OnConnect:       s.onConnect,
		OnDisconnect:    s.onDisconnect,
		OnMessage:       s.onMessage,
		OnError:         s.onError,
	})
	if err != nil {
		return nil, err
	}
	s.server = server

	return s, nil
}

// Start begins listening. Bind failure is fatal; everything after that
// is per-connection.
func (s *Service) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("relay already running")
	}

	if err := s.server.Start(ctx); err != nil {
		return err
	}
	s.running.Store(true)

	s.reaperStop = make(chan struct{})
	s.reaperDone = make(chan struct{})
	go s.reapLoop()

	s.config.Logger.Info("relay listening",
		"address", s.server.Addr().String(),
		"tls", s.config.TLS != nil)

	return nil
}

// Stop closes all sessions and stops the listener.
func (s *Service) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	close(s.reaperStop)
	<-s.reaperDone

	return s.server.Stop()
}

// Addr returns the listen address.
func (s *Service) Addr() net.Addr {
	return s.server.Addr()
}

// SessionCount returns the number of authenticated, active sessions.
func (s *Service) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	count := 0
	for _, h := range s.sessions {
		if h.State() == session.StateActive {
			count++
		}
	}
	return count
}

// ConnectionCount returns the number of open transport connections.
func (s *Service) ConnectionCount() int {
	return s.server.ConnectionCount()
}

// onConnect creates the session handler for a new connection.
func (s *Service) onConnect(conn *transport.ServerConn) {
	h, err := session.NewHandler(conn, session.Config{
		Token:          s.config.Token,
		Channel:        s.channel,
		Bridge:         s.config.Bridge,
		BridgeTimeout:  s.config.BridgeTimeout,
		Logger:         s.config.Logger,
		ProtocolLogger: s.config.ProtocolLogger,
	})
	if err != nil {
		// Config was validated in New; this is unreachable in practice.
		s.config.Logger.Error("failed to create session", "error", err)
		conn.Close()
		return
	}

	s.sessionsMu.Lock()
	s.sessions[conn.ConnID()] = h
	s.sessionsMu.Unlock()

	s.tracker.Add(conn)

	s.config.Logger.Debug("connection accepted",
		"conn_id", conn.ConnID(),
		"remote_addr", conn.RemoteAddr().String())
}

// onMessage routes a data frame to the connection's session.
func (s *Service) onMessage(conn *transport.ServerConn, payload []byte) {
	s.sessionsMu.RLock()
	h := s.sessions[conn.ConnID()]
	s.sessionsMu.RUnlock()

	if h == nil {
		return
	}

	h.OnMessage(payload)

	if conn.Authenticated() {
		s.tracker.Remove(conn)
	}
}

// onDisconnect tears down the connection's session.
func (s *Service) onDisconnect(conn *transport.ServerConn) {
	s.sessionsMu.Lock()
	h := s.sessions[conn.ConnID()]
	delete(s.sessions, conn.ConnID())
	s.sessionsMu.Unlock()

	s.tracker.Remove(conn)

	if h != nil {
		h.OnDisconnect()
	}

	s.config.Logger.Debug("connection closed",
		"conn_id", conn.ConnID(),
		"remote_addr", conn.RemoteAddr().String())
}

// onError reports transport errors. EOF is a client hanging up.
func (s *Service) onError(conn *transport.ServerConn, err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	if conn != nil {
		s.config.Logger.Warn("transport error",
			"conn_id", conn.ConnID(),
			"error", err)
		return
	}
	s.config.Logger.Warn("transport error", "error", err)
}

// reapLoop closes connections that never authenticate.
func (s *Service) reapLoop() {
	defer close(s.reaperDone)

	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.reaperStop:
			return
		case <-ticker.C:
			if closed := s.tracker.CloseStale(s.config.AuthTimeout); closed > 0 {
				s.config.Logger.Info("reaped unauthenticated connections",
					"count", closed)
			}
		}
	}
}
