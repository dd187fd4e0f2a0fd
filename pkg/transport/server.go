package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/log"
	"github.com/cardlink-protocol/cardlink-go/pkg/wire"
	"github.com/google/uuid"
)

// DefaultMaxPendingConns is the default cap on connections that have been
// accepted but not yet authenticated.
const DefaultMaxPendingConns = 16

// ServerConfig configures a CardLink relay listener.
type ServerConfig struct {
	// Address to listen on (e.g., ":8765" or "127.0.0.1:8765").
	Address string

	// TLSConfig enables TLS 1.3 when set. Nil listens on plain TCP.
	TLSConfig *TLSConfig

	// MaxMessageSize is the maximum framed payload size (default: 1 MiB).
	MaxMessageSize uint32

	// MaxPendingConns caps connections awaiting authentication
	// (default: 16). New connections beyond the cap are refused.
	MaxPendingConns int

	// EnableKeepAlive starts ping/pong liveness probing per connection.
	// Off by default: clients hold idle connections between card
	// operations and the relay must not tear them down.
	EnableKeepAlive bool

	// KeepAlive configures probing when EnableKeepAlive is set.
	KeepAlive KeepAliveConfig

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called with the body of each data frame.
	OnMessage func(conn *ServerConn, payload []byte)

	// OnError is called when an error occurs.
	OnError func(conn *ServerConn, err error)
}

// Server accepts client connections for the relay.
type Server struct {
	config  ServerConfig
	tlsConf *tls.Config

	listener net.Listener

	// Active connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// Connections accepted but not yet authenticated
	pending atomic.Int32

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new relay server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.MaxPendingConns == 0 {
		config.MaxPendingConns = DefaultMaxPendingConns
	}

	var tlsConf *tls.Config
	if config.TLSConfig != nil {
		var err error
		tlsConf, err = NewServerTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	return &Server{
		config:  config,
		tlsConf: tlsConf,
		conns:   make(map[*ServerConn]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// PendingCount returns the number of connections awaiting authentication.
func (s *Server) PendingCount() int {
	return int(s.pending.Load())
}

// Connections returns a snapshot of the active connections.
func (s *Server) Connections() []*ServerConn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	return conns
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				if s.config.OnError != nil {
					s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
				}
			}
			continue
		}

		// Reserve a pending slot before handing off. Every connection
		// starts unauthenticated and holds the slot until the session
		// layer marks it authenticated or it goes away.
		if int(s.pending.Add(1)) > s.config.MaxPendingConns {
			s.pending.Add(-1)
			conn.Close()
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("refused %s: too many unauthenticated connections", conn.RemoteAddr()))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	var tlsState *tls.ConnectionState
	if s.tlsConf != nil {
		tlsConn := tls.Server(conn, s.tlsConf)
		if err := tlsConn.HandshakeContext(s.ctx); err != nil {
			conn.Close()
			s.pending.Add(-1)
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("TLS handshake failed: %w", err))
			}
			return
		}

		state := tlsConn.ConnectionState()
		if err := VerifyConnection(state); err != nil {
			tlsConn.Close()
			s.pending.Add(-1)
			if s.config.OnError != nil {
				s.config.OnError(nil, err)
			}
			return
		}

		tlsState = &state
		conn = tlsConn
	}

	connID := uuid.New().String()

	// The framer gets no capture logger yet: the first data frame on
	// every connection is the plaintext bearer credential, which must
	// never reach a capture file. MarkAuthenticated attaches it.
	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)

	sconn := &ServerConn{
		conn:        conn,
		framer:      framer,
		tlsState:    tlsState,
		server:      s,
		closeCh:     make(chan struct{}),
		remoteAddr:  conn.RemoteAddr(),
		connID:      connID,
		connectedAt: time.Now(),
	}

	s.logConnState(sconn, "", "CONNECTED")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	if s.config.EnableKeepAlive {
		sconn.startKeepAlive(s.ctx, s.config.KeepAlive)
	}

	sconn.readLoop()

	if sconn.keepAlive != nil {
		sconn.keepAlive.Stop()
	}

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	// Release the pending slot if the connection never authenticated.
	sconn.releasePending()

	s.logConnState(sconn, "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// logConnState logs a connection lifecycle event.
func (s *Server) logConnState(c *ServerConn, oldState, newState string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleRelay,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// ServerConn represents a client connection to the relay.
type ServerConn struct {
	conn        net.Conn
	framer      *Framer
	tlsState    *tls.ConnectionState
	server      *Server
	closeCh     chan struct{}
	closeOnce   sync.Once
	remoteAddr  net.Addr
	connID      string
	connectedAt time.Time

	keepAlive       *KeepAlive
	authenticated   atomic.Bool
	pendingReleased atomic.Bool

	// Synchronization
	writeMu sync.Mutex
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// ConnectedAt returns when the connection was accepted.
func (c *ServerConn) ConnectedAt() time.Time {
	return c.connectedAt
}

// TLSState returns the TLS connection state, if TLS is in use.
func (c *ServerConn) TLSState() (tls.ConnectionState, bool) {
	if c.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *c.tlsState, true
}

// Authenticated reports whether the session layer has accepted this
// connection's credentials.
func (c *ServerConn) Authenticated() bool {
	return c.authenticated.Load()
}

// MarkAuthenticated records successful authentication, releases the
// connection's pending slot, and starts frame capture. Capture begins
// only now so the credential frame never appears in capture files.
func (c *ServerConn) MarkAuthenticated() {
	if c.authenticated.CompareAndSwap(false, true) {
		if c.server.config.Logger != nil {
			c.framer.SetLogger(c.server.config.Logger, c.connID)
		}
	}
	c.releasePending()
}

// releasePending frees the pending slot reserved at accept time.
func (c *ServerConn) releasePending() {
	if c.pendingReleased.CompareAndSwap(false, true) {
		c.server.pending.Add(-1)
	}
}

// Send sends a data frame to the client.
func (c *ServerConn) Send(payload []byte) error {
	return c.sendFrame(wire.EncodeData(payload))
}

// SendClose sends a close frame carrying the reason, then closes the
// connection.
func (c *ServerConn) SendClose(reason wire.CloseReason, detail string) error {
	err := c.sendFrame(wire.EncodeClose(reason, detail))
	c.logControl(log.ControlMsgClose, log.DirectionOut, wire.CloseText(reason, detail))
	c.Close()
	return err
}

// sendFrame writes a tagged frame.
func (c *ServerConn) sendFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(frame)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// startKeepAlive begins liveness probing on this connection.
func (c *ServerConn) startKeepAlive(ctx context.Context, config KeepAliveConfig) {
	c.keepAlive = NewKeepAlive(
		config,
		func(seq uint32) error {
			err := c.sendFrame(wire.EncodePing(seq))
			if err == nil {
				c.logControl(log.ControlMsgPing, log.DirectionOut, "")
			}
			return err
		},
		func() {
			if c.server.config.OnError != nil {
				c.server.config.OnError(c, fmt.Errorf("keep-alive timeout"))
			}
			c.Close()
		},
	)
	c.keepAlive.Start(ctx)
}

// readLoop reads frames from the connection and dispatches them.
func (c *ServerConn) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			if c.server.config.OnError != nil && c.server.running.Load() {
				select {
				case <-c.closeCh:
					// Already closing, don't report
				default:
					c.server.config.OnError(c, err)
				}
			}
			return
		}

		ftype, body, err := wire.DecodeFrame(data)
		if err != nil {
			if c.server.config.OnError != nil {
				c.server.config.OnError(c, err)
			}
			c.Close()
			return
		}

		switch ftype {
		case wire.FrameData:
			if c.server.config.OnMessage != nil {
				c.server.config.OnMessage(c, body)
			}

		case wire.FramePing:
			c.logControl(log.ControlMsgPing, log.DirectionIn, "")
			seq, err := wire.DecodeSeq(body)
			if err != nil {
				continue
			}
			if c.sendFrame(wire.EncodePong(seq)) == nil {
				c.logControl(log.ControlMsgPong, log.DirectionOut, "")
			}

		case wire.FramePong:
			c.logControl(log.ControlMsgPong, log.DirectionIn, "")
			if c.keepAlive != nil {
				if seq, err := wire.DecodeSeq(body); err == nil {
					c.keepAlive.PongReceived(seq)
				}
			}

		case wire.FrameClose:
			reason, detail, err := wire.DecodeClose(body)
			if err == nil {
				c.logControl(log.ControlMsgClose, log.DirectionIn, wire.CloseText(reason, detail))
			}
			c.Close()
			return
		}
	}
}

// logControl logs a control frame event.
func (c *ServerConn) logControl(msgType log.ControlMsgType, direction log.Direction, closeReason string) {
	if c.server.config.Logger == nil {
		return
	}
	c.server.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		LocalRole:    log.RoleRelay,
		RemoteAddr:   c.remoteAddr.String(),
		ControlMsg: &log.ControlMsgEvent{
			Type:        msgType,
			CloseReason: closeReason,
		},
	})
}
