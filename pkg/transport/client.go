package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/wire"
)

// ErrConnectionClosed indicates the connection has been closed locally.
var ErrConnectionClosed = errors.New("connection closed")

// CloseError is returned by Receive when the relay sends a close frame.
// The reason text matches what the relay reported, e.g.
// "AUTH_FAILED" or "PROCESSING_ERROR: <detail>".
type CloseError struct {
	Reason wire.CloseReason
	Detail string
}

// Error returns the formatted close reason.
func (e *CloseError) Error() string {
	return fmt.Sprintf("closed by peer: %s", wire.CloseText(e.Reason, e.Detail))
}

// ClientConfig configures a CardLink client.
type ClientConfig struct {
	// TLSConfig enables TLS 1.3 when set. Nil dials plain TCP.
	TLSConfig *TLSConfig

	// MaxMessageSize is the maximum framed payload size (default: 1 MiB).
	MaxMessageSize uint32

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration
}

// Client dials connections to a CardLink relay.
type Client struct {
	config  ClientConfig
	tlsConf *tls.Config
}

// NewClient creates a new client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	var tlsConf *tls.Config
	if config.TLSConfig != nil {
		var err error
		tlsConf, err = NewClientTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	return &Client{
		config:  config,
		tlsConf: tlsConf,
	}, nil
}

// Connect establishes a connection to the specified address.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	var tlsState *tls.ConnectionState
	if c.tlsConf != nil {
		tlsConn := tls.Client(conn, c.tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}

		state := tlsConn.ConnectionState()
		if err := VerifyConnection(state); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connection verification failed: %w", err)
		}

		tlsState = &state
		conn = tlsConn
	}

	return &ClientConn{
		conn:     conn,
		framer:   NewFramerWithMaxSize(conn, c.config.MaxMessageSize),
		tlsState: tlsState,
		closeCh:  make(chan struct{}),
	}, nil
}

// ClientConn represents a connection from a client to the relay.
type ClientConn struct {
	conn     net.Conn
	framer   *Framer
	tlsState *tls.ConnectionState
	closeCh  chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// TLSState returns the TLS connection state, if TLS is in use.
func (c *ClientConn) TLSState() (tls.ConnectionState, bool) {
	if c.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *c.tlsState, true
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send sends a data frame to the relay.
func (c *ClientConn) Send(payload []byte) error {
	return c.sendFrame(wire.EncodeData(payload))
}

// Receive reads frames until a data frame arrives and returns its body.
// Pings are answered transparently and stray pongs are ignored. If the
// relay closes the session, Receive returns a *CloseError carrying the
// close reason.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			return nil, err
		}

		ftype, body, err := wire.DecodeFrame(data)
		if err != nil {
			return nil, err
		}

		switch ftype {
		case wire.FrameData:
			return body, nil

		case wire.FramePing:
			if seq, err := wire.DecodeSeq(body); err == nil {
				c.sendFrame(wire.EncodePong(seq))
			}

		case wire.FramePong:
			// No client-initiated pings outstanding; ignore.

		case wire.FrameClose:
			reason, detail, err := wire.DecodeClose(body)
			if err != nil {
				return nil, err
			}
			return nil, &CloseError{Reason: reason, Detail: detail}
		}
	}
}

// SendPing sends a ping frame.
func (c *ClientConn) SendPing(seq uint32) error {
	return c.sendFrame(wire.EncodePing(seq))
}

// SendClose sends a close frame announcing a normal close.
func (c *ClientConn) SendClose() error {
	return c.sendFrame(wire.EncodeClose(wire.CloseNormal, ""))
}

// sendFrame writes a tagged frame.
func (c *ClientConn) sendFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	return c.framer.WriteFrame(frame)
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
