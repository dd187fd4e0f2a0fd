package transport

import (
	"context"
	"net"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/wire"
)

// ServerConnection represents a server-side connection to a client.
// Implemented by ServerConn.
type ServerConnection interface {
	// RemoteAddr returns the remote network address of the client.
	RemoteAddr() net.Addr

	// ConnID returns the unique connection identifier.
	ConnID() string

	// Authenticated reports whether the session layer has accepted
	// this connection's credentials.
	Authenticated() bool

	// MarkAuthenticated records successful authentication.
	MarkAuthenticated()

	// Send sends a data frame to the client.
	Send(payload []byte) error

	// SendClose sends a close frame and closes the connection.
	SendClose(reason wire.CloseReason, detail string) error

	// Close closes the connection.
	Close() error
}

// ClientConnection represents a client-side connection to the relay.
// Implemented by ClientConn.
type ClientConnection interface {
	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Send sends a data frame to the relay.
	Send(payload []byte) error

	// Receive returns the next data frame body.
	Receive(timeout time.Duration) ([]byte, error)

	// SendPing sends a ping frame with the given sequence number.
	SendPing(seq uint32) error

	// SendClose sends a normal close frame.
	SendClose() error

	// Close closes the connection.
	Close() error
}

// TransportServer represents the relay's listening endpoint.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop gracefully stops the server.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ ServerConnection = (*ServerConn)(nil)
	_ ClientConnection = (*ClientConn)(nil)
	_ TransportServer  = (*Server)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
