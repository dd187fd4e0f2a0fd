package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/secure"
	"github.com/cardlink-protocol/cardlink-go/pkg/wire"
)

// Client session errors.
var (
	// ErrSessionClosed indicates the session has been closed locally.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotAuthenticated indicates Exchange before Authenticate.
	ErrNotAuthenticated = errors.New("session not authenticated")
)

// DefaultResponseTimeout bounds one Exchange round trip.
const DefaultResponseTimeout = 45 * time.Second

// ClientConn is the transport surface a ClientSession drives.
// Implemented by transport.ClientConn.
type ClientConn interface {
	Send(payload []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	SendClose() error
	Close() error
}

// ClientConfig configures a client session.
type ClientConfig struct {
	// Token is the bearer token to present.
	Token string

	// Key is the shared symmetric key.
	Key secure.Key

	// ResponseTimeout bounds one Exchange round trip (default: 45s).
	// It must cover the relay's bridge timeout plus network latency.
	ResponseTimeout time.Duration
}

// ClientSession is the client side of a CardLink session: authenticate
// once, then exchange APDUs one at a time.
type ClientSession struct {
	conn    ClientConn
	token   string
	channel *secure.Channel
	timeout time.Duration

	mu            sync.Mutex
	authenticated bool
	closed        bool
}

// NewClientSession creates a session on an established connection.
func NewClientSession(conn ClientConn, cfg ClientConfig) (*ClientSession, error) {
	if cfg.Token == "" {
		return nil, ErrEmptyToken
	}
	channel, err := secure.NewChannel(cfg.Key)
	if err != nil {
		return nil, err
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	return &ClientSession{
		conn:    conn,
		token:   cfg.Token,
		channel: channel,
		timeout: cfg.ResponseTimeout,
	}, nil
}

// Authenticate sends the bearer token as the first message. The relay
// does not acknowledge success; a wrong token surfaces as a CloseError
// on the next Exchange.
func (s *ClientSession) Authenticate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.authenticated {
		return nil
	}

	if err := s.conn.Send([]byte(s.token)); err != nil {
		return fmt.Errorf("failed to send token: %w", err)
	}
	s.authenticated = true

	return nil
}

// Exchange sends one APDU command and returns the device response.
// Calls are serialized: the protocol allows one in-flight command per
// connection.
func (s *ClientSession) Exchange(apdu []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.authenticated {
		return nil, ErrNotAuthenticated
	}

	envelope, err := wire.EncodeCommand(apdu)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	ciphertext, err := s.channel.Encrypt(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt command: %w", err)
	}

	if err := s.conn.Send(ciphertext); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	reply, err := s.conn.Receive(s.timeout)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.channel.Decrypt(reply)
	if err != nil {
		return nil, err
	}

	response, err := wire.DecodeResponse(plaintext)
	if err != nil {
		return nil, err
	}

	return response, nil
}

// Close announces a normal close and closes the connection.
func (s *ClientSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.conn.SendClose()
	return s.conn.Close()
}
