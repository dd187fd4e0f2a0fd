package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardlink-protocol/cardlink-go/pkg/bridge"
	"github.com/cardlink-protocol/cardlink-go/pkg/log"
	"github.com/cardlink-protocol/cardlink-go/pkg/secure"
	"github.com/cardlink-protocol/cardlink-go/pkg/wire"
)

const testToken = "valid_token"

// fakeConn records everything the handler does to the transport.
type fakeConn struct {
	mu            sync.Mutex
	sent          [][]byte
	closeReason   *wire.CloseReason
	closeDetail   string
	authenticated bool
	closed        bool
}

func (c *fakeConn) ConnID() string { return "conn-test" }

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) SendClose(reason wire.CloseReason, detail string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := reason
	c.closeReason = &r
	c.closeDetail = detail
	c.closed = true
	return nil
}

func (c *fakeConn) MarkAuthenticated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) closedWith() (*wire.CloseReason, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason, c.closeDetail
}

// capturingLogger collects protocol events.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

// failingBridge always reports execution failure.
type failingBridge struct{}

func (failingBridge) Execute(ctx context.Context, command []byte) ([]byte, error) {
	return nil, bridge.ErrExecuteFailed
}

// countingBridge behaves like the soft token and counts executions.
type countingBridge struct {
	calls atomic.Int32
}

func (b *countingBridge) Execute(ctx context.Context, command []byte) ([]byte, error) {
	b.calls.Add(1)
	return append(append([]byte(nil), command...), bridge.SW1Success, bridge.SW2Success), nil
}

func newTestHandler(t *testing.T, conn *fakeConn, mutate func(*Config)) (*Handler, *secure.Channel) {
	t.Helper()

	key, err := secure.NewKey()
	require.NoError(t, err)
	channel, err := secure.NewChannel(key)
	require.NoError(t, err)

	cfg := Config{
		Token:   testToken,
		Channel: channel,
		Bridge:  bridge.NewSoftToken(),
		Logger:  slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := NewHandler(conn, cfg)
	require.NoError(t, err)

	return h, channel
}

// encryptCommand builds the ciphertext a well-behaved client would send.
func encryptCommand(t *testing.T, channel *secure.Channel, apdu []byte) []byte {
	t.Helper()
	envelope, err := wire.EncodeCommand(apdu)
	require.NoError(t, err)
	ciphertext, err := channel.Encrypt(envelope)
	require.NoError(t, err)
	return ciphertext
}

// decryptResponse unwraps a handler response ciphertext.
func decryptResponse(t *testing.T, channel *secure.Channel, ciphertext []byte) []byte {
	t.Helper()
	plaintext, err := channel.Decrypt(ciphertext)
	require.NoError(t, err)
	response, err := wire.DecodeResponse(plaintext)
	require.NoError(t, err)
	return response
}

func TestNewHandlerValidation(t *testing.T) {
	key, err := secure.NewKey()
	require.NoError(t, err)
	channel, err := secure.NewChannel(key)
	require.NoError(t, err)

	_, err = NewHandler(&fakeConn{}, Config{Channel: channel, Bridge: bridge.NewSoftToken()})
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = NewHandler(&fakeConn{}, Config{Token: testToken, Bridge: bridge.NewSoftToken()})
	assert.Error(t, err)

	_, err = NewHandler(&fakeConn{}, Config{Token: testToken, Channel: channel})
	assert.Error(t, err)
}

func TestHandlerAuthSuccess(t *testing.T) {
	conn := &fakeConn{}
	h, _ := newTestHandler(t, conn, nil)

	require.Equal(t, StateAuthenticating, h.State())

	h.OnMessage([]byte(testToken))

	assert.Equal(t, StateActive, h.State())
	assert.True(t, conn.authenticated)
	assert.Empty(t, conn.sentMessages(), "auth success is not acknowledged")
}

func TestHandlerAuthFailure(t *testing.T) {
	br := &countingBridge{}
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, func(cfg *Config) {
		cfg.Bridge = br
	})

	h.OnMessage([]byte("invalid_token"))

	assert.Equal(t, StateClosed, h.State())
	assert.False(t, conn.authenticated)

	reason, detail := conn.closedWith()
	require.NotNil(t, reason)
	assert.Equal(t, wire.CloseAuthFailed, *reason)
	assert.Empty(t, detail)

	// A well-formed command after the rejection changes nothing: the
	// bridge is never invoked on a rejected connection.
	h.OnMessage(encryptCommand(t, channel, []byte{0x00, 0xA4}))
	assert.Equal(t, int32(0), br.calls.Load())
}

func TestHandlerCommandRoundTrip(t *testing.T) {
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, nil)

	h.OnMessage([]byte(testToken))

	// SELECT command from the reference client.
	apdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x0A, 0xA0, 0x00, 0x00, 0x00, 0x62, 0x03, 0x01, 0x0C, 0x06, 0x01}
	h.OnMessage(encryptCommand(t, channel, apdu))

	sent := conn.sentMessages()
	require.Len(t, sent, 1)

	response := decryptResponse(t, channel, sent[0])
	want := append(append([]byte(nil), apdu...), bridge.SW1Success, bridge.SW2Success)
	assert.Equal(t, want, response)
	assert.Equal(t, StateActive, h.State())
}

func TestHandlerProcessesInOrder(t *testing.T) {
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, nil)

	h.OnMessage([]byte(testToken))

	commands := [][]byte{
		{0x00, 0xA4, 0x04, 0x00},
		{0x00, 0xB0, 0x00, 0x00},
		{0x00, 0x20, 0x00, 0x01},
	}
	for _, apdu := range commands {
		h.OnMessage(encryptCommand(t, channel, apdu))
	}

	sent := conn.sentMessages()
	require.Len(t, sent, len(commands))
	for i, apdu := range commands {
		response := decryptResponse(t, channel, sent[i])
		want := append(append([]byte(nil), apdu...), bridge.SW1Success, bridge.SW2Success)
		assert.Equal(t, want, response, "response %d out of order", i)
	}
}

func TestHandlerDecryptFailure(t *testing.T) {
	conn := &fakeConn{}
	h, _ := newTestHandler(t, conn, nil)

	h.OnMessage([]byte(testToken))
	h.OnMessage([]byte("not ciphertext"))

	assert.Equal(t, StateClosed, h.State())
	reason, detail := conn.closedWith()
	require.NotNil(t, reason)
	assert.Equal(t, wire.CloseProcessingError, *reason)
	assert.Equal(t, "decryption failed", detail)
}

func TestHandlerInvalidEnvelope(t *testing.T) {
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, nil)

	h.OnMessage([]byte(testToken))

	// Well-encrypted, but not an envelope.
	ciphertext, err := channel.Encrypt([]byte(`{"wrong_field":[1,2]}`))
	require.NoError(t, err)
	h.OnMessage(ciphertext)

	assert.Equal(t, StateClosed, h.State())
	reason, detail := conn.closedWith()
	require.NotNil(t, reason)
	assert.Equal(t, wire.CloseProcessingError, *reason)
	assert.Equal(t, "invalid envelope", detail)
}

func TestHandlerBridgeFailure(t *testing.T) {
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, func(cfg *Config) {
		cfg.Bridge = failingBridge{}
	})

	h.OnMessage([]byte(testToken))
	h.OnMessage(encryptCommand(t, channel, []byte{0x00, 0xA4}))

	assert.Equal(t, StateClosed, h.State())
	reason, detail := conn.closedWith()
	require.NotNil(t, reason)
	assert.Equal(t, wire.CloseProcessingError, *reason)
	assert.Equal(t, "card execution failed", detail)
}

func TestHandlerDropsFramesAfterClose(t *testing.T) {
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, nil)

	h.OnMessage([]byte("invalid_token"))
	require.Equal(t, StateClosed, h.State())

	h.OnMessage(encryptCommand(t, channel, []byte{0x00, 0xA4}))
	assert.Empty(t, conn.sentMessages())
}

func TestHandlerStateEvents(t *testing.T) {
	plog := &capturingLogger{}
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, func(cfg *Config) {
		cfg.ProtocolLogger = plog
	})

	h.OnMessage([]byte(testToken))
	h.OnMessage(encryptCommand(t, channel, []byte{0x00, 0xA4}))

	var transitions []string
	var apduKinds []log.ApduKind
	for _, e := range plog.Events() {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntitySession {
			transitions = append(transitions, e.StateChange.NewState)
		}
		if e.Apdu != nil {
			apduKinds = append(apduKinds, e.Apdu.Kind)
		}
	}

	assert.Equal(t, []string{"AUTHENTICATING", "ACTIVE"}, transitions)
	require.Equal(t, []log.ApduKind{log.ApduCommand, log.ApduResponse}, apduKinds)

	// The response event carries processing time.
	for _, e := range plog.Events() {
		if e.Apdu != nil && e.Apdu.Kind == log.ApduResponse {
			assert.NotNil(t, e.Apdu.ProcessingTime)
		}
	}
}

func TestHandlerAuthFailureLogsNoToken(t *testing.T) {
	plog := &capturingLogger{}
	conn := &fakeConn{}
	h, _ := newTestHandler(t, conn, func(cfg *Config) {
		cfg.ProtocolLogger = plog
	})

	h.OnMessage([]byte("secret-but-wrong"))

	for _, e := range plog.Events() {
		if e.Error != nil {
			assert.NotContains(t, e.Error.Message, "secret-but-wrong")
			assert.NotContains(t, e.Error.Context, "secret-but-wrong")
		}
	}
}

func TestHandlerClose(t *testing.T) {
	conn := &fakeConn{}
	h, _ := newTestHandler(t, conn, nil)

	h.OnMessage([]byte(testToken))
	require.NoError(t, h.Close())

	assert.Equal(t, StateClosed, h.State())
	reason, _ := conn.closedWith()
	require.NotNil(t, reason)
	assert.Equal(t, wire.CloseNormal, *reason)
}

func TestHandlerSendFailureClosesSession(t *testing.T) {
	conn := &fakeConn{}
	h, channel := newTestHandler(t, conn, nil)

	h.OnMessage([]byte(testToken))

	// Simulate a transport that dies before the response goes out.
	conn.mu.Lock()
	conn.closed = true
	conn.mu.Unlock()

	h.OnMessage(encryptCommand(t, channel, []byte{0x00, 0xA4}))
	assert.Equal(t, StateClosed, h.State())
}
