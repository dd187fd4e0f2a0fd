package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/bridge"
	"github.com/cardlink-protocol/cardlink-go/pkg/log"
	"github.com/cardlink-protocol/cardlink-go/pkg/secure"
	"github.com/cardlink-protocol/cardlink-go/pkg/wire"
)

// DefaultBridgeTimeout bounds a single bridge execution.
const DefaultBridgeTimeout = 30 * time.Second

// maxApduLogBytes caps APDU data recorded in protocol log events.
const maxApduLogBytes = 4096

// Close details reported with PROCESSING_ERROR.
const (
	detailDecryptFailed  = "decryption failed"
	detailInvalidMessage = "invalid envelope"
	detailExecuteFailed  = "card execution failed"
	detailEncodeFailed   = "response encoding failed"
)

// Conn is the transport surface a Handler drives.
// Implemented by transport.ServerConn.
type Conn interface {
	ConnID() string
	RemoteAddr() net.Addr
	Send(payload []byte) error
	SendClose(reason wire.CloseReason, detail string) error
	MarkAuthenticated()
	Close() error
}

// Config configures session handlers.
type Config struct {
	// Token is the bearer token every client must present.
	Token string

	// Channel encrypts and decrypts message payloads. Shared by all
	// sessions.
	Channel *secure.Channel

	// Bridge executes APDU commands.
	Bridge bridge.Bridge

	// BridgeTimeout bounds one bridge execution (default: 30s).
	BridgeTimeout time.Duration

	// Logger is the operational logger (optional).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger
}

// Handler runs the relay side of one session.
//
// OnMessage must be called from a single goroutine per handler; the
// transport's per-connection read loop provides that.
type Handler struct {
	conn          Conn
	gate          *AuthGate
	channel       *secure.Channel
	bridge        bridge.Bridge
	bridgeTimeout time.Duration
	logger        *slog.Logger
	plog          log.Logger

	mu    sync.Mutex
	state State
}

// NewHandler creates a handler for a freshly accepted connection and
// moves it to AUTHENTICATING.
func NewHandler(conn Conn, cfg Config) (*Handler, error) {
	gate, err := NewAuthGate(cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if cfg.BridgeTimeout == 0 {
		cfg.BridgeTimeout = DefaultBridgeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &Handler{
		conn:          conn,
		gate:          gate,
		channel:       cfg.Channel,
		bridge:        cfg.Bridge,
		bridgeTimeout: cfg.BridgeTimeout,
		logger:        cfg.Logger,
		plog:          cfg.ProtocolLogger,
		state:         StateConnecting,
	}
	h.setState(StateAuthenticating, "")

	return h, nil
}

// State returns the current session state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// OnMessage processes one data frame body.
func (h *Handler) OnMessage(data []byte) {
	switch h.State() {
	case StateAuthenticating:
		h.handleAuth(data)
	case StateActive:
		h.handleCommand(data)
	default:
		// Late frames on a closing session are dropped.
	}
}

// OnDisconnect records that the transport connection is gone.
func (h *Handler) OnDisconnect() {
	h.setState(StateClosed, "")
}

// Close ends the session with a normal close frame.
func (h *Handler) Close() error {
	h.setState(StateClosing, "")
	err := h.conn.SendClose(wire.CloseNormal, "")
	h.setState(StateClosed, "")
	return err
}

// handleAuth checks the first message against the bearer token.
// The token arrives as plain data; nothing about it is logged.
func (h *Handler) handleAuth(data []byte) {
	if !h.gate.Verify(data) {
		h.logger.Warn("authentication failed",
			"conn_id", h.conn.ConnID(),
			"remote_addr", h.conn.RemoteAddr().String())
		h.logError("bearer token rejected", "authentication")

		h.setState(StateClosing, wire.CloseAuthFailed.String())
		h.conn.SendClose(wire.CloseAuthFailed, "")
		h.setState(StateClosed, "")
		return
	}

	h.conn.MarkAuthenticated()
	h.setState(StateActive, "")
	h.logger.Info("session authenticated",
		"conn_id", h.conn.ConnID(),
		"remote_addr", h.conn.RemoteAddr().String())
}

// handleCommand runs one message through the processing pipeline.
func (h *Handler) handleCommand(data []byte) {
	start := time.Now()

	plaintext, err := h.channel.Decrypt(data)
	if err != nil {
		h.fail(detailDecryptFailed, err)
		return
	}

	command, err := wire.DecodeCommand(plaintext)
	if err != nil {
		h.fail(detailInvalidMessage, err)
		return
	}
	h.logApdu(log.ApduCommand, log.DirectionIn, command, nil)

	ctx, cancel := context.WithTimeout(context.Background(), h.bridgeTimeout)
	response, err := h.bridge.Execute(ctx, command)
	cancel()
	if err != nil {
		h.fail(detailExecuteFailed, err)
		return
	}

	envelope, err := wire.EncodeResponse(response)
	if err != nil {
		h.fail(detailEncodeFailed, err)
		return
	}

	ciphertext, err := h.channel.Encrypt(envelope)
	if err != nil {
		h.fail(detailEncodeFailed, err)
		return
	}

	if err := h.conn.Send(ciphertext); err != nil {
		// The transport is gone; no close frame can be delivered.
		h.logger.Warn("response send failed",
			"conn_id", h.conn.ConnID(),
			"error", err)
		h.setState(StateClosed, "transport failure")
		h.conn.Close()
		return
	}

	elapsed := time.Since(start)
	h.logApdu(log.ApduResponse, log.DirectionOut, response, &elapsed)
}

// fail ends the session over a pipeline error.
func (h *Handler) fail(detail string, err error) {
	h.logger.Warn("session failed",
		"conn_id", h.conn.ConnID(),
		"detail", detail,
		"error", err)
	h.logError(err.Error(), detail)

	h.setState(StateClosing, detail)
	h.conn.SendClose(wire.CloseProcessingError, detail)
	h.setState(StateClosed, "")
}

// setState transitions the session state and logs the change.
func (h *Handler) setState(newState State, reason string) {
	h.mu.Lock()
	oldState := h.state
	if oldState == newState || oldState == StateClosed {
		h.mu.Unlock()
		return
	}
	h.state = newState
	h.mu.Unlock()

	if h.plog == nil {
		return
	}
	h.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.conn.ConnID(),
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		LocalRole:    log.RoleRelay,
		RemoteAddr:   h.conn.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}

// logApdu logs a decoded command or response.
func (h *Handler) logApdu(kind log.ApduKind, direction log.Direction, apdu []byte, processing *time.Duration) {
	if h.plog == nil {
		return
	}

	data := apdu
	truncated := false
	if len(data) > maxApduLogBytes {
		data = data[:maxApduLogBytes]
		truncated = true
	}

	h.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.conn.ConnID(),
		Direction:    direction,
		Layer:        log.LayerEnvelope,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleRelay,
		RemoteAddr:   h.conn.RemoteAddr().String(),
		Apdu: &log.ApduEvent{
			Kind:           kind,
			Length:         len(apdu),
			Data:           data,
			Truncated:      truncated,
			ProcessingTime: processing,
		},
	})
}

// logError logs an error event at the session layer.
func (h *Handler) logError(message, context string) {
	if h.plog == nil {
		return
	}
	h.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.conn.ConnID(),
		Layer:        log.LayerSession,
		Category:     log.CategoryError,
		LocalRole:    log.RoleRelay,
		RemoteAddr:   h.conn.RemoteAddr().String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: message,
			Context: context,
		},
	})
}
