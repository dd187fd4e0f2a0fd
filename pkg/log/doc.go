// Package log provides structured protocol logging for CardLink.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, secure, envelope,
// session). It is separate from operational logging (slog) - protocol
// capture provides a machine-readable event trace for debugging and
// conformance analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/cardlink/relay.clog")
//
//	// Both: use MultiLogger
//	fileLogger, _ := log.NewFileLogger("/var/log/cardlink/relay.clog")
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame bytes (FrameEvent)
//   - Envelope: Decoded APDUs (ApduEvent)
//   - Session: State changes (StateChangeEvent)
//
// Control messages (ping/pong/close) and errors have dedicated event types.
//
// Events never carry credentials. The transport layer starts frame
// capture only after a connection authenticates, so the bearer token
// frame is never recorded; captured frame data is ciphertext.
//
// # File Format
//
// Log files use CBOR encoding with .clog extension. The cardlink-log CLI
// tool provides viewing and filtering.
package log
