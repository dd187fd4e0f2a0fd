// Package transport provides the CardLink transport layer implementation.
//
// The transport layer handles:
//   - TCP connections, with optional TLS 1.3
//   - Length-prefixed message framing
//   - Frame tagging (data, close, ping, pong)
//   - Keep-alive ping/pong for connection liveness (off by default)
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   JSON Envelopes (encrypted)   │
//	├────────────────────────────────┤
//	│    Frame Tag (1B: data/ctrl)   │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│     TLS 1.3 (optional)         │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Each framed payload starts with a one-byte frame tag. Data frames carry
// the bearer token (first message) or ciphertext; control frames (close,
// ping, pong) are never encrypted, so a close reason stays readable even
// when the session key is unknown or the handshake failed.
//
// # TLS
//
// TLS is an optional outer layer: the relay authenticates clients with a
// bearer token and encrypts payloads end to end, so plain TCP is the
// default. When enabled, TLS 1.3 is required with no fallback, and the
// ALPN protocol "cardlink/1" must be negotiated.
package transport
