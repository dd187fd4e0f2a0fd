// Package wire defines the CardLink message formats.
//
// Two layers live here:
//
//   - Frame tagging: every transport frame starts with a one-byte frame
//     type (data, close, ping, pong). Data frames carry either the raw
//     bearer token (first message on a connection) or AEAD ciphertext
//     (every message after authentication). Control frames are never
//     encrypted so that close reasons and liveness probes remain readable
//     when the session cipher is not (or no longer) usable.
//
//   - Envelope codec: the JSON record carried inside every encrypted data
//     frame. Client to server: {"apdu_command": [ints]}. Server to client:
//     {"response_apdu": [ints]}. Each integer must be in [0,255]. Unknown
//     fields are ignored; a missing required field is a decode error.
//
// The codec performs no semantic validation of APDU content — that is the
// bridge's responsibility.
package wire
