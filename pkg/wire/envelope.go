package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope field names on the wire.
const (
	// CommandField carries the APDU command (client to server).
	CommandField = "apdu_command"

	// ResponseField carries the APDU response (server to client).
	ResponseField = "response_apdu"
)

// Envelope errors.
var (
	// ErrInvalidEnvelope indicates the plaintext does not parse as an
	// envelope or lacks the required field.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrByteRange indicates an envelope integer outside [0,255].
	ErrByteRange = errors.New("envelope value out of byte range")
)

// envelope is the wire shape. Pointer slices distinguish a missing field
// from a present-but-empty one. Unknown fields are ignored by json.
type envelope struct {
	Command  *[]int `json:"apdu_command,omitempty"`
	Response *[]int `json:"response_apdu,omitempty"`
}

// DecodeCommand parses a client-to-server envelope and returns the APDU
// command bytes. The apdu_command field must be present and every element
// must be in [0,255].
func DecodeCommand(plaintext []byte) ([]byte, error) {
	return decodeField(plaintext, CommandField)
}

// DecodeResponse parses a server-to-client envelope and returns the APDU
// response bytes. Used by clients.
func DecodeResponse(plaintext []byte) ([]byte, error) {
	return decodeField(plaintext, ResponseField)
}

func decodeField(plaintext []byte, field string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var values *[]int
	switch field {
	case CommandField:
		values = env.Command
	case ResponseField:
		values = env.Response
	}
	if values == nil {
		return nil, fmt.Errorf("%w: missing %s field", ErrInvalidEnvelope, field)
	}

	return toBytes(*values, field)
}

// EncodeCommand builds a client-to-server envelope around command bytes.
// Used by clients.
func EncodeCommand(command []byte) ([]byte, error) {
	values := toInts(command)
	return json.Marshal(envelope{Command: &values})
}

// EncodeResponse builds a server-to-client envelope around response bytes.
func EncodeResponse(response []byte) ([]byte, error) {
	values := toInts(response)
	return json.Marshal(envelope{Response: &values})
}

func toBytes(values []int, field string) ([]byte, error) {
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: %s[%d] = %d", ErrByteRange, field, i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func toInts(data []byte) []int {
	values := make([]int, len(data))
	for i, b := range data {
		values[i] = int(b)
	}
	return values
}
