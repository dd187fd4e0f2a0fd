package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType tags the first byte of every frame payload.
type FrameType uint8

const (
	// FrameData carries application bytes: the bearer token before
	// authentication, ciphertext after.
	FrameData FrameType = 1

	// FrameClose announces connection termination with a reason.
	FrameClose FrameType = 2

	// FramePing is a liveness probe carrying a sequence number.
	FramePing FrameType = 3

	// FramePong answers a ping, echoing its sequence number.
	FramePong FrameType = 4
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameClose:
		return "CLOSE"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// CloseReason classifies why a connection is being closed.
type CloseReason uint8

const (
	// CloseNormal indicates an orderly shutdown.
	CloseNormal CloseReason = 0

	// CloseAuthFailed indicates the bearer token was missing or wrong.
	CloseAuthFailed CloseReason = 1

	// CloseProcessingError indicates a pipeline stage failed
	// (decrypt, decode, or bridge execution).
	CloseProcessingError CloseReason = 2
)

// String returns the close reason name.
func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "NORMAL"
	case CloseAuthFailed:
		return "AUTH_FAILED"
	case CloseProcessingError:
		return "PROCESSING_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Frame errors.
var (
	// ErrFrameEmpty indicates a frame with no type byte.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrUnknownFrameType indicates an unrecognized type byte.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrBadControlFrame indicates a control frame body of the wrong shape.
	ErrBadControlFrame = errors.New("malformed control frame")
)

// seqSize is the size of a ping/pong sequence number in bytes.
const seqSize = 4

// EncodeData wraps payload in a data frame.
func EncodeData(payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(FrameData)
	copy(frame[1:], payload)
	return frame
}

// EncodeClose builds a close frame. The detail string is optional and
// intended for humans; it must not contain key material.
func EncodeClose(reason CloseReason, detail string) []byte {
	frame := make([]byte, 2+len(detail))
	frame[0] = byte(FrameClose)
	frame[1] = byte(reason)
	copy(frame[2:], detail)
	return frame
}

// EncodePing builds a ping frame with the given sequence number.
func EncodePing(seq uint32) []byte {
	return encodeSeqFrame(FramePing, seq)
}

// EncodePong builds a pong frame echoing the given sequence number.
func EncodePong(seq uint32) []byte {
	return encodeSeqFrame(FramePong, seq)
}

func encodeSeqFrame(t FrameType, seq uint32) []byte {
	frame := make([]byte, 1+seqSize)
	frame[0] = byte(t)
	binary.BigEndian.PutUint32(frame[1:], seq)
	return frame
}

// DecodeFrame splits a frame into its type and body.
// The body aliases the input; callers must not retain it past the frame's
// lifetime.
func DecodeFrame(frame []byte) (FrameType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrFrameEmpty
	}
	t := FrameType(frame[0])
	switch t {
	case FrameData, FrameClose, FramePing, FramePong:
		return t, frame[1:], nil
	default:
		return 0, nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, frame[0])
	}
}

// DecodeClose parses the body of a close frame.
func DecodeClose(body []byte) (CloseReason, string, error) {
	if len(body) < 1 {
		return 0, "", fmt.Errorf("%w: close frame without reason", ErrBadControlFrame)
	}
	return CloseReason(body[0]), string(body[1:]), nil
}

// DecodeSeq parses the sequence number of a ping or pong body.
func DecodeSeq(body []byte) (uint32, error) {
	if len(body) != seqSize {
		return 0, fmt.Errorf("%w: sequence is %d bytes, want %d", ErrBadControlFrame, len(body), seqSize)
	}
	return binary.BigEndian.Uint32(body), nil
}

// CloseText formats a close reason and detail the way peers report it,
// e.g. "PROCESSING_ERROR: envelope decode failed".
func CloseText(reason CloseReason, detail string) string {
	if detail == "" {
		return reason.String()
	}
	return reason.String() + ": " + detail
}
