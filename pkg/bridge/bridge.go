package bridge

import (
	"context"
	"errors"
	"fmt"
)

// ResponseCapacity is the fixed response buffer size of the hardware
// calling contract.
const ResponseCapacity = 256

// Bridge errors.
var (
	// ErrExecuteFailed indicates the hardware function reported a
	// non-success status.
	ErrExecuteFailed = errors.New("bridge execution failed")

	// ErrResponseOverflow indicates the hardware function reported a
	// response length beyond the buffer it was given.
	ErrResponseOverflow = errors.New("bridge response exceeds buffer")
)

// Bridge executes one APDU command against real or emulated hardware.
// Implementations must be safe for concurrent use: independent sessions
// call Execute without coordination.
type Bridge interface {
	// Execute runs a single command and returns the device response.
	// One invocation per command; the caller never retries.
	Execute(ctx context.Context, command []byte) ([]byte, error)
}

// RawFunc is the native hardware entry point shape: the command buffer in,
// a caller-allocated response buffer to fill, returning the response
// length and an integer status (0 = success).
type RawFunc func(command []byte, response []byte) (n int, status int)

// Adapter wraps a RawFunc behind the Bridge interface. It allocates the
// fixed-capacity response buffer per call and bounds-checks the reported
// length, so no other component handles raw buffers.
type Adapter struct {
	fn RawFunc
}

// NewAdapter creates a bridge adapter around a raw hardware function.
func NewAdapter(fn RawFunc) *Adapter {
	return &Adapter{fn: fn}
}

type rawResult struct {
	response []byte
	err      error
}

// Execute invokes the raw function once. The call itself cannot be
// interrupted; on context expiry Execute returns early and the call's
// goroutine is abandoned, stalling nothing but itself.
func (a *Adapter) Execute(ctx context.Context, command []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan rawResult, 1)
	go func() {
		done <- a.call(command)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.response, res.err
	}
}

func (a *Adapter) call(command []byte) rawResult {
	response := make([]byte, ResponseCapacity)
	n, status := a.fn(command, response)
	if status != 0 {
		return rawResult{err: fmt.Errorf("%w: status %d", ErrExecuteFailed, status)}
	}
	if n < 0 || n > ResponseCapacity {
		return rawResult{err: fmt.Errorf("%w: length %d, capacity %d", ErrResponseOverflow, n, ResponseCapacity)}
	}
	return rawResult{response: response[:n]}
}

// Compile-time interface satisfaction check.
var _ Bridge = (*Adapter)(nil)
