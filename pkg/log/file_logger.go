package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends capture events to a .clog file, one CBOR-encoded
// Event per record. Safe for concurrent use.
type FileLogger struct {
	file    *os.File
	encoder *cbor.Encoder

	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens path for appending, creating it with mode 0600.
// Capture files hold raw APDU traffic and are owner-only.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		file:    f,
		encoder: newCaptureEncoder(f),
	}, nil
}

// Log appends one event. Encoding errors are swallowed; capture must
// never take a session down with it.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	_ = l.encoder.Encode(event)
}

// Close closes the capture file. Further Log calls are dropped;
// calling Close again is a no-op.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
