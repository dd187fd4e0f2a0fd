package bridge

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestSoftTokenEcho(t *testing.T) {
	tests := []struct {
		name    string
		command []byte
	}{
		{
			name:    "select applet",
			command: []byte{0x00, 0xA4, 0x04, 0x00, 0x0A, 0xA0, 0x00, 0x00, 0x00, 0x62, 0x03, 0x01, 0x0C, 0x06, 0x01},
		},
		{
			name:    "verify pin",
			command: []byte{0x00, 0x20, 0x00, 0x80, 0x08, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38},
		},
		{
			name:    "empty command",
			command: []byte{},
		},
	}

	token := NewSoftToken()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response, err := token.Execute(context.Background(), tt.command)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}

			want := append(append([]byte{}, tt.command...), SW1Success, SW2Success)
			if !bytes.Equal(response, want) {
				t.Errorf("response = %x, want %x", response, want)
			}
		})
	}
}

func TestSoftTokenBufferOverflow(t *testing.T) {
	// A command longer than capacity-2 cannot be echoed with the status
	// word appended; the raw function reports failure.
	token := NewSoftToken()
	command := bytes.Repeat([]byte{0x01}, ResponseCapacity-1)

	_, err := token.Execute(context.Background(), command)
	if !errors.Is(err, ErrExecuteFailed) {
		t.Errorf("expected ErrExecuteFailed, got %v", err)
	}
}

func TestAdapterStatusError(t *testing.T) {
	adapter := NewAdapter(func(command, response []byte) (int, int) {
		return 0, 6
	})

	_, err := adapter.Execute(context.Background(), []byte{0x00})
	if !errors.Is(err, ErrExecuteFailed) {
		t.Errorf("expected ErrExecuteFailed, got %v", err)
	}
}

func TestAdapterResponseOverflow(t *testing.T) {
	adapter := NewAdapter(func(command, response []byte) (int, int) {
		return ResponseCapacity + 1, 0
	})

	_, err := adapter.Execute(context.Background(), []byte{0x00})
	if !errors.Is(err, ErrResponseOverflow) {
		t.Errorf("expected ErrResponseOverflow, got %v", err)
	}
}

func TestAdapterTruncatesToReportedLength(t *testing.T) {
	adapter := NewAdapter(func(command, response []byte) (int, int) {
		response[0] = 0x61
		response[1] = 0x10
		return 2, 0
	})

	response, err := adapter.Execute(context.Background(), []byte{0x00, 0xC0})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !bytes.Equal(response, []byte{0x61, 0x10}) {
		t.Errorf("response = %x, want 6110", response)
	}
}

func TestAdapterContextCancelled(t *testing.T) {
	blocked := make(chan struct{})
	adapter := NewAdapter(func(command, response []byte) (int, int) {
		<-blocked
		return 0, 0
	})
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := adapter.Execute(ctx, []byte{0x00})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
