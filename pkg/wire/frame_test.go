package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "token",
			payload: []byte("valid_token"),
		},
		{
			name:    "binary payload",
			payload: []byte{0x00, 0xFF, 0x7F, 0x80},
		},
		{
			name:    "empty payload",
			payload: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeData(tt.payload)

			ft, body, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if ft != FrameData {
				t.Errorf("frame type = %v, want DATA", ft)
			}
			if !bytes.Equal(body, tt.payload) {
				t.Errorf("body mismatch: got %x, want %x", body, tt.payload)
			}
		})
	}
}

func TestCloseFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		reason CloseReason
		detail string
	}{
		{
			name:   "auth failed",
			reason: CloseAuthFailed,
		},
		{
			name:   "processing error with detail",
			reason: CloseProcessingError,
			detail: "envelope decode failed",
		},
		{
			name:   "normal close",
			reason: CloseNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeClose(tt.reason, tt.detail)

			ft, body, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if ft != FrameClose {
				t.Errorf("frame type = %v, want CLOSE", ft)
			}

			reason, detail, err := DecodeClose(body)
			if err != nil {
				t.Fatalf("DecodeClose failed: %v", err)
			}
			if reason != tt.reason {
				t.Errorf("reason = %v, want %v", reason, tt.reason)
			}
			if detail != tt.detail {
				t.Errorf("detail = %q, want %q", detail, tt.detail)
			}
		})
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	ft, body, err := DecodeFrame(EncodePing(42))
	if err != nil {
		t.Fatalf("DecodeFrame(ping) failed: %v", err)
	}
	if ft != FramePing {
		t.Errorf("frame type = %v, want PING", ft)
	}
	seq, err := DecodeSeq(body)
	if err != nil {
		t.Fatalf("DecodeSeq failed: %v", err)
	}
	if seq != 42 {
		t.Errorf("seq = %d, want 42", seq)
	}

	ft, body, err = DecodeFrame(EncodePong(7))
	if err != nil {
		t.Fatalf("DecodeFrame(pong) failed: %v", err)
	}
	if ft != FramePong {
		t.Errorf("frame type = %v, want PONG", ft)
	}
	seq, err = DecodeSeq(body)
	if err != nil {
		t.Fatalf("DecodeSeq failed: %v", err)
	}
	if seq != 7 {
		t.Errorf("seq = %d, want 7", seq)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	_, _, err := DecodeFrame(nil)
	if !errors.Is(err, ErrFrameEmpty) {
		t.Errorf("expected ErrFrameEmpty, got %v", err)
	}

	_, _, err = DecodeFrame([]byte{0x99, 0x01})
	if !errors.Is(err, ErrUnknownFrameType) {
		t.Errorf("expected ErrUnknownFrameType, got %v", err)
	}
}

func TestDecodeControlErrors(t *testing.T) {
	if _, _, err := DecodeClose(nil); !errors.Is(err, ErrBadControlFrame) {
		t.Errorf("expected ErrBadControlFrame for empty close, got %v", err)
	}
	if _, err := DecodeSeq([]byte{1, 2}); !errors.Is(err, ErrBadControlFrame) {
		t.Errorf("expected ErrBadControlFrame for short seq, got %v", err)
	}
}

func TestCloseText(t *testing.T) {
	if got := CloseText(CloseAuthFailed, ""); got != "AUTH_FAILED" {
		t.Errorf("CloseText = %q", got)
	}
	if got := CloseText(CloseProcessingError, "bridge status 1"); got != "PROCESSING_ERROR: bridge status 1" {
		t.Errorf("CloseText = %q", got)
	}
}
