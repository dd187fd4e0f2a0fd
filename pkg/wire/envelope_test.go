package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
		want      []byte
		wantErr   error
	}{
		{
			name:      "select applet",
			plaintext: `{"apdu_command":[0,164,4,0]}`,
			want:      []byte{0x00, 0xA4, 0x04, 0x00},
		},
		{
			name:      "unknown fields ignored",
			plaintext: `{"apdu_command":[1,2],"extra":"x","n":5}`,
			want:      []byte{1, 2},
		},
		{
			name:      "empty command",
			plaintext: `{"apdu_command":[]}`,
			want:      []byte{},
		},
		{
			name:      "missing field",
			plaintext: `{"response_apdu":[1,2]}`,
			wantErr:   ErrInvalidEnvelope,
		},
		{
			name:      "not json",
			plaintext: "not json at all",
			wantErr:   ErrInvalidEnvelope,
		},
		{
			name:      "value above 255",
			plaintext: `{"apdu_command":[0,256]}`,
			wantErr:   ErrByteRange,
		},
		{
			name:      "negative value",
			plaintext: `{"apdu_command":[-1]}`,
			wantErr:   ErrByteRange,
		},
		{
			name:      "non-integer element",
			plaintext: `{"apdu_command":["a"]}`,
			wantErr:   ErrInvalidEnvelope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.plaintext))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("command = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestEncodeResponseDecodeResponse(t *testing.T) {
	response := []byte{0x00, 0xA4, 0x90, 0x00}

	plaintext, err := EncodeResponse(response)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}

	got, err := DecodeResponse(plaintext)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if !bytes.Equal(got, response) {
		t.Errorf("response = %x, want %x", got, response)
	}
}

func TestEncodeCommandWireFormat(t *testing.T) {
	plaintext, err := EncodeCommand([]byte{0, 164, 4, 0})
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}
	want := `{"apdu_command":[0,164,4,0]}`
	if string(plaintext) != want {
		t.Errorf("wire form = %s, want %s", plaintext, want)
	}
}

func TestDecodeResponseMissingField(t *testing.T) {
	_, err := DecodeResponse([]byte(`{"apdu_command":[1]}`))
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("expected ErrInvalidEnvelope, got %v", err)
	}
}
