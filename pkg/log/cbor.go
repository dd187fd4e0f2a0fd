package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Capture files use canonical CBOR with RFC3339Nano timestamps.
// Decoding is lenient: a reader from an older build must still walk
// captures written by a newer one.
var (
	captureEnc cbor.EncMode
	captureDec cbor.DecMode
)

func init() {
	var err error

	captureEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture encoder mode: %v", err))
	}

	captureDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture decoder mode: %v", err))
	}
}

// EncodeEvent encodes one event in the capture format.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEnc.Marshal(event)
}

// DecodeEvent decodes one capture-format event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// newCaptureEncoder returns a streaming encoder in the capture format.
func newCaptureEncoder(w io.Writer) *cbor.Encoder {
	return captureEnc.NewEncoder(w)
}

// newCaptureDecoder returns a streaming decoder for capture files.
func newCaptureDecoder(r io.Reader) *cbor.Decoder {
	return captureDec.NewDecoder(r)
}
