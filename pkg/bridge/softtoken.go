package bridge

// Status words appended by the soft token.
const (
	// SW1Success is the first status byte for a successful command.
	SW1Success = 0x90

	// SW2Success is the second status byte (no further qualification).
	SW2Success = 0x00
)

// SoftTokenFunc is the reference hardware function: it echoes the command
// back with the success status word appended. Fails with status -1 when
// the response buffer cannot hold the echo plus two status bytes.
func SoftTokenFunc(command []byte, response []byte) (int, int) {
	if len(response) < len(command)+2 {
		return 0, -1
	}
	n := copy(response, command)
	response[n] = SW1Success
	response[n+1] = SW2Success
	return n + 2, 0
}

// NewSoftToken returns a Bridge backed by the reference soft token.
func NewSoftToken() *Adapter {
	return NewAdapter(SoftTokenFunc)
}
