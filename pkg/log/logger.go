package log

// Logger receives protocol capture events. The relay emits one event
// per frame, APDU exchange, control message, state change, and error;
// implementations must be safe for concurrent use and must not block
// the session that produced the event.
//
// Captures exist to debug card traffic, so APDU payloads appear in
// events. Credentials do not: the transport layer withholds frame
// capture until a connection has authenticated, and session events
// carry neither bearer tokens nor key material.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event. The zero value is ready to use.
type NoopLogger struct{}

// Log drops the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
