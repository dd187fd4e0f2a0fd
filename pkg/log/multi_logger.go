package log

// MultiLogger fans each event out to several loggers, typically a
// FileLogger for the capture file plus a SlogAdapter mirroring events
// to the operational log.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger combines the given loggers. Nil entries are dropped,
// so optional sinks can be passed unconditionally.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &MultiLogger{loggers: kept}
}

// Log forwards the event to every logger, in order.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
