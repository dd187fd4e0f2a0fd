package relay

import (
	"sync"
	"time"
)

// closable is the slice of a connection the tracker needs.
type closable interface {
	Close() error
}

// connTracker tracks unauthenticated connections and their accept times.
// The reaper uses it to force-close connections that never present a
// token.
type connTracker struct {
	mu    sync.Mutex
	conns map[closable]time.Time
}

// newConnTracker creates a new connection tracker.
func newConnTracker() *connTracker {
	return &connTracker{
		conns: make(map[closable]time.Time),
	}
}

// Add registers a connection with the current time.
func (ct *connTracker) Add(conn closable) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.conns[conn] = time.Now()
}

// Remove deregisters a connection. Safe to call on absent connections.
func (ct *connTracker) Remove(conn closable) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.conns, conn)
}

// CloseStale closes and removes all connections older than maxAge.
// Returns the number of connections closed.
func (ct *connTracker) CloseStale(maxAge time.Duration) int {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	closed := 0
	for conn, added := range ct.conns {
		if added.Before(cutoff) {
			_ = conn.Close()
			delete(ct.conns, conn)
			closed++
		}
	}
	return closed
}

// Len returns the number of tracked connections.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.conns)
}
