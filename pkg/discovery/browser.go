package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Browse searches for relays on the local network. Discovered relays
// are sent on the returned channel until ctx is cancelled; the channel
// is closed when browsing stops. Each instance is emitted once.
func Browse(ctx context.Context) (<-chan *RelayService, error) {
	out := make(chan *RelayService)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		seen := make(map[string]bool)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToService(entry)
				if svc == nil || seen[svc.InstanceName] {
					continue
				}
				seen[svc.InstanceName] = true
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case <-removed:
				// A withdrawn relay may come back; keep it in seen so
				// re-announcements are not emitted twice.

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	return out, nil
}

// Find returns the first relay discovered within timeout.
func Find(ctx context.Context, timeout time.Duration) (*RelayService, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	services, err := Browse(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case svc, ok := <-services:
		if !ok {
			return nil, fmt.Errorf("no relay found within %s", timeout)
		}
		return svc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no relay found within %s", timeout)
	}
}
