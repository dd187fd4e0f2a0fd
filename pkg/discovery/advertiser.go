package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures the mDNS advertisement.
type AdvertiserConfig struct {
	// InstanceName is the advertised instance name. Defaults to
	// "CardLink-<hostname>".
	InstanceName string

	// Port the relay listens on.
	Port int

	// TLS is reflected in the TXT records so clients know how to dial.
	TLS bool

	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Default: 120 seconds.
	TTL time.Duration
}

// Advertiser announces a relay on the local network via mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Nothing is announced until
// Start is called.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.InstanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "relay"
		}
		config.InstanceName = "CardLink-" + hostname
	}
	if config.TTL == 0 {
		config.TTL = 120 * time.Second
	}
	return &Advertiser{config: config}
}

// InstanceName returns the name the relay is advertised under.
func (a *Advertiser) InstanceName() string {
	return a.config.InstanceName
}

// Start registers the service. Calling Start on a running advertiser
// re-registers it.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		a.config.InstanceName,
		ServiceType,
		Domain,
		a.config.Port,
		encodeTXT(a.config.TLS),
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call when not running.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns the interfaces to advertise on, nil for all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
