package discovery

import (
	"fmt"
	"strings"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the mDNS service type relays advertise under.
	ServiceType = "_cardlink._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// TXTVersion is the advertised protocol version.
	TXTVersion = "1"
)

// RelayService describes one discovered relay.
type RelayService struct {
	InstanceName string
	Host         string
	Port         int
	Addresses    []string

	// Version is the advertised protocol version ("ver" TXT key).
	Version string

	// TLS reports whether the relay listens with TLS ("tls" TXT key).
	TLS bool
}

// Addr returns a dialable "host:port" for the first address, or the
// mDNS hostname when no address resolved.
func (s *RelayService) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "."), s.Port)
}

// encodeTXT builds the TXT records for an advertisement.
func encodeTXT(tls bool) []string {
	records := []string{"ver=" + TXTVersion}
	if tls {
		records = append(records, "tls=1")
	} else {
		records = append(records, "tls=0")
	}
	return records
}

// decodeTXT parses the records of a discovered entry. Unknown keys are
// ignored so newer relays stay discoverable.
func decodeTXT(records []string) (version string, tls bool) {
	for _, rec := range records {
		key, value, found := strings.Cut(rec, "=")
		if !found {
			continue
		}
		switch key {
		case "ver":
			version = value
		case "tls":
			tls = value == "1"
		}
	}
	return version, tls
}

// entryToService converts a zeroconf entry. Entries without a version
// TXT record are not CardLink relays and are dropped.
func entryToService(entry *zeroconf.ServiceEntry) *RelayService {
	version, tls := decodeTXT(entry.Text)
	if version == "" {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &RelayService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         entry.Port,
		Addresses:    addrs,
		Version:      version,
		TLS:          tls,
	}
}
