package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
)

func TestEncodeTXT(t *testing.T) {
	got := encodeTXT(true)
	want := []string{"ver=1", "tls=1"}
	if len(got) != len(want) {
		t.Fatalf("encodeTXT = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("encodeTXT[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeTXT(t *testing.T) {
	tests := []struct {
		name        string
		records     []string
		wantVersion string
		wantTLS     bool
	}{
		{"plain", []string{"ver=1", "tls=0"}, "1", false},
		{"tls", []string{"ver=1", "tls=1"}, "1", true},
		{"unknown keys ignored", []string{"ver=2", "color=blue"}, "2", false},
		{"malformed record skipped", []string{"noequals", "ver=1"}, "1", false},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, tls := decodeTXT(tt.records)
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if tls != tt.wantTLS {
				t.Errorf("tls = %v, want %v", tls, tt.wantTLS)
			}
		})
	}
}

func TestEntryToService(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "CardLink-lab"},
		HostName:      "lab.local.",
		Port:          8765,
		Text:          []string{"ver=1", "tls=1"},
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.20")},
	}

	svc := entryToService(entry)
	if svc == nil {
		t.Fatal("entryToService returned nil")
	}
	if svc.InstanceName != "CardLink-lab" {
		t.Errorf("InstanceName = %q", svc.InstanceName)
	}
	if !svc.TLS {
		t.Error("TLS = false, want true")
	}
	if got := svc.Addr(); got != "192.168.1.20:8765" {
		t.Errorf("Addr() = %q, want 192.168.1.20:8765", got)
	}
}

func TestEntryToServiceForeignEntry(t *testing.T) {
	// Entries without a ver record are not CardLink relays.
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "printer"},
		Port:          631,
		Text:          []string{"rp=ipp/print"},
	}
	if svc := entryToService(entry); svc != nil {
		t.Errorf("entryToService = %+v, want nil", svc)
	}
}

func TestServiceAddrFallsBackToHost(t *testing.T) {
	svc := &RelayService{Host: "relay.local.", Port: 8765}
	if got := svc.Addr(); got != "relay.local:8765" {
		t.Errorf("Addr() = %q, want relay.local:8765", got)
	}
}

func TestAdvertiserDefaults(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{Port: 8765})
	if a.InstanceName() == "" {
		t.Error("default instance name is empty")
	}
	// Stop before Start is a no-op.
	a.Stop()
}
