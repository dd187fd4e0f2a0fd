// Package discovery advertises and finds CardLink relays on the local
// network via mDNS (service type "_cardlink._tcp").
//
// Advertising is opt-in: a relay announcing itself tells the whole
// LAN where card traffic flows, which is not always wanted. The TXT
// records carry the protocol version and whether the listener expects
// TLS, nothing else - never credentials.
package discovery
