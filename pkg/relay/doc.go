// Package relay wires the CardLink relay together: the transport
// listener, one session handler per connection, the shared cipher
// channel, and the hardware bridge.
//
// The service also reaps connections that sit unauthenticated longer
// than the configured auth timeout, so idle strangers cannot hold the
// pending-connection slots forever.
//
// Typical use:
//
//	key, _ := secure.NewKey()
//	svc, err := relay.New(relay.Config{
//	    Address: ":8765",
//	    Token:   token,
//	    Key:     key,
//	    Bridge:  bridge.NewSoftToken(),
//	})
//	if err != nil { ... }
//	if err := svc.Start(ctx); err != nil { ... }
//	defer svc.Stop()
package relay
