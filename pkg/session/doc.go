// Package session implements the CardLink session layer.
//
// A session is the authenticated, encrypted conversation carried on one
// transport connection. The relay side is Handler: it gates the first
// message through the bearer token check, then runs every subsequent
// message through the processing pipeline
//
//	decrypt → decode envelope → execute on bridge → encode envelope → encrypt → send
//
// The client side is ClientSession: it sends the token, then exchanges
// one APDU at a time.
//
// # Ordering
//
// The transport delivers messages to Handler from a single per-connection
// read loop, and the pipeline runs synchronously inside OnMessage. A
// second command queues in the kernel buffer until the first response has
// been sent, which gives strict in-order, one-in-flight processing per
// connection without any session-level queue. Independent connections
// proceed concurrently.
//
// # Failure
//
// Every session error is fatal to that session only. The handler reports
// the reason in a close frame - "AUTH_FAILED" for a bad token,
// "PROCESSING_ERROR: <detail>" for pipeline failures - and closes the
// connection. Other sessions and the listener are unaffected.
package session
