// Package secure implements the CardLink message cipher and key handling.
//
// Every message exchanged after authentication — both directions — passes
// through a Channel: XChaCha20-Poly1305 AEAD keyed by one process-lifetime
// symmetric key. No plaintext application payload ever reaches the
// transport. A decryption failure cannot be distinguished from tampering,
// so it is fatal to the connection that produced it.
//
// The key is generated once at process start and must reach clients
// out-of-band: WriteKeyFile stores it with owner-only permissions, and
// SealKey encrypts it to age recipients for operator distribution. The key
// is never logged.
package secure
