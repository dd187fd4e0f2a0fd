package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of the process-wide symmetric key in bytes.
const KeySize = chacha20poly1305.KeySize

// channelInfo is the HKDF info string binding derived keys to this use.
const channelInfo = "cardlink/1 message channel"

// Cipher errors.
var (
	// ErrDecryptFailed indicates malformed, tampered, or wrong-key
	// ciphertext. Fatal to the connection it arrived on.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrBadKeySize indicates a key of the wrong length.
	ErrBadKeySize = errors.New("bad key size")
)

// Key is the process-wide symmetric key. It is read-only after creation
// and safe to share across all sessions without synchronization.
type Key []byte

// NewKey generates a fresh random key. Called once per process start.
func NewKey() (Key, error) {
	key := make(Key, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Valid reports whether the key has the required length.
func (k Key) Valid() bool {
	return len(k) == KeySize
}

// Channel encrypts outbound payloads and decrypts inbound payloads under
// one symmetric key. It is stateless per call beyond the key and safe for
// concurrent use by all sessions.
type Channel struct {
	aead cipher.AEAD
}

// NewChannel creates a channel from the process-wide key. The AEAD key is
// derived with HKDF-SHA256 so the raw key never keys the cipher directly.
func NewChannel(key Key) (*Channel, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrBadKeySize, len(key), KeySize)
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, key, nil, []byte(channelInfo))
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("failed to derive channel key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	return &Channel{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is
// prepended to the returned ciphertext.
func (c *Channel) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt under the same key.
// Any failure — short input, bad tag, wrong key — returns ErrDecryptFailed
// without detail, since the causes are indistinguishable.
func (c *Channel) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrDecryptFailed
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
