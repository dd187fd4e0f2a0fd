package secure

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// EncodeKey returns the textual form of a key for files and config.
func EncodeKey(key Key) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ParseKey parses the textual form produced by EncodeKey.
func ParseKey(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	key := Key(raw)
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrBadKeySize, len(key), KeySize)
	}
	return key, nil
}

// WriteKeyFile stores the key at path with owner-only permissions.
// This file is the out-of-band channel through which clients obtain the
// key; it replaces printing the key to the process log.
func WriteKeyFile(path string, key Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %d bytes, want %d", ErrBadKeySize, len(key), KeySize)
	}
	return os.WriteFile(path, []byte(EncodeKey(key)+"\n"), 0600)
}

// ReadKeyFile loads a key written by WriteKeyFile.
func ReadKeyFile(path string) (Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKey(string(data))
}

// SealKey encrypts the key to one or more age x25519 recipients and
// returns base64 ciphertext suitable for handing to operators.
func SealKey(key Key, recipientKeys []string) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("%w: %d bytes, want %d", ErrBadKeySize, len(key), KeySize)
	}
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, rk := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(rk)
		if err != nil {
			return "", fmt.Errorf("failed to parse recipient %q: %w", rk, err)
		}
		recipients = append(recipients, recipient)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("failed to create encryptor: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return "", fmt.Errorf("failed to write key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// UnsealKey decrypts a sealed key with an age private key string
// (AGE-SECRET-KEY-1... format).
func UnsealKey(sealed string, privateKey string) (Key, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed key: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read decrypted key: %w", err)
	}

	key := Key(data)
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrBadKeySize, len(key), KeySize)
	}
	return key, nil
}
