package secure

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func TestKeyFileRoundTrip(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "relay.key")
	if err := WriteKeyFile(path, key); err != nil {
		t.Fatalf("WriteKeyFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file permissions = %o, want 0600", perm)
	}

	got, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("key round trip mismatch")
	}
}

func TestParseKeyErrors(t *testing.T) {
	if _, err := ParseKey("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := ParseKey("c2hvcnQ="); !errors.Is(err, ErrBadKeySize) {
		t.Errorf("expected ErrBadKeySize, got %v", err)
	}
}

func TestSealUnsealKey(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey failed: %v", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}

	sealed, err := SealKey(key, []string{identity.Recipient().String()})
	if err != nil {
		t.Fatalf("SealKey failed: %v", err)
	}

	got, err := UnsealKey(sealed, identity.String())
	if err != nil {
		t.Fatalf("UnsealKey failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("sealed key round trip mismatch")
	}
}

func TestSealKeyNoRecipients(t *testing.T) {
	key, _ := NewKey()
	if _, err := SealKey(key, nil); err == nil {
		t.Error("expected error for empty recipient list")
	}
}

func TestUnsealKeyWrongIdentity(t *testing.T) {
	key, _ := NewKey()
	right, _ := age.GenerateX25519Identity()
	wrong, _ := age.GenerateX25519Identity()

	sealed, err := SealKey(key, []string{right.Recipient().String()})
	if err != nil {
		t.Fatalf("SealKey failed: %v", err)
	}

	if _, err := UnsealKey(sealed, wrong.String()); err == nil {
		t.Error("expected error unsealing with the wrong identity")
	}
}
