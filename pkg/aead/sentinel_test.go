package aead

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, constants.AEADKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestSealOpenRoundTripAllSuites(t *testing.T) {
	suites := []constants.CipherSuite{
		constants.CipherAES256GCM,
		constants.CipherChaCha20Poly1305,
		constants.CipherAEGIS256,
	}
	for _, suite := range suites {
		key := testKey(t)
		sender, err := New(suite, key, constants.DirectionSender)
		if err != nil {
			t.Fatalf("%s: New: %v", suite, err)
		}
		receiver, err := New(suite, key, constants.DirectionSender)
		if err != nil {
			t.Fatalf("%s: New: %v", suite, err)
		}

		plaintext := []byte("chunk payload data for the integrity manifest")
		aad := []byte("chunk-index:7")

		ct, err := sender.Seal(plaintext, aad)
		if err != nil {
			t.Fatalf("%s: Seal: %v", suite, err)
		}
		pt, err := receiver.Open(ct, aad)
		if err != nil {
			t.Fatalf("%s: Open: %v", suite, err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Errorf("%s: round trip mismatch", suite)
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	sender, _ := New(constants.CipherAES256GCM, key, constants.DirectionSender)
	receiver, _ := New(constants.CipherAES256GCM, key, constants.DirectionSender)

	ct, _ := sender.Seal([]byte("secret chunk"), nil)
	ct[len(ct)-1] ^= 0xFF
	if _, err := receiver.Open(ct, nil); err == nil {
		t.Error("expected tampered ciphertext to fail authentication")
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := testKey(t)
	sender, _ := New(constants.CipherChaCha20Poly1305, key, constants.DirectionSender)
	receiver, _ := New(constants.CipherChaCha20Poly1305, key, constants.DirectionSender)

	ct, _ := sender.Seal([]byte("secret chunk"), []byte("index:1"))
	if _, err := receiver.Open(ct, []byte("index:2")); err == nil {
		t.Error("expected mismatched associated data to fail authentication")
	}
}

func TestNonceMonotonicAndDirectional(t *testing.T) {
	key := testKey(t)
	sender, _ := New(constants.CipherAES256GCM, key, constants.DirectionSender)

	var nonces [][]byte
	for i := 0; i < 5; i++ {
		ct, err := sender.Seal([]byte("m"), nil)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		nonces = append(nonces, ct[:constants.ChunkNonceSize])
	}
	seen := map[string]bool{}
	for i, n := range nonces {
		key := string(n)
		if seen[key] {
			t.Fatalf("nonce repeated at index %d", i)
		}
		seen[key] = true
		if n[0] != 0 || n[1] != 0 || n[2] != 0 || n[3] != 0 {
			t.Errorf("expected sender direction prefix to be zero, got %v", n[:4])
		}
	}
}

func TestAEGIS256DifferentKeysProduceDifferentCiphertext(t *testing.T) {
	k1 := testKey(t)
	k2 := testKey(t)
	s1, _ := New(constants.CipherAEGIS256, k1, constants.DirectionSender)
	s2, _ := New(constants.CipherAEGIS256, k2, constants.DirectionSender)

	ct1, _ := s1.Seal([]byte("identical plaintext"), nil)
	ct2, _ := s2.Seal([]byte("identical plaintext"), nil)
	if bytes.Equal(ct1, ct2) {
		t.Error("different keys must not produce identical ciphertexts")
	}
}

func TestNewRejectsBadKeySize(t *testing.T) {
	if _, err := New(constants.CipherAES256GCM, make([]byte, 10), constants.DirectionSender); err == nil {
		t.Error("expected error for undersized key")
	}
}

func TestNewRejectsUnsupportedSuite(t *testing.T) {
	if _, err := New(constants.CipherSuite(0xAA), testKey(t), constants.DirectionSender); err == nil {
		t.Error("expected error for unsupported suite")
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	key := testKey(t)
	s, _ := New(constants.CipherAES256GCM, key, constants.DirectionSender)
	if _, err := s.Open(make([]byte, 4), nil); err == nil {
		t.Error("expected error for undersized ciphertext")
	}
}

func TestAEGIS256EmptyPlaintextAndAAD(t *testing.T) {
	key := testKey(t)
	sender, _ := New(constants.CipherAEGIS256, key, constants.DirectionSender)
	receiver, _ := New(constants.CipherAEGIS256, key, constants.DirectionSender)

	ct, err := sender.Seal(nil, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := receiver.Open(ct, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(pt) != 0 {
		t.Errorf("expected empty plaintext, got %d bytes", len(pt))
	}
}
