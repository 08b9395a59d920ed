package hybridkem

import (
	"bytes"
	"testing"
)

func TestEncapsulateDecapsulateAgree(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	ct, secretA, err := Encapsulate(kp.Public)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	secretB, err := Decapsulate(kp.Private, ct)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Error("encapsulate/decapsulate must agree on the shared secret")
	}
	if len(secretA) != 32 {
		t.Errorf("expected 32-byte shared secret, got %d", len(secretA))
	}
}

func TestEncapsulateIsRandomized(t *testing.T) {
	kp, _ := GenerateKeyPair()
	_, s1, _ := Encapsulate(kp.Public)
	_, s2, _ := Encapsulate(kp.Public)
	if bytes.Equal(s1, s2) {
		t.Error("repeated encapsulations to the same key must not repeat the secret")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, _ := GenerateKeyPair()
	encoded := kp.Public.Bytes()
	parsed, err := ParsePublicKey(encoded)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if !bytes.Equal(encoded, parsed.Bytes()) {
		t.Error("public key should round-trip through its wire encoding")
	}
}

func TestCiphertextRoundTrip(t *testing.T) {
	kp, _ := GenerateKeyPair()
	ct, secretA, _ := Encapsulate(kp.Public)
	encoded := ct.Bytes()

	parsed, err := ParseCiphertext(encoded)
	if err != nil {
		t.Fatalf("ParseCiphertext: %v", err)
	}
	secretB, err := Decapsulate(kp.Private, parsed)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Error("decapsulating a round-tripped ciphertext must still agree")
	}
}

func TestMismatchedKeyPairsDisagree(t *testing.T) {
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()

	ct, secretA, _ := Encapsulate(kp1.Public)
	secretB, err := Decapsulate(kp2.Private, ct)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if bytes.Equal(secretA, secretB) {
		t.Error("decapsulating with the wrong private key must not agree")
	}
}

func TestParsePublicKeyRejectsWrongSize(t *testing.T) {
	if _, err := ParsePublicKey(make([]byte, 10)); err == nil {
		t.Error("expected error for undersized public key")
	}
}

func TestParseCiphertextRejectsWrongSize(t *testing.T) {
	if _, err := ParseCiphertext(make([]byte, 10)); err == nil {
		t.Error("expected error for undersized ciphertext")
	}
}
