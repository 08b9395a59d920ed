package signature

import (
	"testing"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
)

func TestEd25519SignVerify(t *testing.T) {
	kp, err := Generate(constants.SigEd25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("prekey-bundle-transcript")
	sig, err := Sign(kp, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, err := Verify(kp.Public(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected valid Ed25519 signature to verify")
	}
}

func TestEd25519RejectsTamperedMessage(t *testing.T) {
	kp, _ := Generate(constants.SigEd25519)
	sig, _ := Sign(kp, []byte("original"))
	ok, _ := Verify(kp.Public(), []byte("tampered"), sig)
	if ok {
		t.Error("signature over a different message must not verify")
	}
}

func TestMLDSA65SignVerify(t *testing.T) {
	kp, err := Generate(constants.SigMLDSA65)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("prekey-bundle-transcript")
	sig, err := Sign(kp, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, err := Verify(kp.Public(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected valid ML-DSA-65 signature to verify")
	}
}

func TestHybridRequiresBothComponents(t *testing.T) {
	kp, err := Generate(constants.SigHybrid)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("hybrid transcript")
	sig, err := Sign(kp, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, err := Verify(kp.Public(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected valid hybrid signature to verify")
	}

	// Corrupt only the Ed25519 component and confirm the hybrid signature
	// no longer verifies, even though the PQ half is untouched.
	corrupted := make([]byte, len(sig))
	copy(corrupted, sig)
	corrupted[10] ^= 0xFF
	ok, err = Verify(kp.Public(), msg, corrupted)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("corrupting one hybrid component must fail verification")
	}
}

func TestUnsupportedAlgorithmRejected(t *testing.T) {
	if _, err := Generate(constants.SignatureAlgorithm(0x7F)); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}
