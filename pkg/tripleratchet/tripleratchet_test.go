package tripleratchet

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/pkg/pqratchet"
	"github.com/tallowteam/Tallow-sub004/pkg/ratchet"
)

// newSessionPair builds two Sessions sharing the same initial secret and
// mirrored DH/PQ key material, the steady state a session orchestrator
// reaches once the prekey handshake and epoch negotiation are complete.
func newSessionPair(t *testing.T, cipher constants.CipherSuite) (alice, bob *Session) {
	t.Helper()

	aliceDHPriv, err := ratchet.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(alice): %v", err)
	}
	bobDHPriv, err := ratchet.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(bob): %v", err)
	}

	alicePQPub, alicePQPriv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("mlkem768.GenerateKeyPair(alice): %v", err)
	}
	bobPQPub, bobPQPriv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("mlkem768.GenerateKeyPair(bob): %v", err)
	}

	initialSecret := make([]byte, 32)
	if _, err := rand.Read(initialSecret); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	pqSeed := make([]byte, 32)
	if _, err := rand.Read(pqSeed); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	pqCfg := pqratchet.DefaultConfig()

	alicePQ, err := pqratchet.New(pqCfg, pqSeed, true, alicePQPriv, alicePQPub, bobPQPub)
	if err != nil {
		t.Fatalf("pqratchet.New(alice): %v", err)
	}
	bobPQ, err := pqratchet.New(pqCfg, pqSeed, false, bobPQPriv, bobPQPub, alicePQPub)
	if err != nil {
		t.Fatalf("pqratchet.New(bob): %v", err)
	}

	alice, err = New(Config{
		IsInitiator:   true,
		InitialSecret: initialSecret,
		LocalDHPriv:   aliceDHPriv,
		PeerDHPub:     bobDHPriv.PublicKey(),
		Cipher:        cipher,
	}, alicePQ)
	if err != nil {
		t.Fatalf("New(alice): %v", err)
	}
	bob, err = New(Config{
		IsInitiator:   false,
		InitialSecret: initialSecret,
		LocalDHPriv:   bobDHPriv,
		PeerDHPub:     aliceDHPriv.PublicKey(),
		Cipher:        cipher,
	}, bobPQ)
	if err != nil {
		t.Fatalf("New(bob): %v", err)
	}
	return alice, bob
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherAES256GCM)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	msg, err := alice.Encrypt(plaintext, []byte("aad"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := bob.Decrypt(msg, []byte("aad"))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("round-tripped plaintext must match the original")
	}
}

func TestEncryptDecryptSeveralMessagesInOrder(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherChaCha20Poly1305)

	for i := 0; i < 10; i++ {
		plaintext := []byte{byte(i), byte(i + 1), byte(i + 2)}
		msg, err := alice.Encrypt(plaintext, nil)
		if err != nil {
			t.Fatalf("Encrypt message %d: %v", i, err)
		}
		got, err := bob.Decrypt(msg, nil)
		if err != nil {
			t.Fatalf("Decrypt message %d: %v", i, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("message %d: round-trip mismatch", i)
		}
	}
}

func TestDecryptHandlesOutOfOrderDelivery(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherAES256GCM)

	var msgs []*Message
	for i := 0; i < 4; i++ {
		msg, err := alice.Encrypt([]byte{byte(i)}, nil)
		if err != nil {
			t.Fatalf("Encrypt message %d: %v", i, err)
		}
		msgs = append(msgs, msg)
	}

	// Deliver out of order: 2, 0, 3, 1.
	order := []int{2, 0, 3, 1}
	for _, idx := range order {
		got, err := bob.Decrypt(msgs[idx], nil)
		if err != nil {
			t.Fatalf("Decrypt message %d (out of order): %v", idx, err)
		}
		if !bytes.Equal(got, []byte{byte(idx)}) {
			t.Fatalf("message %d: round-trip mismatch after reordering", idx)
		}
	}
}

func TestDecryptAcrossDHRatchetStep(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherAES256GCM)

	for i := 0; i < int(constants.DHRatchetMessageInterval)+2; i++ {
		plaintext := []byte{byte(i), byte(i >> 8)}
		msg, err := alice.Encrypt(plaintext, nil)
		if err != nil {
			t.Fatalf("Encrypt message %d: %v", i, err)
		}
		got, err := bob.Decrypt(msg, nil)
		if err != nil {
			t.Fatalf("Decrypt message %d: %v", i, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("message %d: round-trip mismatch across a DH ratchet step", i)
		}
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherAES256GCM)

	msg, err := alice.Encrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte(nil), msg.Chunk.Ciphertext...)
	if len(tampered) == 0 {
		t.Fatal("expected non-empty ciphertext")
	}
	tampered[0] ^= 0xFF
	msg.Chunk.Ciphertext = tampered

	if _, err := bob.Decrypt(msg, nil); err == nil {
		t.Error("expected tampered ciphertext to fail authentication")
	}
}

func TestDestroyZeroizesStateAndClosesSession(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherAES256GCM)
	root := alice.RootKeySnapshot()
	if len(root) == 0 {
		t.Fatal("expected a non-empty root key snapshot")
	}

	alice.Destroy()
	if _, err := alice.Encrypt([]byte("x"), nil); !qerrors.Is(err, qerrors.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after Destroy, got %v", err)
	}

	postDestroy := alice.RootKeySnapshot()
	allZero := true
	for _, b := range postDestroy {
		if b != 0 {
			allZero = false
			break
		}
	}
	if !allZero {
		t.Error("expected root key to be zeroized after Destroy")
	}
	_ = bob
}

func TestRootKeySnapshotAgreesBetweenPeers(t *testing.T) {
	alice, bob := newSessionPair(t, constants.CipherAES256GCM)
	if !bytes.Equal(alice.RootKeySnapshot(), bob.RootKeySnapshot()) {
		t.Error("both sides must derive the same initial root key from a shared InitialSecret")
	}
}
