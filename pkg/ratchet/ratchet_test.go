package ratchet

import (
	"bytes"
	"testing"
)

// newBootstrappedPair builds two States sharing a root key, with alice's
// send chain wired to bob's receive chain (the two States only ever model
// one direction at a time; a full Triple Ratchet session pairs two of
// these per peer).
func newBootstrappedPair(t *testing.T) (alice, bob *State) {
	t.Helper()
	alicePriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(alice): %v", err)
	}
	bobPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(bob): %v", err)
	}

	rootKey := bytes.Repeat([]byte{0x42}, 32)
	chainKey := bytes.Repeat([]byte{0x24}, 32)

	alice = New(rootKey, chainKey, chainKey, alicePriv, bobPriv.PublicKey())
	bob = New(rootKey, chainKey, chainKey, bobPriv, alicePriv.PublicKey())
	return alice, bob
}

func TestNewDerivesLocalPublicFromPrivate(t *testing.T) {
	alice, _ := newBootstrappedPair(t)
	if alice.LocalPub == nil {
		t.Fatal("expected New to derive LocalPub from LocalPriv")
	}
	if !bytes.Equal(alice.LocalPub.Bytes(), alice.LocalPriv.PublicKey().Bytes()) {
		t.Error("LocalPub must match LocalPriv's public key")
	}
}

func TestAdvanceSendChainIncrementsCounterAndRotatesKey(t *testing.T) {
	alice, _ := newBootstrappedPair(t)
	firstKey, n0, err := alice.AdvanceSendChain()
	if err != nil {
		t.Fatalf("AdvanceSendChain: %v", err)
	}
	if n0 != 0 {
		t.Errorf("expected first message number 0, got %d", n0)
	}
	secondKey, n1, err := alice.AdvanceSendChain()
	if err != nil {
		t.Fatalf("AdvanceSendChain: %v", err)
	}
	if n1 != 1 {
		t.Errorf("expected second message number 1, got %d", n1)
	}
	if bytes.Equal(firstKey, secondKey) {
		t.Error("successive message keys from the same chain must differ")
	}
	if alice.SendN != 2 {
		t.Errorf("expected SendN to reach 2, got %d", alice.SendN)
	}
}

func TestDeriveRecvMessageKeyDependsOnMessageNumber(t *testing.T) {
	_, bob := newBootstrappedPair(t)
	k0, err := bob.DeriveRecvMessageKey(0)
	if err != nil {
		t.Fatalf("DeriveRecvMessageKey(0): %v", err)
	}
	k5, err := bob.DeriveRecvMessageKey(5)
	if err != nil {
		t.Fatalf("DeriveRecvMessageKey(5): %v", err)
	}
	if bytes.Equal(k0, k5) {
		t.Error("message keys for different message numbers must differ")
	}
}

func TestDeriveRecvMessageKeyIsRepeatableUntilAdvanced(t *testing.T) {
	_, bob := newBootstrappedPair(t)
	k0a, err := bob.DeriveRecvMessageKey(0)
	if err != nil {
		t.Fatalf("DeriveRecvMessageKey: %v", err)
	}
	k0b, err := bob.DeriveRecvMessageKey(0)
	if err != nil {
		t.Fatalf("DeriveRecvMessageKey: %v", err)
	}
	if !bytes.Equal(k0a, k0b) {
		t.Error("deriving the same message number twice before advancing must be idempotent")
	}
}

func TestSendRecvChainsAgree(t *testing.T) {
	alice, bob := newBootstrappedPair(t)

	sendKey, msgNumber, err := alice.AdvanceSendChain()
	if err != nil {
		t.Fatalf("AdvanceSendChain: %v", err)
	}
	recvKey, err := bob.DeriveRecvMessageKey(msgNumber)
	if err != nil {
		t.Fatalf("DeriveRecvMessageKey: %v", err)
	}
	if !bytes.Equal(sendKey, recvKey) {
		t.Fatal("alice's send chain and bob's receive chain must derive identical keys when seeded identically")
	}
	if err := bob.AdvanceRecvChain(); err != nil {
		t.Fatalf("AdvanceRecvChain: %v", err)
	}
	if bob.RecvN != 1 {
		t.Errorf("expected RecvN to reach 1, got %d", bob.RecvN)
	}
}

func TestDHRatchetSendRotatesRootAndResetsSendCounter(t *testing.T) {
	alice, _ := newBootstrappedPair(t)
	if _, _, err := alice.AdvanceSendChain(); err != nil {
		t.Fatalf("AdvanceSendChain: %v", err)
	}
	if _, _, err := alice.AdvanceSendChain(); err != nil {
		t.Fatalf("AdvanceSendChain: %v", err)
	}
	oldRoot := append([]byte(nil), alice.RootKey...)
	oldPub := alice.LocalPub

	pqEpochSecret := bytes.Repeat([]byte{0x77}, 32)
	if err := alice.DHRatchetSend(pqEpochSecret); err != nil {
		t.Fatalf("DHRatchetSend: %v", err)
	}
	if bytes.Equal(oldRoot, alice.RootKey) {
		t.Error("expected root key to change after a DH ratchet step")
	}
	if alice.PrevChainLen != 2 {
		t.Errorf("expected PrevChainLen to record the old SendN (2), got %d", alice.PrevChainLen)
	}
	if alice.SendN != 0 {
		t.Errorf("expected SendN to reset to 0, got %d", alice.SendN)
	}
	if alice.NeedsSendRatchet {
		t.Error("expected NeedsSendRatchet to clear after DHRatchetSend")
	}
	if bytes.Equal(oldPub.Bytes(), alice.LocalPub.Bytes()) {
		t.Error("expected a fresh local key pair after DHRatchetSend")
	}
}

func TestDHRatchetReceiveMarksNeedsSendRatchet(t *testing.T) {
	alice, bob := newBootstrappedPair(t)

	newPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	oldRoot := append([]byte(nil), bob.RootKey...)
	if err := bob.DHRatchetReceive(newPriv.PublicKey()); err != nil {
		t.Fatalf("DHRatchetReceive: %v", err)
	}
	if bytes.Equal(oldRoot, bob.RootKey) {
		t.Error("expected root key to change after DHRatchetReceive")
	}
	if !bob.NeedsSendRatchet {
		t.Error("expected NeedsSendRatchet to be set after DHRatchetReceive")
	}
	if bob.RecvN != 0 {
		t.Errorf("expected RecvN reset to 0, got %d", bob.RecvN)
	}
	if bob.PeerPub != newPriv.PublicKey() {
		t.Error("expected PeerPub to be updated to the new peer key")
	}
	_ = alice
}

func TestWipeZeroizesKeyMaterial(t *testing.T) {
	alice, _ := newBootstrappedPair(t)
	alice.Wipe()

	for _, b := range [][]byte{alice.RootKey, alice.SendChainKey, alice.RecvChainKey} {
		for _, v := range b {
			if v != 0 {
				t.Fatal("expected all chain/root key bytes to be zero after Wipe")
			}
		}
	}
	if alice.LocalPriv != nil || alice.LocalPub != nil || alice.PeerPub != nil {
		t.Error("expected key pair references to be dropped after Wipe")
	}
}
