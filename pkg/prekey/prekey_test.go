package prekey

import (
	"bytes"
	"testing"
)

func TestNewStorePublishesSignedBundle(t *testing.T) {
	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b := s.PublishBundle()
	if err := VerifyBundle(b); err != nil {
		t.Errorf("expected freshly published bundle to verify, got %v", err)
	}
}

func TestVerifyBundleRejectsTamperedSignature(t *testing.T) {
	s, _ := NewStore()
	b := s.PublishBundle()
	tampered := make([]byte, len(b.PrekeySig))
	copy(tampered, b.PrekeySig)
	tampered[0] ^= 0xFF
	b.PrekeySig = tampered
	if err := VerifyBundle(b); err == nil {
		t.Error("expected tampered signature to fail verification")
	}
}

func TestEstablishWithOneTimePrekeyAgrees(t *testing.T) {
	responder, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	bundle := responder.PublishBundle()
	if bundle.OneTimePrekey == nil {
		t.Fatal("expected a freshly created store to publish a one-time prekey")
	}

	initSecret, initMsg, err := EstablishAsInitiator(bundle)
	if err != nil {
		t.Fatalf("EstablishAsInitiator: %v", err)
	}
	if !initSecret.UsedOneTime {
		t.Error("expected UsedOneTime when the bundle carried a one-time prekey")
	}

	respSecret, err := responder.EstablishAsResponder(initMsg)
	if err != nil {
		t.Fatalf("EstablishAsResponder: %v", err)
	}

	if len(initSecret.SharedSecret) != len(respSecret.SharedSecret) {
		t.Fatal("shared secret lengths differ")
	}
	for i := range initSecret.SharedSecret {
		if initSecret.SharedSecret[i] != respSecret.SharedSecret[i] {
			t.Fatal("initiator and responder secrets must agree")
		}
	}
}

func TestEstablishWithoutOneTimePrekey(t *testing.T) {
	responder, _ := NewStore()
	bundle := responder.PublishBundle()
	bundle.OneTimePrekey = nil // simulate pool exhaustion
	bundle.OneTimePrekeyID = 0

	initSecret, initMsg, err := EstablishAsInitiator(bundle)
	if err != nil {
		t.Fatalf("EstablishAsInitiator: %v", err)
	}
	if initSecret.UsedOneTime {
		t.Error("should not claim one-time usage without a one-time prekey")
	}

	respSecret, err := responder.EstablishAsResponder(initMsg)
	if err != nil {
		t.Fatalf("EstablishAsResponder: %v", err)
	}
	for i := range initSecret.SharedSecret {
		if initSecret.SharedSecret[i] != respSecret.SharedSecret[i] {
			t.Fatal("initiator and responder secrets must agree without a one-time prekey")
		}
	}
}

func TestOneTimePrekeyConsumedOnce(t *testing.T) {
	responder, _ := NewStore()
	bundle := responder.PublishBundle()
	_, initMsg, err := EstablishAsInitiator(bundle)
	if err != nil {
		t.Fatalf("EstablishAsInitiator: %v", err)
	}
	first, err := responder.EstablishAsResponder(initMsg)
	if err != nil {
		t.Fatalf("first EstablishAsResponder: %v", err)
	}
	if !first.UsedOneTime {
		t.Error("expected the first establishment to report UsedOneTime")
	}

	// A replayed one-time prekey id is gone from the pool by the second
	// call. spec.md §4.F treats that as non-fatal: the handshake proceeds
	// on the signed prekey's secret alone instead of aborting.
	second, err := responder.EstablishAsResponder(initMsg)
	if err != nil {
		t.Fatalf("expected replaying the same one-time prekey ciphertext to fall back, not fail: %v", err)
	}
	if second.UsedOneTime {
		t.Error("expected the second establishment to report UsedOneTime=false")
	}
	if bytes.Equal(first.SharedSecret, second.SharedSecret) {
		t.Error("expected the fallback secret to differ from the original combined secret")
	}
}

func TestPublishBundleDrainsPool(t *testing.T) {
	s, _ := NewStore()
	seen := 0
	for i := 0; i < 200; i++ {
		b := s.PublishBundle()
		if b.OneTimePrekey != nil {
			seen++
		}
	}
	if seen == 0 {
		t.Error("expected at least some bundles to carry one-time prekeys before pool exhaustion")
	}
	if seen == 200 {
		t.Error("expected the one-time prekey pool to eventually exhaust without replenishment")
	}
}

func TestReplenishIfLowRefillsPool(t *testing.T) {
	s, _ := NewStore()
	for i := 0; i < 190; i++ {
		s.PublishBundle()
	}
	replenished, err := s.ReplenishIfLow()
	if err != nil {
		t.Fatalf("ReplenishIfLow: %v", err)
	}
	if !replenished {
		t.Error("expected pool to be below the replenish threshold")
	}
}
