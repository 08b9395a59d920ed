package blake3hash

import (
	"bytes"
	"testing"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
)

func TestSum256Deterministic(t *testing.T) {
	a := Sum256([]byte("hello"))
	b := Sum256([]byte("hello"))
	if a != b {
		t.Error("Sum256 should be deterministic")
	}
	c := Sum256([]byte("hellp"))
	if a == c {
		t.Error("different inputs should not collide")
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := Sum256(data)

	h := New()
	_, _ = h.Write(data[:10])
	_, _ = h.Write(data[10:])
	got := h.Sum256()
	if want != got {
		t.Error("streaming hash should match one-shot hash")
	}
}

func TestKeyedRequires32ByteKey(t *testing.T) {
	if _, err := NewKeyed(make([]byte, 16)); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewKeyed(make([]byte, 32)); err != nil {
		t.Errorf("32-byte key should be accepted: %v", err)
	}
}

func TestKeyedDiffersByKey(t *testing.T) {
	h1, _ := NewKeyed(bytes.Repeat([]byte{1}, 32))
	h2, _ := NewKeyed(bytes.Repeat([]byte{2}, 32))
	_, _ = h1.Write([]byte("msg"))
	_, _ = h2.Write([]byte("msg"))
	if h1.Sum256() == h2.Sum256() {
		t.Error("different keys must produce different MACs")
	}
}

func TestDeriveKeyRejectsUnknownLabel(t *testing.T) {
	if _, err := DeriveKey("not-a-real-label", []byte("ikm"), 32); err == nil {
		t.Error("expected error for unregistered label")
	}
}

func TestDeriveKeyAcceptsRegisteredLabel(t *testing.T) {
	out, err := DeriveKey(constants.LabelRootKey, []byte("ikm"), 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(out) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(out))
	}
}

func TestDeriveKeyDomainSeparation(t *testing.T) {
	ikm := []byte("shared-secret")
	a, _ := DeriveKey(constants.LabelRootKey, ikm, 32)
	b, _ := DeriveKey(constants.LabelChainKey, ikm, 32)
	if bytes.Equal(a, b) {
		t.Error("different labels over the same ikm must not collide")
	}
}

func TestDeriveKeysProducesIndependentOutputs(t *testing.T) {
	outs, err := DeriveKeys(constants.LabelSendChain, []byte("ikm"), 32, 16, 12)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	if len(outs) != 3 || len(outs[0]) != 32 || len(outs[1]) != 16 || len(outs[2]) != 12 {
		t.Fatalf("unexpected output shapes: %v", outs)
	}
	if bytes.Equal(outs[0][:16], outs[1]) {
		t.Error("derived outputs should not repeat across the XOF stream")
	}
}

func TestTranscriptHashFieldBoundary(t *testing.T) {
	a := TranscriptHash([]byte("ab"), []byte("c"))
	b := TranscriptHash([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("length-prefixing must prevent field-boundary ambiguity")
	}
}

func TestEqualConstantTime(t *testing.T) {
	if !Equal([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Error("identical slices should be equal")
	}
	if Equal([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Error("differing slices should not be equal")
	}
	if Equal([]byte{1, 2}, []byte{1, 2, 3}) {
		t.Error("differing lengths should not be equal")
	}
}
