package sas

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestDeriveIsDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x01}, 32)
	sessionID := bytes.Repeat([]byte{0x02}, 16)

	p1, err := Derive(secret, sessionID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	p2, err := Derive(secret, sessionID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if p1.String() != p2.String() || p1.NumericString() != p2.NumericString() {
		t.Error("Derive must be deterministic for the same inputs")
	}
}

func TestDeriveDiffersAcrossSecrets(t *testing.T) {
	sessionID := bytes.Repeat([]byte{0x02}, 16)
	secretA := bytes.Repeat([]byte{0x01}, 32)
	secretB := bytes.Repeat([]byte{0x99}, 32)

	pa, err := Derive(secretA, sessionID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	pb, err := Derive(secretB, sessionID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if pa.String() == pb.String() && pa.NumericString() == pb.NumericString() {
		t.Error("expected different shared secrets to produce different SAS phrases")
	}
}

func TestDeriveDiffersAcrossSessionIDs(t *testing.T) {
	secret := bytes.Repeat([]byte{0x01}, 32)
	sessionA := bytes.Repeat([]byte{0xAA}, 16)
	sessionB := bytes.Repeat([]byte{0xBB}, 16)

	pa, err := Derive(secret, sessionA)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	pb, err := Derive(secret, sessionB)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if pa.String() == pb.String() && pa.NumericString() == pb.NumericString() {
		t.Error("expected different session ids to produce different SAS phrases")
	}
}

func TestNumericStringIsZeroPaddedToSixDigits(t *testing.T) {
	p := Phrase{Numeric: 42}
	if got := p.NumericString(); got != "000042" {
		t.Errorf("expected zero-padded numeric string, got %q", got)
	}
}

func TestStringJoinsWordsWithHyphens(t *testing.T) {
	p := Phrase{Words: [3]string{"anchor", "badge", "comet"}}
	if got := p.String(); got != "anchor-badge-comet" {
		t.Errorf("unexpected word-form rendering: %q", got)
	}
}

func TestEqualDetectsMatchAndMismatch(t *testing.T) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	sessionID := make([]byte, 16)
	if _, err := rand.Read(sessionID); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	p1, err := Derive(secret, sessionID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	p2, err := Derive(secret, sessionID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !Equal(p1, p2) {
		t.Error("expected two phrases derived from identical inputs to be Equal")
	}

	other := p1
	other.Numeric++
	if Equal(p1, other) {
		t.Error("expected phrases with different numeric forms to not be Equal")
	}

	otherWord := p1
	otherWord.Words[0] = otherWord.Words[0] + "x"
	if Equal(p1, otherWord) {
		t.Error("expected phrases with different words to not be Equal")
	}
}
