// Package blake3hash is the BLAKE3 Hashing Facade (component B): one-shot,
// streaming, keyed, and derive-key modes used by every other component that
// needs a hash, a MAC, or a KDF. The derive-key mode only accepts contexts
// from the closed label registry in internal/constants, so a typo in a
// domain-separation label fails loudly instead of silently colliding with
// another component's key schedule.
package blake3hash

import (
	"crypto/subtle"
	"io"

	"github.com/zeebo/blake3"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
)

// Size is the default output length of a BLAKE3 digest in bytes.
const Size = 32

// Sum256 computes a one-shot 32-byte BLAKE3 hash of data.
func Sum256(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// Hasher streams data into a BLAKE3 hash and yields output of arbitrary
// length via XOF, or a fixed 32-byte digest via Sum256.
type Hasher struct {
	h *blake3.Hasher
}

// New creates an unkeyed streaming hasher.
func New() *Hasher {
	return &Hasher{h: blake3.New()}
}

// NewKeyed creates a MAC-mode hasher. key must be exactly 32 bytes.
func NewKeyed(key []byte) (*Hasher, error) {
	if len(key) != 32 {
		return nil, qerrors.ErrInvalidKeyLen
	}
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, qerrors.NewCryptoError("blake3hash.NewKeyed", err)
	}
	return &Hasher{h: h}, nil
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum256 returns the 32-byte digest of everything written so far. It does
// not reset the hasher.
func (h *Hasher) Sum256() [32]byte {
	var out [32]byte
	d := h.h.Digest()
	_, _ = io.ReadFull(d, out[:])
	return out
}

// XOF returns an io.Reader that yields arbitrarily many output bytes
// derived from the hasher's current state (BLAKE3's extendable output).
func (h *Hasher) XOF() io.Reader {
	return h.h.Digest()
}

// Reset clears the hasher back to its initial state.
func (h *Hasher) Reset() {
	h.h.Reset()
}

// DeriveKey derives keyMaterial of length n under label, which MUST be one
// of the closed domain-separation labels in internal/constants.DomainLabels.
// This is the sole supported key-derivation path in the engine: every
// subsystem that needs a key, a chain step, or a nonce seed calls through
// here so every derivation is domain-separated by construction.
func DeriveKey(label string, ikm []byte, n int) ([]byte, error) {
	if _, ok := constants.DomainLabels[label]; !ok {
		return nil, qerrors.ErrUnknownLabel
	}
	if n <= 0 {
		return nil, qerrors.ErrZeroLength
	}
	deriver := blake3.NewDeriveKey(label)
	if _, err := deriver.Write(ikm); err != nil {
		return nil, qerrors.NewCryptoError("blake3hash.DeriveKey", err)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(deriver.Digest(), out); err != nil {
		return nil, qerrors.NewCryptoError("blake3hash.DeriveKey", err)
	}
	return out, nil
}

// DeriveKeys derives len(sizes) independent outputs from a single ikm and
// label in one XOF stream, avoiding len(sizes) separate derive-key calls.
func DeriveKeys(label string, ikm []byte, sizes ...int) ([][]byte, error) {
	if _, ok := constants.DomainLabels[label]; !ok {
		return nil, qerrors.ErrUnknownLabel
	}
	deriver := blake3.NewDeriveKey(label)
	if _, err := deriver.Write(ikm); err != nil {
		return nil, qerrors.NewCryptoError("blake3hash.DeriveKeys", err)
	}
	xof := deriver.Digest()
	out := make([][]byte, len(sizes))
	for i, n := range sizes {
		buf := make([]byte, n)
		if _, err := io.ReadFull(xof, buf); err != nil {
			return nil, qerrors.NewCryptoError("blake3hash.DeriveKeys", err)
		}
		out[i] = buf
	}
	return out, nil
}

// TranscriptHash hashes a sequence of labeled fields into a single 32-byte
// binding value, used to authenticate handshake transcripts. Each field is
// length-prefixed so no ambiguity can arise between adjacent fields.
func TranscriptHash(fields ...[]byte) [32]byte {
	h := New()
	for _, f := range fields {
		var lenBuf [8]byte
		putUint64(lenBuf[:], uint64(len(f)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(f)
	}
	return h.Sum256()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Equal performs a constant-time comparison of two digests or MAC tags.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
