// Package aead implements the AEAD Sentinel (component G): a unified
// encrypt/decrypt interface over AES-256-GCM, ChaCha20-Poly1305, and
// AEGIS-256, so the Triple Ratchet and chunk transfer layers never need to
// branch on which cipher suite was negotiated.
//
// Every chunk nonce is directional and monotonic: [4-byte direction |
// 8-byte big-endian counter]. Two peers encrypting with the same message
// key therefore never reuse a (key, nonce) pair, since each direction
// counts its own counter independently and a counter never repeats within
// a direction. AEGIS-256 additionally expands the 12-byte wire nonce to
// its required 32 bytes via HKDF-SHA-256 under a fixed info label, rather
// than padding with zero bytes, so the expansion cannot be mistaken for a
// second, independently-controllable nonce field.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/pkg/secure"
)

// Sentinel is a directional AEAD cipher bound to one negotiated suite and
// one 32-byte key, with a monotonic counter-nonce per direction. The key is
// held in a component A SecureBytes buffer rather than a plain slice, so it
// is wiped on Rekey/Wipe instead of just dropped.
type Sentinel struct {
	suite     constants.CipherSuite
	key       *secure.Bytes
	direction uint32

	std cipher.AEAD // nil for AEGIS-256, which has no cipher.AEAD implementation to wrap

	mu      sync.Mutex
	counter uint64
}

// New constructs a Sentinel for suite, bound to key (32 bytes) and
// direction (constants.DirectionSender or constants.DirectionReceive).
func New(suite constants.CipherSuite, key []byte, direction uint32) (*Sentinel, error) {
	if len(key) != constants.AEADKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}
	if !suite.IsSupported() {
		return nil, qerrors.ErrUnsupportedCipher
	}

	s := &Sentinel{suite: suite, direction: direction}
	if err := s.rekeyLocked(key); err != nil {
		return nil, err
	}
	return s, nil
}

// Rekey replaces the Sentinel's symmetric key in place, leaving its
// directional nonce counter untouched: the Triple Ratchet derives a fresh
// combined message key on every Encrypt/Decrypt call, but spec.md requires
// one Sentinel per session per direction with a strictly-increasing
// counter across the whole conversation, so the key is swapped rather than
// the Sentinel rebuilt.
func (s *Sentinel) Rekey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rekeyLocked(key)
}

func (s *Sentinel) rekeyLocked(key []byte) error {
	if len(key) != constants.AEADKeySize {
		return qerrors.ErrInvalidKeySize
	}

	switch s.suite {
	case constants.CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return qerrors.NewCryptoError("aead.Rekey", err)
		}
		aeadCipher, err := cipher.NewGCM(block)
		if err != nil {
			return qerrors.NewCryptoError("aead.Rekey", err)
		}
		s.std = aeadCipher

	case constants.CipherChaCha20Poly1305:
		aeadCipher, err := chacha20poly1305.New(key)
		if err != nil {
			return qerrors.NewCryptoError("aead.Rekey", err)
		}
		s.std = aeadCipher

	case constants.CipherAEGIS256:
		// no cipher.AEAD to construct; aegis256Seal/Open take the raw key
		// bytes directly, fetched from s.key at call time.

	default:
		return qerrors.ErrUnsupportedCipher
	}

	secureKey, err := secure.FromCopy(key, "aead.sentinel.key")
	if err != nil {
		return err
	}
	if s.key != nil {
		s.key.Zero()
	}
	s.key = secureKey
	return nil
}

// Wipe zeroizes the Sentinel's retained key material. The Sentinel must
// not be used again afterward.
func (s *Sentinel) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		s.key.Zero()
	}
}

// nextNonce returns the next directional nonce and advances the counter.
func (s *Sentinel) nextNonce() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counter == ^uint64(0) {
		return nil, qerrors.ErrNonceExhausted
	}
	nonce := make([]byte, constants.ChunkNonceSize)
	nonce[0] = byte(s.direction >> 24)
	nonce[1] = byte(s.direction >> 16)
	nonce[2] = byte(s.direction >> 8)
	nonce[3] = byte(s.direction)
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(s.counter >> (8 * (7 - i)))
	}
	s.counter++
	return nonce, nil
}

// Seal encrypts and authenticates plaintext under the next directional
// nonce, returning nonce || ciphertext || tag.
func (s *Sentinel) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	return s.sealWithNonce(nonce, plaintext, additionalData)
}

func (s *Sentinel) sealWithNonce(nonce, plaintext, additionalData []byte) ([]byte, error) {
	var body []byte
	switch s.suite {
	case constants.CipherAES256GCM, constants.CipherChaCha20Poly1305:
		body = s.std.Seal(nil, nonce, plaintext, additionalData)
	case constants.CipherAEGIS256:
		rawKey, err := s.key.Data()
		if err != nil {
			return nil, err
		}
		expanded, err := expandAEGISNonce(rawKey, nonce)
		if err != nil {
			return nil, err
		}
		body = aegis256Seal(rawKey, expanded, plaintext, additionalData)
	default:
		return nil, qerrors.ErrUnsupportedCipher
	}
	out := make([]byte, 0, len(nonce)+len(body))
	out = append(out, nonce...)
	out = append(out, body...)
	return out, nil
}

// Open decrypts and verifies data previously produced by Seal (nonce ||
// ciphertext || tag).
func (s *Sentinel) Open(data, additionalData []byte) ([]byte, error) {
	if len(data) < constants.ChunkNonceSize+constants.AuthTagSize {
		return nil, qerrors.ErrCiphertextShort
	}
	nonce := data[:constants.ChunkNonceSize]
	body := data[constants.ChunkNonceSize:]

	switch s.suite {
	case constants.CipherAES256GCM, constants.CipherChaCha20Poly1305:
		plaintext, err := s.std.Open(nil, nonce, body, additionalData)
		if err != nil {
			return nil, qerrors.ErrAuthFailed
		}
		return plaintext, nil

	case constants.CipherAEGIS256:
		rawKey, err := s.key.Data()
		if err != nil {
			return nil, err
		}
		expanded, err := expandAEGISNonce(rawKey, nonce)
		if err != nil {
			return nil, err
		}
		plaintext, ok := aegis256Open(rawKey, expanded, body, additionalData)
		if !ok {
			return nil, qerrors.ErrAuthFailed
		}
		return plaintext, nil

	default:
		return nil, qerrors.ErrUnsupportedCipher
	}
}

// expandAEGISNonce expands a 12-byte wire nonce into the 32-byte nonce
// AEGIS-256 requires, via HKDF-SHA-256 under the fixed info label
// "tallow.symmetric.aegis256-nonce.v1". Keying the expansion on s.key
// binds the expanded nonce to this specific cipher instance.
func expandAEGISNonce(key, nonce []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nonce, []byte(constants.AEGISNonceInfo))
	out := make([]byte, constants.AEGISNonceSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, qerrors.NewCryptoError("aead.expandAEGISNonce", err)
	}
	return out, nil
}

// Suite returns the negotiated cipher suite.
func (s *Sentinel) Suite() constants.CipherSuite {
	return s.suite
}

// Counter returns the current nonce counter for this direction.
func (s *Sentinel) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}
