// Package hybridkem implements the Hybrid KEM Combiner (component D):
// X25519 classical ECDH combined with ML-KEM-768 post-quantum
// encapsulation, so that the resulting shared secret stays secure as long
// as either primitive does. The two secrets are combined with a BLAKE3
// derive-key call under the closed "hybrid-kex" domain label rather than
// concatenation, so a future change to either algorithm's output length
// cannot shift bytes between the two contributions.
package hybridkem

import (
	"crypto/ecdh"
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
	"github.com/tallowteam/Tallow-sub004/pkg/secure"
)

// PublicKey is a combined X25519 || ML-KEM-768 public key.
type PublicKey struct {
	x25519 *ecdh.PublicKey
	mlkem  *mlkem768.PublicKey
}

// PrivateKey is a combined X25519 || ML-KEM-768 private key. seed holds a
// component A SecureBytes copy of both raw private components (x25519
// scalar || packed ML-KEM private key), the form spec.md §3's Data Model
// invariant requires private key material to be held in; Zeroize wipes
// this buffer in place. The opaque x25519/mlkem objects remain the
// working representation crypto/ecdh and CIRCL operate on directly.
type PrivateKey struct {
	x25519 *ecdh.PrivateKey
	mlkem  *mlkem768.PrivateKey
	seed   *secure.Bytes
}

// KeyPair is a hybrid key pair.
type KeyPair struct {
	Public  *PublicKey
	Private *PrivateKey
}

// Ciphertext is a combined X25519 ephemeral public || ML-KEM-768
// ciphertext, produced by Encapsulate and consumed by Decapsulate.
type Ciphertext struct {
	x25519Ephemeral *ecdh.PublicKey
	mlkemCiphertext []byte
}

// GenerateKeyPair generates a fresh hybrid key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	curve := ecdh.X25519()
	xPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("hybridkem.GenerateKeyPair", err)
	}

	mPub, mPriv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("hybridkem.GenerateKeyPair", err)
	}

	seed, err := secureSeedFor(xPriv, mPriv)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Public:  &PublicKey{x25519: xPriv.PublicKey(), mlkem: mPub},
		Private: &PrivateKey{x25519: xPriv, mlkem: mPriv, seed: seed},
	}, nil
}

// secureSeedFor packs the raw bytes of both private key halves into a
// component A SecureBytes buffer: X25519's raw scalar, then ML-KEM-768's
// packed private key.
func secureSeedFor(xPriv *ecdh.PrivateKey, mPriv *mlkem768.PrivateKey) (*secure.Bytes, error) {
	raw := make([]byte, 0, constants.X25519PrivateKeySize+constants.MLKEMPrivateKeySize)
	raw = append(raw, xPriv.Bytes()...)
	mbuf := make([]byte, constants.MLKEMPrivateKeySize)
	mPriv.Pack(mbuf)
	raw = append(raw, mbuf...)
	defer wipe(mbuf)
	return secure.Take(raw, "hybridkem.privatekey.seed")
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encapsulate generates a fresh hybrid ciphertext and derives the shared
// secret for the holder of pk. Returns the ciphertext to send to the peer
// and the derived 32-byte shared secret.
func Encapsulate(pk *PublicKey) (*Ciphertext, []byte, error) {
	if pk == nil || pk.x25519 == nil || pk.mlkem == nil {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}

	curve := ecdh.X25519()
	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("hybridkem.Encapsulate", err)
	}
	xSecret, err := ephemeral.ECDH(pk.x25519)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("hybridkem.Encapsulate", err)
	}

	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, qerrors.NewCryptoError("hybridkem.Encapsulate", err)
	}
	ct := make([]byte, mlkem768.CiphertextSize)
	mSecret := make([]byte, mlkem768.SharedKeySize)
	pk.mlkem.EncapsulateTo(ct, mSecret, seed)

	secret, err := combine(xSecret, mSecret)
	if err != nil {
		return nil, nil, err
	}

	return &Ciphertext{x25519Ephemeral: ephemeral.PublicKey(), mlkemCiphertext: ct}, secret, nil
}

// Decapsulate recovers the shared secret derived by Encapsulate, using sk.
func Decapsulate(sk *PrivateKey, ct *Ciphertext) ([]byte, error) {
	if sk == nil || sk.x25519 == nil || sk.mlkem == nil {
		return nil, qerrors.ErrInvalidPrivateKey
	}
	if ct == nil || ct.x25519Ephemeral == nil || len(ct.mlkemCiphertext) != mlkem768.CiphertextSize {
		return nil, qerrors.ErrInvalidCiphertext
	}

	xSecret, err := sk.x25519.ECDH(ct.x25519Ephemeral)
	if err != nil {
		return nil, qerrors.NewCryptoError("hybridkem.Decapsulate", err)
	}

	mSecret := make([]byte, mlkem768.SharedKeySize)
	sk.mlkem.DecapsulateTo(mSecret, ct.mlkemCiphertext)

	return combine(xSecret, mSecret)
}

// combine merges the classical and post-quantum secrets into one 32-byte
// key under the closed "hybrid-kex" label, length-prefixing each input so
// the two contributions can never be confused with one another.
func combine(xSecret, mSecret []byte) ([]byte, error) {
	h := blake3hash.New()
	var lenBuf [8]byte
	writeLenPrefixed := func(b []byte) {
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(len(b) >> (8 * i))
		}
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(b)
	}
	writeLenPrefixed(xSecret)
	writeLenPrefixed(mSecret)
	transcript := h.Sum256()

	return blake3hash.DeriveKey(constants.LabelHybridKEX, transcript[:], constants.HybridSharedSecretSize)
}

// Bytes encodes pk as X25519 public || ML-KEM-768 public.
func (pk *PublicKey) Bytes() []byte {
	out := make([]byte, 0, constants.HybridPublicKeySize)
	out = append(out, pk.x25519.Bytes()...)
	mbuf := make([]byte, mlkem768.PublicKeySize)
	pk.mlkem.Pack(mbuf)
	return append(out, mbuf...)
}

// ParsePublicKey decodes a hybrid public key from its wire encoding.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	if len(data) != constants.HybridPublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}
	curve := ecdh.X25519()
	xPub, err := curve.NewPublicKey(data[:constants.X25519PublicKeySize])
	if err != nil {
		return nil, qerrors.NewCryptoError("hybridkem.ParsePublicKey", err)
	}
	mPub := new(mlkem768.PublicKey)
	if err := mPub.Unpack(data[constants.X25519PublicKeySize:]); err != nil {
		return nil, qerrors.NewCryptoError("hybridkem.ParsePublicKey", err)
	}
	return &PublicKey{x25519: xPub, mlkem: mPub}, nil
}

// Bytes encodes ct as X25519 ephemeral public || ML-KEM-768 ciphertext.
func (ct *Ciphertext) Bytes() []byte {
	out := make([]byte, 0, constants.HybridCiphertextSize)
	out = append(out, ct.x25519Ephemeral.Bytes()...)
	return append(out, ct.mlkemCiphertext...)
}

// ParseCiphertext decodes a hybrid ciphertext from its wire encoding.
func ParseCiphertext(data []byte) (*Ciphertext, error) {
	if len(data) != constants.HybridCiphertextSize {
		return nil, qerrors.ErrInvalidCiphertext
	}
	curve := ecdh.X25519()
	xPub, err := curve.NewPublicKey(data[:constants.X25519PublicKeySize])
	if err != nil {
		return nil, qerrors.NewCryptoError("hybridkem.ParseCiphertext", err)
	}
	mct := make([]byte, mlkem768.CiphertextSize)
	copy(mct, data[constants.X25519PublicKeySize:])
	return &Ciphertext{x25519Ephemeral: xPub, mlkemCiphertext: mct}, nil
}

// X25519PublicKey exposes the classical component, for the Double Ratchet
// which steps X25519 keys independently of the combined hybrid encoding.
func (pk *PublicKey) X25519PublicKey() *ecdh.PublicKey { return pk.x25519 }

// MLKEMPublicKey exposes the post-quantum component, for the Sparse PQ
// Ratchet which steps ML-KEM epochs independently of X25519.
func (pk *PublicKey) MLKEMPublicKey() *mlkem768.PublicKey { return pk.mlkem }

// X25519PrivateKey exposes the classical component of a hybrid private
// key, for a responder seeding its first Double Ratchet state directly
// from its signed prekey rather than generating a redundant keypair.
func (sk *PrivateKey) X25519PrivateKey() *ecdh.PrivateKey { return sk.x25519 }

// MLKEMPrivateKey exposes the post-quantum component of a hybrid private
// key, for a responder seeding its first Sparse PQ Ratchet state directly
// from its signed prekey.
func (sk *PrivateKey) MLKEMPrivateKey() *mlkem768.PrivateKey { return sk.mlkem }

// Zeroize wipes the private key's SecureBytes-backed raw copy and drops
// the reference to the rest of the key pair. CIRCL and crypto/ecdh expose
// no in-place zeroization of their own internal representations, so the
// raw copy held in Private.seed is the only part of this key pair Zeroize
// can actually scrub; it is the copy spec.md §3's Data Model invariant is
// concerned with.
func (kp *KeyPair) Zeroize() {
	if kp.Private != nil && kp.Private.seed != nil {
		kp.Private.seed.Zero()
	}
	kp.Private = nil
}
