// Package prekey implements the Signed Prekey Bundle (component F): the
// asynchronous session-establishment material a peer publishes so that
// another peer can start a Triple Ratchet session without both parties
// being online at once, in the style of Signal's X3DH.
//
// A Store holds one long-term identity signing key, a rotating signed
// hybrid prekey, and a replenishable pool of one-time hybrid prekeys that
// are each consumed exactly once to provide additional forward secrecy for
// the very first message of a session.
package prekey

import (
	"sync"
	"time"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/internal/logging"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
	"github.com/tallowteam/Tallow-sub004/pkg/hybridkem"
	"github.com/tallowteam/Tallow-sub004/pkg/signature"
)

func blakeWriter() *blake3hash.Hasher {
	return blake3hash.New()
}

func writeLenPrefixed(h *blake3hash.Hasher, b []byte) {
	var lenBuf [8]byte
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(len(b) >> (8 * i))
	}
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}

func deriveCombined(ikm []byte) ([]byte, error) {
	return blake3hash.DeriveKey(constants.LabelCombineKey, ikm, constants.HybridSharedSecretSize)
}

// Bundle is the material one peer publishes for others to establish a
// session against, asynchronously.
type Bundle struct {
	IdentityKey     *signature.PublicKey
	SignedPrekeyID  uint64
	SignedPrekeyAt  time.Time
	SignedPrekey    *hybridkem.PublicKey
	PrekeySig       []byte
	OneTimePrekey   *hybridkem.PublicKey // nil if the pool was exhausted
	OneTimePrekeyID uint32
}

// signedPrekeyTranscript is what the signature in PrekeySig actually
// covers: the encoded public key bound to its rotation id, so a replayed
// signature from a prior rotation cannot be attached to a newer key.
func signedPrekeyTranscript(pub *hybridkem.PublicKey, rotationID uint64) []byte {
	enc := pub.Bytes()
	out := make([]byte, 0, len(enc)+8)
	for i := 0; i < 8; i++ {
		out = append(out, byte(rotationID>>(8*(7-i))))
	}
	return append(out, enc...)
}

type oneTimeEntry struct {
	id      uint32
	private *hybridkem.PrivateKey
	public  *hybridkem.PublicKey
}

// Store owns a peer's identity key, signed prekey, and one-time prekey
// pool.
type Store struct {
	mu sync.Mutex

	identity *signature.KeyPair

	signedPrekeyPriv *hybridkem.PrivateKey
	signedPrekeyPub  *hybridkem.PublicKey
	signedPrekeySig  []byte
	rotationID       uint64
	rotatedAt        time.Time

	oneTimePool []*oneTimeEntry
	nextOTKID   uint32
	issued      map[uint32]*hybridkem.PrivateKey // published, not yet consumed

	replenishBelow int
	poolCap        int
}

// NewStore creates a store with a freshly generated identity key (hybrid
// signature scheme, so the bundle stays PQ-authenticated end to end) and
// an initial signed prekey.
func NewStore() (*Store, error) {
	identity, err := signature.Generate(constants.SigHybrid)
	if err != nil {
		return nil, err
	}
	s := &Store{
		identity:       identity,
		replenishBelow: constants.OneTimePrekeyReplenishBelow,
		poolCap:        constants.OneTimePrekeyPoolCap,
	}
	if err := s.rotateSignedPrekey(); err != nil {
		return nil, err
	}
	if err := s.replenishOneTimePrekeys(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rotateSignedPrekey() error {
	kp, err := hybridkem.GenerateKeyPair()
	if err != nil {
		return err
	}
	s.rotationID++
	sig, err := signature.Sign(s.identity, signedPrekeyTranscript(kp.Public, s.rotationID))
	if err != nil {
		return err
	}
	s.signedPrekeyPriv = kp.Private
	s.signedPrekeyPub = kp.Public
	s.signedPrekeySig = sig
	s.rotatedAt = time.Now()
	return nil
}

// RotateSignedPrekeyIfDue rotates the signed prekey if it is older than
// SignedPrekeyRotationSeconds, returning whether a rotation occurred.
func (s *Store) RotateSignedPrekeyIfDue() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.rotatedAt) < constants.SignedPrekeyRotationSeconds*time.Second {
		return false, nil
	}
	return true, s.rotateSignedPrekey()
}

func (s *Store) replenishOneTimePrekeys() error {
	for len(s.oneTimePool) < s.poolCap {
		kp, err := hybridkem.GenerateKeyPair()
		if err != nil {
			return err
		}
		s.nextOTKID++
		s.oneTimePool = append(s.oneTimePool, &oneTimeEntry{id: s.nextOTKID, private: kp.Private, public: kp.Public})
	}
	return nil
}

// ReplenishIfLow tops the one-time prekey pool back up to capacity if it
// has fallen below the replenish threshold, returning whether it did.
func (s *Store) ReplenishIfLow() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.oneTimePool) >= s.replenishBelow {
		return false, nil
	}
	return true, s.replenishOneTimePrekeys()
}

// PublishBundle returns the public material for this store, consuming one
// one-time prekey from the pool if any remain.
func (s *Store) PublishBundle() *Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Bundle{
		IdentityKey:    s.identity.Public(),
		SignedPrekeyID: s.rotationID,
		SignedPrekeyAt: s.rotatedAt,
		SignedPrekey:   s.signedPrekeyPub,
		PrekeySig:      s.signedPrekeySig,
	}
	if len(s.oneTimePool) > 0 {
		entry := s.oneTimePool[0]
		s.oneTimePool = s.oneTimePool[1:]
		if s.issued == nil {
			s.issued = make(map[uint32]*hybridkem.PrivateKey)
		}
		s.issued[entry.id] = entry.private
		b.OneTimePrekey = entry.public
		b.OneTimePrekeyID = entry.id
	}
	return b
}

// SignedPrekeyKeyPair returns the store's current signed prekey, for a
// responder seeding its first Triple Ratchet state directly from the same
// key pair its bundle advertised rather than generating a redundant one.
func (s *Store) SignedPrekeyKeyPair() (*hybridkem.PrivateKey, *hybridkem.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedPrekeyPriv, s.signedPrekeyPub
}

// IdentityPublicKey returns the store's long-term identity public key.
func (s *Store) IdentityPublicKey() *signature.PublicKey {
	return s.identity.Public()
}

// IdentityKeyPair returns the store's long-term identity key pair, for
// signing material (such as a file's integrity manifest) beyond the
// prekey bundle signature this package produces internally.
func (s *Store) IdentityKeyPair() *signature.KeyPair {
	return s.identity
}

// consumeOneTime removes and returns the private half of the one-time
// prekey with the given id, for the responder side consuming its own
// bundle's one-time key during EstablishAsResponder. Returns nil if the id
// is unknown (already consumed, or never issued).
func (s *Store) consumeOneTime(id uint32) *hybridkem.PrivateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priv, ok := s.issued[id]; ok {
		delete(s.issued, id)
		return priv
	}
	for i, e := range s.oneTimePool {
		if e.id == id {
			s.oneTimePool = append(s.oneTimePool[:i], s.oneTimePool[i+1:]...)
			return e.private
		}
	}
	return nil
}

// VerifyBundle checks that a remote Bundle's signed prekey signature is
// valid under its claimed identity key, over the transcript bound to the
// bundle's own advertised SignedPrekeyID so a signature from a prior
// rotation cannot be replayed against a newer key.
func VerifyBundle(b *Bundle) error {
	transcript := signedPrekeyTranscript(b.SignedPrekey, b.SignedPrekeyID)
	ok, err := signature.Verify(b.IdentityKey, transcript, b.PrekeySig)
	if err != nil {
		return err
	}
	if !ok {
		return qerrors.ErrInvalidPrekeyBundle
	}
	return nil
}

// EstablishedSecret is the shared secret material produced by either side
// of an asynchronous handshake, ready to seed a Triple Ratchet session.
type EstablishedSecret struct {
	SharedSecret []byte
	UsedOneTime  bool
}

// InitiatorMessage is what the initiator sends to the responder alongside
// its first ratchet message: the ciphertexts the responder needs to
// recompute the same shared secret.
type InitiatorMessage struct {
	SignedPrekeyCiphertext *hybridkem.Ciphertext
	OneTimeCiphertext      *hybridkem.Ciphertext // nil if no one-time prekey was used
	OneTimePrekeyID        uint32
}

// EstablishAsInitiator performs the initiator side of an X3DH-style
// handshake against a fetched remote Bundle: it encapsulates against the
// signed prekey, and additionally against the one-time prekey when the
// bundle carried one, combining both into a single derived secret so an
// attacker must break both encapsulations to recover it. The returned
// InitiatorMessage must be delivered to the responder.
func EstablishAsInitiator(remote *Bundle) (*EstablishedSecret, *InitiatorMessage, error) {
	ct1, secret1, err := hybridkem.Encapsulate(remote.SignedPrekey)
	if err != nil {
		return nil, nil, err
	}

	if remote.OneTimePrekey == nil {
		return &EstablishedSecret{SharedSecret: secret1, UsedOneTime: false},
			&InitiatorMessage{SignedPrekeyCiphertext: ct1}, nil
	}

	ct2, secret2, err := hybridkem.Encapsulate(remote.OneTimePrekey)
	if err != nil {
		return nil, nil, err
	}
	combined, err := combineSecrets(secret1, secret2)
	if err != nil {
		return nil, nil, err
	}
	return &EstablishedSecret{SharedSecret: combined, UsedOneTime: true},
		&InitiatorMessage{
			SignedPrekeyCiphertext: ct1,
			OneTimeCiphertext:      ct2,
			OneTimePrekeyID:        remote.OneTimePrekeyID,
		}, nil
}

// EstablishAsResponder performs the responder side: it decapsulates the
// ciphertexts the initiator sent using this store's own signed prekey
// (and, if present, the one-time prekey identified by
// msg.OneTimePrekeyID, which is consumed exactly once here).
func (s *Store) EstablishAsResponder(msg *InitiatorMessage) (*EstablishedSecret, error) {
	s.mu.Lock()
	signedPriv := s.signedPrekeyPriv
	s.mu.Unlock()

	secret1, err := hybridkem.Decapsulate(signedPriv, msg.SignedPrekeyCiphertext)
	if err != nil {
		return nil, err
	}

	if msg.OneTimeCiphertext == nil {
		return &EstablishedSecret{SharedSecret: secret1, UsedOneTime: false}, nil
	}

	otPriv := s.consumeOneTime(msg.OneTimePrekeyID)
	if otPriv == nil {
		// The one-time prekey the initiator claimed is already gone (raced
		// by a concurrent handshake, or never issued). spec.md §4.F treats
		// this as non-fatal: the session proceeds on the signed prekey's
		// secret alone, with reduced first-message forward secrecy rather
		// than an aborted handshake.
		logging.Global().Warn("one-time prekey not found, proceeding without it", logging.Fields{
			"one_time_prekey_id": msg.OneTimePrekeyID,
		})
		return &EstablishedSecret{SharedSecret: secret1, UsedOneTime: false}, nil
	}
	secret2, err := hybridkem.Decapsulate(otPriv, msg.OneTimeCiphertext)
	if err != nil {
		return nil, err
	}
	combined, err := combineSecrets(secret1, secret2)
	if err != nil {
		return nil, err
	}
	return &EstablishedSecret{SharedSecret: combined, UsedOneTime: true}, nil
}

// combineSecrets merges the signed-prekey and one-time-prekey secrets
// under the closed "combine-key" label, so a one-time prekey's added
// forward secrecy is bound into the result via a PRF rather than XOR or
// concatenation.
func combineSecrets(a, b []byte) ([]byte, error) {
	h := blakeWriter()
	writeLenPrefixed(h, a)
	writeLenPrefixed(h, b)
	transcript := h.Sum256()
	return deriveCombined(transcript[:])
}
