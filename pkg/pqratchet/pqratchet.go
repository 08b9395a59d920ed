// Package pqratchet implements the Sparse Post-Quantum Ratchet (component
// H): periodic ML-KEM-768 re-encapsulation layered underneath the Double
// Ratchet in pkg/ratchet, so that even if the classical X25519 ratchet is
// ever broken by a quantum adversary, past epochs stay forward-secret
// under the post-quantum KEM. It advances far less often than the
// per-message Double Ratchet DH step (hence "sparse") — on a message-count
// or epoch-age threshold rather than every message.
//
// Unlike a Diffie-Hellman ratchet, a KEM step needs no round trip to
// generate: the sender can encapsulate against the peer's last-known
// public key as soon as the threshold is crossed. Adoption is still
// deferred to ConfirmEpochAdvance, mirroring the teacher's rekey
// bookkeeping in pkg/tunnel/session.go (a keypair pending activation, an
// activation point, atomic cutover) generalized from a one-shot rekey into
// a steady, repeating cycle — so a lost carrier message cannot leave the
// sender's adopted epoch ahead of what the peer has actually confirmed.
package pqratchet

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/internal/logging"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
	"github.com/tallowteam/Tallow-sub004/pkg/secure"
)

// Config bounds when a new epoch should be proposed.
type Config struct {
	MessageThreshold int           // advance after this many messages in the current epoch
	EpochMaxAge      time.Duration // advance after this much wall-clock time
}

// DefaultConfig returns the negotiation defaults from internal/constants.
func DefaultConfig() Config {
	return Config{
		MessageThreshold: constants.DefaultMessageThreshold,
		EpochMaxAge:      time.Duration(constants.DefaultEpochAgeMillis) * time.Millisecond,
	}
}

// Validate enforces spec §4.H's negotiation bounds.
func (c Config) Validate() error {
	if c.MessageThreshold < constants.MinMessageThreshold || c.MessageThreshold > constants.MaxMessageThreshold {
		return qerrors.ErrInvalidMessage
	}
	ms := c.EpochMaxAge.Milliseconds()
	if ms < constants.MinEpochAgeMillis || ms > constants.MaxEpochAgeMillis {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// Negotiate takes the minimum of each field of a and b, the rule spec.md
// §4.H specifies for reconciling two peers' configured thresholds.
func Negotiate(a, b Config) Config {
	out := a
	if b.MessageThreshold < out.MessageThreshold {
		out.MessageThreshold = b.MessageThreshold
	}
	if b.EpochMaxAge < out.EpochMaxAge {
		out.EpochMaxAge = b.EpochMaxAge
	}
	return out
}

// pendingOutbound is a KEM proposal this side has generated and attached to
// an outgoing message, awaiting ConfirmEpochAdvance before the new epoch is
// actually adopted.
type pendingOutbound struct {
	epoch      uint64
	ciphertext []byte
	secret     *secure.Bytes // candidate combined epoch secret, not yet adopted
	newPriv    *mlkem768.PrivateKey
	newPub     *mlkem768.PublicKey
}

// Ratchet tracks one side's epoch lifecycle: the key material currently in
// force, a short-lived previous epoch's secret (kept one epoch for
// transition, matching HybridKeyPair's lifecycle in spec.md §3), this
// side's own KEM keypair, the peer's most recently received public key,
// and at most one pending outbound proposal.
type Ratchet struct {
	cfg         Config
	isInitiator bool

	// epochSecret/prevEpochSecret are held in component A SecureBytes
	// buffers rather than plain slices, per spec.md §3's Data Model
	// invariant for long-lived derived secrets.
	epoch           uint64
	epochSecret     *secure.Bytes
	prevEpoch       uint64
	prevEpochSecret *secure.Bytes
	hasPrevEpoch    bool

	messagesInEpoch int
	epochCreatedAt  time.Time

	selfPriv *mlkem768.PrivateKey
	selfPub  *mlkem768.PublicKey
	peerPub  *mlkem768.PublicKey

	pending *pendingOutbound
}

// New creates a ratchet seeded with epoch 0 derived from seed (typically
// the session's hybrid handshake shared secret), this side's own initial
// ML-KEM-768 keypair, and the peer's initial public key (nil if not yet
// known; PrepareSend fails with ErrPeerKeyUnknown until it is set).
func New(cfg Config, seed []byte, isInitiator bool, selfPriv *mlkem768.PrivateKey, selfPub *mlkem768.PublicKey, peerPub *mlkem768.PublicKey) (*Ratchet, error) {
	key, err := blake3hash.DeriveKey(constants.LabelSCKAEpochKey, seed, 32)
	if err != nil {
		return nil, err
	}
	epochSecret, err := secure.Take(key, "pqratchet.epochSecret")
	if err != nil {
		return nil, err
	}
	return &Ratchet{
		cfg:            cfg,
		isInitiator:    isInitiator,
		epochSecret:    epochSecret,
		epochCreatedAt: time.Now(),
		selfPriv:       selfPriv,
		selfPub:        selfPub,
		peerPub:        peerPub,
	}, nil
}

// Epoch returns the currently adopted epoch index.
func (r *Ratchet) Epoch() uint64 { return r.epoch }

// CurrentEpochSecret returns a copy of the currently adopted epoch's
// combined secret, for the Double Ratchet to fold into its own root key
// derivation on a DH ratchet step (spec.md §4.I step 2): the hybrid root
// key must advance with both the new DH output and the PQ ratchet's state,
// not the DH output alone.
func (r *Ratchet) CurrentEpochSecret() []byte {
	data, err := r.epochSecret.Data()
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// SelfPublicKey returns this side's current ML-KEM-768 public key, for
// publishing to the peer out of band (e.g. embedded in the prekey bundle
// or the first ratchet message).
func (r *Ratchet) SelfPublicKey() *mlkem768.PublicKey { return r.selfPub }

// SetPeerPublicKey records the peer's ML-KEM-768 public key, once learned.
func (r *Ratchet) SetPeerPublicKey(pub *mlkem768.PublicKey) { r.peerPub = pub }

// ShouldAdvanceEpoch reports whether the local side should propose a new
// epoch on its next outgoing message, either because enough messages have
// been sent in this one or it has been open too long.
func (r *Ratchet) ShouldAdvanceEpoch() bool {
	if r.messagesInEpoch >= r.cfg.MessageThreshold {
		return true
	}
	return time.Since(r.epochCreatedAt) >= r.cfg.EpochMaxAge
}

// parityMatches reports whether this side is the one responsible for
// advancing past the current epoch: spec.md §3 assigns initiator to even
// epochs, responder to odd ones.
func (r *Ratchet) parityMatches() bool {
	if r.isInitiator {
		return r.epoch%2 == 0
	}
	return r.epoch%2 == 1
}

// PrepareSend increments the per-epoch message counter and reports the
// epoch the outgoing message should be tagged with. If the advance
// threshold is due, this side owns the current parity, and no proposal is
// already outstanding, it additionally generates a fresh KEM ciphertext
// against the peer's known public key and stages it as a pending proposal
// — returned here so the caller can attach it to the outgoing message, but
// not yet adopted (see ConfirmEpochAdvance). If a proposal is already
// pending, the same ciphertext is returned again rather than generating a
// second one, so retransmission of the carrier message doesn't fork the
// epoch sequence. The message key itself is derived separately by
// MessageKeyForSend once the caller knows the final wire message number
// (the Double Ratchet's send-chain counter may still reset after this
// call, per spec.md §4.I step 2).
func (r *Ratchet) PrepareSend() (epoch uint64, kemCiphertext []byte, err error) {
	r.messagesInEpoch++

	if r.pending != nil {
		return r.epoch, r.pending.ciphertext, nil
	}
	if !r.ShouldAdvanceEpoch() || !r.parityMatches() || r.peerPub == nil {
		return r.epoch, nil, nil
	}

	ct, _, err := r.proposeAdvance()
	if err != nil {
		return 0, nil, err
	}
	return r.epoch, ct, nil
}

// MessageKeyForSend derives the message key for an outgoing message
// tagged with msgNumber, under the epoch that was current as of the most
// recent PrepareSend call (PrepareSend only stages an epoch advance; it
// never commits one, so this always uses r.epoch).
func (r *Ratchet) MessageKeyForSend(msgNumber uint64) ([]byte, error) {
	epochSecret, err := r.epochSecret.Data()
	if err != nil {
		return nil, err
	}
	return r.deriveMessageKey(r.epoch, epochSecret, msgNumber)
}

func (r *Ratchet) proposeAdvance() (ciphertext, secret []byte, err error) {
	ct := make([]byte, mlkem768.CiphertextSize)
	ss := make([]byte, mlkem768.SharedKeySize)
	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, qerrors.NewCryptoError("pqratchet.PrepareSend", err)
	}
	r.peerPub.EncapsulateTo(ct, ss, seed)

	epochSecret, err := r.epochSecret.Data()
	if err != nil {
		return nil, nil, err
	}
	newSecretBytes, err := combineEpochKeys(epochSecret, ss)
	if err != nil {
		return nil, nil, err
	}
	newSecret, err := secure.Take(newSecretBytes, "pqratchet.pendingEpochSecret")
	if err != nil {
		return nil, nil, err
	}

	newPub, newPriv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("pqratchet.PrepareSend", err)
	}

	r.pending = &pendingOutbound{
		epoch:      r.epoch + 1,
		ciphertext: ct,
		secret:     newSecret,
		newPriv:    newPriv,
		newPub:     newPub,
	}
	plainSecret, err := newSecret.Data()
	if err != nil {
		return nil, nil, err
	}
	return ct, plainSecret, nil
}

// ConfirmEpochAdvance commits a previously staged pending proposal: the
// staged epoch secret is adopted, this side's KEM key pair rotates to the
// freshly generated one, and the prior epoch's secret is retained one
// epoch for transition (messages still arriving tagged with the old epoch
// can still be decrypted) before being wiped on the epoch after that; the
// prior KEM key pair is not retained. Fails with ErrNoPendingEpoch if PrepareSend never staged one
// (e.g. it was called before the advance threshold was reached).
func (r *Ratchet) ConfirmEpochAdvance() error {
	if r.pending == nil {
		return qerrors.ErrNoPendingEpoch
	}
	p := r.pending
	r.pending = nil

	if r.hasPrevEpoch {
		r.prevEpochSecret.Zero()
	}
	r.prevEpoch = r.epoch
	r.prevEpochSecret = r.epochSecret
	r.hasPrevEpoch = true

	r.epoch = p.epoch
	r.epochSecret = p.secret
	r.selfPriv = p.newPriv
	r.selfPub = p.newPub
	r.messagesInEpoch = 0
	r.epochCreatedAt = time.Now()
	logging.Global().Info("pq epoch advanced", logging.EpochFields(r.epoch, r.isInitiator))
	return nil
}

// ProcessReceive derives the message key for an incoming message tagged
// with the given epoch and message number. If epoch is the currently
// adopted epoch (or the immediately preceding one, still retained for
// transition), the key is derived directly. A carrier message is still
// tagged and encrypted under its sender's pre-advance epoch (the sender
// adopts its new epoch only after forming this message, see Encrypt), so
// an attached kemCiphertext is processed as a side effect of the
// epoch == r.epoch case: this side's own epoch is advanced in preparation
// for the peer's next message (which will be tagged epoch+1 and carry no
// further ciphertext), while this call's returned key still matches the
// epoch the message was actually encrypted under. If epoch is exactly one
// ahead of the adopted epoch and still carries a ciphertext (e.g. a
// retransmitted carrier, or simultaneous advance from both peers), the
// same adoption runs before deriving the key under the new epoch. A
// message from a future epoch with no accompanying ciphertext cannot be
// processed yet and returns ErrFutureEpoch for the caller to buffer.
func (r *Ratchet) ProcessReceive(epoch uint64, msgNumber uint64, kemCiphertext []byte) ([]byte, error) {
	switch {
	case epoch == r.epoch:
		epochSecret, err := r.epochSecret.Data()
		if err != nil {
			return nil, err
		}
		key, err := r.deriveMessageKey(r.epoch, epochSecret, msgNumber)
		if err != nil {
			return nil, err
		}
		if len(kemCiphertext) > 0 {
			if err := r.adoptEpochAdvance(kemCiphertext); err != nil {
				return nil, err
			}
		}
		return key, nil

	case r.hasPrevEpoch && epoch == r.prevEpoch:
		prevSecret, err := r.prevEpochSecret.Data()
		if err != nil {
			return nil, err
		}
		return r.deriveMessageKey(r.prevEpoch, prevSecret, msgNumber)

	case epoch == r.epoch+1 && len(kemCiphertext) > 0:
		if err := r.adoptEpochAdvance(kemCiphertext); err != nil {
			return nil, err
		}
		epochSecret, err := r.epochSecret.Data()
		if err != nil {
			return nil, err
		}
		return r.deriveMessageKey(r.epoch, epochSecret, msgNumber)

	default:
		return nil, qerrors.ErrFutureEpoch
	}
}

// adoptEpochAdvance decapsulates a peer-proposed KEM ciphertext, combines
// it into the current epoch secret, rotates this side's own ML-KEM-768
// keypair, and retires the prior epoch's secret to one-epoch transition
// storage. Idempotent against being called twice for the same proposal is
// NOT guaranteed by this function alone; callers only invoke it once per
// distinct carrier message (epoch == r.epoch with a ciphertext fires at
// most once before r.epoch itself changes).
func (r *Ratchet) adoptEpochAdvance(kemCiphertext []byte) error {
	ss := make([]byte, mlkem768.SharedKeySize)
	r.selfPriv.DecapsulateTo(ss, kemCiphertext)

	epochSecret, err := r.epochSecret.Data()
	if err != nil {
		return err
	}
	newSecretBytes, err := combineEpochKeys(epochSecret, ss)
	if err != nil {
		return err
	}
	newSecret, err := secure.Take(newSecretBytes, "pqratchet.epochSecret")
	if err != nil {
		return err
	}

	newPub, newPriv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return qerrors.NewCryptoError("pqratchet.ProcessReceive", err)
	}

	if r.hasPrevEpoch {
		r.prevEpochSecret.Zero()
	}
	r.prevEpoch = r.epoch
	r.prevEpochSecret = r.epochSecret
	r.hasPrevEpoch = true

	r.epoch++
	r.epochSecret = newSecret
	r.selfPriv = newPriv
	r.selfPub = newPub
	r.messagesInEpoch = 0
	r.epochCreatedAt = time.Now()
	logging.Global().Info("pq epoch adopted", logging.EpochFields(r.epoch, r.isInitiator))
	return nil
}

// deriveMessageKey derives a one-shot message key under the closed
// "scka-msg-key" label, per spec.md §4.H:
// derive_key("scka-msg-key", epoch_secret || epoch_be32 || msg_number_be32).
func (r *Ratchet) deriveMessageKey(epoch uint64, epochSecret []byte, msgNumber uint64) ([]byte, error) {
	ikm := make([]byte, 0, len(epochSecret)+8)
	ikm = append(ikm, epochSecret...)
	ikm = appendUint32BE(ikm, uint32(epoch))
	ikm = appendUint32BE(ikm, uint32(msgNumber))
	return blake3hash.DeriveKey(constants.LabelSCKAMsgKey, ikm, 32)
}

func appendUint32BE(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func combineEpochKeys(priorEpochKey, kemOutput []byte) ([]byte, error) {
	h := blake3hash.New()
	writeLenPrefixed(h, priorEpochKey)
	writeLenPrefixed(h, kemOutput)
	transcript := h.Sum256()
	return blake3hash.DeriveKey(constants.LabelSCKACombine, transcript[:], 32)
}

func writeLenPrefixed(h *blake3hash.Hasher, b []byte) {
	var lenBuf [8]byte
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(len(b) >> (8 * i))
	}
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}

// Wipe zeroizes every retained epoch secret. The ML-KEM key pair is simply
// dropped, as CIRCL exposes no in-place zeroization of its internal
// representation.
func (r *Ratchet) Wipe() {
	r.epochSecret.Zero()
	if r.hasPrevEpoch {
		r.prevEpochSecret.Zero()
	}
	if r.pending != nil {
		r.pending.secret.Zero()
	}
	r.selfPriv = nil
	r.selfPub = nil
	r.peerPub = nil
}
