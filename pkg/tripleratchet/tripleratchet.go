// Package tripleratchet implements the Triple Ratchet (component I): a
// Double Ratchet (pkg/ratchet) layered over a Sparse Post-Quantum Ratchet
// (pkg/pqratchet), combining one message key from each per step so that
// breaking either the classical or the post-quantum half alone does not
// recover a message. Out-of-order delivery is handled with a bounded
// skipped-key map, following the same shape as ericlagergren-dr's
// Store-backed skip/drain, but keyed here by (peer DH public key bytes,
// message number) since this engine keeps the map inline in the session
// rather than behind a pluggable Store interface.
package tripleratchet

import (
	"crypto/ecdh"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/pkg/aead"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
	"github.com/tallowteam/Tallow-sub004/pkg/pqratchet"
	"github.com/tallowteam/Tallow-sub004/pkg/ratchet"
)

// Message is the decoded form of a WireMessage's ratchet-relevant fields;
// pkg/wire owns the actual byte encoding and framing.
type Message struct {
	Cipher           constants.CipherSuite
	Epoch            uint32
	MessageNumber    uint64
	SenderDHPublic   *ecdh.PublicKey
	PreviousChainLen uint32
	KEMCiphertext    []byte // present only on a PQ epoch-advance carrier message
	Chunk            *aead.Chunk
}

// skippedKey identifies one buffered, not-yet-consumed message key.
type skippedKey struct {
	peerDHPub [32]byte
	msgNumber uint64
}

// Session is one side of a Triple Ratchet conversation. Exactly one
// goroutine may call Encrypt/Decrypt at a time per spec's single-threaded
// cooperative model; this package performs no internal locking of its own.
type Session struct {
	dr     *ratchet.State
	pq     *pqratchet.Ratchet
	cipher constants.CipherSuite

	// sendSentinel/recvSentinel are each constructed once in New and
	// rekeyed in place on every Encrypt/Decrypt: spec.md requires one
	// Sentinel per session per direction with a nonce counter that
	// strictly increases across the whole conversation, even though the
	// combined message key it is rekeyed with changes on every message.
	sendSentinel *aead.Sentinel
	recvSentinel *aead.Sentinel

	closed bool

	maxSkipped int
	skipped    map[skippedKey][]byte
}

// Config bundles the parameters needed to construct a Session. The
// pqratchet.Ratchet is constructed separately (it additionally needs the
// local and peer ML-KEM-768 key material) and passed in directly.
type Config struct {
	IsInitiator    bool
	InitialSecret  []byte // from the prekey handshake (pkg/prekey.EstablishedSecret)
	LocalDHPriv    *ecdh.PrivateKey
	PeerDHPub      *ecdh.PublicKey
	Cipher         constants.CipherSuite
	MaxSkippedKeys int
}

// New constructs a Session. Root key and initial chain keys are derived
// from InitialSecret under the closed "hybrid-kex", "send-chain", and
// "recv-chain" labels, with initiator and responder assigned opposite
// chains so each side's send chain is the other's receive chain.
func New(cfg Config, pq *pqratchet.Ratchet) (*Session, error) {
	rootKey, err := blake3hash.DeriveKey(constants.LabelHybridKEX, cfg.InitialSecret, 32)
	if err != nil {
		return nil, err
	}
	initiatorChains, err := blake3hash.DeriveKeys(constants.LabelSendChain, rootKey, 32)
	if err != nil {
		return nil, err
	}
	responderChains, err := blake3hash.DeriveKeys(constants.LabelRecvChain, rootKey, 32)
	if err != nil {
		return nil, err
	}

	var sendChain, recvChain []byte
	if cfg.IsInitiator {
		sendChain, recvChain = initiatorChains[0], responderChains[0]
	} else {
		sendChain, recvChain = responderChains[0], initiatorChains[0]
	}

	dr := ratchet.New(rootKey, sendChain, recvChain, cfg.LocalDHPriv, cfg.PeerDHPub)

	maxSkipped := cfg.MaxSkippedKeys
	if maxSkipped <= 0 {
		maxSkipped = constants.DefaultMaxSkippedKeys
	}

	// The Sentinels are constructed once, here, against a placeholder key:
	// the first Rekey call in Encrypt/Decrypt replaces it with the real
	// combined message key before anything is ever sealed or opened. What
	// must survive across every subsequent message is the Sentinel's
	// identity and its monotonic per-direction nonce counter, not this
	// placeholder.
	placeholder := make([]byte, constants.AEADKeySize)
	sendSentinel, err := aead.New(cfg.Cipher, placeholder, constants.DirectionSender)
	if err != nil {
		return nil, err
	}
	recvSentinel, err := aead.New(cfg.Cipher, placeholder, constants.DirectionReceive)
	if err != nil {
		return nil, err
	}

	return &Session{
		dr:           dr,
		pq:           pq,
		cipher:       cfg.Cipher,
		sendSentinel: sendSentinel,
		recvSentinel: recvSentinel,
		maxSkipped:   maxSkipped,
		skipped:      make(map[skippedKey][]byte),
	}, nil
}

func combineMessageKeys(dhKey, pqKey []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(dhKey)+len(pqKey))
	ikm = append(ikm, dhKey...)
	ikm = append(ikm, pqKey...)
	return blake3hash.DeriveKey(constants.LabelCombineKey, ikm, 32)
}

// Encrypt implements spec.md §4.I's five-step encrypt state machine.
func (s *Session) Encrypt(plaintext, associatedData []byte) (*Message, error) {
	if s.closed {
		return nil, qerrors.ErrSessionClosed
	}

	pqEpoch, kemCiphertext, err := s.pq.PrepareSend()
	if err != nil {
		return nil, err
	}

	if s.dr.NeedsSendRatchet || (s.dr.SendN != 0 && s.dr.SendN%constants.DHRatchetMessageInterval == 0) {
		if err := s.dr.DHRatchetSend(s.pq.CurrentEpochSecret()); err != nil {
			return nil, err
		}
	}

	dhMsgKey, msgNumber, err := s.dr.AdvanceSendChain()
	if err != nil {
		return nil, err
	}

	pqMsgKey, err := s.pq.MessageKeyForSend(msgNumber)
	if err != nil {
		return nil, err
	}

	combined, err := combineMessageKeys(dhMsgKey, pqMsgKey)
	if err != nil {
		return nil, err
	}

	if err := s.sendSentinel.Rekey(combined); err != nil {
		return nil, err
	}
	chunk, err := s.sendSentinel.EncryptChunk(plaintext, associatedData)
	if err != nil {
		return nil, err
	}

	if kemCiphertext != nil {
		// Stands in for a transport ACK on the carrier message: this
		// library has no transport layer of its own, so the epoch is
		// adopted as soon as the carrier message is formed rather than
		// once delivery is confirmed.
		if err := s.pq.ConfirmEpochAdvance(); err != nil {
			return nil, err
		}
	}

	return &Message{
		Cipher:           chunk.Cipher,
		Epoch:            uint32(pqEpoch),
		MessageNumber:    msgNumber,
		SenderDHPublic:   s.dr.LocalPub,
		PreviousChainLen: uint32(s.dr.PrevChainLen),
		KEMCiphertext:    kemCiphertext,
		Chunk:            chunk,
	}, nil
}

// Decrypt implements spec.md §4.I's seven-step decrypt state machine.
func (s *Session) Decrypt(msg *Message, associatedData []byte) ([]byte, error) {
	if s.closed {
		return nil, qerrors.ErrSessionClosed
	}

	if !publicKeyEqual(msg.SenderDHPublic, s.dr.PeerPub) {
		if err := s.drainSkipped(uint64(msg.PreviousChainLen)); err != nil {
			return nil, err
		}
		if err := s.dr.DHRatchetReceive(msg.SenderDHPublic); err != nil {
			return nil, err
		}
	}

	dhMsgKey, err := s.resolveRecvKey(msg.MessageNumber)
	if err != nil {
		return nil, err
	}

	pqMsgKey, err := s.pq.ProcessReceive(uint64(msg.Epoch), msg.MessageNumber, msg.KEMCiphertext)
	if err != nil {
		return nil, err
	}

	combined, err := combineMessageKeys(dhMsgKey, pqMsgKey)
	if err != nil {
		return nil, err
	}

	if err := s.recvSentinel.Rekey(combined); err != nil {
		return nil, err
	}
	return s.recvSentinel.DecryptChunk(msg.Chunk, associatedData)
}

// resolveRecvKey returns the DH message key for msgNumber: from the
// skipped-key map if it was already buffered, by draining intervening
// keys into that map if msgNumber is ahead of the current receive
// position, or by advancing the receive chain directly if msgNumber is
// exactly the next expected message.
func (s *Session) resolveRecvKey(msgNumber uint64) ([]byte, error) {
	key := skippedKey{peerDHPub: publicKeyBytes(s.dr.PeerPub), msgNumber: msgNumber}
	if stored, ok := s.skipped[key]; ok {
		delete(s.skipped, key)
		return stored, nil
	}

	if msgNumber > s.dr.RecvN {
		if err := s.bufferUpTo(msgNumber); err != nil {
			return nil, err
		}
		stored, ok := s.skipped[key]
		if !ok {
			return nil, qerrors.ErrReceiveSkipLimitExceeded
		}
		delete(s.skipped, key)
		return stored, nil
	}

	if msgNumber < s.dr.RecvN {
		return nil, qerrors.ErrReceiveSkipLimitExceeded
	}

	k, err := s.dr.DeriveRecvMessageKey(msgNumber)
	if err != nil {
		return nil, err
	}
	if err := s.dr.AdvanceRecvChain(); err != nil {
		return nil, err
	}
	return k, nil
}

// drainSkipped buffers every message key from the current receive
// position up to (but not including) until, ahead of an incoming DH
// ratchet step that is about to supersede the current receive chain.
func (s *Session) drainSkipped(until uint64) error {
	if until <= s.dr.RecvN {
		return nil
	}
	return s.bufferUpTo(until - 1)
}

// bufferUpTo derives and stores every message key from the current
// receive position through upTo (inclusive), advancing the chain past
// each one.
func (s *Session) bufferUpTo(upTo uint64) error {
	for s.dr.RecvN <= upTo {
		if len(s.skipped) >= s.maxSkipped {
			return qerrors.ErrReceiveSkipLimitExceeded
		}
		k, err := s.dr.DeriveRecvMessageKey(s.dr.RecvN)
		if err != nil {
			return err
		}
		key := skippedKey{peerDHPub: publicKeyBytes(s.dr.PeerPub), msgNumber: s.dr.RecvN}
		s.skipped[key] = k
		if err := s.dr.AdvanceRecvChain(); err != nil {
			return err
		}
	}
	return nil
}

func publicKeyBytes(pub *ecdh.PublicKey) [32]byte {
	var out [32]byte
	if pub == nil {
		return out
	}
	copy(out[:], pub.Bytes())
	return out
}

func publicKeyEqual(a, b *ecdh.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return publicKeyBytes(a) == publicKeyBytes(b)
}

// RootKeySnapshot returns a copy of the ratchet's current root key. The
// session never exposes a broader "shared secret" than this. SAS
// derivation in pkg/session does not use it: it uses the secret fixed at
// the handshake, which does not change as the root key rotates.
func (s *Session) RootKeySnapshot() []byte {
	out := make([]byte, len(s.dr.RootKey))
	copy(out, s.dr.RootKey)
	return out
}

// Destroy zeroizes every retained secret and marks the session closed.
// Every subsequent Encrypt/Decrypt call fails with ErrSessionClosed.
func (s *Session) Destroy() {
	s.dr.Wipe()
	s.pq.Wipe()
	s.sendSentinel.Wipe()
	s.recvSentinel.Wipe()
	for k, v := range s.skipped {
		for i := range v {
			v[i] = 0
		}
		delete(s.skipped, k)
	}
	s.closed = true
}
