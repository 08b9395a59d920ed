// Package ratchet implements the classical half of the Triple Ratchet
// (component I): an X25519 Double Ratchet, following the same KDF-chain
// structure as ericlagergren-dr's dr.go (root chain, sending chain,
// receiving chain; a lazy, per-direction DH step) but re-expressed with
// this engine's own BLAKE3 KDF instead of an abstract Ratchet interface,
// since every derivation here always goes through one concrete hash.
//
// The send-side DH step is lazy: DHRatchetReceive only updates the
// receiving chain and marks NeedsSendRatchet; the sending chain is only
// rekeyed the next time DHRatchetSend is actually called, which the
// owning Triple Ratchet session decides (on the flag, or periodically).
package ratchet

import (
	"crypto/ecdh"
	"crypto/rand"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
)

// State is one side's Double Ratchet state: the X25519 half of a Triple
// Ratchet session.
type State struct {
	RootKey      []byte
	SendChainKey []byte
	RecvChainKey []byte

	LocalPriv *ecdh.PrivateKey
	LocalPub  *ecdh.PublicKey
	PeerPub   *ecdh.PublicKey

	SendN            uint64
	RecvN            uint64
	PrevChainLen     uint64
	NeedsSendRatchet bool
}

// New seeds a Double Ratchet state from a root key and initial send/receive
// chain keys already derived by the owning Triple Ratchet (which assigns
// send-chain/recv-chain labels according to initiator/responder parity).
func New(rootKey, sendChainKey, recvChainKey []byte, localPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) *State {
	s := &State{
		RootKey:      rootKey,
		SendChainKey: sendChainKey,
		RecvChainKey: recvChainKey,
		LocalPriv:    localPriv,
		PeerPub:      peerPub,
	}
	if localPriv != nil {
		s.LocalPub = localPriv.PublicKey()
	}
	return s
}

// GenerateKeyPair creates a fresh X25519 key pair for ratchet bootstrapping.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("ratchet.GenerateKeyPair", err)
	}
	return priv, nil
}

// deriveRootChainPair derives a fresh (root key, chain key) pair from the
// prior root key and a new DH output, under the closed "chain-key" label.
func deriveRootChainPair(rootKey, dhOutput []byte) ([]byte, []byte, error) {
	transcript := transcriptHash(rootKey, dhOutput)
	outs, err := blake3hash.DeriveKeys(constants.LabelChainKey, transcript[:], 32, 32)
	if err != nil {
		return nil, nil, err
	}
	return outs[0], outs[1], nil
}

// deriveHybridRootChainPair is deriveRootChainPair's counterpart for a send
// ratchet step: spec.md §4.I step 2 requires the new root key to combine
// both the fresh DH output and the PQ ratchet's currently adopted epoch
// secret, so that a classical-only break of the DH step cannot alone
// desynchronize or predict the hybrid root key.
func deriveHybridRootChainPair(rootKey, dhOutput, pqEpochSecret []byte) ([]byte, []byte, error) {
	transcript := transcriptHash(rootKey, dhOutput, pqEpochSecret)
	outs, err := blake3hash.DeriveKeys(constants.LabelChainKey, transcript[:], 32, 32)
	if err != nil {
		return nil, nil, err
	}
	return outs[0], outs[1], nil
}

func transcriptHash(fields ...[]byte) [32]byte {
	return blake3hash.TranscriptHash(fields...)
}

// DHRatchetReceive is performed when a message arrives carrying a peer DH
// public key different from the one on file: it updates the receiving
// chain using our existing local private key against the new peer public
// key, resets the receive message counter, and marks NeedsSendRatchet so
// the next Encrypt call performs the matching DHRatchetSend.
func (s *State) DHRatchetReceive(newPeerPub *ecdh.PublicKey) error {
	dh, err := s.LocalPriv.ECDH(newPeerPub)
	if err != nil {
		return qerrors.NewCryptoError("ratchet.DHRatchetReceive", err)
	}
	newRoot, newChain, err := deriveRootChainPair(s.RootKey, dh)
	if err != nil {
		return err
	}
	s.PeerPub = newPeerPub
	s.RootKey = newRoot
	s.RecvChainKey = newChain
	s.RecvN = 0
	s.NeedsSendRatchet = true
	return nil
}

// DHRatchetSend generates a fresh local X25519 key pair, derives a new root
// and sending chain against the peer's current public key combined with the
// PQ ratchet's current epoch secret (spec.md §4.I step 2), records the old
// send counter as PrevChainLen (so the receiver knows how far to drain the
// old chain), and resets the send counter.
func (s *State) DHRatchetSend(pqEpochSecret []byte) error {
	priv, err := GenerateKeyPair()
	if err != nil {
		return err
	}
	dh, err := priv.ECDH(s.PeerPub)
	if err != nil {
		return qerrors.NewCryptoError("ratchet.DHRatchetSend", err)
	}
	newRoot, newChain, err := deriveHybridRootChainPair(s.RootKey, dh, pqEpochSecret)
	if err != nil {
		return err
	}

	oldLocal := s.LocalPriv
	s.PrevChainLen = s.SendN
	s.RootKey = newRoot
	s.SendChainKey = newChain
	s.LocalPriv = priv
	s.LocalPub = priv.PublicKey()
	s.SendN = 0
	s.NeedsSendRatchet = false
	_ = oldLocal // crypto/ecdh exposes no in-place zeroization; dropped reference only
	return nil
}

// deriveMessageKey derives a one-shot message key from a chain key and
// message number, per spec.md's defense against chain-key desynchronization
// (the message number MUST be part of the derivation input).
func deriveMessageKey(chainKey []byte, msgNumber uint64) ([]byte, error) {
	var nbuf [8]byte
	putUint64BE(nbuf[:], msgNumber)
	ikm := make([]byte, 0, len(chainKey)+8)
	ikm = append(ikm, chainKey...)
	ikm = append(ikm, nbuf[:]...)
	return blake3hash.DeriveKey(constants.LabelMessageKey, ikm, 32)
}

// advanceChainKey derives the next step of a symmetric chain from its
// current key, under the closed "chain-key" label.
func advanceChainKey(chainKey []byte) ([]byte, error) {
	return blake3hash.DeriveKey(constants.LabelChainKey, chainKey, 32)
}

func putUint64BE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
}

// AdvanceSendChain derives the message key for the current send message
// number, then steps the sending chain key forward and increments SendN.
func (s *State) AdvanceSendChain() (msgKey []byte, msgNumber uint64, err error) {
	msgKey, err = deriveMessageKey(s.SendChainKey, s.SendN)
	if err != nil {
		return nil, 0, err
	}
	msgNumber = s.SendN
	s.SendChainKey, err = advanceChainKey(s.SendChainKey)
	if err != nil {
		return nil, 0, err
	}
	s.SendN++
	return msgKey, msgNumber, nil
}

// DeriveRecvMessageKey derives (but does not commit) the message key for
// msgNumber against the current receive chain, without advancing state.
// Used by the Triple Ratchet both for in-order receipt (followed by
// AdvanceRecvChain) and for draining skipped keys ahead of the current
// RecvN.
func (s *State) DeriveRecvMessageKey(msgNumber uint64) ([]byte, error) {
	return deriveMessageKey(s.RecvChainKey, msgNumber)
}

// AdvanceRecvChain steps the receiving chain key forward one position and
// increments RecvN, after its message key has already been derived via
// DeriveRecvMessageKey.
func (s *State) AdvanceRecvChain() error {
	next, err := advanceChainKey(s.RecvChainKey)
	if err != nil {
		return err
	}
	s.RecvChainKey = next
	s.RecvN++
	return nil
}

// Wipe zeroizes every chain key and root key field. LocalPriv/PeerPub hold
// no exported raw bytes in crypto/ecdh's representation and are simply
// dropped.
func (s *State) Wipe() {
	wipe(s.RootKey)
	wipe(s.SendChainKey)
	wipe(s.RecvChainKey)
	s.LocalPriv = nil
	s.LocalPub = nil
	s.PeerPub = nil
}

//go:noinline
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
