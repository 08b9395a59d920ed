// Package session implements the Session Orchestrator (component K):
// wiring the prekey store (component F), the Triple Ratchet (component I),
// the AEAD Sentinel (component G), SAS derivation (component J), and the
// Merkle integrity manifest (component C) into the single entry point an
// application actually calls. Grounded on the teacher's
// pkg/tunnel/session.go (Session struct owning role, ciphers, stats, an
// atomic state, Encrypt/Decrypt/Close) and pkg/tunnel/handshake.go
// (separate initiator/responder handshake functions), repurposed here to
// drive the asynchronous prekey handshake into a Triple Ratchet session
// instead of the teacher's single CH-KEM handshake into a static AEAD
// pair.
package session

import (
	"crypto/ecdh"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/internal/logging"
	"github.com/tallowteam/Tallow-sub004/pkg/merkle"
	"github.com/tallowteam/Tallow-sub004/pkg/pqratchet"
	"github.com/tallowteam/Tallow-sub004/pkg/prekey"
	"github.com/tallowteam/Tallow-sub004/pkg/sas"
	"github.com/tallowteam/Tallow-sub004/pkg/signature"
	"github.com/tallowteam/Tallow-sub004/pkg/tripleratchet"
	"github.com/tallowteam/Tallow-sub004/pkg/wire"
)

// state mirrors the teacher's atomic session-state enum.
type state int32

const (
	stateOpen state = iota
	stateClosed
)

// Session is one established, bidirectional Triple Ratchet conversation.
type Session struct {
	mu    sync.Mutex
	state atomic.Int32

	ratchet   *tripleratchet.Session
	sessionID []byte

	// sasSecret is captured once at OpenSession, from the handshake's
	// established shared secret rather than the Double Ratchet's
	// continually mutating root key, so the SAS phrase stays the same
	// word-for-word for the life of the conversation: spec.md §4.K treats
	// SAS derivation as a one-time step of session establishment, and a
	// phrase that drifted as messages were exchanged would be useless for
	// out-of-band MITM verification.
	sasSecret []byte

	stats Stats
}

// Stats tracks basic per-session counters, in the teacher's style of
// exposing plain counters alongside the cryptographic state.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// PeerMaterial is what open_session needs about the remote party beyond
// the already-established shared secret: its current DH and PQ ratchet
// public keys, learned from its prekey bundle or a prior message.
type PeerMaterial struct {
	DHPublic *ecdh.PublicKey
	PQPublic *mlkem768.PublicKey
}

// OpenSession constructs a Session from an already-established shared
// secret (the output of pkg/prekey's X3DH-style handshake), the local
// side's fresh Triple Ratchet key material, and the peer's known public
// keys (nil fields are filled in lazily from the first received message).
func OpenSession(isInitiator bool, sharedSecret []byte, localDHPriv *ecdh.PrivateKey, localPQPriv *mlkem768.PrivateKey, localPQPub *mlkem768.PublicKey, peer PeerMaterial, cipher constants.CipherSuite, sessionID []byte) (*Session, error) {
	pq, err := pqratchet.New(pqratchet.DefaultConfig(), sharedSecret, isInitiator, localPQPriv, localPQPub, peer.PQPublic)
	if err != nil {
		return nil, err
	}

	rCfg := tripleratchet.Config{
		IsInitiator:   isInitiator,
		InitialSecret: sharedSecret,
		LocalDHPriv:   localDHPriv,
		PeerDHPub:     peer.DHPublic,
		Cipher:        cipher,
	}
	rs, err := tripleratchet.New(rCfg, pq)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ratchet:   rs,
		sessionID: append([]byte(nil), sessionID...),
		sasSecret: append([]byte(nil), sharedSecret...),
	}
	s.state.Store(int32(stateOpen))
	logging.Global().ForSession(s.sessionID).Info("session established", logging.Fields{"initiator": isInitiator})
	return s, nil
}

// Encrypt produces a WireMessage ready for transport.
func (s *Session) Encrypt(plaintext, associatedData []byte) (*wire.WireMessage, error) {
	if state(s.state.Load()) == stateClosed {
		return nil, qerrors.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.ratchet.Encrypt(plaintext, associatedData)
	if err != nil {
		return nil, err
	}

	s.stats.MessagesSent++
	s.stats.BytesSent += uint64(len(plaintext))

	return &wire.WireMessage{
		Version:          constants.WireFormatVersion,
		Cipher:           msg.Cipher,
		Epoch:            msg.Epoch,
		MessageNumber:    msg.MessageNumber,
		SenderDHPublic:   msg.SenderDHPublic,
		PreviousChainLen: msg.PreviousChainLen,
		KEMCiphertext:    msg.KEMCiphertext,
		Nonce:            msg.Chunk.Nonce,
		AuthTag:          msg.Chunk.AuthTag,
		Ciphertext:       msg.Chunk.Ciphertext,
	}, nil
}

// Decrypt recovers the plaintext of a received WireMessage.
func (s *Session) Decrypt(wm *wire.WireMessage, associatedData []byte) ([]byte, error) {
	if state(s.state.Load()) == stateClosed {
		return nil, qerrors.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := s.ratchet.Decrypt(&tripleratchet.Message{
		Cipher:           wm.Cipher,
		Epoch:            wm.Epoch,
		MessageNumber:    wm.MessageNumber,
		SenderDHPublic:   wm.SenderDHPublic,
		PreviousChainLen: wm.PreviousChainLen,
		KEMCiphertext:    wm.KEMCiphertext,
		Chunk:            wm.Chunk(),
	}, associatedData)
	if err != nil {
		return nil, err
	}

	s.stats.MessagesReceived++
	s.stats.BytesReceived += uint64(len(plaintext))
	return plaintext, nil
}

// SAS derives this session's Short Authentication String from the secret
// established during the handshake and the session id, for out-of-band
// peer verification. The result is stable for the life of the session: it
// does not track the Double Ratchet's root key as it rotates with every
// DH step.
func (s *Session) SAS() (sas.Phrase, error) {
	if state(s.state.Load()) == stateClosed {
		return sas.Phrase{}, qerrors.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sas.Derive(s.sasSecret, s.sessionID)
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close tears the session down: the Triple Ratchet is destroyed and every
// subsequent Encrypt/Decrypt/SAS call fails with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state(s.state.Load()) == stateClosed {
		return
	}
	s.ratchet.Destroy()
	wipeBytes(s.sasSecret)
	s.state.Store(int32(stateClosed))
	logging.Global().ForSession(s.sessionID).Info("session closed", logging.Fields{
		"messages_sent":     s.stats.MessagesSent,
		"messages_received": s.stats.MessagesReceived,
	})
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// BuildManifest constructs a Merkle integrity manifest over chunks and
// its wire encoding, per component C and spec.md §6's build_manifest.
func BuildManifest(chunks [][]byte) (*merkle.Manifest, *wire.IntegrityManifestWire, error) {
	m, err := merkle.Build(chunks)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([][32]byte, m.ChunkCount())
	for i := range hashes {
		h, err := m.Leaf(i)
		if err != nil {
			return nil, nil, err
		}
		hashes[i] = h
	}
	var totalSize uint64
	for _, c := range chunks {
		totalSize += uint64(len(c))
	}
	return m, &wire.IntegrityManifestWire{
		TotalChunks: uint32(m.ChunkCount()),
		FileSize:    totalSize,
		RootHash:    m.Root(),
		ChunkHashes: hashes,
	}, nil
}

// SignManifest signs a manifest's wire encoding with the sender's identity
// key, resolving spec.md §9's SHOULD-sign open question into a MUST for
// this implementation (see DESIGN.md).
func SignManifest(kp *signature.KeyPair, mw *wire.IntegrityManifestWire) ([]byte, error) {
	enc, err := mw.Encode()
	if err != nil {
		return nil, err
	}
	return signature.Sign(kp, enc)
}

// VerifyManifestSignature checks a manifest signature against the
// sender's published identity public key.
func VerifyManifestSignature(pk *signature.PublicKey, mw *wire.IntegrityManifestWire, sig []byte) error {
	enc, err := mw.Encode()
	if err != nil {
		return err
	}
	ok, err := signature.Verify(pk, enc, sig)
	if err != nil {
		return err
	}
	if !ok {
		return qerrors.ErrInvalidSignature
	}
	return nil
}

// VerifyFile re-hashes chunks against manifest and reports which indices,
// if any, are corrupted.
func VerifyFile(m *merkle.Manifest, chunks [][]byte) (*merkle.VerifyResult, error) {
	return m.VerifyChunks(chunks)
}

// PublishPrekeyBundle exposes a Store's public material as its wire
// encoding, ready for an out-of-band transport to deliver.
func PublishPrekeyBundle(store *prekey.Store) ([]byte, error) {
	b := store.PublishBundle()
	wb := &wire.PrekeyBundleWire{
		IdentityKey:     b.IdentityKey,
		SignedPrekeyID:  uint32(b.SignedPrekeyID),
		CreatedAt:       uint32(b.SignedPrekeyAt.Unix()),
		SignedPrekey:    b.SignedPrekey,
		PrekeySignature: b.PrekeySig,
	}
	if b.OneTimePrekey != nil {
		wb.HasOneTime = true
		wb.OneTimeID = b.OneTimePrekeyID
		wb.OneTimePrekey = b.OneTimePrekey
	}
	return wb.Encode()
}

// IngestPrekeyBundle decodes a received bundle's wire bytes back into a
// prekey.Bundle, ready for VerifyBundle and EstablishAsInitiator.
func IngestPrekeyBundle(data []byte) (*prekey.Bundle, error) {
	wb, err := wire.DecodePrekeyBundleWire(data)
	if err != nil {
		return nil, err
	}
	b := &prekey.Bundle{
		IdentityKey:    wb.IdentityKey,
		SignedPrekeyID: uint64(wb.SignedPrekeyID),
		SignedPrekeyAt: time.Unix(int64(wb.CreatedAt), 0),
		SignedPrekey:   wb.SignedPrekey,
		PrekeySig:      wb.PrekeySignature,
	}
	if wb.HasOneTime {
		b.OneTimePrekey = wb.OneTimePrekey
		b.OneTimePrekeyID = wb.OneTimeID
	}
	return b, nil
}

// GenerateDHKeyPair creates a fresh X25519 key pair for the Double
// Ratchet half of a new session, using crypto/rand directly rather than
// pkg/ratchet.GenerateKeyPair, so the orchestrator does not import
// pkg/ratchet (an internal detail of pkg/tripleratchet).
func GenerateDHKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("session.GenerateDHKeyPair", err)
	}
	return priv, nil
}

// GeneratePQKeyPair creates a fresh ML-KEM-768 key pair for the Sparse PQ
// Ratchet half of a new session.
func GeneratePQKeyPair() (*mlkem768.PublicKey, *mlkem768.PrivateKey, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("session.GeneratePQKeyPair", err)
	}
	return pub, priv, nil
}
