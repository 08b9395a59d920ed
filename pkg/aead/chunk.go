package aead

import (
	"sync"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
)

// Chunk is the wire-level representation of one encrypted file or message
// chunk: {cipher, nonce, ciphertext, auth_tag} as spec.md §3 defines it. The
// nonce recorded here is always the 12-byte directional nonce, even for
// AEGIS-256 whose internal nonce is expanded to 32 bytes.
type Chunk struct {
	Cipher     constants.CipherSuite
	Nonce      [constants.ChunkNonceSize]byte
	Ciphertext []byte
	AuthTag    [constants.AuthTagSize]byte
}

// nonceSet tracks recently-issued nonces per Sentinel as a defensive
// cross-check on top of the counter's own monotonicity guarantee. It is
// bounded: once it reaches NonceReuseSetCap entries it is cleared, since the
// counter itself is the real source of uniqueness and an unbounded set would
// leak memory over a long-lived session.
type nonceSet struct {
	mu   sync.Mutex
	seen map[[constants.ChunkNonceSize]byte]struct{}
}

func newNonceSet() *nonceSet {
	return &nonceSet{seen: make(map[[constants.ChunkNonceSize]byte]struct{})}
}

// reserve records nonce as used, reporting ErrNonceReused if it was already
// present. This never fires under normal operation since Sentinel's counter
// is strictly monotonic; a hit here indicates a bug, not adversarial input.
func (s *nonceSet) reserve(nonce [constants.ChunkNonceSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) >= constants.NonceReuseSetCap {
		s.seen = make(map[[constants.ChunkNonceSize]byte]struct{})
	}
	if _, dup := s.seen[nonce]; dup {
		return qerrors.ErrNonceReused
	}
	s.seen[nonce] = struct{}{}
	return nil
}

// chunkSentinels holds one nonceSet per Sentinel instance, keyed by pointer
// identity, so EncryptChunk's reservation bookkeeping doesn't require
// widening the Sentinel struct itself.
var (
	chunkSentinelsMu sync.Mutex
	chunkSentinels   = map[*Sentinel]*nonceSet{}
)

func sentinelNonceSet(s *Sentinel) *nonceSet {
	chunkSentinelsMu.Lock()
	defer chunkSentinelsMu.Unlock()
	ns, ok := chunkSentinels[s]
	if !ok {
		ns = newNonceSet()
		chunkSentinels[s] = ns
	}
	return ns
}

// EncryptChunk authenticates and encrypts plaintext under the Sentinel's
// next directional counter nonce, returning the chunk split into its wire
// fields. The auth tag is always the trailing AuthTagSize bytes of the
// underlying AEAD output, for every supported cipher.
func (s *Sentinel) EncryptChunk(plaintext, associatedData []byte) (*Chunk, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	var nonceArr [constants.ChunkNonceSize]byte
	copy(nonceArr[:], nonce)
	if err := sentinelNonceSet(s).reserve(nonceArr); err != nil {
		return nil, err
	}

	sealed, err := s.sealWithNonce(nonce, plaintext, associatedData)
	if err != nil {
		return nil, err
	}
	body := sealed[constants.ChunkNonceSize:]
	if len(body) < constants.AuthTagSize {
		return nil, qerrors.ErrCiphertextShort
	}
	split := len(body) - constants.AuthTagSize

	c := &Chunk{Cipher: s.suite, Nonce: nonceArr, Ciphertext: body[:split]}
	copy(c.AuthTag[:], body[split:])
	return c, nil
}

// DecryptChunk verifies and decrypts a Chunk previously produced by
// EncryptChunk (possibly by the peer's Sentinel for the opposite
// direction). The auth tag is checked before any plaintext byte is
// returned: on failure this returns exactly ErrAuthFailed and a nil slice,
// never a partial plaintext. Dispatches on c.Cipher rather than s.Suite()
// so a Sentinel can decrypt chunks announced under any negotiated suite
// during cipher negotiation.
func (s *Sentinel) DecryptChunk(c *Chunk, associatedData []byte) ([]byte, error) {
	data := make([]byte, 0, constants.ChunkNonceSize+len(c.Ciphertext)+constants.AuthTagSize)
	data = append(data, c.Nonce[:]...)
	data = append(data, c.Ciphertext...)
	data = append(data, c.AuthTag[:]...)
	if c.Cipher != s.suite {
		rawKey, err := s.key.Data()
		if err != nil {
			return nil, err
		}
		other, err := New(c.Cipher, rawKey, s.direction)
		if err != nil {
			return nil, err
		}
		defer other.Wipe()
		return other.Open(data, associatedData)
	}
	return s.Open(data, associatedData)
}
