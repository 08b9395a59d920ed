// Package constants defines wire sizes, domain-separation labels, and
// negotiation defaults for the tallow hybrid post-quantum encryption engine.
package constants

// Protocol identification.
const (
	// WireFormatVersion is the current WireMessage envelope version.
	WireFormatVersion uint8 = 1

	// ProtocolName identifies this engine in transcript and log contexts.
	ProtocolName = "tallow-triple-ratchet-v1"
)

// ML-KEM-768 parameters (NIST FIPS 203, Category 3 security).
const (
	MLKEMPublicKeySize        = 1184
	MLKEMPrivateKeySize       = 2400
	MLKEMCiphertextSize       = 1088
	MLKEMSharedSecretSize     = 32
	MLKEMEncapsulationSeedLen = 32
)

// X25519 parameters (RFC 7748).
const (
	X25519PublicKeySize    = 32
	X25519PrivateKeySize   = 32
	X25519SharedSecretSize = 32
)

// HybridKeyPair combined sizes.
const (
	// HybridPublicKeySize is X25519 public || ML-KEM-768 public.
	HybridPublicKeySize = X25519PublicKeySize + MLKEMPublicKeySize

	// HybridCiphertextSize is X25519 ephemeral public || ML-KEM-768 ciphertext.
	HybridCiphertextSize = X25519PublicKeySize + MLKEMCiphertextSize

	// HybridSharedSecretSize is the combined, derived secret length.
	HybridSharedSecretSize = 32
)

// Signature algorithm sizes.
const (
	Ed25519PublicKeySize  = 32
	Ed25519PrivateKeySize = 64
	Ed25519SignatureSize  = 64

	MLDSA65PublicKeySize  = 1952
	MLDSA65PrivateKeySize = 4032
	MLDSA65SignatureSize  = 3309
)

// AEAD parameters.
const (
	AEADKeySize      = 32
	ChunkNonceSize   = 12 // directional nonce exposed on the wire
	AEGISNonceSize   = 32 // expanded nonce fed to the AEGIS-256 core
	AuthTagSize      = 16
	DirectionSender  = uint32(0)
	DirectionReceive = uint32(1)
)

// CipherSuite identifies the negotiated chunk cipher.
type CipherSuite uint8

const (
	CipherAES256GCM        CipherSuite = 1
	CipherChaCha20Poly1305 CipherSuite = 2
	CipherAEGIS256         CipherSuite = 3
)

// String returns a human-readable cipher suite name.
func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "AES-256-GCM"
	case CipherChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	case CipherAEGIS256:
		return "AEGIS-256"
	default:
		return "unknown"
	}
}

// IsSupported reports whether c is one of the three negotiable suites.
func (c CipherSuite) IsSupported() bool {
	switch c {
	case CipherAES256GCM, CipherChaCha20Poly1305, CipherAEGIS256:
		return true
	default:
		return false
	}
}

// SignatureAlgorithm identifies the negotiated signature scheme.
type SignatureAlgorithm uint8

const (
	SigEd25519 SignatureAlgorithm = 1
	SigMLDSA65 SignatureAlgorithm = 2
	SigSLHDSA  SignatureAlgorithm = 3
	SigHybrid  SignatureAlgorithm = 4 // Ed25519 || ML-DSA-65
)

func (s SignatureAlgorithm) String() string {
	switch s {
	case SigEd25519:
		return "Ed25519"
	case SigMLDSA65:
		return "ML-DSA-65"
	case SigSLHDSA:
		return "SLH-DSA"
	case SigHybrid:
		return "Hybrid(Ed25519+ML-DSA-65)"
	default:
		return "unknown"
	}
}

// BLAKE3 domain-separation labels (component B). This set is closed: any
// derive-key call outside this registry is a defect, enforced at runtime by
// blake3hash.DeriveKey.
const (
	LabelHybridKEX    = "hybrid-kex"
	LabelRootKey      = "root-key"
	LabelChainKey     = "chain-key"
	LabelMessageKey   = "message-key"
	LabelNonceSeed    = "nonce-seed"
	LabelStorageKey   = "storage-key"
	LabelSendChain    = "send-chain"
	LabelRecvChain    = "recv-chain"
	LabelSCKACombine  = "scka-combine"
	LabelSCKAEpochKey = "scka-epoch-key"
	LabelSCKAMsgKey   = "scka-msg-key"
	LabelCombineKey   = "combine-key"
	LabelAEGISNonce   = "aegis256-nonce"
	LabelSAS          = "sas-v1"
	LabelManifestKDF  = "manifest-root"
)

// DomainLabels lists every label in the closed registry, for validation.
var DomainLabels = map[string]struct{}{
	LabelHybridKEX:    {},
	LabelRootKey:      {},
	LabelChainKey:     {},
	LabelMessageKey:   {},
	LabelNonceSeed:    {},
	LabelStorageKey:   {},
	LabelSendChain:    {},
	LabelRecvChain:    {},
	LabelSCKACombine:  {},
	LabelSCKAEpochKey: {},
	LabelSCKAMsgKey:   {},
	LabelCombineKey:   {},
	LabelAEGISNonce:   {},
	LabelSAS:          {},
	LabelManifestKDF:  {},
}

// AEGISNonceInfo is the fixed HKDF info label used to expand a 12-byte
// ChunkNonce into the 32-byte nonce AEGIS-256 requires.
const AEGISNonceInfo = "tallow.symmetric.aegis256-nonce.v1"

// Sparse PQ ratchet negotiation bounds and defaults (component H).
const (
	MinMessageThreshold     = 10
	MaxMessageThreshold     = 10_000
	DefaultMessageThreshold = 100

	MinEpochAgeMillis     = 30_000    // 30s
	MaxEpochAgeMillis     = 3_600_000 // 1h
	DefaultEpochAgeMillis = 300_000   // 5 min
)

// Triple ratchet / skipped-key parameters (component I).
const (
	DHRatchetMessageInterval = 1000
	DefaultMaxSkippedKeys    = 1000
)

// Signed prekey bundle defaults (component F).
const (
	SignedPrekeyRotationSeconds = 7 * 24 * 3600
	OneTimePrekeyReplenishBelow = 20
	OneTimePrekeyPoolCap        = 100
)

// AEAD sentinel bookkeeping (component G).
const (
	// NonceReuseSetCap bounds the recently-used-nonce detector before it
	// is cleared; counter monotonicity is the real uniqueness guarantee.
	NonceReuseSetCap = 100_000
)
