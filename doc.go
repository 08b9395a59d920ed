// Package tallow provides a hybrid post-quantum end-to-end encryption
// engine for peer-to-peer file transfer.
//
// It combines X25519 (classical) with ML-KEM-768 (NIST FIPS 203) for
// session establishment, and layers a Double Ratchet with a Sparse
// Post-Quantum Ratchet into a Triple Ratchet for per-message forward
// secrecy that survives a future break of either the classical or the
// post-quantum half alone. Signed prekey bundles let two peers establish
// a session asynchronously, in the style of Signal's X3DH; a Short
// Authentication String gives both sides a human-comparable defense
// against an active man-in-the-middle; and a Merkle integrity manifest
// lets a receiver verify a transferred file chunk-by-chunk without
// trusting the sender's byte count.
//
// # Quick Start
//
// For a complete session establishment and file transfer:
//
//	import (
//		"github.com/tallowteam/Tallow-sub004/pkg/prekey"
//		"github.com/tallowteam/Tallow-sub004/pkg/session"
//	)
//
//	bob, _ := prekey.NewStore()
//	bundleWire, _ := session.PublishPrekeyBundle(bob)
//
//	bundle, _ := session.IngestPrekeyBundle(bundleWire)
//	secret, initMsg, _ := prekey.EstablishAsInitiator(bundle)
//
// See cmd/tallow-demo for a runnable two-party handshake and transfer.
//
// For low-level hybrid key encapsulation:
//
//	import "github.com/tallowteam/Tallow-sub004/pkg/hybridkem"
//
//	kp, _ := hybridkem.GenerateKeyPair()
//	ct, secret, _ := hybridkem.Encapsulate(kp.Public)
//	recovered, _ := hybridkem.Decapsulate(kp.Private, ct)
//
// # Package Structure
//
//   - pkg/hybridkem: combined X25519 + ML-KEM-768 key encapsulation
//   - pkg/signature: Ed25519 / ML-DSA-65 / SLH-DSA / hybrid signing
//   - pkg/blake3hash: keyed hashing and domain-separated key derivation
//   - pkg/merkle: chunked-file integrity manifests and inclusion proofs
//   - pkg/aead: AES-256-GCM, ChaCha20-Poly1305, and AEGIS-256 under one interface
//   - pkg/prekey: signed prekey bundles and asynchronous session establishment
//   - pkg/ratchet: the classical (X25519) half of the Triple Ratchet
//   - pkg/pqratchet: the sparse post-quantum (ML-KEM-768) half
//   - pkg/tripleratchet: the combined ratchet driving per-message encryption
//   - pkg/sas: Short Authentication String derivation for MITM defense
//   - pkg/wire: on-the-wire byte encodings for messages, bundles, and manifests
//   - pkg/session: the orchestrator wiring the above into one session API
//   - internal/constants: security parameters, domain labels, and protocol constants
//   - internal/errors: sentinel errors and typed wrappers for detailed error handling
//
// # Security Properties
//
//   - Post-quantum security: ML-KEM-768 (NIST Category 3) and ML-DSA-65
//   - Classical security: X25519 ECDH and Ed25519
//   - Hybrid guarantee: secure if either algorithm in a pair is secure
//   - Forward secrecy: per-message ratcheting on the classical half and
//     per-epoch ML-KEM-768 re-encapsulation on the post-quantum half
//   - Authenticated encryption: AES-256-GCM, ChaCha20-Poly1305, or AEGIS-256
//   - Integrity: Merkle-tree verification of transferred file chunks
//
// # References
//
//   - NIST FIPS 203: Module-Lattice-Based Key-Encapsulation Mechanism Standard
//   - NIST FIPS 204: Module-Lattice-Based Digital Signature Standard
//   - RFC 7748: Elliptic Curves for Security
package tallow
