// Package signature implements the Signed Prekey Bundle's signing layer
// (component E): tagged-variant dispatch over Ed25519 (classical
// baseline), ML-DSA-65 (post-quantum, NIST FIPS 204), SLH-DSA (stateless
// hash-based, used only as a conservative backup since it has no
// lattice-hardness assumption to break), and a Hybrid combination of the
// two that requires both signatures to verify.
//
// The dispatch follows the same tagged-enum shape the hybrid key exchange
// layer uses for cipher suites: a closed SignatureAlgorithm byte, a
// String() method, and per-variant Sign/Verify that never silently fall
// through to a default case.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding"

	circlsign "github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
)

// Scheme names registered in CIRCL's generic sign.Scheme registry.
const (
	schemeMLDSA65 = "ML-DSA-65"
	schemeSLHDSA  = "SLH-DSA-SHA2-128s"
)

func mldsa65Scheme() circlsign.Scheme {
	return schemes.ByName(schemeMLDSA65)
}

func slhdsaScheme() circlsign.Scheme {
	return schemes.ByName(schemeSLHDSA)
}

// KeyPair holds a signing key pair for exactly one SignatureAlgorithm.
// Hybrid key pairs carry both an Ed25519 and an ML-DSA-65 component.
type KeyPair struct {
	Algorithm constants.SignatureAlgorithm

	ed25519Pub  ed25519.PublicKey
	ed25519Priv ed25519.PrivateKey

	circlPub  circlsign.PublicKey
	circlPriv circlsign.PrivateKey

	hybridEdPub   ed25519.PublicKey
	hybridEdPriv  ed25519.PrivateKey
	hybridPQPub   circlsign.PublicKey
	hybridPQPriv  circlsign.PrivateKey
}

// Generate creates a new key pair for alg.
func Generate(alg constants.SignatureAlgorithm) (*KeyPair, error) {
	switch alg {
	case constants.SigEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.Generate", err)
		}
		return &KeyPair{Algorithm: alg, ed25519Pub: pub, ed25519Priv: priv}, nil

	case constants.SigMLDSA65:
		pub, priv, err := mldsa65Scheme().GenerateKey()
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.Generate", err)
		}
		return &KeyPair{Algorithm: alg, circlPub: pub, circlPriv: priv}, nil

	case constants.SigSLHDSA:
		pub, priv, err := slhdsaScheme().GenerateKey()
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.Generate", err)
		}
		return &KeyPair{Algorithm: alg, circlPub: pub, circlPriv: priv}, nil

	case constants.SigHybrid:
		edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.Generate", err)
		}
		pqPub, pqPriv, err := mldsa65Scheme().GenerateKey()
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.Generate", err)
		}
		return &KeyPair{
			Algorithm:    alg,
			hybridEdPub:  edPub,
			hybridEdPriv: edPriv,
			hybridPQPub:  pqPub,
			hybridPQPriv: pqPriv,
		}, nil

	default:
		return nil, qerrors.ErrUnsupportedAlgorithm
	}
}

// Sign produces a signature over message using kp.
func Sign(kp *KeyPair, message []byte) ([]byte, error) {
	switch kp.Algorithm {
	case constants.SigEd25519:
		return ed25519.Sign(kp.ed25519Priv, message), nil

	case constants.SigMLDSA65:
		return mldsa65Scheme().Sign(kp.circlPriv, message, nil), nil

	case constants.SigSLHDSA:
		return slhdsaScheme().Sign(kp.circlPriv, message, nil), nil

	case constants.SigHybrid:
		edSig := ed25519.Sign(kp.hybridEdPriv, message)
		pqSig := mldsa65Scheme().Sign(kp.hybridPQPriv, message, nil)
		return concatHybrid(edSig, pqSig), nil

	default:
		return nil, qerrors.ErrUnsupportedAlgorithm
	}
}

// PublicKey is the wire-encodable public half of a KeyPair, used so the
// signer need not hand out private key types.
type PublicKey struct {
	Algorithm constants.SignatureAlgorithm
	Ed25519   ed25519.PublicKey
	CIRCL     circlsign.PublicKey
	HybridEd  ed25519.PublicKey
	HybridPQ  circlsign.PublicKey
}

// Public extracts the verifiable public key from kp.
func (kp *KeyPair) Public() *PublicKey {
	switch kp.Algorithm {
	case constants.SigEd25519:
		return &PublicKey{Algorithm: kp.Algorithm, Ed25519: kp.ed25519Pub}
	case constants.SigMLDSA65, constants.SigSLHDSA:
		return &PublicKey{Algorithm: kp.Algorithm, CIRCL: kp.circlPub}
	case constants.SigHybrid:
		return &PublicKey{Algorithm: kp.Algorithm, HybridEd: kp.hybridEdPub, HybridPQ: kp.hybridPQPub}
	default:
		return &PublicKey{Algorithm: kp.Algorithm}
	}
}

// Verify checks sig over message against pk. Hybrid verification requires
// both component signatures to verify; a single broken component cannot
// forge a hybrid signature.
func Verify(pk *PublicKey, message, sig []byte) (bool, error) {
	switch pk.Algorithm {
	case constants.SigEd25519:
		if len(sig) != constants.Ed25519SignatureSize {
			return false, qerrors.ErrInvalidSignature
		}
		return ed25519.Verify(pk.Ed25519, message, sig), nil

	case constants.SigMLDSA65:
		return mldsa65Scheme().Verify(pk.CIRCL, message, sig, nil), nil

	case constants.SigSLHDSA:
		return slhdsaScheme().Verify(pk.CIRCL, message, sig, nil), nil

	case constants.SigHybrid:
		edSig, pqSig, err := splitHybrid(sig)
		if err != nil {
			return false, err
		}
		edOK := ed25519.Verify(pk.HybridEd, message, edSig)
		pqOK := mldsa65Scheme().Verify(pk.HybridPQ, message, pqSig, nil)
		return edOK && pqOK, nil

	default:
		return false, qerrors.ErrUnsupportedAlgorithm
	}
}

// Bytes encodes pk for wire transport, length-prefixed so PrekeyBundle's
// codec never needs to know each algorithm's fixed size up front (ML-DSA-65
// and hybrid keys are not a single universal constant the way Ed25519 is).
func (pk *PublicKey) Bytes() ([]byte, error) {
	switch pk.Algorithm {
	case constants.SigEd25519:
		return append([]byte{byte(pk.Algorithm)}, pk.Ed25519...), nil

	case constants.SigMLDSA65, constants.SigSLHDSA:
		enc, err := marshalCIRCLPublic(pk.CIRCL)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(pk.Algorithm)}, enc...), nil

	case constants.SigHybrid:
		edEnc := append([]byte{}, pk.HybridEd...)
		pqEnc, err := marshalCIRCLPublic(pk.HybridPQ)
		if err != nil {
			return nil, err
		}
		out := []byte{byte(pk.Algorithm)}
		out = appendUint32LenPrefixed(out, edEnc)
		out = appendUint32LenPrefixed(out, pqEnc)
		return out, nil

	default:
		return nil, qerrors.ErrUnsupportedAlgorithm
	}
}

// ParsePublicKey decodes a PublicKey previously encoded by Bytes.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	if len(data) < 1 {
		return nil, qerrors.ErrInvalidPublicKey
	}
	alg := constants.SignatureAlgorithm(data[0])
	body := data[1:]

	switch alg {
	case constants.SigEd25519:
		if len(body) != ed25519.PublicKeySize {
			return nil, qerrors.ErrInvalidPublicKey
		}
		return &PublicKey{Algorithm: alg, Ed25519: ed25519.PublicKey(body)}, nil

	case constants.SigMLDSA65:
		pub, err := mldsa65Scheme().UnmarshalBinaryPublicKey(body)
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.ParsePublicKey", err)
		}
		return &PublicKey{Algorithm: alg, CIRCL: pub}, nil

	case constants.SigSLHDSA:
		pub, err := slhdsaScheme().UnmarshalBinaryPublicKey(body)
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.ParsePublicKey", err)
		}
		return &PublicKey{Algorithm: alg, CIRCL: pub}, nil

	case constants.SigHybrid:
		edEnc, rest, err := readUint32LenPrefixed(body)
		if err != nil {
			return nil, err
		}
		pqEnc, _, err := readUint32LenPrefixed(rest)
		if err != nil {
			return nil, err
		}
		if len(edEnc) != ed25519.PublicKeySize {
			return nil, qerrors.ErrInvalidPublicKey
		}
		pqPub, err := mldsa65Scheme().UnmarshalBinaryPublicKey(pqEnc)
		if err != nil {
			return nil, qerrors.NewCryptoError("signature.ParsePublicKey", err)
		}
		return &PublicKey{Algorithm: alg, HybridEd: ed25519.PublicKey(edEnc), HybridPQ: pqPub}, nil

	default:
		return nil, qerrors.ErrUnsupportedAlgorithm
	}
}

func marshalCIRCLPublic(pub circlsign.PublicKey) ([]byte, error) {
	marshaler, ok := pub.(encoding.BinaryMarshaler)
	if !ok {
		return nil, qerrors.ErrUnsupportedAlgorithm
	}
	return marshaler.MarshalBinary()
}

func appendUint32LenPrefixed(out, b []byte) []byte {
	out = append(out, byte(len(b)>>24), byte(len(b)>>16), byte(len(b)>>8), byte(len(b)))
	return append(out, b...)
}

func readUint32LenPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}
	n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if n < 0 || 4+n > len(data) {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}
	return data[4 : 4+n], data[4+n:], nil
}

// concatHybrid encodes two component signatures as length-prefixed ||
// concatenation so they can be split back apart unambiguously; ML-DSA-65
// signatures are not fixed-length across CIRCL's encoding in general.
func concatHybrid(edSig, pqSig []byte) []byte {
	out := make([]byte, 0, 4+len(edSig)+len(pqSig))
	out = append(out, byte(len(edSig)>>24), byte(len(edSig)>>16), byte(len(edSig)>>8), byte(len(edSig)))
	out = append(out, edSig...)
	out = append(out, pqSig...)
	return out
}

func splitHybrid(sig []byte) (edSig, pqSig []byte, err error) {
	if len(sig) < 4 {
		return nil, nil, qerrors.ErrInvalidSignature
	}
	edLen := int(sig[0])<<24 | int(sig[1])<<16 | int(sig[2])<<8 | int(sig[3])
	if edLen < 0 || 4+edLen > len(sig) {
		return nil, nil, qerrors.ErrInvalidSignature
	}
	return sig[4 : 4+edLen], sig[4+edLen:], nil
}
