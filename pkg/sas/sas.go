// Package sas derives Short Authentication Strings (component J): a
// human-comparable fingerprint of a session's established shared secret,
// used as a MITM defense when two peers read it aloud or compare it
// out-of-band. It is built directly on pkg/blake3hash; the 64-word list is
// a fixed package-level slice in the teacher's plain-data style, the same
// way internal/constants lays out its closed label registry.
package sas

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
)

// words is the fixed 64-word list a SAS phrase is drawn from. Each word is
// short, phonetically distinct from its neighbors, and free of
// near-homophones, so two people reading it aloud over a voice channel
// rarely mishear one for another.
var words = [64]string{
	"anchor", "arrow", "autumn", "badge", "basin", "beacon", "bishop", "bolt",
	"bramble", "canyon", "cedar", "cinder", "clover", "comet", "copper", "coral",
	"crescent", "cricket", "crystal", "dagger", "delta", "dune", "ember", "falcon",
	"feather", "fern", "flint", "forge", "garnet", "glacier", "granite", "harbor",
	"hazel", "heron", "hollow", "indigo", "ivory", "jasper", "juniper", "kestrel",
	"lantern", "lichen", "linen", "maple", "marble", "meadow", "mesa", "nectar",
	"nimbus", "oak", "onyx", "opal", "orchid", "otter", "pebble", "quartz",
	"raven", "ridge", "sable", "saffron", "slate", "thistle", "tundra", "willow",
}

// Phrase is a derived SAS in its two displayable forms.
type Phrase struct {
	Words   [3]string
	Numeric uint32 // 6-digit form, zero-padded
}

// String renders the word form, hyphen-joined.
func (p Phrase) String() string {
	return strings.Join(p.Words[:], "-")
}

// NumericString renders the 6-digit numeric form, zero-padded.
func (p Phrase) NumericString() string {
	return fmt.Sprintf("%06d", p.Numeric)
}

// Derive computes the SAS for sharedSecret and sessionID: BLAKE3-hash
// their concatenation, take three 16-bit indices from the first six
// output bytes (each mod 64) for the word form, and the first three bytes
// mod 1,000,000 for the numeric form.
func Derive(sharedSecret, sessionID []byte) (Phrase, error) {
	digest, err := digest(sharedSecret, sessionID)
	if err != nil {
		return Phrase{}, err
	}

	var p Phrase
	for i := 0; i < 3; i++ {
		idx := (uint16(digest[2*i])<<8 | uint16(digest[2*i+1])) % 64
		p.Words[i] = words[idx]
	}

	n := uint32(digest[0])<<16 | uint32(digest[1])<<8 | uint32(digest[2])
	p.Numeric = n % 1_000_000

	return p, nil
}

func digest(sharedSecret, sessionID []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(sharedSecret)+len(sessionID))
	ikm = append(ikm, sharedSecret...)
	ikm = append(ikm, sessionID...)
	out, err := blake3hash.DeriveKey(constants.LabelSAS, ikm, 32)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Equal compares two phrases' underlying digests in constant time. Two
// Phrase values are equal iff every word and the numeric form match;
// comparing the rendered strings directly would do so in variable time.
func Equal(a, b Phrase) bool {
	match := subtle.ConstantTimeEq(int32(a.Numeric), int32(b.Numeric))
	for i := 0; i < 3; i++ {
		match &= subtle.ConstantTimeCompare([]byte(a.Words[i]), []byte(b.Words[i]))
	}
	return match == 1
}
