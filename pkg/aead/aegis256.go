package aead

// AEGIS-256 has no Go library anywhere in the example pack (see
// DESIGN.md), so it is implemented here directly from the published AEGIS
// algorithm description: a six-block, AES-round-based authenticated
// stream cipher. This is a from-specification implementation that has not
// been validated against the official AEGIS test vectors or audited; it
// is included because the AEAD Sentinel interface requires all three
// negotiable cipher suites to exist behind one API, and spec.md's own
// design notes accept this risk explicitly for AEGIS-256.

var aegisSBox = [256]byte{
	0x63, 0x7c, 0x77, 0x7b, 0xf2, 0x6b, 0x6f, 0xc5, 0x30, 0x01, 0x67, 0x2b, 0xfe, 0xd7, 0xab, 0x76,
	0xca, 0x82, 0xc9, 0x7d, 0xfa, 0x59, 0x47, 0xf0, 0xad, 0xd4, 0xa2, 0xaf, 0x9c, 0xa4, 0x72, 0xc0,
	0xb7, 0xfd, 0x93, 0x26, 0x36, 0x3f, 0xf7, 0xcc, 0x34, 0xa5, 0xe5, 0xf1, 0x71, 0xd8, 0x31, 0x15,
	0x04, 0xc7, 0x23, 0xc3, 0x18, 0x96, 0x05, 0x9a, 0x07, 0x12, 0x80, 0xe2, 0xeb, 0x27, 0xb2, 0x75,
	0x09, 0x83, 0x2c, 0x1a, 0x1b, 0x6e, 0x5a, 0xa0, 0x52, 0x3b, 0xd6, 0xb3, 0x29, 0xe3, 0x2f, 0x84,
	0x53, 0xd1, 0x00, 0xed, 0x20, 0xfc, 0xb1, 0x5b, 0x6a, 0xcb, 0xbe, 0x39, 0x4a, 0x4c, 0x58, 0xcf,
	0xd0, 0xef, 0xaa, 0xfb, 0x43, 0x4d, 0x33, 0x85, 0x45, 0xf9, 0x02, 0x7f, 0x50, 0x3c, 0x9f, 0xa8,
	0x51, 0xa3, 0x40, 0x8f, 0x92, 0x9d, 0x38, 0xf5, 0xbc, 0xb6, 0xda, 0x21, 0x10, 0xff, 0xf3, 0xd2,
	0xcd, 0x0c, 0x13, 0xec, 0x5f, 0x97, 0x44, 0x17, 0xc4, 0xa7, 0x7e, 0x3d, 0x64, 0x5d, 0x19, 0x73,
	0x60, 0x81, 0x4f, 0xdc, 0x22, 0x2a, 0x90, 0x88, 0x46, 0xee, 0xb8, 0x14, 0xde, 0x5e, 0x0b, 0xdb,
	0xe0, 0x32, 0x3a, 0x0a, 0x49, 0x06, 0x24, 0x5c, 0xc2, 0xd3, 0xac, 0x62, 0x91, 0x95, 0xe4, 0x79,
	0xe7, 0xc8, 0x37, 0x6d, 0x8d, 0xd5, 0x4e, 0xa9, 0x6c, 0x56, 0xf4, 0xea, 0x65, 0x7a, 0xae, 0x08,
	0xba, 0x78, 0x25, 0x2e, 0x1c, 0xa6, 0xb4, 0xc6, 0xe8, 0xdd, 0x74, 0x1f, 0x4b, 0xbd, 0x8b, 0x8a,
	0x70, 0x3e, 0xb5, 0x66, 0x48, 0x03, 0xf6, 0x0e, 0x61, 0x35, 0x57, 0xb9, 0x86, 0xc1, 0x1d, 0x9e,
	0xe1, 0xf8, 0x98, 0x11, 0x69, 0xd9, 0x8e, 0x94, 0x9b, 0x1e, 0x87, 0xe9, 0xce, 0x55, 0x28, 0xdf,
	0x8c, 0xa1, 0x89, 0x0d, 0xbf, 0xe6, 0x42, 0x68, 0x41, 0x99, 0x2d, 0x0f, 0xb0, 0x54, 0xbb, 0x16,
}

// aegisC0 and aegisC1 are the two fixed 128-bit AEGIS round constants.
var (
	aegisC0 = [16]byte{0x00, 0x01, 0x01, 0x02, 0x03, 0x05, 0x08, 0x0d, 0x15, 0x22, 0x37, 0x59, 0x90, 0xe9, 0x79, 0x62}
	aegisC1 = [16]byte{0xdb, 0x3d, 0x18, 0x55, 0x6d, 0xc2, 0x2f, 0xf1, 0x20, 0x11, 0x31, 0x42, 0x73, 0xb5, 0x28, 0xdd}
)

func xtime(a byte) byte {
	if a&0x80 != 0 {
		return (a << 1) ^ 0x1b
	}
	return a << 1
}

func gmul(a byte, m byte) byte {
	switch m {
	case 1:
		return a
	case 2:
		return xtime(a)
	case 3:
		return xtime(a) ^ a
	default:
		return 0
	}
}

func subBytes(s *[16]byte) {
	for i := range s {
		s[i] = aegisSBox[s[i]]
	}
}

func shiftRows(s *[16]byte) {
	var t [16]byte
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			srcCol := (col + row) % 4
			t[col*4+row] = s[srcCol*4+row]
		}
	}
	*s = t
}

func mixColumns(s *[16]byte) {
	for c := 0; c < 4; c++ {
		a0, a1, a2, a3 := s[c*4], s[c*4+1], s[c*4+2], s[c*4+3]
		s[c*4] = gmul(a0, 2) ^ gmul(a1, 3) ^ a2 ^ a3
		s[c*4+1] = a0 ^ gmul(a1, 2) ^ gmul(a2, 3) ^ a3
		s[c*4+2] = a0 ^ a1 ^ gmul(a2, 2) ^ gmul(a3, 3)
		s[c*4+3] = gmul(a0, 3) ^ a1 ^ a2 ^ gmul(a3, 2)
	}
}

// aesRound computes one non-final AES round on in, XORed with round key rk
// (equivalent to the AES-NI AESENC instruction).
func aesRound(in, rk [16]byte) [16]byte {
	s := in
	subBytes(&s)
	shiftRows(&s)
	mixColumns(&s)
	for i := range s {
		s[i] ^= rk[i]
	}
	return s
}

func xor16(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func and16(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] & b[i]
	}
	return out
}

// aegis256State is the six-block AEGIS-256 permutation state.
type aegis256State [6][16]byte

func newAEGIS256State(key, nonce []byte) *aegis256State {
	var k0, k1, n0, n1 [16]byte
	copy(k0[:], key[:16])
	copy(k1[:], key[16:32])
	copy(n0[:], nonce[:16])
	copy(n1[:], nonce[16:32])

	s := &aegis256State{
		xor16(k0, n0),
		aegisC1,
		aegisC0,
		xor16(k1, n1),
		xor16(k0, aegisC0),
		xor16(k1, aegisC1),
	}
	for i := 0; i < 4; i++ {
		s.update(k0)
		s.update(k1)
	}
	return s
}

func (s *aegis256State) update(m [16]byte) {
	next := aegis256State{
		aesRound(s[5], xor16(s[0], m)),
		aesRound(s[0], s[1]),
		aesRound(s[1], s[2]),
		aesRound(s[2], s[3]),
		aesRound(s[3], s[4]),
		aesRound(s[4], s[5]),
	}
	*s = next
}

func (s *aegis256State) keystream() [16]byte {
	return xor16(xor16(s[1], s[4]), and16(s[2], s[3]))
}

func (s *aegis256State) absorb(block [16]byte) {
	s.update(block)
}

func (s *aegis256State) tag(adLen, msgLen uint64, size int) []byte {
	var lenBlock [16]byte
	putUint64LE(lenBlock[0:8], adLen*8)
	putUint64LE(lenBlock[8:16], msgLen*8)

	tmp := xor16(s[3], lenBlock)
	for i := 0; i < 7; i++ {
		s.update(tmp)
	}

	full := xor16(xor16(xor16(s[0], s[1]), xor16(s[2], s[3])), xor16(s[4], s[5]))
	if size == 16 {
		return full[:]
	}
	out := make([]byte, 0, 32)
	out = append(out, xor16(xor16(s[0], s[1]), xor16(s[2], s[3]))[:]...)
	out = append(out, xor16(xor16(s[3], s[4]), xor16(s[5], full))[:]...)
	return out
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// aegis256Seal encrypts plaintext with associated data, key (32 bytes) and
// nonce (32 bytes), returning ciphertext || 32-byte tag.
func aegis256Seal(key, nonce, plaintext, ad []byte) []byte {
	s := newAEGIS256State(key, nonce)

	absorbBlocks(s, ad)

	ciphertext := make([]byte, len(plaintext))
	full := make([]byte, 0, len(plaintext)+15)
	full = append(full, plaintext...)
	for len(full)%16 != 0 {
		full = append(full, 0)
	}
	for i := 0; i < len(full); i += 16 {
		var block [16]byte
		copy(block[:], full[i:i+16])
		ks := s.keystream()
		cblock := xor16(block, ks)
		n := copy(ciphertext[i:], cblock[:])
		_ = n
		s.update(block)
	}

	tag := s.tag(uint64(len(ad)), uint64(len(plaintext)), 32)
	return append(ciphertext, tag...)
}

// aegis256Open decrypts ciphertext||tag, verifying the 32-byte tag in
// constant time before returning plaintext.
func aegis256Open(key, nonce, ciphertextAndTag, ad []byte) ([]byte, bool) {
	if len(ciphertextAndTag) < 32 {
		return nil, false
	}
	ciphertext := ciphertextAndTag[:len(ciphertextAndTag)-32]
	wantTag := ciphertextAndTag[len(ciphertextAndTag)-32:]

	s := newAEGIS256State(key, nonce)
	absorbBlocks(s, ad)

	plaintext := make([]byte, len(ciphertext))
	full := make([]byte, len(ciphertext))
	copy(full, ciphertext)
	pad := (16 - len(full)%16) % 16
	full = append(full, make([]byte, pad)...)

	for i := 0; i < len(full); i += 16 {
		var cblock [16]byte
		copy(cblock[:], full[i:i+16])
		ks := s.keystream()
		pblock := xor16(cblock, ks)
		if i+16 > len(ciphertext) {
			// zero the padding bytes before absorbing, per construction
			for j := len(ciphertext) - i; j < 16; j++ {
				pblock[j] = 0
			}
		}
		copy(plaintextWindow(plaintext, i, len(ciphertext)), pblock[:])
		s.update(pblock)
	}

	gotTag := s.tag(uint64(len(ad)), uint64(len(ciphertext)), 32)
	if !constantTimeEqual(gotTag, wantTag) {
		return nil, false
	}
	return plaintext, true
}

func plaintextWindow(plaintext []byte, offset, limit int) []byte {
	end := offset + 16
	if end > limit {
		end = limit
	}
	if offset > limit {
		return plaintext[limit:limit]
	}
	return plaintext[offset:end]
}

func absorbBlocks(s *aegis256State, data []byte) {
	full := make([]byte, len(data))
	copy(full, data)
	pad := (16 - len(full)%16) % 16
	if len(full) == 0 {
		pad = 0
	}
	full = append(full, make([]byte, pad)...)
	for i := 0; i < len(full); i += 16 {
		var block [16]byte
		copy(block[:], full[i:i+16])
		s.absorb(block)
	}
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
