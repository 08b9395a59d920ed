// Package merkle builds the Integrity Manifest (component C): a Merkle tree
// over a file's chunk hashes, used to verify whole-file integrity and to
// pinpoint exactly which chunk indices were corrupted or tampered with,
// without needing to re-hash the entire file to find them.
//
// Leaves are BLAKE3 digests of each chunk. Internal nodes hash the
// concatenation of their two children. An odd node at any level is
// duplicated rather than promoted, following the convention used by
// Bitcoin's transaction Merkle trees.
package merkle

import (
	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
	"github.com/tallowteam/Tallow-sub004/pkg/blake3hash"
)

// Manifest is a complete Merkle tree over a fixed ordered set of chunks.
type Manifest struct {
	leaves [][32]byte
	levels [][][32]byte // levels[0] == leaves, levels[len-1] == {root}
}

// Proof is an inclusion proof for a single leaf: the sibling hash at each
// level from the leaf up to (not including) the root, plus which side the
// sibling sits on.
type Proof struct {
	LeafIndex int
	Siblings  [][32]byte
	// IsRight[i] reports whether Siblings[i] sits to the right of the
	// running hash at that level.
	IsRight []bool
}

func hashLeaf(chunk []byte) [32]byte {
	return blake3hash.Sum256(chunk)
}

func hashNode(left, right [32]byte) [32]byte {
	h := blake3hash.New()
	_, _ = h.Write(left[:])
	_, _ = h.Write(right[:])
	return h.Sum256()
}

// Build constructs a Manifest from an ordered list of chunk byte slices.
func Build(chunks [][]byte) (*Manifest, error) {
	if len(chunks) == 0 {
		return nil, qerrors.ErrEmptyChunkSet
	}
	leaves := make([][32]byte, len(chunks))
	for i, c := range chunks {
		leaves[i] = hashLeaf(c)
	}
	return BuildFromLeaves(leaves)
}

// BuildFromLeaves constructs a Manifest directly from precomputed chunk
// hashes, for callers that already hashed chunks while streaming them.
func BuildFromLeaves(leaves [][32]byte) (*Manifest, error) {
	if len(leaves) == 0 {
		return nil, qerrors.ErrEmptyChunkSet
	}
	levels := [][][32]byte{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([][32]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, hashNode(cur[i], cur[i+1]))
			} else {
				next = append(next, hashNode(cur[i], cur[i])) // odd node duplicated
			}
		}
		levels = append(levels, next)
		cur = next
	}
	return &Manifest{leaves: leaves, levels: levels}, nil
}

// Root returns the 32-byte Merkle root.
func (m *Manifest) Root() [32]byte {
	top := m.levels[len(m.levels)-1]
	return top[0]
}

// ChunkCount returns the number of leaves in the manifest.
func (m *Manifest) ChunkCount() int {
	return len(m.leaves)
}

// Proof generates an inclusion proof for the chunk at index.
func (m *Manifest) Proof(index int) (*Proof, error) {
	if index < 0 || index >= len(m.leaves) {
		return nil, qerrors.ErrIndexOutOfRange
	}
	p := &Proof{LeafIndex: index}
	idx := index
	for level := 0; level < len(m.levels)-1; level++ {
		nodes := m.levels[level]
		var siblingIdx int
		var isRight bool
		if idx%2 == 0 {
			if idx+1 < len(nodes) {
				siblingIdx = idx + 1
			} else {
				siblingIdx = idx // duplicated odd node
			}
			isRight = true
		} else {
			siblingIdx = idx - 1
			isRight = false
		}
		p.Siblings = append(p.Siblings, nodes[siblingIdx])
		p.IsRight = append(p.IsRight, isRight)
		idx /= 2
	}
	return p, nil
}

// VerifyProof checks that leaf, combined with proof, hashes up to root.
func VerifyProof(leaf [32]byte, proof *Proof, root [32]byte) bool {
	cur := leaf
	for i, sib := range proof.Siblings {
		if proof.IsRight[i] {
			cur = hashNode(cur, sib)
		} else {
			cur = hashNode(sib, cur)
		}
	}
	return blake3hash.Equal(cur[:], root[:])
}

// VerifyResult reports the outcome of verifying a full chunk set against a
// known-good root, including which chunk indices (if any) failed.
type VerifyResult struct {
	OK              bool
	CorruptedChunks []int
}

// VerifyChunks re-hashes every chunk and reports which indices, if any,
// disagree with the expected leaf hashes recorded in the manifest. Use this
// after a transfer to localize corruption instead of only learning "the
// file is bad" from a root mismatch.
func (m *Manifest) VerifyChunks(chunks [][]byte) (*VerifyResult, error) {
	if len(chunks) != len(m.leaves) {
		return nil, qerrors.ErrIndexOutOfRange
	}
	res := &VerifyResult{OK: true}
	for i, c := range chunks {
		leaf := hashLeaf(c)
		if !blake3hash.Equal(leaf[:], m.leaves[i][:]) {
			res.OK = false
			res.CorruptedChunks = append(res.CorruptedChunks, i)
		}
	}
	return res, nil
}

// VerifyRoot reports whether root matches the manifest's computed root.
func (m *Manifest) VerifyRoot(root [32]byte) error {
	computed := m.Root()
	if !blake3hash.Equal(computed[:], root[:]) {
		return qerrors.ErrRootMismatch
	}
	return nil
}

// Leaf returns the recorded leaf hash at index.
func (m *Manifest) Leaf(index int) ([32]byte, error) {
	if index < 0 || index >= len(m.leaves) {
		return [32]byte{}, qerrors.ErrIndexOutOfRange
	}
	return m.leaves[index], nil
}
