package merkle

import "testing"

func chunkSet(n int) [][]byte {
	chunks := make([][]byte, n)
	for i := range chunks {
		chunks[i] = []byte{byte(i), byte(i + 1), byte(i + 2)}
	}
	return chunks
}

func TestBuildRejectsEmpty(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Error("expected error for empty chunk set")
	}
}

func TestRootDeterministic(t *testing.T) {
	chunks := chunkSet(5)
	m1, _ := Build(chunks)
	m2, _ := Build(chunks)
	if m1.Root() != m2.Root() {
		t.Error("identical chunk sets must produce identical roots")
	}
}

func TestRootChangesOnTamper(t *testing.T) {
	chunks := chunkSet(5)
	m1, _ := Build(chunks)
	chunks[2][0] ^= 0xFF
	m2, _ := Build(chunks)
	if m1.Root() == m2.Root() {
		t.Error("tampering a chunk must change the root")
	}
}

func TestProofRoundTripEvenAndOdd(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16} {
		chunks := chunkSet(n)
		m, err := Build(chunks)
		if err != nil {
			t.Fatalf("n=%d: Build: %v", n, err)
		}
		for i := 0; i < n; i++ {
			proof, err := m.Proof(i)
			if err != nil {
				t.Fatalf("n=%d i=%d: Proof: %v", n, i, err)
			}
			leaf, _ := m.Leaf(i)
			if !VerifyProof(leaf, proof, m.Root()) {
				t.Errorf("n=%d i=%d: proof did not verify", n, i)
			}
		}
	}
}

func TestProofOutOfRange(t *testing.T) {
	m, _ := Build(chunkSet(3))
	if _, err := m.Proof(-1); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := m.Proof(3); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestVerifyChunksLocalizesCorruption(t *testing.T) {
	chunks := chunkSet(6)
	m, _ := Build(chunks)

	tampered := make([][]byte, len(chunks))
	for i := range chunks {
		cp := make([]byte, len(chunks[i]))
		copy(cp, chunks[i])
		tampered[i] = cp
	}
	tampered[1][0] ^= 0xFF
	tampered[4][0] ^= 0xFF

	res, err := m.VerifyChunks(tampered)
	if err != nil {
		t.Fatalf("VerifyChunks: %v", err)
	}
	if res.OK {
		t.Fatal("expected verification failure")
	}
	if len(res.CorruptedChunks) != 2 || res.CorruptedChunks[0] != 1 || res.CorruptedChunks[1] != 4 {
		t.Errorf("unexpected corrupted chunk list: %v", res.CorruptedChunks)
	}
}

func TestVerifyRoot(t *testing.T) {
	m, _ := Build(chunkSet(4))
	if err := m.VerifyRoot(m.Root()); err != nil {
		t.Errorf("expected matching root to verify, got %v", err)
	}
	bad := m.Root()
	bad[0] ^= 0xFF
	if err := m.VerifyRoot(bad); err == nil {
		t.Error("expected mismatched root to fail")
	}
}
