package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafHashes(contents ...string) []string {
	hashes := make([]string, len(contents))
	for i, c := range contents {
		hashes[i] = hashContent([]byte(c))
	}
	return hashes
}

func TestMerkleRoot_Deterministic(t *testing.T) {
	leaves := leafHashes("a", "b", "c", "d")

	assert.Equal(t, merkleRoot(leaves), merkleRoot(leaves))
	assert.NotEqual(t, merkleRoot(leaves), merkleRoot(leafHashes("a", "b", "c", "e")))
}

func TestMerkleRoot_SingleLeaf(t *testing.T) {
	leaves := leafHashes("only")
	assert.Equal(t, leaves[0], merkleRoot(leaves))
}

func TestMerkleRoot_Empty(t *testing.T) {
	assert.Equal(t, "", merkleRoot(nil))
}

func TestMerkleProof_RoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8} {
		contents := make([]string, n)
		for i := range contents {
			contents[i] = string(rune('a' + i))
		}
		leaves := leafHashes(contents...)
		root := merkleRoot(leaves)

		for i := range leaves {
			proof := merkleProof(leaves, i)
			assert.Equalf(t, root, applyProof(leaves[i], proof), "n=%d leaf=%d", n, i)
		}
	}
}

func TestMerkleProof_OddLeafCarriedUp(t *testing.T) {
	leaves := leafHashes("a", "b", "c")

	// Leaf 2 has no sibling at the bottom level, so its proof starts one
	// level up and is shorter than its paired neighbors'.
	proof := merkleProof(leaves, 2)
	require.Len(t, proof, 1)
	assert.Equal(t, merkleRoot(leaves), applyProof(leaves[2], proof))
}

func TestApplyProof_RejectsTamperedLeaf(t *testing.T) {
	leaves := leafHashes("a", "b", "c", "d")
	root := merkleRoot(leaves)
	proof := merkleProof(leaves, 1)

	tampered := hashContent([]byte("b'"))
	assert.NotEqual(t, root, applyProof(tampered, proof))
}
