package provenance

import (
	"crypto/sha256"
	"encoding/hex"
)

// ProofPosition marks which side a sibling hash sits on.
type ProofPosition string

const (
	PositionLeft  ProofPosition = "left"
	PositionRight ProofPosition = "right"
)

// MerkleProof is one sibling-hash step on the path from a leaf to the root.
type MerkleProof struct {
	Hash     string        `json:"hash"`
	Position ProofPosition `json:"position"`
}

// hashContent is the leaf hash: sha256 over the raw content bytes, hex.
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func hashPair(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// merkleRoot folds the leaf hashes pairwise bottom-up. An unpaired final
// node is carried up unchanged. Empty input yields the empty string.
func merkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}

	level := leaves
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// merkleProof returns the sibling path for the leaf at index. The path plus
// the leaf hash suffice to recompute the root independently.
func merkleProof(leaves []string, index int) []MerkleProof {
	if index < 0 || index >= len(leaves) {
		return nil
	}

	var proof []MerkleProof
	level := leaves
	for len(level) > 1 {
		if index%2 == 0 {
			if index+1 < len(level) {
				proof = append(proof, MerkleProof{Hash: level[index+1], Position: PositionRight})
			}
			// Unpaired node: carried up, no sibling step.
		} else {
			proof = append(proof, MerkleProof{Hash: level[index-1], Position: PositionLeft})
		}

		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
		index /= 2
	}
	return proof
}

// applyProof recomputes the root from a leaf hash and its sibling path.
func applyProof(leaf string, proof []MerkleProof) string {
	current := leaf
	for _, step := range proof {
		if step.Position == PositionLeft {
			current = hashPair(step.Hash, current)
		} else {
			current = hashPair(current, step.Hash)
		}
	}
	return current
}
