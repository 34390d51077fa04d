// Package merkle computes the block's canonical commitment to its
// transaction set, per spec.md §4.4: sha256 of the concatenation of the
// non-coinbase transaction hashes sorted ascending. Grounded on the
// teacher's Block.CheckMerkleRoot (model/Block.go) for the calling
// convention (a single Root/Check pair consumed by the Validator) though
// the algorithm itself is this chain's own flat, order-independent scheme
// rather than teranode's subtree-of-subtrees tree.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Root computes the Merkle root over txHashes (hex strings), excluding
// the coinbase transaction — callers must not pass it in. An empty set
// (a block with no non-coinbase transactions) hashes the empty string,
// per spec.md §4.4.
func Root(txHashes []string) string {
	sorted := make([]string, len(txHashes))
	copy(sorted, txHashes)
	sort.Strings(sorted)

	concat := ""
	for _, h := range sorted {
		concat += h
	}

	sum := sha256.Sum256([]byte(concat))
	return hex.EncodeToString(sum[:])
}

// Check reports whether want matches the Merkle root computed over
// txHashes.
func Check(txHashes []string, want string) bool {
	return Root(txHashes) == want
}
