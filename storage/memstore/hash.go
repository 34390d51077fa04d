package memstore

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashStrings returns the sha256 hex digest of the concatenation of ss,
// used for get_unspent_outputs_hash's cheap state-comparison digest.
func hashStrings(ss []string) string {
	concat := ""
	for _, s := range ss {
		concat += s
	}
	sum := sha256.Sum256([]byte(concat))
	return hex.EncodeToString(sum[:])
}
