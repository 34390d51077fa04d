package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoot_Empty(t *testing.T) {
	sum := sha256.Sum256([]byte(""))
	assert.Equal(t, hex.EncodeToString(sum[:]), Root(nil))
	assert.Equal(t, hex.EncodeToString(sum[:]), Root([]string{}))
}

func TestRoot_OrderIndependent(t *testing.T) {
	a := Root([]string{"bb", "aa", "cc"})
	b := Root([]string{"cc", "bb", "aa"})
	c := Root([]string{"aa", "bb", "cc"})
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestRoot_MatchesManualConcat(t *testing.T) {
	sum := sha256.Sum256([]byte("aabbcc"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, Root([]string{"cc", "aa", "bb"}))
}

func TestCheck(t *testing.T) {
	hashes := []string{"1234", "5678"}
	assert.True(t, Check(hashes, Root(hashes)))
	assert.False(t, Check(hashes, "deadbeef"))
}
