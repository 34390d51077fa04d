package blockcodec

import (
	"strings"
	"testing"

	"github.com/ledgerd/node/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_Legacy(t *testing.T) {
	h := model.BlockHeader{
		Legacy:       true,
		PreviousHash: strings.Repeat("ab", 32),
		Address:      strings.Repeat("11", 64),
		MerkleRoot:   strings.Repeat("cd", 32),
		Timestamp:    1_700_000_000,
		Difficulty:   6.3,
		Nonce:        42,
	}

	raw, err := Serialize(h)
	require.NoError(t, err)
	assert.Len(t, raw, LegacyHeaderLen)

	got, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, got.Legacy)
	assert.Equal(t, h.PreviousHash, got.PreviousHash)
	assert.Equal(t, h.Address, got.Address)
	assert.Equal(t, h.MerkleRoot, got.MerkleRoot)
	assert.Equal(t, h.Timestamp, got.Timestamp)
	assert.InDelta(t, h.Difficulty, got.Difficulty, 1e-9)
	assert.Equal(t, h.Nonce, got.Nonce)
}

func TestRoundTrip_V2(t *testing.T) {
	h := model.BlockHeader{
		Legacy:       false,
		Version:      2,
		PreviousHash: strings.Repeat("ab", 32),
		Address:      strings.Repeat("02", 33),
		MerkleRoot:   strings.Repeat("cd", 32),
		Timestamp:    1_700_000_001,
		Difficulty:   10.0,
		Nonce:        7,
	}

	raw, err := Serialize(h)
	require.NoError(t, err)
	assert.Len(t, raw, V2HeaderLen)

	got, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, got.Legacy)
	assert.Equal(t, h.Version, got.Version)
	assert.Equal(t, h.Address, got.Address)
	assert.InDelta(t, h.Difficulty, got.Difficulty, 1e-9)
}

func TestParse_InvalidLength(t *testing.T) {
	_, err := Parse(make([]byte, 50))
	assert.Error(t, err)
}

func TestComputeHash_Deterministic(t *testing.T) {
	raw := []byte("some serialized header bytes")
	assert.Equal(t, ComputeHash(raw), ComputeHash(raw))
	assert.NotEqual(t, ComputeHash(raw), ComputeHash([]byte("different")))
}
