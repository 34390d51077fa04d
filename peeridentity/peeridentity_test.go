package peeridentity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_ProducesDistinctNodeIDs(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.NotEmpty(t, a.NodeID)
	assert.NotEqual(t, a.NodeID, b.NodeID)
}

func TestLoadOrCreate_PersistsAndReloadsSameIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pem")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)

	second, err := LoadOrCreate(path)
	require.NoError(t, err)

	assert.Equal(t, first.NodeID, second.NodeID)
}

func TestSignAndVerify_RoundTrips(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	payload, err := CanonicalPayload("raw-body", 1700000000, "deadbeef", map[string]string{
		"height":    "42",
		"last_hash": "abc123",
	})
	require.NoError(t, err)

	sig, err := id.Sign(payload)
	require.NoError(t, err)

	pub, err := PublicKeyFromHex(id.PubKeyHex)
	require.NoError(t, err)

	ok, err := Verify(pub, payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	payload, err := CanonicalPayload("raw-body", 1700000000, "deadbeef", nil)
	require.NoError(t, err)
	sig, err := id.Sign(payload)
	require.NoError(t, err)

	tampered, err := CanonicalPayload("different-body", 1700000000, "deadbeef", nil)
	require.NoError(t, err)

	pub, err := PublicKeyFromHex(id.PubKeyHex)
	require.NoError(t, err)

	ok, err := Verify(pub, tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanonicalPayload_IsDeterministicRegardlessOfHeaderOrder(t *testing.T) {
	a, err := CanonicalPayload("b", 1, "n", map[string]string{"height": "1", "last_hash": "h"})
	require.NoError(t, err)
	b, err := CanonicalPayload("b", 1, "n", map[string]string{"last_hash": "h", "height": "1"})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalPayload_CoercesNumericHeaders(t *testing.T) {
	payload, err := CanonicalPayload("b", 1, "n", map[string]string{"height": "42"})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"height":42`)
	assert.NotContains(t, string(payload), `"height":"42"`)
}

func TestWithinReplayWindow(t *testing.T) {
	now := time.Now().Unix()
	assert.True(t, WithinReplayWindow(now, now))
	assert.True(t, WithinReplayWindow(now-300, now))
	assert.False(t, WithinReplayWindow(now-301, now))
	assert.True(t, WithinReplayWindow(now+120, now))
}

func TestNewNonce_ProducesDistinctHexValues(t *testing.T) {
	a := NewNonce()
	b := NewNonce()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32) // 16 bytes hex-encoded
}
