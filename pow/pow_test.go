package pow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid_IntegerDifficulty(t *testing.T) {
	parent := "00000000000000000000000000000000000000000000000000000000001234"
	// difficulty 4 => hash must start with last 4 hex chars of parent: "1234"
	assert.True(t, Valid("1234abcdef", parent, 4.0))
	assert.False(t, Valid("1235abcdef", parent, 4.0))
}

func TestValid_FractionalDifficulty(t *testing.T) {
	parent := "0000000000000000000000000000000000000000000000000000000000abcd"
	// difficulty 2.5 => prefix "cd", then position 2 char must be among
	// first ceil(16*0.5)=8 hex digits: 0-7
	require.True(t, Valid("cd7xxxxxxx", parent, 2.5))
	assert.False(t, Valid("cd8xxxxxxx", parent, 2.5))
}

func TestValid_GenesisExemptByCaller(t *testing.T) {
	// i=0 means no prefix constraint at all — this is how a caller can
	// special-case "no real parent" difficulties close to zero, though
	// true genesis exemption is the validator's job, not pow's.
	assert.True(t, Valid("ffffffff", "", 0.0))
}

func TestRetargetRatioClamp(t *testing.T) {
	assert.InDelta(t, 0.25, ClampRatio(0.01), 1e-9)
	assert.InDelta(t, 4.0, ClampRatio(999), 1e-9)
	assert.InDelta(t, 2.0, ClampRatio(2.0), 1e-9)
}

func TestRetarget_DoublesHashrate(t *testing.T) {
	// 512 blocks in 90s average => avg=90/... wait elapsed is total seconds
	// across the window: avg = elapsed/512 = 90 means ratio = 180/90 = 2.0.
	elapsed := int64(90 * 512)
	got := Retarget(6.0, elapsed)
	want := RoundDifficulty(HashrateToDifficulty(Hashrate(6.0) * 2.0))
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 6.5, got, 1e-9)
}

func TestHashrateDifficultyRoundTrip(t *testing.T) {
	for _, d := range []float64{6.0, 6.3, 10.0, 12.9} {
		h := Hashrate(d)
		back := HashrateToDifficulty(h)
		assert.InDelta(t, d, back, 0.1, "round trip for difficulty %v", d)
	}
}

func TestShouldRetarget(t *testing.T) {
	assert.False(t, ShouldRetarget(0))
	assert.False(t, ShouldRetarget(511))
	assert.True(t, ShouldRetarget(512))
	assert.True(t, ShouldRetarget(1024))
}

func TestElapsedClampedToOne(t *testing.T) {
	got := Retarget(6.0, -5)
	// avg = 1/512, ratio huge, clamped to 4.0
	want := RoundDifficulty(HashrateToDifficulty(Hashrate(6.0) * 4.0))
	assert.InDelta(t, want, got, 1e-9)
}

func TestSplit(t *testing.T) {
	i, f := Split(6.3)
	assert.Equal(t, 6, i)
	assert.InDelta(t, 0.3, f, 1e-9)

	i, f = Split(6.0)
	assert.Equal(t, 6, i)
	assert.InDelta(t, 0.0, f, 1e-9)
}

func TestRoundDifficulty(t *testing.T) {
	assert.InDelta(t, 6.3, RoundDifficulty(6.29999999), 1e-9)
	assert.False(t, math.IsNaN(RoundDifficulty(0)))
}
