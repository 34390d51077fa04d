package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndConsume_SingleUse(t *testing.T) {
	c := NewChallengeStore()

	challenge, err := c.Issue()
	require.NoError(t, err)
	assert.Len(t, challenge, 64) // 32 bytes hex-encoded

	require.NoError(t, c.Consume(challenge))

	err = c.Consume(challenge)
	assert.Error(t, err, "a challenge must not be consumable twice")
}

func TestConsume_RejectsUnknownChallenge(t *testing.T) {
	c := NewChallengeStore()
	assert.Error(t, c.Consume("does-not-exist"))
}

func TestConsume_RejectsExpiredChallenge(t *testing.T) {
	c := NewChallengeStore()
	challenge, err := c.Issue()
	require.NoError(t, err)

	c.entries[challenge].issuedAt = time.Now().Add(-ChallengeTTL - time.Second)

	assert.Error(t, c.Consume(challenge))
}

func TestIssue_EvictsOldestHalfWhenFull(t *testing.T) {
	c := NewChallengeStore()
	for i := 0; i < MaxChallenges; i++ {
		_, err := c.Issue()
		require.NoError(t, err)
	}
	first := c.order[0]

	_, err := c.Issue()
	require.NoError(t, err)

	assert.LessOrEqual(t, len(c.order), MaxChallenges/2+2)
	_, stillPresent := c.entries[first]
	assert.False(t, stillPresent)
}
