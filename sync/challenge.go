package sync

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ledgerd/node/errors"
)

// ChallengeTTL is how long an issued handshake challenge remains valid,
// per spec.md §4.10.
const ChallengeTTL = 300 * time.Second

// MaxChallenges bounds the challenge store; once exceeded the oldest half
// is evicted in one pass, per spec.md §4.10. This bulk-eviction policy
// doesn't fit ttlcache/v3's per-key LRU/TTL eviction, so it's hand-rolled
// over a plain map plus insertion-order slice, the same shape as the
// push-target tracker in state.go.
const MaxChallenges = 10_000

type challengeEntry struct {
	issuedAt time.Time
	used     bool
}

// ChallengeStore issues and single-use-validates handshake challenges.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]*challengeEntry
	order   []string
}

// NewChallengeStore returns an empty ChallengeStore.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{entries: make(map[string]*challengeEntry)}
}

// Issue generates a fresh 32-byte hex challenge and records it.
func (c *ChallengeStore) Issue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New(errors.ERR_UNKNOWN, "sync: challenge generation failed", err)
	}
	challenge := hex.EncodeToString(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) >= MaxChallenges {
		c.evictOldestHalfLocked()
	}
	c.entries[challenge] = &challengeEntry{issuedAt: time.Now()}
	c.order = append(c.order, challenge)

	return challenge, nil
}

// Consume validates and invalidates challenge in one step: it must exist,
// be unused, and be within ChallengeTTL of issuance. A challenge can only
// ever be consumed once.
func (c *ChallengeStore) Consume(challenge string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[challenge]
	if !ok {
		return errors.New(errors.ERR_AUTH_FAILED, "sync: unknown challenge")
	}
	if e.used {
		return errors.New(errors.ERR_AUTH_FAILED, "sync: challenge already used")
	}
	if time.Since(e.issuedAt) > ChallengeTTL {
		return errors.New(errors.ERR_AUTH_FAILED, "sync: challenge expired")
	}
	e.used = true
	return nil
}

func (c *ChallengeStore) evictOldestHalfLocked() {
	half := len(c.order) / 2
	for _, ch := range c.order[:half] {
		delete(c.entries, ch)
	}
	c.order = c.order[half:]
}
