package validator

import (
	"context"
	"sync"

	"github.com/ledgerd/node/chainparams"
	"github.com/ledgerd/node/pow"
	"github.com/ledgerd/node/storage"
)

// difficultyCache memoizes the expected difficulty at the chain's next
// height, guarded by its own lock and invalidated whenever a block is
// accepted. It holds at most one entry: the cache is only ever
// consulted for the block currently being validated against the current
// tip, and Invalidate is called every time the tip moves.
type difficultyCache struct {
	mu    sync.Mutex
	valid bool
	atID  int64
	value float64
}

// Invalidate drops the cached value — called after every accepted block
// (and after a reorg rollback) since the expected difficulty at the next
// height may have changed.
func (c *difficultyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

// expectedDifficulty computes the difficulty blockNo must carry, per
// spec.md §4.2: on a retarget boundary, recompute from the 512-block
// window ending at the parent; otherwise inherit the parent's difficulty
// unchanged.
func (c *difficultyCache) expectedDifficulty(ctx context.Context, store storage.Store, blockNo int64, parent *parentInfo) (float64, error) {
	if parent == nil {
		return chainparams.StartDifficulty, nil
	}

	c.mu.Lock()
	if c.valid && c.atID == blockNo {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	value := parent.Difficulty
	if pow.ShouldRetarget(blockNo) {
		ancestor, err := store.GetBlockByID(ctx, blockNo-chainparams.BlocksPerAdjustment)
		if err != nil {
			return 0, err
		}
		if ancestor != nil {
			elapsed := int64(parent.Timestamp) - int64(ancestor.Header.Timestamp)
			value = pow.Retarget(parent.Difficulty, elapsed)
		}
	}

	c.mu.Lock()
	c.valid = true
	c.atID = blockNo
	c.value = value
	c.mu.Unlock()

	return value, nil
}

// parentInfo is the subset of the parent block the difficulty and PoW
// checks need; it is satisfied by either a full model.Block or a
// model.ChainTip.
type parentInfo struct {
	ID         int64
	Hash       string
	Difficulty float64
	Timestamp  uint32
}
