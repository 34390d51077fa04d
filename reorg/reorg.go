// Package reorg implements chain-reorganization handling: common-ancestor
// walk-back, local rollback and orphaned-tx re-admission, then resumed
// pull-sync, per spec.md §4.8. Grounded on the teacher's
// BlockAssembler.getReorgBlockHeaders/getReorgBlocks (walk the remote
// chain until a hash already known locally is found, collect the blocks
// above it), adapted from teranode's move-up/move-down header lists to
// this chain's simpler rollback-then-resync shape.
package reorg

import (
	"context"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/metrics"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/validator"
)

// MaxWalkbackDepth bounds how far back the common-ancestor search may go,
// per spec.md §4.8.
const MaxWalkbackDepth = 200

// PullBatchSize is how many blocks resumed sync fetches per round-trip,
// per spec.md §4.10's pull-sync batching. Run walks one height at a time
// internally; batching is the caller's (SyncOrchestrator's) transport
// concern, this constant documents the contract the two share.
const PullBatchSize = 100

// RemoteBlock bundles a block with the transactions (coinbase first) a
// peer claims it contains, since model.Block itself carries no tx list.
type RemoteBlock struct {
	Block    *model.Block
	Coinbase model.Transaction
	Txs      []model.Transaction // regulars, excludes coinbase
}

// RemotePeer is the subset of peer behavior reorg needs: fetching a full
// block by height from the peer whose advertised chain triggered this
// reorg. Implemented by api.HTTPPeerClient.
type RemotePeer interface {
	GetBlockAtHeight(ctx context.Context, height int64) (*RemoteBlock, error)
}

// Mempool is the subset of mempool.Mempool reorg needs to re-admit
// orphaned transactions.
type Mempool interface {
	AddTransaction(ctx context.Context, tx model.Transaction) error
}

// Engine runs reorgs against a single store/validator/mempool triple.
type Engine struct {
	store storage.Store
	val   *validator.Validator
	pool  Mempool
}

// New returns an Engine.
func New(store storage.Store, val *validator.Validator, pool Mempool) *Engine {
	return &Engine{store: store, val: val, pool: pool}
}

// Run performs the full reorg procedure of spec.md §4.8 against peer,
// whose advertised chain disagrees with ours at our current tip.
func (e *Engine) Run(ctx context.Context, peer RemotePeer, remoteTipHeight int64) error {
	localTip, err := e.store.GetLastBlock(ctx)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "reorg: get_last_block failed", err)
	}
	if localTip == nil {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "reorg requires an existing local tip")
	}

	ancestorHeight, orphanedTxs, err := e.walkBack(ctx, peer, localTip.ID)
	if err != nil {
		return err
	}

	metrics.ReorgDepth.Observe(float64(localTip.ID - ancestorHeight))

	if err := e.store.RemoveBlocks(ctx, ancestorHeight+1); err != nil {
		return errors.New(errors.ERR_STORAGE, "reorg: remove_blocks failed", err)
	}

	for _, tx := range orphanedTxs {
		// Best-effort re-admission, per spec.md §4.8 step 4: a tx that
		// AddTransaction rejects (duplicate, full pool, failed verification)
		// is dropped. Admission does not consult the unspent set, and the
		// new chain is fetched only afterwards, so a tx that conflicts with
		// it stays pending until the template builder discards it.
		_ = e.pool.AddTransaction(ctx, tx)
	}

	return e.resumeSync(ctx, peer, ancestorHeight, remoteTipHeight)
}

// walkBack finds the common ancestor height by querying peer for the
// block at each descending local height, and collects every regular
// transaction from the local blocks that turn out to be orphaned, oldest
// first so mempool re-admission preserves the original dependency order.
func (e *Engine) walkBack(ctx context.Context, peer RemotePeer, localTipHeight int64) (int64, []model.Transaction, error) {
	var orphanedBlocks []*model.Block

	for depth := 0; depth <= MaxWalkbackDepth; depth++ {
		height := localTipHeight - int64(depth)
		if height < 0 {
			return 0, nil, errors.New(errors.ERR_BLOCK_INVALID, "reorg: walked back past genesis without finding a common ancestor")
		}

		localBlock, err := e.store.GetBlockByID(ctx, height)
		if err != nil {
			return 0, nil, errors.New(errors.ERR_STORAGE, "reorg: get_block_by_id failed", err)
		}
		if localBlock == nil {
			return 0, nil, errors.New(errors.ERR_BLOCK_INVALID, "reorg: missing local block during walk-back")
		}

		remote, err := peer.GetBlockAtHeight(ctx, height)
		if err != nil {
			// Transient network failure aborts the reorg without destructive action.
			return 0, nil, errors.New(errors.ERR_STORAGE, "reorg: peer fetch failed during walk-back", err)
		}

		if remote != nil && remote.Block != nil && remote.Block.Hash == localBlock.Hash {
			var orphaned []model.Transaction
			for i := len(orphanedBlocks) - 1; i >= 0; i-- {
				txs, err := e.store.GetBlockTransactions(ctx, orphanedBlocks[i].ID)
				if err != nil {
					return 0, nil, errors.New(errors.ERR_STORAGE, "reorg: get_block_transactions failed", err)
				}
				for _, tx := range txs {
					if !tx.IsCoinbase() {
						orphaned = append(orphaned, tx)
					}
				}
			}
			return height, orphaned, nil
		}

		orphanedBlocks = append(orphanedBlocks, localBlock)
	}

	return 0, nil, errors.New(errors.ERR_BLOCK_INVALID, "reorg: no common ancestor within max walk-back depth")
}

// resumeSync fetches remote blocks (ancestorHeight, remoteTipHeight] one
// at a time, validating and committing each through the Validator in
// order, stopping at the first failure (spec.md §4.8 step 5).
func (e *Engine) resumeSync(ctx context.Context, peer RemotePeer, ancestorHeight, remoteTipHeight int64) error {
	for height := ancestorHeight + 1; height <= remoteTipHeight; height++ {
		remote, err := peer.GetBlockAtHeight(ctx, height)
		if err != nil {
			return errors.New(errors.ERR_STORAGE, "reorg: resume sync fetch failed", err)
		}
		if remote == nil || remote.Block == nil {
			return errors.New(errors.ERR_ORPHAN_BLOCK, "reorg: peer has no block at expected height")
		}
		if _, err := e.val.AcceptRemoteBlock(ctx, remote.Block.Content, remote.Coinbase, remote.Txs, nil); err != nil {
			return errors.New(errors.ERR_BLOCK_INVALID, "reorg: resumed sync block rejected", err)
		}
	}
	return nil
}
