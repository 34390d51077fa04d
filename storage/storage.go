// Package storage declares the persistence contract spec.md §6.1 requires
// of the chain store: blocks, pending (mempool) transactions and the
// unspent-output set. Two implementations exist: storage/sqlstore
// (Postgres via lib/pq, grounded on the teacher's stores/blockchain/sql
// and stores/utxo/sql packages) and storage/memstore (mutex-guarded
// in-memory, grounded on stores/utxo/memory), selected at startup by
// LEDGERD_STORAGE_DRIVER.
package storage

import (
	"context"

	"github.com/ledgerd/node/model"
	"github.com/shopspring/decimal"
)

// UnspentKey identifies a single unspent output by the prevout it would
// satisfy.
type UnspentKey struct {
	TxHash string
	Index  int
}

// UnspentOutput is a single entry in the unspent set.
type UnspentOutput struct {
	Key     UnspentKey
	Address string
	Amount  decimal.Decimal
}

// AddressTxRef is a single entry in an address's transaction history, as
// returned by get_address_transactions.
type AddressTxRef struct {
	TxHash string
	Height int64
}

// Store is the full persistence contract of spec.md §6.1. Every write
// sequence create_block issues against it must be atomic: on failure,
// DeleteBlock must be sufficient to restore the prior state — callers
// rely on it as their rollback primitive (spec.md §4.5).
type Store interface {
	// Blocks

	GetLastBlock(ctx context.Context) (*model.ChainTip, error)
	GetBlock(ctx context.Context, hash string) (*model.Block, error)
	GetBlockByID(ctx context.Context, id int64) (*model.Block, error)
	GetBlocks(ctx context.Context, offset, limit int) ([]*model.Block, error)
	GetNextBlockID(ctx context.Context) (int64, error)
	// GetBlockTransactions returns every transaction stored against id,
	// coinbase first, then regulars. memstore returns the regulars in
	// insertion order; sqlstore orders them by tx_hash. Used by reorg to
	// recover orphaned transactions for mempool re-admission.
	GetBlockTransactions(ctx context.Context, id int64) ([]model.Transaction, error)

	// AddBlock inserts a block row (and, transactionally, its coinbase and
	// regular transactions, their outputs into the unspent set, and the
	// removal of consumed unspent outputs and included pending txs) as one
	// atomic unit. txs excludes the coinbase, which is passed separately.
	AddBlock(ctx context.Context, block *model.Block, coinbase model.Transaction, txs []model.Transaction) error
	// DeleteBlock removes a single block row by id — the rollback
	// primitive AddBlock's callers rely on after a failed commit.
	DeleteBlock(ctx context.Context, id int64) error
	// RemoveBlocks deletes every block with id >= fromID, for reorg rollback.
	RemoveBlocks(ctx context.Context, fromID int64) error

	// Transactions / unspent outputs

	AddTransaction(ctx context.Context, blockID int64, tx model.Transaction) error
	AddTransactions(ctx context.Context, blockID int64, txs []model.Transaction) error
	AddUnspentTransactionOutputs(ctx context.Context, outputs []UnspentOutput) error
	RemoveUnspentOutputs(ctx context.Context, keys []UnspentKey) error
	GetUnspentOutputs(ctx context.Context, keys []UnspentKey) ([]UnspentOutput, error)
	GetUnspentOutputsHash(ctx context.Context) (string, error)
	GetSpendableOutputs(ctx context.Context, address string) ([]UnspentOutput, error)
	GetAddressTransactions(ctx context.Context, address string, offset, limit int) ([]AddressTxRef, error)
	GetNiceTransaction(ctx context.Context, hash string) (model.Transaction, int64, error)

	// Mempool (pending transactions)

	AddPendingTransaction(ctx context.Context, entry model.MempoolEntry) error
	GetPendingTransactionCount(ctx context.Context) (int, error)
	GetAllPendingTransactionHashes(ctx context.Context) ([]string, error)
	GetPendingTransactionsByHash(ctx context.Context, hashes []string) ([]model.MempoolEntry, error)
	RemovePendingTransaction(ctx context.Context, hash string) error
	RemovePendingTransactionsByHash(ctx context.Context, hashes []string) error
	RemovePendingSpentOutputs(ctx context.Context, keys []UnspentKey) error
	RemoveAllPendingTransactions(ctx context.Context) error
}

// oldestFirst returns a copy of entries ordered oldest first by
// InsertionTime. No code in this module calls it.
func oldestFirst(entries []model.MempoolEntry) []model.MempoolEntry {
	out := make([]model.MempoolEntry, len(entries))
	copy(out, entries)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].InsertionTime.Before(out[j-1].InsertionTime); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// EvictionCount returns how many of n pending entries spec.md §4.6's
// "oldest 10%" eviction rule should remove.
func EvictionCount(n int) int {
	c := n / 10
	if c < 1 {
		c = 1
	}
	return c
}
