// Package mempool implements pending-transaction admission and the
// conflict sweep of spec.md §4.6, grounded on the teacher's
// services/validator admission-gate idiom (reject with a reason, record
// nothing on the hot path unless accepted) adapted to an in-memory pool
// map kept consistent with the storage.Store pending-transaction table.
package mempool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dolthub/swiss"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/metrics"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
)

const (
	// MaxPending is the hard cap on pending-transaction count, per spec.md §4.6.
	MaxPending = 10_000

	// maxSweepIterations bounds the conflict sweep's fixed-point loop.
	maxSweepIterations = 100
)

// Mempool is the single in-memory pending-transaction pool, guarded by
// one lock across all mutations (spec.md §5: "Mempool — all mutations
// through one lock on the pool map").
type Mempool struct {
	mu    sync.Mutex
	store storage.Store

	entries map[string]model.MempoolEntry
}

// New returns an empty Mempool backed by store.
func New(store storage.Store) *Mempool {
	return &Mempool{store: store, entries: make(map[string]model.MempoolEntry)}
}

// AddTransaction admits tx to the pool, per spec.md §4.6: reject if
// already present, if the pool is full (after evicting the oldest 10%),
// if verification fails, or if storage refuses the insert. Pool and
// storage either both reflect the addition or neither does.
func (m *Mempool) AddTransaction(ctx context.Context, tx model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := tx.Hash()
	if _, exists := m.entries[hash]; exists {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "transaction already pending")
	}

	if len(m.entries) >= MaxPending {
		m.evictOldestLocked(ctx, storage.EvictionCount(len(m.entries)))
	}
	if len(m.entries) >= MaxPending {
		return errors.New(errors.ERR_THRESHOLD_EXCEEDED, "mempool full")
	}

	ok, err := tx.Verify(ctx, true)
	if err != nil {
		return errors.New(errors.ERR_TX_INVALID, "transaction verify error", err)
	}
	if !ok {
		return errors.New(errors.ERR_TX_INVALID, "transaction failed verification")
	}

	entry := model.MempoolEntry{TxHash: hash, Tx: tx, InsertionTime: time.Now()}
	if err := m.store.AddPendingTransaction(ctx, entry); err != nil {
		return errors.New(errors.ERR_STORAGE, "storage refused pending transaction", err)
	}

	m.entries[hash] = entry
	metrics.MempoolSize.Set(float64(len(m.entries)))
	return nil
}

// evictOldestLocked removes the n oldest entries by insertion time. Callers
// must hold m.mu.
func (m *Mempool) evictOldestLocked(ctx context.Context, n int) {
	ordered := make([]model.MempoolEntry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].InsertionTime.Before(ordered[j].InsertionTime) })

	if n > len(ordered) {
		n = len(ordered)
	}
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		delete(m.entries, ordered[i].TxHash)
		hashes = append(hashes, ordered[i].TxHash)
	}
	if len(hashes) > 0 {
		_ = m.store.RemovePendingTransactionsByHash(ctx, hashes)
		metrics.MempoolEvictions.WithLabelValues("capacity").Add(float64(len(hashes)))
	}
}

// Size returns the current pending-transaction count.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a snapshot of every pending entry, in no particular
// order. Callers that need deterministic ordering (TemplateBuilder) sort
// by InsertionTime themselves.
func (m *Mempool) Entries() []model.MempoolEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.MempoolEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Remove drops hash from the pool and storage, used when a tx is included
// in a block or found invalid.
func (m *Mempool) Remove(ctx context.Context, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hash)
	_ = m.store.RemovePendingTransaction(ctx, hash)
	metrics.MempoolSize.Set(float64(len(m.entries)))
}

// ClearPendingTransactions runs the iterative conflict sweep of spec.md
// §4.6 to a fixed point (bounded at maxSweepIterations): intra-pool
// conflicts remove the later-inserted transaction; transactions whose
// inputs are no longer in the unspent set are double-spends and are
// removed; if every referenced input is missing, the whole pool is
// cleared (the chain moved under us).
func (m *Mempool) ClearPendingTransactions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for iter := 0; iter < maxSweepIterations; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		removedAny, err := m.sweepOnceLocked(ctx)
		if err != nil {
			return err
		}
		if !removedAny {
			break
		}
	}
	metrics.MempoolSize.Set(float64(len(m.entries)))
	return nil
}

func (m *Mempool) sweepOnceLocked(ctx context.Context) (bool, error) {
	ordered := make([]model.MempoolEntry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].InsertionTime.Before(ordered[j].InsertionTime) })

	claimed := swiss.NewMap[storage.UnspentKey, string](uint32(len(ordered) + 1))
	var toRemove []string

	for _, e := range ordered {
		conflict := false
		for _, in := range e.Tx.Inputs() {
			key := storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}
			if _, ok := claimed.Get(key); ok {
				conflict = true
				break
			}
		}
		if conflict {
			toRemove = append(toRemove, e.TxHash)
			continue
		}
		for _, in := range e.Tx.Inputs() {
			claimed.Put(storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}, e.TxHash)
		}
	}

	var allKeys []storage.UnspentKey
	for _, e := range ordered {
		for _, in := range e.Tx.Inputs() {
			allKeys = append(allKeys, storage.UnspentKey{TxHash: in.TxHash, Index: in.Index})
		}
	}

	if len(allKeys) > 0 {
		unspent, err := m.store.GetUnspentOutputs(ctx, allKeys)
		if err != nil {
			return false, errors.New(errors.ERR_STORAGE, "conflict sweep: unspent lookup failed", err)
		}
		if len(unspent) == 0 {
			// Every referenced input is missing: the chain moved under us.
			m.clearAllLocked(ctx)
			return false, nil
		}

		present := swiss.NewMap[storage.UnspentKey, struct{}](uint32(len(unspent) + 1))
		for _, u := range unspent {
			present.Put(u.Key, struct{}{})
		}
		for _, e := range ordered {
			for _, in := range e.Tx.Inputs() {
				if _, ok := present.Get(storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}); !ok {
					toRemove = append(toRemove, e.TxHash)
					break
				}
			}
		}
	}

	if len(toRemove) == 0 {
		return false, nil
	}

	seen := make(map[string]struct{}, len(toRemove))
	var unique []string
	for _, h := range toRemove {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, h)
		delete(m.entries, h)
	}
	_ = m.store.RemovePendingTransactionsByHash(ctx, unique)
	metrics.MempoolEvictions.WithLabelValues("conflict").Add(float64(len(unique)))
	return true, nil
}

func (m *Mempool) clearAllLocked(ctx context.Context) {
	m.entries = make(map[string]model.MempoolEntry)
	_ = m.store.RemoveAllPendingTransactions(ctx)
	metrics.MempoolEvictions.WithLabelValues("chain_moved").Inc()
}
