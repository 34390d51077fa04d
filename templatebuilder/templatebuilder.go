// Package templatebuilder assembles a mining candidate from the mempool,
// per spec.md §4.7: classify candidates, build an input DAG, and run a
// stable Kahn topological traversal that also resolves in-block
// conflicts and enforces a size cap below the block limit. Grounded on
// the teacher's services/blockassembly package's role (the component
// that turns pending work into a minable template) though the selection
// algorithm itself is this chain's own topological-order scheme, not
// teranode's subtree assembly.
package templatebuilder

import (
	"context"
	"sort"
	"time"

	"github.com/dolthub/swiss"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/merkle"
	"github.com/ledgerd/node/metrics"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
)

const (
	// MaxCandidates caps how many mempool entries a single build considers.
	MaxCandidates = 5_000

	// MaxSelectedHexBytes is the hard stop on accumulated tx hex size,
	// deliberately well below the 2 MiB block limit to leave room for the
	// coinbase, per spec.md §4.7.
	MaxSelectedHexBytes = 1_900_000
)

// MempoolSource is the subset of mempool.Mempool the builder needs,
// narrowed to an interface so it can be tested without a real pool.
type MempoolSource interface {
	Entries() []model.MempoolEntry
	Remove(ctx context.Context, hash string)
}

// Builder assembles mining templates from a mempool and a storage.Store
// for on-chain parent resolution.
type Builder struct {
	pool  MempoolSource
	store storage.Store
}

// New returns a Builder reading from pool and resolving on-chain parents
// through store.
func New(pool MempoolSource, store storage.Store) *Builder {
	return &Builder{pool: pool, store: store}
}

// Result is the builder's output: the selected transactions in inclusion
// order, their hashes, the Merkle root over those hashes, and the total
// fees collected.
type Result struct {
	Txs        []model.Transaction
	TxHashes   []string
	MerkleRoot string
	Fees       int64
}

// Build runs the six-step selection algorithm of spec.md §4.7.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() { metrics.TemplateBuildDuration.Observe(time.Since(start).Seconds()) }()

	entries := b.pool.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].InsertionTime.Before(entries[j].InsertionTime) })
	if len(entries) > MaxCandidates {
		entries = entries[:MaxCandidates]
	}

	byHash := make(map[string]model.MempoolEntry, len(entries))
	for _, e := range entries {
		byHash[e.TxHash] = e
	}

	// 1 & 2: classify inputs and verify each candidate.
	invalid := make(map[string]struct{})
	inPool := make(map[string]map[string]struct{}, len(entries)) // child -> set of in-pool parent hashes

	for _, e := range entries {
		parents := make(map[string]struct{})
		ok := true

		for _, in := range e.Tx.Inputs() {
			if _, isPoolParent := byHash[in.TxHash]; isPoolParent {
				parents[in.TxHash] = struct{}{}
				continue
			}
			onChain, err := b.store.GetUnspentOutputs(ctx, []storage.UnspentKey{{TxHash: in.TxHash, Index: in.Index}})
			if err != nil {
				return nil, errors.New(errors.ERR_STORAGE, "template build: unspent lookup failed", err)
			}
			if len(onChain) == 0 {
				ok = false
				break
			}
		}
		if !ok {
			invalid[e.TxHash] = struct{}{}
			continue
		}

		verified, err := e.Tx.Verify(ctx, false)
		if err != nil || !verified {
			invalid[e.TxHash] = struct{}{}
			continue
		}

		inPool[e.TxHash] = parents
	}

	// 3: build DAG, in-degrees over non-invalid txs. children is built by
	// walking entries in their insertion order rather than ranging over
	// the inPool map, so which child lands first in a shared parent's
	// adjacency list — and therefore which of two conflicting children
	// wins the Kahn traversal's tie-break — is deterministic given the
	// mempool's input order (spec.md §4.7), not Go's randomized map
	// iteration.
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, bad := invalid[e.TxHash]; !bad {
			order = append(order, e.TxHash)
		}
	}

	inDegree := make(map[string]int, len(inPool))
	children := make(map[string][]string)
	for _, hash := range order {
		parents := inPool[hash]
		inDegree[hash] = len(parents)
		for parent := range parents {
			children[parent] = append(children[parent], hash)
		}
	}

	var queue []string
	for _, hash := range order {
		if inDegree[hash] == 0 {
			queue = append(queue, hash)
		}
	}

	// 4: Kahn traversal with conflict resolution and size cap.
	spent := swiss.NewMap[storage.UnspentKey, struct{}](uint32(len(entries) + 1))
	var selected []model.MempoolEntry
	var selectedHashes []string
	var totalHexBytes int
	var totalFeesSmallest int64

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		hash := queue[0]
		queue = queue[1:]
		entry := byHash[hash]

		conflict := false
		for _, in := range entry.Tx.Inputs() {
			if _, ok := spent.Get(storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}); ok {
				conflict = true
				break
			}
		}

		if !conflict {
			if totalHexBytes+len(entry.Tx.Hex()) > MaxSelectedHexBytes {
				break
			}
			selected = append(selected, entry)
			selectedHashes = append(selectedHashes, hash)
			totalHexBytes += len(entry.Tx.Hex())
			totalFeesSmallest += entry.Tx.Fees().IntPart()
			for _, in := range entry.Tx.Inputs() {
				spent.Put(storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}, struct{}{})
			}
		}

		for _, child := range children[hash] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	// 5: invalid txs are dropped from the mempool and storage.
	for hash := range invalid {
		b.pool.Remove(ctx, hash)
	}

	txs := make([]model.Transaction, len(selected))
	for i, e := range selected {
		txs[i] = e.Tx
	}

	return &Result{
		Txs:        txs,
		TxHashes:   selectedHashes,
		MerkleRoot: merkle.Root(selectedHashes),
		Fees:       totalFeesSmallest,
	}, nil
}
