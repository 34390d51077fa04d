package templatebuilder

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/storage/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	hash   string
	inputs []model.Input
}

func (s *stubTx) Hash() string              { return s.hash }
func (s *stubTx) Hex() string                { return s.hash }
func (s *stubTx) Inputs() []model.Input      { return s.inputs }
func (s *stubTx) Outputs() []model.Output    { return nil }
func (s *stubTx) Fees() decimal.Decimal      { return decimal.Zero }
func (s *stubTx) IsCoinbase() bool           { return false }
func (s *stubTx) Verify(_ context.Context, _ bool) (bool, error) {
	return true, nil
}

type fakePool struct {
	entries []model.MempoolEntry
	removed []string
}

func (p *fakePool) Entries() []model.MempoolEntry { return p.entries }
func (p *fakePool) Remove(_ context.Context, hash string) {
	p.removed = append(p.removed, hash)
	var kept []model.MempoolEntry
	for _, e := range p.entries {
		if e.TxHash != hash {
			kept = append(kept, e)
		}
	}
	p.entries = kept
}

func TestBuild_TopologicalOrder(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.AddUnspentTransactionOutputs(ctx, []storage.UnspentOutput{
		{Key: storage.UnspentKey{TxHash: "A", Index: 0}, Address: "addr", Amount: decimal.NewFromInt(10)},
	}))

	txA := &stubTx{hash: "A"}
	txB := &stubTx{hash: "B", inputs: []model.Input{{TxHash: "A", Index: 0}}}
	txC := &stubTx{hash: "C", inputs: []model.Input{{TxHash: "B", Index: 0}}}

	now := time.Now()
	pool := &fakePool{entries: []model.MempoolEntry{
		{TxHash: "C", Tx: txC, InsertionTime: now.Add(2 * time.Second)},
		{TxHash: "B", Tx: txB, InsertionTime: now.Add(1 * time.Second)},
		{TxHash: "A", Tx: txA, InsertionTime: now},
	}}

	b := New(pool, store)
	result, err := b.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, result.TxHashes)
}

func TestBuild_ResolvesInBlockConflict(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.AddUnspentTransactionOutputs(ctx, []storage.UnspentOutput{
		{Key: storage.UnspentKey{TxHash: "A", Index: 0}, Address: "addr", Amount: decimal.NewFromInt(10)},
	}))

	txA := &stubTx{hash: "A"}
	txB := &stubTx{hash: "B", inputs: []model.Input{{TxHash: "A", Index: 0}}}
	txBprime := &stubTx{hash: "Bprime", inputs: []model.Input{{TxHash: "A", Index: 0}}}

	now := time.Now()
	pool := &fakePool{entries: []model.MempoolEntry{
		{TxHash: "A", Tx: txA, InsertionTime: now},
		{TxHash: "B", Tx: txB, InsertionTime: now.Add(1 * time.Second)},
		{TxHash: "Bprime", Tx: txBprime, InsertionTime: now.Add(2 * time.Second)},
	}}

	b := New(pool, store)
	result, err := b.Build(ctx)
	require.NoError(t, err)

	hasB := contains(result.TxHashes, "B")
	hasBprime := contains(result.TxHashes, "Bprime")
	assert.True(t, hasB != hasBprime, "exactly one of B/Bprime should be included")

	// B was inserted before Bprime, so it must be the one that wins the
	// conflict: the child adjacency list children["A"] is built by
	// walking entries in insertion order, not map order, so the winner
	// is determined by mempool input order rather than Go's randomized
	// map iteration.
	assert.True(t, hasB, "B, the earlier-inserted spender of A.out[0], should win")
}

func TestBuild_ConflictResolutionIsDeterministic(t *testing.T) {
	ctx := context.Background()

	buildOnce := func() []string {
		store := memstore.New()
		require.NoError(t, store.AddUnspentTransactionOutputs(ctx, []storage.UnspentOutput{
			{Key: storage.UnspentKey{TxHash: "A", Index: 0}, Address: "addr", Amount: decimal.NewFromInt(10)},
		}))

		txA := &stubTx{hash: "A"}
		txB := &stubTx{hash: "B", inputs: []model.Input{{TxHash: "A", Index: 0}}}
		txBprime := &stubTx{hash: "Bprime", inputs: []model.Input{{TxHash: "A", Index: 0}}}

		now := time.Now()
		pool := &fakePool{entries: []model.MempoolEntry{
			{TxHash: "A", Tx: txA, InsertionTime: now},
			{TxHash: "B", Tx: txB, InsertionTime: now.Add(1 * time.Second)},
			{TxHash: "Bprime", Tx: txBprime, InsertionTime: now.Add(2 * time.Second)},
		}}

		b := New(pool, store)
		result, err := b.Build(ctx)
		require.NoError(t, err)
		return result.TxHashes
	}

	first := buildOnce()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, buildOnce(), "identical mempool input must produce the same selection every run")
	}
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

func TestBuild_DropsInvalidCandidates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	orphan := &stubTx{hash: "orphan", inputs: []model.Input{{TxHash: "missing", Index: 0}}}
	pool := &fakePool{entries: []model.MempoolEntry{{TxHash: "orphan", Tx: orphan, InsertionTime: time.Now()}}}

	b := New(pool, store)
	result, err := b.Build(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.TxHashes)
	assert.Contains(t, pool.removed, "orphan")
}
