package mempool

import (
	"context"
	"testing"

	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/storage/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	hash    string
	inputs  []model.Input
	verify  bool
	verifyErr error
}

func (s *stubTx) Hash() string           { return s.hash }
func (s *stubTx) Hex() string            { return s.hash }
func (s *stubTx) Inputs() []model.Input  { return s.inputs }
func (s *stubTx) Outputs() []model.Output { return nil }
func (s *stubTx) Fees() decimal.Decimal  { return decimal.Zero }
func (s *stubTx) IsCoinbase() bool       { return false }
func (s *stubTx) Verify(_ context.Context, _ bool) (bool, error) {
	return s.verify, s.verifyErr
}

func TestAddTransaction_RejectsDuplicateAndBadVerify(t *testing.T) {
	ctx := context.Background()
	m := New(memstore.New())

	ok := &stubTx{hash: "a", verify: true}
	require.NoError(t, m.AddTransaction(ctx, ok))
	assert.Error(t, m.AddTransaction(ctx, ok))

	bad := &stubTx{hash: "b", verify: false}
	assert.Error(t, m.AddTransaction(ctx, bad))

	assert.Equal(t, 1, m.Size())
}

func TestClearPendingTransactions_RemovesDoubleSpends(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.AddUnspentTransactionOutputs(ctx, []storage.UnspentOutput{
		{Key: storage.UnspentKey{TxHash: "parent", Index: 0}, Address: "addr", Amount: decimal.NewFromInt(5)},
	}))

	m := New(store)
	tx1 := &stubTx{hash: "tx1", inputs: []model.Input{{TxHash: "parent", Index: 0}}, verify: true}
	tx2 := &stubTx{hash: "tx2", inputs: []model.Input{{TxHash: "parent", Index: 0}}, verify: true}
	require.NoError(t, m.AddTransaction(ctx, tx1))
	require.NoError(t, m.AddTransaction(ctx, tx2))

	require.NoError(t, m.ClearPendingTransactions(ctx))
	assert.Equal(t, 1, m.Size())
}

func TestClearPendingTransactions_ClearsPoolWhenChainMovedUnderIt(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := New(store)

	tx := &stubTx{hash: "tx1", inputs: []model.Input{{TxHash: "gone", Index: 0}}, verify: true}
	require.NoError(t, m.AddTransaction(ctx, tx))

	require.NoError(t, m.ClearPendingTransactions(ctx))
	assert.Equal(t, 0, m.Size())
}
