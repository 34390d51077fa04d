package reorg

import (
	"context"
	"testing"

	"github.com/ledgerd/node/mempool"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/storage/memstore"
	"github.com/ledgerd/node/ulogger"
	"github.com/ledgerd/node/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	hash   string
	inputs []model.Input
}

func (s *stubTx) Hash() string           { return s.hash }
func (s *stubTx) Hex() string            { return s.hash }
func (s *stubTx) Inputs() []model.Input  { return s.inputs }
func (s *stubTx) Outputs() []model.Output {
	return []model.Output{{Address: "addr", Amount: decimal.NewFromInt(1)}}
}
func (s *stubTx) Fees() decimal.Decimal { return decimal.Zero }
func (s *stubTx) IsCoinbase() bool      { return false }
func (s *stubTx) Verify(_ context.Context, _ bool) (bool, error) {
	return true, nil
}

type fakePeer struct {
	blocksByHeight map[int64]*RemoteBlock
}

func (p *fakePeer) GetBlockAtHeight(_ context.Context, height int64) (*RemoteBlock, error) {
	return p.blocksByHeight[height], nil
}

func seedLocalChain(t *testing.T, store storage.Store) (genesisHash string, tx1 model.Transaction) {
	t.Helper()
	ctx := context.Background()

	coinbase0 := model.NewCoinbaseTransaction("genesis", "addr", decimal.NewFromInt(64))
	genesis := &model.Block{ID: 0, Hash: "genesis-hash", Header: model.BlockHeader{Difficulty: 6.0}, Reward: decimal.NewFromInt(64)}
	require.NoError(t, store.AddBlock(ctx, genesis, coinbase0, nil))

	coinbase1 := model.NewCoinbaseTransaction("local-b1", "addr", decimal.NewFromInt(64))
	tx1 = &stubTx{hash: "tx1", inputs: []model.Input{{TxHash: coinbase0.Hash(), Index: 0}}}
	b1 := &model.Block{ID: 1, Hash: "local-b1-hash", Header: model.BlockHeader{Difficulty: 6.0}, Reward: decimal.NewFromInt(64)}
	require.NoError(t, store.AddBlock(ctx, b1, coinbase1, []model.Transaction{tx1}))

	return genesis.Hash, tx1
}

func TestRun_RollsBackOrphanedBlockAndReadmitsTx(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	genesisHash, tx1 := seedLocalChain(t, store)

	v := validator.New(ulogger.New("reorg-test"), store)
	pool := mempool.New(store)
	engine := New(store, v, pool)

	peer := &fakePeer{blocksByHeight: map[int64]*RemoteBlock{
		0: {Block: &model.Block{ID: 0, Hash: genesisHash}},
		// peer has no block at height 1: its chain tip is the genesis block.
	}}

	require.NoError(t, engine.Run(ctx, peer, 0))

	tip, err := store.GetLastBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tip.ID)

	assert.Equal(t, 1, pool.Size())
	entries := pool.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, tx1.Hash(), entries[0].TxHash)
}

func TestRun_FailsWhenNoCommonAncestorWithinDepth(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, _ = seedLocalChain(t, store)

	v := validator.New(ulogger.New("reorg-test"), store)
	pool := mempool.New(store)
	engine := New(store, v, pool)

	// Peer never agrees with any local hash, so no common ancestor exists.
	peer := &fakePeer{blocksByHeight: map[int64]*RemoteBlock{}}

	err := engine.Run(ctx, peer, 0)
	assert.Error(t, err)
}

func TestRun_KeepsRollbackWhenResumedBlockIsRejected(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	genesisHash, _ := seedLocalChain(t, store)

	v := validator.New(ulogger.New("reorg-test"), store)
	pool := mempool.New(store)
	engine := New(store, v, pool)

	remoteCoinbase := model.NewCoinbaseTransaction("remote-b1", "addr", decimal.NewFromInt(64))
	remoteB1 := &RemoteBlock{
		Block:    &model.Block{ID: 1, Hash: "remote-b1-hash", Content: "deadbeef"},
		Coinbase: remoteCoinbase,
	}
	peer := &fakePeer{blocksByHeight: map[int64]*RemoteBlock{
		0: {Block: &model.Block{ID: 0, Hash: genesisHash}},
		1: remoteB1,
	}}

	// AcceptRemoteBlock rejects this malformed content, so Run reports the
	// failure. The rollback to the common ancestor has already committed by
	// that point, leaving the node synced to height 0 rather than 1.
	err := engine.Run(ctx, peer, 1)
	assert.Error(t, err)

	tip, err := store.GetLastBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tip.ID)
}
