package sync

import (
	"context"
	"testing"

	"github.com/ledgerd/node/mempool"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/peerregistry"
	"github.com/ledgerd/node/reorg"
	"github.com/ledgerd/node/storage/memstore"
	"github.com/ledgerd/node/ulogger"
	"github.com/ledgerd/node/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate_PeerAheadRequestsPush(t *testing.T) {
	d := Negotiate(5, 10)
	assert.Equal(t, ActionPeerShouldPush, d.Action)
	assert.EqualValues(t, 6, d.StartBlock)
	assert.EqualValues(t, 11, d.TargetBlock)
}

func TestNegotiate_PeerBehindRequestsPull(t *testing.T) {
	d := Negotiate(10, 5)
	assert.Equal(t, ActionPeerShouldPull, d.Action)
	assert.EqualValues(t, 6, d.NextBlockExpect)
}

func TestNegotiate_EqualHeightsTakeNoAction(t *testing.T) {
	d := Negotiate(7, 7)
	assert.Equal(t, ActionNone, d.Action)
}

func TestBuildPushBatches_SplitsOnBlockCountCap(t *testing.T) {
	blocks := make([]*model.Block, PushMaxBlocks+10)
	for i := range blocks {
		blocks[i] = &model.Block{ID: int64(i), Content: "ab"}
	}
	batches := BuildPushBatches(blocks)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Blocks, PushMaxBlocks)
	assert.Len(t, batches[1].Blocks, 10)
}

func TestBuildPushBatches_SplitsOnByteSizeCap(t *testing.T) {
	// Each block's raw byte size is 15MiB (hex doubles the character
	// count); two of them exceed the 20MiB-per-batch cap together.
	bigContent := make([]byte, 15*1024*1024*2)
	for i := range bigContent {
		bigContent[i] = 'a'
	}
	blocks := []*model.Block{
		{ID: 0, Content: string(bigContent)},
		{ID: 1, Content: string(bigContent)},
	}
	batches := BuildPushBatches(blocks)
	assert.Len(t, batches, 2)
}

type fakeRemotePeer struct {
	blocks map[int64]*reorg.RemoteBlock
}

func (p *fakeRemotePeer) GetBlockAtHeight(_ context.Context, height int64) (*reorg.RemoteBlock, error) {
	return p.blocks[height], nil
}

func TestPullSync_ReturnsCleanlyWhenPeerHasNoMoreBlocks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	v := validator.New(ulogger.New("sync-test"), store)
	pool := mempool.New(store)
	reorgEngine := reorg.New(store, v, pool)
	o := New(store, v, reorgEngine, peerregistry.New())

	peer := &fakeRemotePeer{blocks: map[int64]*reorg.RemoteBlock{}}

	require.NoError(t, o.PullSync(ctx, peer, "peer1"))
	assert.EqualValues(t, 0, o.State().ActivePulls(), "slot must be released on return")
}

func TestPullSync_RespectsConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	v := validator.New(ulogger.New("sync-test"), store)
	pool := mempool.New(store)
	reorgEngine := reorg.New(store, v, pool)
	o := New(store, v, reorgEngine, peerregistry.New())

	release, err := o.State().AcquirePull()
	require.NoError(t, err)
	defer release()

	peer := &fakeRemotePeer{blocks: map[int64]*reorg.RemoteBlock{}}
	err = o.PullSync(ctx, peer, "peer1")
	assert.Error(t, err)
}
