package sync

import (
	"context"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/peerregistry"
	"github.com/ledgerd/node/reorg"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/validator"
)

// HandshakeAction is the negotiation outcome of spec.md §4.10's height
// comparison.
type HandshakeAction int

const (
	ActionNone HandshakeAction = iota
	ActionPeerShouldPush
	ActionPeerShouldPull
)

// HandshakeDecision carries a negotiation result and the detail payload
// its HTTP response attaches.
type HandshakeDecision struct {
	Action          HandshakeAction
	StartBlock      int64 // valid when Action == ActionPeerShouldPush
	TargetBlock     int64 // valid when Action == ActionPeerShouldPush
	NextBlockExpect int64 // valid when Action == ActionPeerShouldPull
}

// Negotiate implements spec.md §4.10's height comparison: the peer ahead
// of us should push, the peer behind us should pull, equal heights need
// no action.
func Negotiate(localHeight, peerHeight int64) HandshakeDecision {
	switch {
	case peerHeight > localHeight:
		return HandshakeDecision{Action: ActionPeerShouldPush, StartBlock: localHeight + 1, TargetBlock: peerHeight + 1}
	case peerHeight < localHeight:
		return HandshakeDecision{Action: ActionPeerShouldPull, NextBlockExpect: peerHeight + 1}
	default:
		return HandshakeDecision{Action: ActionNone}
	}
}

// PullBatchSize is how many blocks a pull-sync round fetches at once,
// per spec.md §4.10.
const PullBatchSize = 100

// PushMaxBlocks and PushMaxBytes bound a single push-sync batch, per
// spec.md §4.10.
const (
	PushMaxBlocks = 128
	PushMaxBytes  = 20 * 1024 * 1024
)

// RemotePeer is the pull-sync and reorg source: the subset of an HTTP
// peer client's behavior the orchestrator needs to fetch blocks by
// height. Shared with reorg.RemotePeer's shape so both can be satisfied
// by the same client implementation.
type RemotePeer = reorg.RemotePeer

// Orchestrator drives pull-sync and reorg detection against storage,
// the Validator and the PeerRegistry, per spec.md §4.8/§4.10.
type Orchestrator struct {
	store      storage.Store
	val        *validator.Validator
	reorg      *reorg.Engine
	peers      *peerregistry.Registry
	state      *StateManager
	challenges *ChallengeStore
}

// New returns an Orchestrator.
func New(store storage.Store, val *validator.Validator, reorgEngine *reorg.Engine, peers *peerregistry.Registry) *Orchestrator {
	return &Orchestrator{
		store:      store,
		val:        val,
		reorg:      reorgEngine,
		peers:      peers,
		state:      NewStateManager(),
		challenges: NewChallengeStore(),
	}
}

// State exposes the concurrency tracker for HTTP handlers to acquire
// slots before starting a sync operation.
func (o *Orchestrator) State() *StateManager { return o.state }

// Challenges exposes the handshake challenge store for HTTP handlers.
func (o *Orchestrator) Challenges() *ChallengeStore { return o.challenges }

// PullSync fetches at most PullBatchSize blocks from peer, one height at
// a time starting at local_height+1, validating each in order through the
// Validator and stopping at the first failure, per spec.md §4.10. On
// failure it records a reputation violation against peerNodeID.
func (o *Orchestrator) PullSync(ctx context.Context, peer RemotePeer, peerNodeID string) error {
	release, err := o.state.AcquirePull()
	if err != nil {
		return err
	}
	defer release()

	tip, err := o.store.GetLastBlock(ctx)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "sync: get_last_block failed", err)
	}
	next := int64(0)
	if tip != nil {
		next = tip.ID + 1
	}

	for fetched := 0; fetched < PullBatchSize; fetched++ {
		remote, err := peer.GetBlockAtHeight(ctx, next)
		if err != nil {
			return errors.New(errors.ERR_STORAGE, "sync: pull fetch failed", err)
		}
		if remote == nil || remote.Block == nil {
			return nil // peer has no more blocks; pull is caught up.
		}

		if _, err := o.val.AcceptRemoteBlock(ctx, remote.Block.Content, remote.Coinbase, remote.Txs, nil); err != nil {
			if o.peers != nil && peerNodeID != "" {
				_, _ = o.peers.RecordViolation(ctx, peerNodeID, peerregistry.ViolationInvalidSyncBlock)
			}
			return errors.New(errors.ERR_BLOCK_INVALID, "sync: pull-synced block rejected", err)
		}
		next++
	}
	return nil
}

// MaybeReorg detects and runs a chain reorganization if peer's advertised
// tip disagrees with ours at our own height, per spec.md §4.8.
func (o *Orchestrator) MaybeReorg(ctx context.Context, peer RemotePeer, remoteTipHeight int64) error {
	localTip, err := o.store.GetLastBlock(ctx)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "sync: get_last_block failed", err)
	}
	if localTip == nil || remoteTipHeight <= localTip.ID {
		return nil
	}

	remoteAtOurHeight, err := peer.GetBlockAtHeight(ctx, localTip.ID)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "sync: reorg probe fetch failed", err)
	}
	if remoteAtOurHeight != nil && remoteAtOurHeight.Block != nil && remoteAtOurHeight.Block.Hash == localTip.Hash {
		return nil // same chain, peer is simply ahead: ordinary pull-sync handles it.
	}

	return o.reorg.Run(ctx, peer, remoteTipHeight)
}

// PushBatch describes one push-sync round-trip's worth of blocks,
// bounded by PushMaxBlocks/PushMaxBytes per spec.md §4.10.
type PushBatch struct {
	Blocks []*model.Block
}

// BuildPushBatches splits blocks (already ordered by height, from
// startHeight up to but excluding targetHeight) into batches honoring
// spec.md §4.10's per-push caps. A single block's Content is used as its
// byte-size proxy, matching what actually goes over the wire.
func BuildPushBatches(blocks []*model.Block) []PushBatch {
	var batches []PushBatch
	var current []*model.Block
	size := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, PushBatch{Blocks: current})
			current = nil
			size = 0
		}
	}

	for _, b := range blocks {
		blockSize := len(b.Content) / 2 // hex-encoded byte count
		if len(current) >= PushMaxBlocks || size+blockSize > PushMaxBytes {
			flush()
		}
		current = append(current, b)
		size += blockSize
	}
	flush()
	return batches
}
