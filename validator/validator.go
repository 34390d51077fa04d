// Package validator implements the block-validation and -creation
// pipeline of spec.md §4.5: the 12-step check_block gate and the
// create_block path that synthesizes a coinbase and commits atomically.
// Grounded on the teacher's services/validator.Validator (struct holding
// a logger and store, tracing.StartTracing around the hot path,
// prometheus counters per outcome) adapted from TxValidator's many small
// rule checks into one ordered, short-circuiting pipeline matching this
// chain's block-level (not mempool-policy) consensus rules.
package validator

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/dolthub/swiss"

	"github.com/ledgerd/node/blockcodec"
	"github.com/ledgerd/node/chainparams"
	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/merkle"
	"github.com/ledgerd/node/metrics"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/pow"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/tracing"
	"github.com/ledgerd/node/ulogger"
	"github.com/shopspring/decimal"
)

// MiningInfo carries the caller's declared parent for a submitted block,
// per spec.md §4.5 step 3. Genesis is signalled by Genesis=true with an
// empty previous_hash; any other absent-parent case is an orphan.
type MiningInfo struct {
	Genesis bool
}

// Validator runs check_block/create_block against a single storage.Store,
// serializing block acceptance behind block_processing_lock (spec.md §5).
type Validator struct {
	logger ulogger.Logger
	store  storage.Store

	blockProcessingLock sync.Mutex
	difficulty          difficultyCache
}

// New returns a Validator bound to store.
func New(logger ulogger.Logger, store storage.Store) *Validator {
	return &Validator{logger: logger, store: store}
}

// outcome is the result of a successful check_block pass: enough decoded
// state for create_block to avoid re-parsing.
type outcome struct {
	block    model.Block
	parent   *parentInfo
	txHashes []string
}

// CheckBlock runs the full 12-step pipeline of spec.md §4.5 against a
// candidate block's hex content and its claimed regular transactions
// (never including a coinbase). It does not mutate storage.
func (v *Validator) CheckBlock(ctx context.Context, contentHex string, txs []model.Transaction, info *MiningInfo) (*model.Block, error) {
	span := tracing.Start(ctx, "validator:CheckBlock")
	ctx = span.Ctx
	defer span.Finish()

	start := timeNow()
	out, err := v.checkBlock(ctx, contentHex, txs, info)
	metrics.ValidateBlockDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BlocksRejected.WithLabelValues(rejectReason(err)).Inc()
		span.RecordError(err)
		return nil, err
	}
	return &out.block, nil
}

func (v *Validator) checkBlock(ctx context.Context, contentHex string, txs []model.Transaction, info *MiningInfo) (*outcome, error) {
	// 1. Size gate.
	if len(contentHex) > 2*chainparams.MaxBlockBytes {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "block content exceeds max size")
	}

	// 2. Parse via BlockCodec.
	raw, err := hex.DecodeString(contentHex)
	if err != nil {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "content is not valid hex", err)
	}
	header, err := blockcodec.Parse(raw)
	if err != nil {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "header parse failed", err)
	}
	blockHash := blockcodec.ComputeHash(raw)

	// 3. Predecessor resolution.
	var parent *parentInfo
	var blockNo int64
	if info != nil && info.Genesis && header.PreviousHash == zeroHash {
		blockNo = 0
	} else {
		parentBlock, err := v.store.GetBlock(ctx, header.PreviousHash)
		if err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "predecessor lookup failed", err)
		}
		if parentBlock == nil {
			return nil, errors.New(errors.ERR_ORPHAN_BLOCK, "unknown previous hash")
		}
		parent = &parentInfo{ID: parentBlock.ID, Hash: parentBlock.Hash, Difficulty: parentBlock.Header.Difficulty, Timestamp: parentBlock.Header.Timestamp}
		blockNo = parent.ID + 1
	}

	// 4. Expected difficulty.
	expected, err := v.difficulty.expectedDifficulty(ctx, v.store, blockNo, parent)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "difficulty computation failed", err)
	}
	if pow.RoundDifficulty(expected) != pow.RoundDifficulty(header.Difficulty) {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "difficulty mismatch: expected %.1f got %.1f", expected, header.Difficulty)
	}

	// 5. PoW (genesis exempt).
	if parent != nil {
		if !pow.Valid(blockHash, parent.Hash, header.Difficulty) {
			return nil, errors.New(errors.ERR_BLOCK_INVALID, "proof of work invalid")
		}
	}

	// 6. Timestamp.
	now := uint32(timeNow().Unix())
	if parent != nil && header.Timestamp <= parent.Timestamp {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "timestamp must exceed parent timestamp")
	}
	if header.Timestamp > now+chainparams.MaxTimestampDriftSeconds {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "timestamp too far in the future")
	}

	// 7. Coinbase rule.
	for _, tx := range txs {
		if tx.IsCoinbase() {
			return nil, errors.New(errors.ERR_BLOCK_INVALID, "regular transactions must not be coinbase")
		}
	}

	// 8. Size (tx hex lengths).
	var totalHexLen int
	for _, tx := range txs {
		totalHexLen += len(tx.Hex())
	}
	if totalHexLen > 2*chainparams.MaxBlockBytes {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "transaction set exceeds max size")
	}

	// 9. Intra-block double-spend.
	seen := swiss.NewMap[storage.UnspentKey, struct{}](uint32(len(txs) + 1))
	var keys []storage.UnspentKey
	for _, tx := range txs {
		for _, in := range tx.Inputs() {
			key := storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}
			if _, ok := seen.Get(key); ok {
				return nil, errors.New(errors.ERR_DOUBLE_SPEND, "duplicate input within block")
			}
			seen.Put(key, struct{}{})
			keys = append(keys, key)
		}
	}

	// 10. Unspent coverage.
	if len(keys) > 0 {
		unspent, err := v.store.GetUnspentOutputs(ctx, keys)
		if err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "unspent lookup failed", err)
		}
		if len(unspent) != len(keys) {
			return nil, errors.New(errors.ERR_DOUBLE_SPEND, "referenced output not in unspent set")
		}
	}

	// 11. Per-tx verify.
	for _, tx := range txs {
		ok, err := tx.Verify(ctx, false)
		if err != nil {
			return nil, errors.New(errors.ERR_TX_INVALID, "transaction verify error", err)
		}
		if !ok {
			return nil, errors.New(errors.ERR_TX_INVALID, "transaction failed verification")
		}
	}

	// 12. Merkle root.
	txHashes := make([]string, len(txs))
	for i, tx := range txs {
		txHashes[i] = tx.Hash()
	}
	if !merkle.Check(txHashes, header.MerkleRoot) {
		return nil, errors.New(errors.ERR_BLOCK_INVALID, "merkle root mismatch")
	}

	block := model.Block{
		Header:  header,
		ID:      blockNo,
		Hash:    blockHash,
		Content: contentHex,
	}
	return &outcome{block: block, parent: parent, txHashes: txHashes}, nil
}

// CreateBlock re-validates contentHex/txs (invalidating the difficulty
// cache first, per spec.md §4.5), synthesizes the coinbase, and commits
// everything atomically. On storage failure the block row is deleted as
// the rollback primitive spec.md §6.1 guarantees is sufficient.
func (v *Validator) CreateBlock(ctx context.Context, contentHex string, txs []model.Transaction, minerAddress string, fees decimal.Decimal, info *MiningInfo) (*model.Block, error) {
	span := tracing.Start(ctx, "validator:CreateBlock")
	ctx = span.Ctx
	defer span.Finish()

	v.blockProcessingLock.Lock()
	defer v.blockProcessingLock.Unlock()

	v.difficulty.Invalidate()

	out, err := v.checkBlock(ctx, contentHex, txs, info)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chainparams.Reward is 1-indexed (spec.md §4.1's "n"); block.ID is the
	// 0-indexed height, so the genesis block (ID 0) maps to n=1.
	reward := chainparams.Reward(out.block.ID + 1)
	coinbaseAmount := decimal.NewFromInt(reward).Add(fees)
	coinbase := model.NewCoinbaseTransaction(out.block.Hash, minerAddress, coinbaseAmount)
	out.block.Reward = coinbaseAmount

	if err := v.store.AddBlock(ctx, &out.block, coinbase, txs); err != nil {
		if delErr := v.store.DeleteBlock(ctx, out.block.ID); delErr != nil {
			v.logger.Errorf("create_block: rollback delete_block(%d) failed: %v", out.block.ID, delErr)
		}
		v.difficulty.Invalidate()
		return nil, errors.New(errors.ERR_STORAGE, "add_block failed", err)
	}

	v.difficulty.Invalidate()
	metrics.BlocksAccepted.Inc()
	return &out.block, nil
}

// AcceptRemoteBlock validates an already-mined block received from a sync
// peer (push-sync, pull-sync or reorg catch-up) and commits it with its
// own coinbase, unlike CreateBlock which synthesizes one for local mining.
// The difficulty cache is invalidated before and after, per spec.md §4.9's
// "invalidated at block accept".
func (v *Validator) AcceptRemoteBlock(ctx context.Context, contentHex string, coinbase model.Transaction, txs []model.Transaction, info *MiningInfo) (*model.Block, error) {
	span := tracing.Start(ctx, "validator:AcceptRemoteBlock")
	ctx = span.Ctx
	defer span.Finish()

	v.blockProcessingLock.Lock()
	defer v.blockProcessingLock.Unlock()

	v.difficulty.Invalidate()

	out, err := v.checkBlock(ctx, contentHex, txs, info)
	if err != nil {
		span.RecordError(err)
		metrics.BlocksRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	var reward decimal.Decimal
	for _, o := range coinbase.Outputs() {
		reward = reward.Add(o.Amount)
	}
	out.block.Reward = reward

	if err := v.store.AddBlock(ctx, &out.block, coinbase, txs); err != nil {
		if delErr := v.store.DeleteBlock(ctx, out.block.ID); delErr != nil {
			v.logger.Errorf("accept_remote_block: rollback delete_block(%d) failed: %v", out.block.ID, delErr)
		}
		v.difficulty.Invalidate()
		return nil, errors.New(errors.ERR_STORAGE, "add_block failed", err)
	}

	v.difficulty.Invalidate()
	metrics.BlocksAccepted.Inc()
	return &out.block, nil
}

var zeroHash = strings.Repeat("0", 64)

func rejectReason(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Code.String()
	}
	return "unknown"
}

// timeNow is a seam so tests can reason about wall-clock-dependent steps
// without the package reaching for a mockable clock abstraction it
// otherwise has no need for.
var timeNow = time.Now
