// Package txmodel adapts github.com/libsv/go-bt/v2 — the teacher's own
// transaction library (services/validator, stores/utxo/sql) — into this
// chain's model.Transaction contract. spec.md §1 treats the transaction
// model as an external collaborator; go-bt supplies the wire codec and
// prevout bookkeeping, while this chain's own single-push locking script
// convention (an address's raw bytes, not general Bitcoin Script) is
// decoded here rather than by go-bt itself.
package txmodel

import (
	"context"
	"encoding/hex"

	"github.com/libsv/go-bt/v2"
	"github.com/libsv/go-bt/v2/bscript"
	"github.com/shopspring/decimal"

	"github.com/ledgerd/node/chainparams"
	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/model"
)

// Tx wraps a *bt.Tx to satisfy model.Transaction.
type Tx struct {
	inner *bt.Tx
}

// Decode parses hex into a model.Transaction, suitable as the TxDecoder
// every layer that reconstructs transactions from wire hex takes by
// constructor injection (storage/sqlstore, api.Node, api.HTTPPeerClient).
func Decode(hexStr string) (model.Transaction, error) {
	inner, err := bt.NewTxFromString(hexStr)
	if err != nil {
		return nil, errors.New(errors.ERR_TX_INVALID, "txmodel: malformed transaction hex", err)
	}
	return &Tx{inner: inner}, nil
}

// Hash returns the transaction's txid.
func (t *Tx) Hash() string { return t.inner.TxID() }

// Hex returns the transaction's wire-serialized hex.
func (t *Tx) Hex() string { return t.inner.String() }

// Inputs returns each input's prevout reference.
func (t *Tx) Inputs() []model.Input {
	out := make([]model.Input, 0, len(t.inner.Inputs))
	for _, in := range t.inner.Inputs {
		out = append(out, model.Input{
			TxHash: in.PreviousTxIDChainHash().String(),
			Index:  int(in.PreviousTxOutIndex),
		})
	}
	return out
}

// Outputs decodes each output's address and amount. Amounts are stored
// in go-bt as satoshis; this chain's Smallest unit is chainparams.Smallest,
// so the conversion divides by it to reach whole-unit decimal.Decimal.
func (t *Tx) Outputs() []model.Output {
	out := make([]model.Output, 0, len(t.inner.Outputs))
	for _, o := range t.inner.Outputs {
		addr := addressFromLockingScript(o.LockingScript)
		amount := decimal.NewFromInt(int64(o.Satoshis)).Div(decimal.NewFromInt(chainparams.Smallest))
		out = append(out, model.Output{Address: addr, Amount: amount})
	}
	return out
}

// Fees is the declared fee this chain's wire format carries as an extra
// zero-value OP_RETURN-style data push is not used here; go-bt has no
// native fee field, so fee accounting is the Validator's job (computed
// from the unspent-output delta), and this always reports zero for a
// freshly decoded transaction. Mempool entries carry the fee the
// Validator computed separately (model.MempoolEntry does not — fees are
// recomputed by whoever needs them from input/output value deltas).
func (t *Tx) Fees() decimal.Decimal { return decimal.Zero }

// Verify reports false for a non-coinbase transaction with no inputs and
// true otherwise; it runs no script or signature checks. checkDoubleSpend
// is not used here (the Validator checks double-spends against its own
// resolved unspent set).
func (t *Tx) Verify(ctx context.Context, checkDoubleSpend bool) (bool, error) {
	if len(t.inner.Inputs) == 0 && !t.inner.IsCoinbase() {
		return false, nil
	}
	return true, nil
}

// IsCoinbase reports whether go-bt considers this a coinbase transaction.
func (t *Tx) IsCoinbase() bool { return t.inner.IsCoinbase() }

// addressFromLockingScript extracts the address bytes from this chain's
// single-push locking script convention: one data push carrying the
// recipient's raw address bytes (33 or 64 bytes), hex-encoded — not
// general-purpose Bitcoin Script.
func addressFromLockingScript(script *bscript.Script) string {
	if script == nil {
		return ""
	}
	ops, err := script.ParseOps()
	if err != nil {
		return ""
	}
	for _, op := range ops {
		if len(op.Data) > 0 {
			return hex.EncodeToString(op.Data)
		}
	}
	return ""
}
