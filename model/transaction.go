// Package model holds the core's plain data types: the Transaction contract
// spec.md §1 declares out of scope (signatures/UTXO semantics live in an
// external collaborator; only its interface is defined here), the Block
// wire/storage shape, and the peer/mempool records. Grounded on the shape
// of the teacher's model.Block (model/Block.go) and model.BlockHeader,
// adapted from BSV's subtree/UTXO-commitment design to spec.md's flat,
// sorted-hash-Merkle, account-free design.
package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// Input identifies the (tx_hash, index) prevout an input consumes —
// spec.md's "prevout" in the GLOSSARY.
type Input struct {
	TxHash string
	Index  int
}

// Output is a transaction output: an amount payable to an address.
type Output struct {
	Address string
	Amount  decimal.Decimal
}

// Transaction is the contract spec.md §3 requires of the (externally
// supplied) transaction model: hash/hex/inputs/outputs/fees/verify.
type Transaction interface {
	Hash() string
	Hex() string
	Inputs() []Input
	Outputs() []Output
	Fees() decimal.Decimal
	// Verify runs the transaction's own signature/UTXO checks.
	// checkDoubleSpend lets callers that have already resolved inputs
	// against the unspent set (the Validator, per spec.md §4.5 step 10)
	// skip the transaction's own redundant double-spend check.
	Verify(ctx context.Context, checkDoubleSpend bool) (bool, error)
	// IsCoinbase distinguishes the synthesized reward transaction from
	// regular transactions, per spec.md §3's CoinbaseTransaction variant.
	IsCoinbase() bool
}
