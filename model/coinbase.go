package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// CoinbaseTransaction is the reward transaction create_block synthesizes
// for every accepted block, per spec.md §4.1/§4.5: a single output paying
// reward(height)+fees to the miner's address. It is never admitted to the
// mempool and never counted in the Merkle root (spec.md §4.4, §9).
type CoinbaseTransaction struct {
	blockHash string
	address   string
	amount    decimal.Decimal
}

func NewCoinbaseTransaction(blockHash, address string, amount decimal.Decimal) *CoinbaseTransaction {
	return &CoinbaseTransaction{blockHash: blockHash, address: address, amount: amount}
}

func (c *CoinbaseTransaction) Hex() string {
	return c.blockHash + c.address + c.amount.String()
}

func (c *CoinbaseTransaction) Hash() string {
	sum := sha256.Sum256([]byte(c.Hex()))
	return hex.EncodeToString(sum[:])
}

func (c *CoinbaseTransaction) Inputs() []Input { return nil }

func (c *CoinbaseTransaction) Outputs() []Output {
	return []Output{{Address: c.address, Amount: c.amount}}
}

func (c *CoinbaseTransaction) Fees() decimal.Decimal { return decimal.Zero }

func (c *CoinbaseTransaction) Verify(_ context.Context, _ bool) (bool, error) {
	return true, nil
}

func (c *CoinbaseTransaction) IsCoinbase() bool { return true }
