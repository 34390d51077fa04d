package txmodel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These wire-format hexes are real, valid go-bt transactions drawn from
// the pack's own test fixtures — a coinbase (one input, no prevout) and a
// regular spend (one real prevout reference).
const (
	coinbaseHex = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff1703fb03002f6d322d75732f0cb6d7d459fb411ef3ac6d65ffffffff03ac505763000000001976a914c362d5af234dd4e1f2a1bfbcab90036d38b0aa9f88acaa505763000000001976a9143c22b6d9ba7b50b6d6e615c69d11ecb2ba3db14588acaa505763000000001976a914b7177c7deb43f3869eabc25cfd9f618215f34d5588ac00000000"
	spendHex    = "0100000001ec3269622c145e065cac62fb47215583ac20efaed38869b5bef2e51fb76875f2010000006a473044022011fbfc7d09cf2e279fe137a1d37f06a94f41671d879f66db5387764522a8e20002205d4bf825a7c9e04468ceb452400ea1e09c19e70af1cb48a00012cb267423bb8b41210262142850483b6728b8ecd299e4d0c8cf30ea0636f66205166814e52d73b64b4bffffffff0200000000000000000a006a075354554b2e434f7ba23401000000001976a91454cba8da8701174e34aac2bb31d42a88e2c302d088ac00000000"
)

func TestDecode_Coinbase(t *testing.T) {
	tx, err := Decode(coinbaseHex)
	require.NoError(t, err)

	assert.True(t, tx.IsCoinbase())
	assert.NotEmpty(t, tx.Hash())
	assert.Equal(t, coinbaseHex, tx.Hex())
}

func TestDecode_RegularSpend(t *testing.T) {
	tx, err := Decode(spendHex)
	require.NoError(t, err)

	assert.False(t, tx.IsCoinbase())
	require.Len(t, tx.Inputs(), 1)
	assert.NotEmpty(t, tx.Inputs()[0].TxHash)

	outputs := tx.Outputs()
	require.Len(t, outputs, 2)
	// The second output carries a standard P2PKH locking script; this
	// chain's single-push convention reads the first pushed data, which
	// for a P2PKH script is the hash160.
	assert.NotEmpty(t, outputs[1].Address)
}

func TestDecode_MalformedHex(t *testing.T) {
	_, err := Decode("not-a-transaction")
	assert.Error(t, err)
}

func TestVerify_RegularSpendHasInputs(t *testing.T) {
	tx, err := Decode(spendHex)
	require.NoError(t, err)

	ok, err := tx.Verify(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ok)
}
