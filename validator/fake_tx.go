package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ledgerd/node/model"
	"github.com/shopspring/decimal"
)

// fakeTx is a minimal model.Transaction used only by this package's tests,
// grounded on the teacher's use of small Mock types alongside production
// validators (services/validator/Mock.go).
type fakeTx struct {
	hash     string
	hexVal   string
	inputs   []model.Input
	outputs  []model.Output
	fees     decimal.Decimal
	verifyOK bool
}

func newFakeTx(hexVal string, inputs []model.Input, outputs []model.Output, fees decimal.Decimal, verifyOK bool) *fakeTx {
	sum := sha256.Sum256([]byte(hexVal))
	return &fakeTx{hash: hex.EncodeToString(sum[:]), hexVal: hexVal, inputs: inputs, outputs: outputs, fees: fees, verifyOK: verifyOK}
}

func (f *fakeTx) Hash() string               { return f.hash }
func (f *fakeTx) Hex() string                { return f.hexVal }
func (f *fakeTx) Inputs() []model.Input       { return f.inputs }
func (f *fakeTx) Outputs() []model.Output     { return f.outputs }
func (f *fakeTx) Fees() decimal.Decimal       { return f.fees }
func (f *fakeTx) IsCoinbase() bool            { return false }
func (f *fakeTx) Verify(_ context.Context, _ bool) (bool, error) {
	return f.verifyOK, nil
}
