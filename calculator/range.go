package calculator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// Range errors
var (
	ErrIncorrectRange        = errors.New("incorrect range")
	ErrRemainingExceedsTotal = errors.New("remaining amount exceeds order amount")
)

var (
	priceScale    = big.NewInt(1e18)
	priceScaleSq  = new(big.Int).Mul(priceScale, priceScale)
	twoPriceScale = new(big.Int).Mul(big.NewInt(2), priceScale)
)

// RangeAmount prices an order whose unit price rises linearly from priceStart
// to priceEnd as the order fills. Prices are taker units per 1e18 maker units.
type RangeAmount struct{}

var _ host.StaticCaller = RangeAmount{}

// TakerAmount returns the taking amount for makingAmount when
// remainingMakingAmount of orderMakingAmount is still unfilled.
func (RangeAmount) TakerAmount(priceStart, priceEnd, orderMakingAmount, makingAmount, remainingMakingAmount *big.Int) (*big.Int, error) {
	filled, err := rangeFilled(priceStart, priceEnd, orderMakingAmount, remainingMakingAmount)
	if err != nil {
		return nil, err
	}

	// ((pe-ps)*(2*filled+m)/total + 2*ps) * m / 2e18
	delta := new(big.Int).Sub(priceEnd, priceStart)
	span := new(big.Int).Lsh(filled, 1)
	span.Add(span, makingAmount)
	out := delta.Mul(delta, span)
	out.Div(out, orderMakingAmount)
	out.Add(out, new(big.Int).Lsh(priceStart, 1))
	out.Mul(out, makingAmount)
	return out.Div(out, twoPriceScale), nil
}

// MakerAmount returns the making amount bought with takingAmount when
// remainingMakingAmount of orderMakingAmount is still unfilled.
func (RangeAmount) MakerAmount(priceStart, priceEnd, orderMakingAmount, takingAmount, remainingMakingAmount *big.Int) (*big.Int, error) {
	filled, err := rangeFilled(priceStart, priceEnd, orderMakingAmount, remainingMakingAmount)
	if err != nil {
		return nil, err
	}

	// k = (pe-ps)*1e18/total, b = ps*1e18/k
	// sqrt((b+filled)^2 + 2*t*1e36/k) - b - filled
	k := new(big.Int).Sub(priceEnd, priceStart)
	k.Mul(k, priceScale)
	k.Div(k, orderMakingAmount)
	if k.Sign() == 0 {
		return nil, fmt.Errorf("%w: price range too narrow for order size", ErrIncorrectRange)
	}
	b := new(big.Int).Mul(priceStart, priceScale)
	b.Div(b, k)

	base := new(big.Int).Add(b, filled)
	radicand := new(big.Int).Mul(base, base)
	area := new(big.Int).Lsh(takingAmount, 1)
	area.Mul(area, priceScaleSq)
	area.Div(area, k)
	radicand.Add(radicand, area)

	out := new(big.Int).Sqrt(radicand)
	return out.Sub(out, base), nil
}

func rangeFilled(priceStart, priceEnd, orderMakingAmount, remainingMakingAmount *big.Int) (*big.Int, error) {
	if priceEnd.Cmp(priceStart) <= 0 {
		return nil, fmt.Errorf("%w: end price %s must exceed start price %s", ErrIncorrectRange, priceEnd, priceStart)
	}
	if orderMakingAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero order amount", ErrIncorrectRange)
	}
	if remainingMakingAmount.Cmp(orderMakingAmount) > 0 {
		return nil, ErrRemainingExceedsTotal
	}
	return new(big.Int).Sub(orderMakingAmount, remainingMakingAmount), nil
}

// StaticCall dispatches getRangeTakerAmount and getRangeMakerAmount calldata.
func (r RangeAmount) StaticCall(_ context.Context, _ host.Env, input []byte) ([]byte, error) {
	method, args, err := decodeCall(rangeAmountABI, input)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	switch method.Name {
	case "getRangeTakerAmount":
		out, err = r.TakerAmount(args[0], args[1], args[2], args[3], args[4])
	case "getRangeMakerAmount":
		out, err = r.MakerAmount(args[0], args[1], args[2], args[3], args[4])
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method.Name)
	}
	if err != nil {
		return nil, err
	}
	return encodeResult(method, out)
}

// RangeTakingGetter builds the taking-amount getter slot for a range order.
func RangeTakingGetter(target common.Address, priceStart, priceEnd, orderMakingAmount *big.Int) []byte {
	return getter(target, rangeAmountABI, "getRangeTakerAmount", 2, priceStart, priceEnd, orderMakingAmount)
}

// RangeMakingGetter builds the making-amount getter slot for a range order.
func RangeMakingGetter(target common.Address, priceStart, priceEnd, orderMakingAmount *big.Int) []byte {
	return getter(target, rangeAmountABI, "getRangeMakerAmount", 2, priceStart, priceEnd, orderMakingAmount)
}
