package limitorder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

const (
	MaxDecimals = 36
)

// ParseUnits converts a human-readable amount such as "1.5" into base units.
// Digits beyond decimals are rejected rather than truncated.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, &InvalidParamError{Message: fmt.Sprintf("decimals must be between 0 and %d, got: %d", MaxDecimals, decimals)}
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid amount %q: %v", amount, err)}
	}
	if d.IsNegative() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount must not be negative, got: %s", amount)}
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount %s has more than %d decimals", amount, decimals)}
	}

	result := scaled.BigInt()
	if result.Cmp(math.MaxBig256) > 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount too large for uint256: %s", result.String())}
	}
	return result, nil
}

// FormatUnits renders base units as a human-readable decimal string.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// TakingAmountForPrice returns the taking amount for makingAmount at price, where
// price is taker asset units per maker asset unit in human terms. The result is
// rounded down.
func TakingAmountForPrice(makingAmount *big.Int, price string, makerDecimals, takerDecimals int) (*big.Int, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid price %q: %v", price, err)}
	}
	if !p.IsPositive() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("price must be positive, got: %s", price)}
	}
	if makingAmount == nil || makingAmount.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "making amount must be positive"}
	}

	making := decimal.NewFromBigInt(makingAmount, -int32(makerDecimals))
	taking := making.Mul(p).Shift(int32(takerDecimals)).Truncate(0).BigInt()
	if taking.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "calculated taking amount is zero"}
	}
	return taking, nil
}
