// Package calculator holds pricing contracts that order getters call to turn a
// requested amount into its counterpart.
package calculator

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownMethod is returned for calldata with an unrecognized selector.
var ErrUnknownMethod = errors.New("calculator: unknown method")

// DutchAuction ABI JSON
const dutchAuctionABIJSON = `[
	{
		"inputs": [
			{"name": "startTimeEndTime", "type": "uint256"},
			{"name": "takingAmountStart", "type": "uint256"},
			{"name": "takingAmountEnd", "type": "uint256"},
			{"name": "makingAmount", "type": "uint256"},
			{"name": "requestedTakingAmount", "type": "uint256"}
		],
		"name": "getMakingAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "startTimeEndTime", "type": "uint256"},
			{"name": "takingAmountStart", "type": "uint256"},
			{"name": "takingAmountEnd", "type": "uint256"},
			{"name": "makingAmount", "type": "uint256"},
			{"name": "requestedMakingAmount", "type": "uint256"}
		],
		"name": "getTakingAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// RangeAmountCalculator ABI JSON
const rangeAmountABIJSON = `[
	{
		"inputs": [
			{"name": "priceStart", "type": "uint256"},
			{"name": "priceEnd", "type": "uint256"},
			{"name": "orderMakingAmount", "type": "uint256"},
			{"name": "takingAmount", "type": "uint256"},
			{"name": "remainingMakingAmount", "type": "uint256"}
		],
		"name": "getRangeMakerAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "pure",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "priceStart", "type": "uint256"},
			{"name": "priceEnd", "type": "uint256"},
			{"name": "orderMakingAmount", "type": "uint256"},
			{"name": "makingAmount", "type": "uint256"},
			{"name": "remainingMakingAmount", "type": "uint256"}
		],
		"name": "getRangeTakerAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "pure",
		"type": "function"
	}
]`

var (
	dutchAuctionABI = mustParseABI("DutchAuction", dutchAuctionABIJSON)
	rangeAmountABI  = mustParseABI("RangeAmountCalculator", rangeAmountABIJSON)
)

// GetDutchAuctionABI returns the parsed DutchAuction ABI
func GetDutchAuctionABI() abi.ABI {
	return dutchAuctionABI
}

// GetRangeAmountABI returns the parsed RangeAmountCalculator ABI
func GetRangeAmountABI() abi.ABI {
	return rangeAmountABI
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// decodeCall resolves the selector and returns the uint256 arguments.
// Trailing words past the declared inputs are ignored.
func decodeCall(parsed abi.ABI, input []byte) (*abi.Method, []*big.Int, error) {
	if len(input) < 4 {
		return nil, nil, fmt.Errorf("%w: %d bytes of calldata", ErrUnknownMethod, len(input))
	}
	method, err := parsed.MethodById(input[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnknownMethod, err)
	}
	values, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s arguments: %w", method.Name, err)
	}
	args := make([]*big.Int, len(values))
	for i, v := range values {
		args[i] = v.(*big.Int)
	}
	return method, args, nil
}

func encodeResult(method *abi.Method, v *big.Int) ([]byte, error) {
	return method.Outputs.Pack(v)
}

// getter builds target ++ calldata with the trailing cut arguments removed; the
// engine appends them at call time.
func getter(target common.Address, parsed abi.ABI, method string, cut int, args ...*big.Int) []byte {
	values := make([]interface{}, 0, len(args)+cut)
	for _, a := range args {
		values = append(values, a)
	}
	for i := 0; i < cut; i++ {
		values = append(values, new(big.Int))
	}
	data, err := parsed.Pack(method, values...)
	if err != nil {
		panic("failed to encode " + method + ": " + err.Error())
	}
	return append(target.Bytes(), data[:len(data)-32*cut]...)
}
