package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The helpers below build predicate calldata addressed to the protocol itself.
// Compose them with And, Or and Not.

// TimestampBelow holds while the block timestamp is below ts.
func TimestampBelow(ts uint64) []byte {
	return mustPack(predicateABI, "timestampBelow", new(big.Int).SetUint64(ts))
}

// NonceEquals holds while maker's epoch nonce equals nonce.
func NonceEquals(maker common.Address, nonce uint64) []byte {
	return mustPack(predicateABI, "nonceEquals", maker, new(big.Int).SetUint64(nonce))
}

// And holds when every predicate holds.
func And(predicates ...[]byte) []byte {
	return mustPack(predicateABI, "and", nonNilPredicates(predicates))
}

// Or holds when any predicate holds.
func Or(predicates ...[]byte) []byte {
	return mustPack(predicateABI, "or", nonNilPredicates(predicates))
}

// Not inverts a predicate.
func Not(predicate []byte) []byte {
	return mustPack(predicateABI, "not", orEmpty(predicate))
}

// Eq holds when call returns value.
func Eq(value *big.Int, call []byte) []byte {
	return mustPack(predicateABI, "eq", orZero(value), orEmpty(call))
}

// Lt holds when call returns less than value.
func Lt(value *big.Int, call []byte) []byte {
	return mustPack(predicateABI, "lt", orZero(value), orEmpty(call))
}

// Gt holds when call returns more than value.
func Gt(value *big.Int, call []byte) []byte {
	return mustPack(predicateABI, "gt", orZero(value), orEmpty(call))
}

// ArbitraryStaticCall statically calls target with data and yields its word.
func ArbitraryStaticCall(target common.Address, data []byte) []byte {
	return mustPack(predicateABI, "arbitraryStaticCall", target, orEmpty(data))
}

// PermitArgs are the arguments of an EIP-2612 permit call.
type PermitArgs struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        common.Hash
	S        common.Hash
}

// PackPermit encodes permit arguments without the selector.
func PackPermit(args PermitArgs) []byte {
	encoded, err := permitABI.Methods["permit"].Inputs.Pack(
		args.Owner,
		args.Spender,
		orZero(args.Value),
		orZero(args.Deadline),
		args.V,
		args.R,
		args.S,
	)
	if err != nil {
		panic("failed to encode permit: " + err.Error())
	}
	return encoded
}

// UnpackPermit decodes arguments produced by PackPermit.
func UnpackPermit(data []byte) (PermitArgs, error) {
	values, err := permitABI.Methods["permit"].Inputs.Unpack(data)
	if err != nil {
		return PermitArgs{}, err
	}
	return PermitArgs{
		Owner:    values[0].(common.Address),
		Spender:  values[1].(common.Address),
		Value:    values[2].(*big.Int),
		Deadline: values[3].(*big.Int),
		V:        values[4].(uint8),
		R:        values[5].([32]byte),
		S:        values[6].([32]byte),
	}, nil
}

// TokenPermit prefixes packed permit arguments with the token address, the form
// carried by order permit slots and the WithPermit entry points.
func TokenPermit(token common.Address, args PermitArgs) []byte {
	return append(token.Bytes(), PackPermit(args)...)
}

func mustPack(parsed abi.ABI, method string, args ...interface{}) []byte {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		panic("failed to encode " + method + ": " + err.Error())
	}
	return data
}

func nonNilPredicates(predicates [][]byte) [][]byte {
	out := make([][]byte, len(predicates))
	for i, p := range predicates {
		out[i] = orEmpty(p)
	}
	return out
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
