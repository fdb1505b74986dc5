package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/kaifufi/limit-order-settlement-go/extension"
)

// ErrInvalidRFQPacking is returned when a compact order's wire words are malformed.
var ErrInvalidRFQPacking = errors.New("invalid RFQ order packing")

// RFQFlag is a flag bit of the compact order info word.
type RFQFlag uint

const (
	// RFQAllowMultipleFills switches the order from the nonce bit to the remaining invalidator.
	RFQAllowMultipleFills RFQFlag = 255
	// RFQUnwrapWETH delivers the wrapped-native taker asset to the maker as native currency.
	RFQUnwrapWETH RFQFlag = 254
)

const (
	rfqNonceBits      = 64
	rfqExpirationBits = 40
	rfqAmountBytes    = 14
)

// MaxRFQAmount is the largest amount a compact order can carry (2^112 - 1).
var MaxRFQAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 8*rfqAmountBytes), big.NewInt(1))

// OrderData represents the data for building a general order
type OrderData struct {
	MakerAsset    common.Address
	TakerAsset    common.Address
	Receiver      common.Address
	AllowedSender common.Address
	MakingAmount  *big.Int
	TakingAmount  *big.Int
	// Salt is generated when nil.
	Salt      *big.Int
	Extension *extension.Extension
}

// Order represents an EIP712 general limit order
type Order struct {
	Salt          *big.Int
	MakerAsset    common.Address
	TakerAsset    common.Address
	Maker         common.Address
	Receiver      common.Address
	AllowedSender common.Address
	MakingAmount  *big.Int
	TakingAmount  *big.Int
	Offsets       *big.Int
	Interactions  []byte
}

// Extension decodes the order's interactions blob into its typed slots.
func (o *Order) Extension() (*extension.Extension, error) {
	return extension.Decode(o.Offsets, o.Interactions)
}

// Validate checks that every numeric field is present and fits uint256.
func (o *Order) Validate() error {
	for name, v := range map[string]*big.Int{
		"salt":         o.Salt,
		"makingAmount": o.MakingAmount,
		"takingAmount": o.TakingAmount,
	} {
		if err := checkUint(name, v, math.MaxBig256); err != nil {
			return err
		}
	}
	if o.Offsets != nil {
		if err := checkUint("offsets", o.Offsets, math.MaxBig256); err != nil {
			return err
		}
	}
	return nil
}

// SignedOrder represents an order with its signature
type SignedOrder struct {
	Order     *Order
	Signature []byte
}

// OrderRFQData represents the data for building a compact order
type OrderRFQData struct {
	Nonce         uint64
	Expiration    uint64
	Flags         []RFQFlag
	MakerAsset    common.Address
	TakerAsset    common.Address
	AllowedSender common.Address
	MakingAmount  *big.Int
	TakingAmount  *big.Int
}

// OrderRFQ represents an EIP712 compact (RFQ) order
type OrderRFQ struct {
	// Info packs nonce, expiration and flag bits.
	Info          *big.Int
	Maker         common.Address
	MakerAsset    common.Address
	TakerAsset    common.Address
	AllowedSender common.Address
	MakingAmount  *big.Int
	TakingAmount  *big.Int
}

// SignedOrderRFQ represents a compact order with its signature
type SignedOrderRFQ struct {
	Order     *OrderRFQ
	Signature []byte
}

// BuildRFQInfo packs nonce, expiration and flags into an info word.
// Expiration is truncated to 40 bits; zero means no expiration.
func BuildRFQInfo(nonce, expiration uint64, flags ...RFQFlag) *big.Int {
	info := new(big.Int).SetUint64(nonce)
	exp := new(big.Int).SetUint64(expiration & (1<<rfqExpirationBits - 1))
	info.Or(info, exp.Lsh(exp, rfqNonceBits))
	for _, f := range flags {
		info.SetBit(info, int(f), 1)
	}
	return info
}

// Nonce returns bits 0-63 of the info word.
func (o *OrderRFQ) Nonce() uint64 {
	return new(big.Int).And(orZero(o.Info), new(big.Int).SetUint64(^uint64(0))).Uint64()
}

// Expiration returns bits 64-103 of the info word.
func (o *OrderRFQ) Expiration() uint64 {
	v := new(big.Int).Rsh(orZero(o.Info), rfqNonceBits)
	return v.And(v, big.NewInt(1<<rfqExpirationBits-1)).Uint64()
}

// HasFlag reports whether the flag bit is set.
func (o *OrderRFQ) HasFlag(f RFQFlag) bool {
	return orZero(o.Info).Bit(int(f)) == 1
}

// AllowMultipleFills reports whether the order may be filled more than once.
func (o *OrderRFQ) AllowMultipleFills() bool {
	return o.HasFlag(RFQAllowMultipleFills)
}

// UnwrapWETH reports whether the maker wants native currency instead of WETH.
func (o *OrderRFQ) UnwrapWETH() bool {
	return o.HasFlag(RFQUnwrapWETH)
}

// Validate checks the info word and the 112-bit amount limits.
func (o *OrderRFQ) Validate() error {
	if err := checkUint("info", o.Info, math.MaxBig256); err != nil {
		return err
	}
	if err := checkUint("makingAmount", o.MakingAmount, MaxRFQAmount); err != nil {
		return err
	}
	return checkUint("takingAmount", o.TakingAmount, MaxRFQAmount)
}

// Words returns the compact 5-word wire form: the info word followed by the four
// addresses and the two 112-bit amounts packed big-endian and zero padded.
func (o *OrderRFQ) Words() ([5]common.Hash, error) {
	var words [5]common.Hash
	if err := o.Validate(); err != nil {
		return words, err
	}
	words[0] = common.BigToHash(o.Info)

	buf := make([]byte, 4*32)
	off := 0
	for _, a := range []common.Address{o.Maker, o.MakerAsset, o.TakerAsset, o.AllowedSender} {
		off += copy(buf[off:], a.Bytes())
	}
	o.MakingAmount.FillBytes(buf[off : off+rfqAmountBytes])
	off += rfqAmountBytes
	o.TakingAmount.FillBytes(buf[off : off+rfqAmountBytes])

	for i := 0; i < 4; i++ {
		words[i+1] = common.BytesToHash(buf[32*i : 32*i+32])
	}
	return words, nil
}

// UnpackOrderRFQ decodes the compact wire form produced by Words.
func UnpackOrderRFQ(words [5]common.Hash) (*OrderRFQ, error) {
	buf := make([]byte, 0, 4*32)
	for _, w := range words[1:] {
		buf = append(buf, w.Bytes()...)
	}
	const used = 4*common.AddressLength + 2*rfqAmountBytes
	for _, b := range buf[used:] {
		if b != 0 {
			return nil, fmt.Errorf("%w: non-zero padding", ErrInvalidRFQPacking)
		}
	}

	o := &OrderRFQ{Info: words[0].Big()}
	off := 0
	for _, dst := range []*common.Address{&o.Maker, &o.MakerAsset, &o.TakerAsset, &o.AllowedSender} {
		*dst = common.BytesToAddress(buf[off : off+common.AddressLength])
		off += common.AddressLength
	}
	o.MakingAmount = new(big.Int).SetBytes(buf[off : off+rfqAmountBytes])
	off += rfqAmountBytes
	o.TakingAmount = new(big.Int).SetBytes(buf[off : off+rfqAmountBytes])
	return o, nil
}

func checkUint(name string, v, max *big.Int) error {
	switch {
	case v == nil:
		return fmt.Errorf("%s: %w", name, ErrNilAmount)
	case v.Sign() < 0:
		return fmt.Errorf("%s: %w", name, ErrNegativeAmount)
	case v.Cmp(max) > 0:
		return fmt.Errorf("%s: %w", name, ErrAmountTooLarge)
	}
	return nil
}

// Predicate helper ABI JSON. The helpers are evaluated as calls to the protocol itself.
const predicateABIJSON = `[
	{
		"inputs": [{"name": "predicates", "type": "bytes[]"}],
		"name": "and",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "predicates", "type": "bytes[]"}],
		"name": "or",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "data", "type": "bytes"}],
		"name": "not",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "eq",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "lt",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "gt",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "time", "type": "uint256"}],
		"name": "timestampBelow",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "makerAddress", "type": "address"},
			{"name": "makerNonce", "type": "uint256"}
		],
		"name": "nonceEquals",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "target", "type": "address"},
			{"name": "data", "type": "bytes"}
		],
		"name": "arbitraryStaticCall",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// EIP-2612 permit ABI JSON
const permitABIJSON = `[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "permit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	predicateABI = mustParseABI("predicate", predicateABIJSON)
	permitABI    = mustParseABI("permit", permitABIJSON)
)

// GetPredicateABI returns the parsed predicate helper ABI
func GetPredicateABI() abi.ABI {
	return predicateABI
}

// GetPermitABI returns the parsed EIP-2612 permit ABI
func GetPermitABI() abi.ABI {
	return permitABI
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}
