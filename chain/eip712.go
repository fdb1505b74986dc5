package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP712 related errors
var (
	ErrNilAmount      = errors.New("amount is nil")
	ErrAmountTooLarge = errors.New("amount does not fit the field")
	ErrNegativeAmount = errors.New("amount is negative")
)

// EIP712 Domain constants of the settlement protocol
const (
	EIP712DomainName    = "Limit Order Protocol"
	EIP712DomainVersion = "3"
)

// Pre-computed type hashes using keccak256
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	// Order(uint256 salt,address makerAsset,address takerAsset,address maker,address receiver,address allowedSender,uint256 makingAmount,uint256 takingAmount,uint256 offsets,bytes interactions)
	OrderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(uint256 salt,address makerAsset,address takerAsset,address maker,address receiver,address allowedSender,uint256 makingAmount,uint256 takingAmount,uint256 offsets,bytes interactions)",
	))

	// OrderRFQ(uint256 info,address maker,address makerAsset,address takerAsset,address allowedSender,uint256 makingAmount,uint256 takingAmount)
	OrderRFQTypeHash = crypto.Keccak256Hash([]byte(
		"OrderRFQ(uint256 info,address maker,address makerAsset,address takerAsset,address allowedSender,uint256 makingAmount,uint256 takingAmount)",
	))
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
)

// EIP712Domain represents the EIP712 domain separator data
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewEIP712Domain creates the domain of a protocol deployment
func NewEIP712Domain(chainID *big.Int, verifyingContract common.Address) *EIP712Domain {
	return &EIP712Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Hash computes the EIP712 domain separator hash
func (d *EIP712Domain) Hash() common.Hash {
	// typeHash ++ keccak256(name) ++ keccak256(version) ++ chainId ++ verifyingContract
	arguments := abi.Arguments{
		{Type: bytes32Type},
		{Type: bytes32Type},
		{Type: bytes32Type},
		{Type: uint256Type},
		{Type: addressType},
	}

	encoded, err := arguments.Pack(
		EIP712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		panic("failed to encode domain separator: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// StructHash computes the EIP712 struct hash of a general order.
// The interactions blob participates through its keccak256 digest.
func (o *Order) StructHash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: uint256Type}, // salt
		{Type: addressType}, // makerAsset
		{Type: addressType}, // takerAsset
		{Type: addressType}, // maker
		{Type: addressType}, // receiver
		{Type: addressType}, // allowedSender
		{Type: uint256Type}, // makingAmount
		{Type: uint256Type}, // takingAmount
		{Type: uint256Type}, // offsets
		{Type: bytes32Type}, // keccak256(interactions)
	}

	encoded, err := arguments.Pack(
		OrderTypeHash,
		orZero(o.Salt),
		o.MakerAsset,
		o.TakerAsset,
		o.Maker,
		o.Receiver,
		o.AllowedSender,
		orZero(o.MakingAmount),
		orZero(o.TakingAmount),
		orZero(o.Offsets),
		crypto.Keccak256Hash(o.Interactions),
	)
	if err != nil {
		panic("failed to encode order struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// StructHash computes the EIP712 struct hash of a compact order.
func (o *OrderRFQ) StructHash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: uint256Type}, // info
		{Type: addressType}, // maker
		{Type: addressType}, // makerAsset
		{Type: addressType}, // takerAsset
		{Type: addressType}, // allowedSender
		{Type: uint256Type}, // makingAmount
		{Type: uint256Type}, // takingAmount
	}

	encoded, err := arguments.Pack(
		OrderRFQTypeHash,
		orZero(o.Info),
		o.Maker,
		o.MakerAsset,
		o.TakerAsset,
		o.AllowedSender,
		orZero(o.MakingAmount),
		orZero(o.TakingAmount),
	)
	if err != nil {
		panic("failed to encode RFQ order struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// TypedDataHash creates the final EIP712 digest to be signed:
// keccak256("\x19\x01" ++ domainSeparator ++ structHash)
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, domainSeparator.Bytes()...)
	data = append(data, structHash.Bytes()...)

	return crypto.Keccak256Hash(data)
}

// HashOrder returns the identifier of a general order within domain.
func HashOrder(domain *EIP712Domain, order *Order) common.Hash {
	return TypedDataHash(domain.Hash(), order.StructHash())
}

// HashOrderRFQ returns the identifier of a compact order within domain.
func HashOrderRFQ(domain *EIP712Domain, order *OrderRFQ) common.Hash {
	return TypedDataHash(domain.Hash(), order.StructHash())
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
