package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderBuilder builds and signs orders
type OrderBuilder struct {
	domain *EIP712Domain
	signer *ecdsa.PrivateKey
	maker  common.Address
}

// NewOrderBuilder creates a new OrderBuilder for the protocol deployed at
// verifyingContract. The signer's address becomes the maker of every order.
func NewOrderBuilder(verifyingContract common.Address, chainID int64, signer *ecdsa.PrivateKey) *OrderBuilder {
	return &OrderBuilder{
		domain: NewEIP712Domain(big.NewInt(chainID), verifyingContract),
		signer: signer,
		maker:  crypto.PubkeyToAddress(signer.PublicKey),
	}
}

// Maker returns the address orders are built for
func (ob *OrderBuilder) Maker() common.Address {
	return ob.maker
}

// Domain returns the EIP712 domain orders are signed in
func (ob *OrderBuilder) Domain() *EIP712Domain {
	return ob.domain
}

// BuildOrder builds an order from OrderData
func (ob *OrderBuilder) BuildOrder(data *OrderData) (*Order, error) {
	if err := ob.validateInputs(data.MakingAmount, data.TakingAmount); err != nil {
		return nil, err
	}

	// Generate salt if not provided
	salt := data.Salt
	if salt == nil {
		salt = ob.generateSalt()
	}

	offsets, interactions := data.Extension.Encode()

	order := &Order{
		Salt:          new(big.Int).Set(salt),
		MakerAsset:    data.MakerAsset,
		TakerAsset:    data.TakerAsset,
		Maker:         ob.maker,
		Receiver:      data.Receiver,
		AllowedSender: data.AllowedSender,
		MakingAmount:  new(big.Int).Set(data.MakingAmount),
		TakingAmount:  new(big.Int).Set(data.TakingAmount),
		Offsets:       offsets,
		Interactions:  interactions,
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// BuildSignedOrder builds and signs an order
func (ob *OrderBuilder) BuildSignedOrder(data *OrderData) (*SignedOrder, error) {
	order, err := ob.BuildOrder(data)
	if err != nil {
		return nil, err
	}

	signature, err := ob.SignOrder(order)
	if err != nil {
		return nil, err
	}

	return &SignedOrder{
		Order:     order,
		Signature: signature,
	}, nil
}

// SignOrder signs an order using EIP712
func (ob *OrderBuilder) SignOrder(order *Order) ([]byte, error) {
	signature, err := SignHash(ob.signer, HashOrder(ob.domain, order))
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return signature, nil
}

// BuildOrderRFQ builds a compact order from OrderRFQData
func (ob *OrderBuilder) BuildOrderRFQ(data *OrderRFQData) (*OrderRFQ, error) {
	if err := ob.validateInputs(data.MakingAmount, data.TakingAmount); err != nil {
		return nil, err
	}

	order := &OrderRFQ{
		Info:          BuildRFQInfo(data.Nonce, data.Expiration, data.Flags...),
		Maker:         ob.maker,
		MakerAsset:    data.MakerAsset,
		TakerAsset:    data.TakerAsset,
		AllowedSender: data.AllowedSender,
		MakingAmount:  new(big.Int).Set(data.MakingAmount),
		TakingAmount:  new(big.Int).Set(data.TakingAmount),
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// BuildSignedOrderRFQ builds and signs a compact order
func (ob *OrderBuilder) BuildSignedOrderRFQ(data *OrderRFQData) (*SignedOrderRFQ, error) {
	order, err := ob.BuildOrderRFQ(data)
	if err != nil {
		return nil, err
	}

	signature, err := ob.SignOrderRFQ(order)
	if err != nil {
		return nil, err
	}

	return &SignedOrderRFQ{
		Order:     order,
		Signature: signature,
	}, nil
}

// SignOrderRFQ signs a compact order using EIP712
func (ob *OrderBuilder) SignOrderRFQ(order *OrderRFQ) ([]byte, error) {
	signature, err := SignHash(ob.signer, HashOrderRFQ(ob.domain, order))
	if err != nil {
		return nil, fmt.Errorf("failed to sign RFQ order: %w", err)
	}
	return signature, nil
}

func (ob *OrderBuilder) validateInputs(makingAmount, takingAmount *big.Int) error {
	if makingAmount == nil {
		return fmt.Errorf("makingAmount is required")
	}
	if takingAmount == nil {
		return fmt.Errorf("takingAmount is required")
	}
	if makingAmount.Sign() < 0 || takingAmount.Sign() < 0 {
		return fmt.Errorf("amounts must not be negative")
	}
	return nil
}

func (ob *OrderBuilder) generateSalt() *big.Int {
	now := time.Now().Unix()
	random := rand.Int63()
	return new(big.Int).Mul(big.NewInt(now), big.NewInt(random))
}
