package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var eip712DomainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedDataDomain converts the domain into its wallet-facing form
func (d *EIP712Domain) TypedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// OrderTypedData exposes a general order as standard EIP712 typed data, the
// payload wallets sign with eth_signTypedData_v4.
func OrderTypedData(domain *EIP712Domain, order *Order) apitypes.TypedData {
	interactions := order.Interactions
	if interactions == nil {
		interactions = []byte{}
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "makerAsset", Type: "address"},
				{Name: "takerAsset", Type: "address"},
				{Name: "maker", Type: "address"},
				{Name: "receiver", Type: "address"},
				{Name: "allowedSender", Type: "address"},
				{Name: "makingAmount", Type: "uint256"},
				{Name: "takingAmount", Type: "uint256"},
				{Name: "offsets", Type: "uint256"},
				{Name: "interactions", Type: "bytes"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain.TypedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"salt":          orZero(order.Salt),
			"makerAsset":    order.MakerAsset.Hex(),
			"takerAsset":    order.TakerAsset.Hex(),
			"maker":         order.Maker.Hex(),
			"receiver":      order.Receiver.Hex(),
			"allowedSender": order.AllowedSender.Hex(),
			"makingAmount":  orZero(order.MakingAmount),
			"takingAmount":  orZero(order.TakingAmount),
			"offsets":       orZero(order.Offsets),
			"interactions":  interactions,
		},
	}
}

// OrderRFQTypedData exposes a compact order as standard EIP712 typed data.
func OrderRFQTypedData(domain *EIP712Domain, order *OrderRFQ) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"OrderRFQ": []apitypes.Type{
				{Name: "info", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "makerAsset", Type: "address"},
				{Name: "takerAsset", Type: "address"},
				{Name: "allowedSender", Type: "address"},
				{Name: "makingAmount", Type: "uint256"},
				{Name: "takingAmount", Type: "uint256"},
			},
		},
		PrimaryType: "OrderRFQ",
		Domain:      domain.TypedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"info":          orZero(order.Info),
			"maker":         order.Maker.Hex(),
			"makerAsset":    order.MakerAsset.Hex(),
			"takerAsset":    order.TakerAsset.Hex(),
			"allowedSender": order.AllowedSender.Hex(),
			"makingAmount":  orZero(order.MakingAmount),
			"takingAmount":  orZero(order.TakingAmount),
		},
	}
}
