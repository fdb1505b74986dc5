package limitorder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/chain"
)

// FillMode selects which requested amount drives a fill
type FillMode int

const (
	// FillAuto uses whichever of the requested amounts is nonzero; exactly one must be.
	FillAuto FillMode = iota
	// FillByMaking drives the fill with the requested making amount.
	FillByMaking
	// FillByTaking drives the fill with the requested taking amount.
	FillByTaking
)

func (m FillMode) String() string {
	switch m {
	case FillByMaking:
		return "making"
	case FillByTaking:
		return "taking"
	default:
		return "auto"
	}
}

// FillOptions tunes a single fill
type FillOptions struct {
	Mode FillMode
	// Threshold bounds the resolved counterpart: the maximum taking amount for
	// making-driven fills, the minimum making amount for taking-driven fills.
	// Nil or zero disables the check.
	Threshold *big.Int
	// Value is native currency attached by the taker. It must cover the taking
	// amount of an order whose taker asset is the wrapped native token; the excess
	// is refunded.
	Value *big.Int
	// UnwrapWETH delivers a wrapped-native maker asset to the target as native currency.
	UnwrapWETH bool
}

// FillResult describes a committed fill
type FillResult struct {
	MakingAmount *big.Int
	TakingAmount *big.Int
	OrderHash    common.Hash
	SettlementID string
}

// BatchFill is one entry of Client.FillOrdersBatch
type BatchFill struct {
	Order        *chain.SignedOrder
	MakingAmount *big.Int
	TakingAmount *big.Int
	Options      FillOptions
}

// BatchFillResult represents the result of a single fill in a batch operation
type BatchFillResult struct {
	Index    int
	Success  bool
	Result   *FillResult
	Error    string
	Category Category
}

// BatchCancelResult represents the result of a single cancellation in a batch operation
type BatchCancelResult struct {
	Index     int
	Success   bool
	OrderHash common.Hash
	Error     string
}

// OrderKind distinguishes the two order formats in logs and metrics
type OrderKind string

const (
	OrderKindGeneral OrderKind = "order"
	OrderKindRFQ     OrderKind = "rfq"
)
