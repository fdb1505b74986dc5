package extension

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// Call carries the fill being settled to maker hooks.
type Call struct {
	OrderHash common.Hash
	Maker     common.Address
	Taker     common.Address
	// MakingAmount and TakingAmount are the amounts of this fill.
	MakingAmount *big.Int
	TakingAmount *big.Int
	// RemainingMakingAmount is the remaining amount before this fill.
	RemainingMakingAmount *big.Int
	// ExtraData is the slot content after the 20-byte target.
	ExtraData []byte
}

// PreInteractor is a maker hook run before assets move.
type PreInteractor interface {
	PreInteraction(ctx context.Context, env host.Env, call Call) error
}

// PostInteractor is a maker hook run after assets moved.
type PostInteractor interface {
	PostInteraction(ctx context.Context, env host.Env, call Call) error
}

// AssetProxy moves an asset whose order slot carries asset data.
type AssetProxy interface {
	TransferFrom(ctx context.Context, env host.Env, from, to common.Address, amount *big.Int, data []byte) error
}

// PredicateEvaluator evaluates predicate calldata addressed to the protocol itself.
type PredicateEvaluator interface {
	CheckPredicate(ctx context.Context, predicate []byte) (bool, error)
}

// PermitApplier applies an EIP-2612 permit for a token.
type PermitApplier interface {
	ApplyPermit(ctx context.Context, token common.Address, permit []byte) error
}
