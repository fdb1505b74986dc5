package extension

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// Dispatcher errors
var (
	ErrMalformedSlot       = errors.New("slot shorter than a target address")
	ErrUnknownTarget       = errors.New("no contract at target")
	ErrNotCallable         = errors.New("target does not implement the required role")
	ErrGetAmountCallFailed = errors.New("get amount call failed")
	ErrPreInteraction      = errors.New("pre-interaction failed")
	ErrPostInteraction     = errors.New("post-interaction failed")
)

// AmountQuery is what a getter is asked.
type AmountQuery struct {
	OrderHash common.Hash
	// Amount is the driving amount of the fill.
	Amount                *big.Int
	RemainingMakingAmount *big.Int
}

// Dispatcher performs the external calls described by extension slots.
type Dispatcher interface {
	MakingAmount(ctx context.Context, getter []byte, q AmountQuery) (*big.Int, error)
	TakingAmount(ctx context.Context, getter []byte, q AmountQuery) (*big.Int, error)
	CheckPredicate(ctx context.Context, predicate []byte) (bool, error)
	ApplyPermit(ctx context.Context, permit []byte) error
	PreInteraction(ctx context.Context, interaction []byte, call Call) error
	PostInteraction(ctx context.Context, interaction []byte, call Call) error
}

// CallAdapter dispatches slots to contracts in the host registry.
type CallAdapter struct {
	registry   *host.Registry
	self       common.Address
	predicates PredicateEvaluator
	permits    PermitApplier
}

var _ Dispatcher = (*CallAdapter)(nil)

// NewCallAdapter creates a dispatcher that calls contracts on behalf of self.
func NewCallAdapter(registry *host.Registry, self common.Address, predicates PredicateEvaluator, permits PermitApplier) *CallAdapter {
	return &CallAdapter{
		registry:   registry,
		self:       self,
		predicates: predicates,
		permits:    permits,
	}
}

// SplitTarget splits a slot into its 20-byte target and trailing data.
func SplitTarget(slot []byte) (common.Address, []byte, error) {
	if len(slot) < common.AddressLength {
		return common.Address{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformedSlot, len(slot))
	}
	return common.BytesToAddress(slot[:common.AddressLength]), slot[common.AddressLength:], nil
}

// MakingAmount asks a getter for the making amount matching q.Amount of taking.
func (a *CallAdapter) MakingAmount(ctx context.Context, getter []byte, q AmountQuery) (*big.Int, error) {
	return a.getAmount(ctx, getter, q)
}

// TakingAmount asks a getter for the taking amount matching q.Amount of making.
func (a *CallAdapter) TakingAmount(ctx context.Context, getter []byte, q AmountQuery) (*big.Int, error) {
	return a.getAmount(ctx, getter, q)
}

// getAmount calls target with calldata ++ amount ++ remaining ++ orderHash and
// expects exactly one word back.
func (a *CallAdapter) getAmount(ctx context.Context, getter []byte, q AmountQuery) (*big.Int, error) {
	target, data, err := SplitTarget(getter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetAmountCallFailed, err)
	}
	caller, err := a.staticCaller(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetAmountCallFailed, err)
	}

	input := make([]byte, 0, len(data)+3*32)
	input = append(input, data...)
	input = append(input, common.BigToHash(q.Amount).Bytes()...)
	input = append(input, common.BigToHash(q.RemainingMakingAmount).Bytes()...)
	input = append(input, q.OrderHash.Bytes()...)

	out, err := caller.StaticCall(ctx, host.Env{Caller: a.self, Self: target}, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGetAmountCallFailed, target.Hex(), err)
	}
	if len(out) != 32 {
		return nil, fmt.Errorf("%w: %s returned %d bytes", ErrGetAmountCallFailed, target.Hex(), len(out))
	}
	return new(big.Int).SetBytes(out), nil
}

// CheckPredicate evaluates predicate calldata against the protocol.
func (a *CallAdapter) CheckPredicate(ctx context.Context, predicate []byte) (bool, error) {
	return a.predicates.CheckPredicate(ctx, predicate)
}

// ApplyPermit applies a token(20) ++ permit-arguments blob.
func (a *CallAdapter) ApplyPermit(ctx context.Context, permit []byte) error {
	token, args, err := SplitTarget(permit)
	if err != nil {
		return err
	}
	return a.permits.ApplyPermit(ctx, token, args)
}

// PreInteraction invokes the maker hook at target(20) ++ data.
func (a *CallAdapter) PreInteraction(ctx context.Context, interaction []byte, call Call) error {
	target, data, err := SplitTarget(interaction)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreInteraction, err)
	}
	c, err := a.lookup(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreInteraction, err)
	}
	hook, ok := c.(PreInteractor)
	if !ok {
		return fmt.Errorf("%w: %w: %s is not a pre-interactor", ErrPreInteraction, ErrNotCallable, target.Hex())
	}
	call.ExtraData = data
	if err := hook.PreInteraction(ctx, host.Env{Caller: a.self, Self: target}, call); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPreInteraction, target.Hex(), err)
	}
	return nil
}

// PostInteraction invokes the maker hook at target(20) ++ data.
func (a *CallAdapter) PostInteraction(ctx context.Context, interaction []byte, call Call) error {
	target, data, err := SplitTarget(interaction)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPostInteraction, err)
	}
	c, err := a.lookup(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPostInteraction, err)
	}
	hook, ok := c.(PostInteractor)
	if !ok {
		return fmt.Errorf("%w: %w: %s is not a post-interactor", ErrPostInteraction, ErrNotCallable, target.Hex())
	}
	call.ExtraData = data
	if err := hook.PostInteraction(ctx, host.Env{Caller: a.self, Self: target}, call); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPostInteraction, target.Hex(), err)
	}
	return nil
}

func (a *CallAdapter) lookup(target common.Address) (any, error) {
	c, ok := a.registry.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target.Hex())
	}
	return c, nil
}

func (a *CallAdapter) staticCaller(target common.Address) (host.StaticCaller, error) {
	c, err := a.lookup(target)
	if err != nil {
		return nil, err
	}
	sc, ok := c.(host.StaticCaller)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not statically callable", ErrNotCallable, target.Hex())
	}
	return sc, nil
}
