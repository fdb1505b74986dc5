package limitorder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

const maxPredicateDepth = 16

type predicateDepthKey struct{}

var predicateTrue = big.NewInt(1)

// CheckPredicate evaluates predicate calldata against the protocol. A predicate
// holds iff its call succeeds and returns the word 1.
func (p *Protocol) CheckPredicate(ctx context.Context, predicate []byte) (ok bool, err error) {
	p.read(ctx, func() {
		var res *big.Int
		res, err = p.evalPredicate(ctx, predicate)
		ok = err == nil && res.Cmp(predicateTrue) == 0
	})
	return ok, err
}

// StaticCall answers predicate helper calls addressed to the protocol.
func (p *Protocol) StaticCall(ctx context.Context, _ host.Env, input []byte) ([]byte, error) {
	res, err := p.evalPredicate(ctx, input)
	if err != nil {
		return nil, err
	}
	return common.BigToHash(res).Bytes(), nil
}

func (p *Protocol) evalPredicate(ctx context.Context, input []byte) (*big.Int, error) {
	depth, _ := ctx.Value(predicateDepthKey{}).(int)
	if depth >= maxPredicateDepth {
		return nil, ErrPredicateTooDeep
	}
	ctx = context.WithValue(ctx, predicateDepthKey{}, depth+1)

	if len(input) < 4 {
		return nil, fmt.Errorf("%w: %d bytes of calldata", ErrUnknownPredicate, len(input))
	}
	parsed := chain.GetPredicateABI()
	method, err := parsed.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownPredicate, input[:4])
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s arguments: %w", method.Name, err)
	}

	switch method.Name {
	case "and":
		for _, sub := range args[0].([][]byte) {
			ok, err := p.holds(ctx, sub)
			if err != nil {
				return nil, err
			}
			if !ok {
				return boolWord(false), nil
			}
		}
		return boolWord(true), nil
	case "or":
		for _, sub := range args[0].([][]byte) {
			ok, err := p.holds(ctx, sub)
			if err != nil {
				return nil, err
			}
			if ok {
				return boolWord(true), nil
			}
		}
		return boolWord(false), nil
	case "not":
		res, err := p.evalPredicate(ctx, args[0].([]byte))
		if errors.Is(err, ErrPredicateTooDeep) {
			return nil, err
		}
		return boolWord(err != nil || res.Sign() == 0), nil
	case "eq", "lt", "gt":
		value := args[0].(*big.Int)
		res, err := p.evalPredicate(ctx, args[1].([]byte))
		if errors.Is(err, ErrPredicateTooDeep) {
			return nil, err
		}
		if err != nil {
			return boolWord(false), nil
		}
		cmp := res.Cmp(value)
		switch method.Name {
		case "eq":
			return boolWord(cmp == 0), nil
		case "lt":
			return boolWord(cmp < 0), nil
		default:
			return boolWord(cmp > 0), nil
		}
	case "timestampBelow":
		now := new(big.Int).SetUint64(p.host.Clock.Now())
		return boolWord(now.Cmp(args[0].(*big.Int)) < 0), nil
	case "nonceEquals":
		maker := args[0].(common.Address)
		want := args[1].(*big.Int)
		return boolWord(want.IsUint64() && p.nonces.Get(maker) == want.Uint64()), nil
	case "arbitraryStaticCall":
		return p.arbitraryStaticCall(ctx, args[0].(common.Address), args[1].([]byte))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, method.Name)
}

// holds evaluates a nested predicate; only nesting overflow is a hard error.
func (p *Protocol) holds(ctx context.Context, predicate []byte) (bool, error) {
	res, err := p.evalPredicate(ctx, predicate)
	if errors.Is(err, ErrPredicateTooDeep) {
		return false, err
	}
	return err == nil && res.Cmp(predicateTrue) == 0, nil
}

func (p *Protocol) arbitraryStaticCall(ctx context.Context, target common.Address, data []byte) (*big.Int, error) {
	c, ok := p.host.Registry.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("static call to %s: no contract", target.Hex())
	}
	caller, ok := c.(host.StaticCaller)
	if !ok {
		return nil, fmt.Errorf("static call to %s: not statically callable", target.Hex())
	}
	out, err := caller.StaticCall(ctx, host.Env{Caller: p.address, Self: target}, data)
	if err != nil {
		return nil, fmt.Errorf("static call to %s: %w", target.Hex(), err)
	}
	if len(out) != 32 {
		return nil, fmt.Errorf("static call to %s returned %d bytes", target.Hex(), len(out))
	}
	return new(big.Int).SetBytes(out), nil
}

func boolWord(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return new(big.Int)
}
