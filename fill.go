package limitorder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/kaifufi/limit-order-settlement-go/host"
	"github.com/kaifufi/limit-order-settlement-go/invalidator"
	"go.uber.org/zap"
)

// fullFillGetter marks a getter slot that only allows filling the whole order.
const fullFillGetter = 'x'

// fillable is the order-format independent view of an order being filled.
type fillable struct {
	kind          OrderKind
	hash          common.Hash
	signature     []byte
	maker         common.Address
	receiver      common.Address
	allowedSender common.Address
	makerAsset    common.Address
	takerAsset    common.Address
	makingAmount  *big.Int
	takingAmount  *big.Int
	ext           *extension.Extension

	// expiration is a unix timestamp; zero means none.
	expiration uint64
	// singleFill orders are invalidated through the maker's nonce bit.
	singleFill bool
	nonce      uint64
	// unwrapToMaker delivers a wrapped-native taker asset to the maker as native currency.
	unwrapToMaker bool
	// wholeOnZero turns a request with both amounts zero into a full fill.
	wholeOnZero bool
}

type fillRequest struct {
	taker        common.Address
	target       common.Address
	interaction  []byte
	makingAmount *big.Int
	takingAmount *big.Int
	opts         FillOptions
}

// fill runs the settlement steps of one order inside the frame fr. Any error
// leaves the frame to revert every mutation made so far.
func (p *Protocol) fill(ctx context.Context, fr *frame, o *fillable, req fillRequest) (FillResult, error) {
	leave, err := p.enter(o.hash)
	if err != nil {
		return FillResult{}, err
	}
	defer leave()

	log := fr.logger.With(zap.String("order_hash", o.hash.Hex()), zap.String("kind", string(o.kind)))

	if !p.verifier.Verify(o.maker, o.hash, o.signature) {
		return FillResult{}, ErrBadSignature
	}
	if o.allowedSender != (common.Address{}) && o.allowedSender != req.taker {
		return FillResult{}, fmt.Errorf("%w: only %s may fill", ErrPrivateOrder, o.allowedSender.Hex())
	}
	log.Debug("order authorized", zap.String("maker", o.maker.Hex()), zap.String("taker", req.taker.Hex()))

	if o.expiration != 0 && p.host.Clock.Now() >= o.expiration {
		return FillResult{}, ErrOrderExpired
	}
	remaining := o.makingAmount
	touched := false
	if o.singleFill {
		spent, err := p.state.IsNonceSpent(o.maker, o.nonce)
		if err != nil {
			return FillResult{}, err
		}
		if spent {
			return FillResult{}, ErrBitInvalidatedOrder
		}
	} else {
		r, err := p.state.Remaining(o.hash)
		if err != nil {
			return FillResult{}, err
		}
		if r.Exhausted() {
			return FillResult{}, invalidator.ErrOrderAlreadyFilled
		}
		if r.Touched {
			remaining, touched = r.Amount, true
		}
	}

	if predicate := o.ext.Get(extension.SlotPredicate); len(predicate) > 0 {
		ok, err := p.dispatcher.CheckPredicate(ctx, predicate)
		if err != nil {
			return FillResult{}, fmt.Errorf("%w: %w", ErrPredicateFailed, err)
		}
		if !ok {
			return FillResult{}, ErrPredicateFailed
		}
	}

	if permit := o.ext.Get(extension.SlotPermit); len(permit) > 0 && !touched {
		if err := p.dispatcher.ApplyPermit(ctx, permit); err != nil {
			return FillResult{}, err
		}
	}

	making, taking, err := p.resolveAmounts(ctx, o, req, remaining)
	if err != nil {
		return FillResult{}, err
	}
	log.Debug("amounts resolved",
		zap.String("making_amount", making.String()),
		zap.String("taking_amount", taking.String()),
		zap.String("remaining", remaining.String()),
	)

	value := req.opts.Value
	if value == nil {
		value = new(big.Int)
	}
	if err := p.checkValue(fr, o, req, value, taking); err != nil {
		return FillResult{}, err
	}

	if o.singleFill {
		spent, err := p.state.InvalidateNonce(o.maker, o.nonce)
		if err != nil {
			return FillResult{}, err
		}
		if spent {
			return FillResult{}, ErrBitInvalidatedOrder
		}
	} else if _, err := p.state.Consume(o.hash, o.makingAmount, making); err != nil {
		return FillResult{}, err
	}

	call := extension.Call{
		OrderHash:             o.hash,
		Maker:                 o.maker,
		Taker:                 req.taker,
		MakingAmount:          making,
		TakingAmount:          taking,
		RemainingMakingAmount: remaining,
	}
	if pre := o.ext.Get(extension.SlotPreInteraction); len(pre) > 0 {
		if err := p.dispatcher.PreInteraction(ctx, pre, call); err != nil {
			return FillResult{}, err
		}
	}

	if err := p.transfer(ctx, o, req, value, making, taking); err != nil {
		return FillResult{}, err
	}
	log.Debug("assets transferred")

	if post := o.ext.Get(extension.SlotPostInteraction); len(post) > 0 {
		if err := p.dispatcher.PostInteraction(ctx, post, call); err != nil {
			return FillResult{}, err
		}
	}

	return FillResult{
		MakingAmount: making,
		TakingAmount: taking,
		OrderHash:    o.hash,
		SettlementID: fr.settlementID,
	}, nil
}

// resolveAmounts picks the driving amount and derives its counterpart.
func (p *Protocol) resolveAmounts(ctx context.Context, o *fillable, req fillRequest, remaining *big.Int) (making, taking *big.Int, err error) {
	reqMaking, reqTaking := orZero(req.makingAmount), orZero(req.takingAmount)
	if reqMaking.Sign() < 0 || reqTaking.Sign() < 0 {
		return nil, nil, &InvalidParamError{Message: "requested amounts must not be negative"}
	}

	mode := req.opts.Mode
	if mode == FillAuto {
		switch {
		case reqMaking.Sign() == 0 && reqTaking.Sign() == 0:
			if !o.wholeOnZero {
				return nil, nil, ErrSwapWithZeroAmount
			}
			mode, reqMaking = FillByMaking, o.makingAmount
		case reqMaking.Sign() != 0 && reqTaking.Sign() != 0:
			return nil, nil, ErrAmbiguousAmount
		case reqMaking.Sign() != 0:
			mode = FillByMaking
		default:
			mode = FillByTaking
		}
	}

	threshold := req.opts.Threshold
	switch mode {
	case FillByMaking:
		if reqMaking.Sign() == 0 {
			return nil, nil, ErrSwapWithZeroAmount
		}
		making = reqMaking
		taking, err = p.counterpart(ctx, o, extension.SlotTakingAmountGetter, making, o.makingAmount, o.takingAmount, remaining)
		if err != nil {
			return nil, nil, err
		}
		if threshold != nil && threshold.Sign() > 0 && taking.Cmp(threshold) > 0 {
			return nil, nil, fmt.Errorf("%w: %s above %s", ErrTakingAmountTooHigh, taking, threshold)
		}
	case FillByTaking:
		if reqTaking.Sign() == 0 {
			return nil, nil, ErrSwapWithZeroAmount
		}
		taking = reqTaking
		making, err = p.counterpart(ctx, o, extension.SlotMakingAmountGetter, taking, o.takingAmount, o.makingAmount, remaining)
		if err != nil {
			return nil, nil, err
		}
		if threshold != nil && threshold.Sign() > 0 && making.Cmp(threshold) < 0 {
			return nil, nil, fmt.Errorf("%w: %s below %s", ErrMakingAmountTooLow, making, threshold)
		}
	default:
		return nil, nil, &InvalidParamError{Message: fmt.Sprintf("unknown fill mode %d", mode)}
	}

	if making.Sign() == 0 || taking.Sign() == 0 {
		return nil, nil, ErrSwapWithZeroAmount
	}
	if o.singleFill && making.Cmp(o.makingAmount) > 0 {
		return nil, nil, fmt.Errorf("%w: %s requested, order makes %s", invalidator.ErrOverfill, making, o.makingAmount)
	}
	return making, taking, nil
}

// counterpart derives the amount on the other side of driving using the getter
// in slot, or the proportional rule driving * counterTotal / drivingTotal
// rounded down when the slot is empty.
func (p *Protocol) counterpart(ctx context.Context, o *fillable, slot extension.Slot, driving, drivingTotal, counterTotal, remaining *big.Int) (*big.Int, error) {
	getter := o.ext.Get(slot)
	switch {
	case len(getter) == 0:
		if drivingTotal.Sign() == 0 {
			return nil, fmt.Errorf("%w: order has no %s amount to scale by", ErrSwapWithZeroAmount, drivingSide(slot))
		}
		out := new(big.Int).Mul(driving, counterTotal)
		return out.Quo(out, drivingTotal), nil
	case len(getter) == 1 && getter[0] == fullFillGetter:
		if driving.Cmp(drivingTotal) != 0 {
			return nil, fmt.Errorf("%w: order allows only a full fill of %s", ErrWrongAmount, drivingTotal)
		}
		return new(big.Int).Set(counterTotal), nil
	}

	q := extension.AmountQuery{OrderHash: o.hash, Amount: driving, RemainingMakingAmount: remaining}
	if slot == extension.SlotMakingAmountGetter {
		return p.dispatcher.MakingAmount(ctx, getter, q)
	}
	return p.dispatcher.TakingAmount(ctx, getter, q)
}

func drivingSide(slot extension.Slot) string {
	if slot == extension.SlotMakingAmountGetter {
		return "taking"
	}
	return "making"
}

// checkValue validates attached native currency and unwrap requests before any
// state changes.
func (p *Protocol) checkValue(fr *frame, o *fillable, req fillRequest, value, taking *big.Int) error {
	if req.opts.UnwrapWETH && o.makerAsset != p.ledger.WETH() {
		return ErrUnwrapNotWETH
	}
	switch {
	case value.Sign() < 0:
		return fmt.Errorf("%w: negative value", ErrInvalidMsgValue)
	case value.Sign() == 0:
		return nil
	case fr.depth > 0:
		return fmt.Errorf("%w: value cannot be attached to a nested fill", ErrInvalidMsgValue)
	case o.takerAsset != p.ledger.WETH():
		return fmt.Errorf("%w: taker asset is not the wrapped native token", ErrInvalidMsgValue)
	case value.Cmp(taking) < 0:
		return fmt.Errorf("%w: %s attached, %s required", ErrInvalidMsgValue, value, taking)
	}
	return nil
}

// transfer moves the maker asset to the taker's target, runs the taker
// interaction and collects the taker asset for the receiver.
func (p *Protocol) transfer(ctx context.Context, o *fillable, req fillRequest, value, making, taking *big.Int) error {
	weth := p.ledger.WETH()
	target := req.target
	if target == (common.Address{}) {
		target = req.taker
	}
	receiver := o.receiver
	if receiver == (common.Address{}) {
		receiver = o.maker
	}

	if value.Sign() > 0 {
		if err := p.ledger.TransferNative(ctx, req.taker, p.address, value); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	if req.opts.UnwrapWETH {
		if err := p.unwrapTo(ctx, weth, o.maker, target, making); err != nil {
			return err
		}
	} else if err := p.transferAsset(ctx, o.makerAsset, o.maker, target, making, o.ext.Get(extension.SlotMakerAssetData)); err != nil {
		return err
	}

	if len(req.interaction) > 0 {
		if err := p.takerInteraction(ctx, o, req, making, taking); err != nil {
			return err
		}
	}

	switch {
	case value.Sign() > 0:
		if o.unwrapToMaker {
			if err := p.ledger.TransferNative(ctx, p.address, receiver, taking); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
		} else {
			if err := p.ledger.Wrap(ctx, p.address, taking); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
			if err := p.ledger.TransferFrom(ctx, p.address, weth, p.address, receiver, taking); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
		}
		if refund := new(big.Int).Sub(value, taking); refund.Sign() > 0 {
			if err := p.ledger.TransferNative(ctx, p.address, req.taker, refund); err != nil {
				return fmt.Errorf("%w: refund: %w", ErrTransferFailed, err)
			}
		}
	case o.unwrapToMaker && o.takerAsset == weth:
		return p.unwrapTo(ctx, weth, req.taker, receiver, taking)
	default:
		return p.transferAsset(ctx, o.takerAsset, req.taker, receiver, taking, o.ext.Get(extension.SlotTakerAssetData))
	}
	return nil
}

// unwrapTo pulls wrapped-native tokens from owner and sends them to dest as
// native currency.
func (p *Protocol) unwrapTo(ctx context.Context, weth, owner, dest common.Address, amount *big.Int) error {
	if err := p.ledger.TransferFrom(ctx, p.address, weth, owner, p.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := p.ledger.Unwrap(ctx, p.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := p.ledger.TransferNative(ctx, p.address, dest, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// transferAsset moves amount of asset with the protocol's allowance. Non-empty
// asset data routes the transfer through the AssetProxy deployed at asset.
func (p *Protocol) transferAsset(ctx context.Context, asset, from, to common.Address, amount *big.Int, data []byte) error {
	if len(data) == 0 {
		if err := p.ledger.TransferFrom(ctx, p.address, asset, from, to, amount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil
	}
	c, _ := p.host.Registry.Lookup(asset)
	proxy, ok := c.(extension.AssetProxy)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAssetProxy, asset.Hex())
	}
	if err := proxy.TransferFrom(ctx, host.Env{Caller: p.address, Self: asset}, from, to, amount, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferFailed, asset.Hex(), err)
	}
	return nil
}

func (p *Protocol) takerInteraction(ctx context.Context, o *fillable, req fillRequest, making, taking *big.Int) error {
	target, data, err := extension.SplitTarget(req.interaction)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInteractionFailed, err)
	}
	c, ok := p.host.Registry.Lookup(target)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrInteractionFailed, extension.ErrUnknownTarget, target.Hex())
	}
	receiver, ok := c.(InteractionReceiver)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrInteractionFailed, extension.ErrNotCallable, target.Hex())
	}
	err = receiver.FillOrderInteraction(ctx, host.Env{Caller: p.address, Self: target}, TakerInteraction{
		OrderHash:    o.hash,
		Taker:        req.taker,
		MakingAmount: making,
		TakingAmount: taking,
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInteractionFailed, target.Hex(), err)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
