package limitorder

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"go.uber.org/zap"
)

// FillOrder fills order on behalf of taker, delivering the maker asset to taker.
func (p *Protocol) FillOrder(ctx context.Context, taker common.Address, order *chain.Order, signature []byte, makingAmount, takingAmount *big.Int, opts FillOptions) (FillResult, error) {
	return p.fillOrder(ctx, "FillOrder", taker, order, signature, makingAmount, takingAmount, common.Address{}, nil, nil, opts)
}

// FillOrderTo fills order delivering the maker asset to target and, when
// interaction is set, calls the InteractionReceiver at its first 20 bytes before
// the taker asset is collected.
func (p *Protocol) FillOrderTo(ctx context.Context, taker common.Address, order *chain.Order, signature []byte, makingAmount, takingAmount *big.Int, target common.Address, interaction []byte, opts FillOptions) (FillResult, error) {
	return p.fillOrder(ctx, "FillOrderTo", taker, order, signature, makingAmount, takingAmount, target, interaction, nil, opts)
}

// FillOrderToWithPermit applies the taker's token(20) ++ permit blob and then
// behaves like FillOrderTo. The permit is reverted with the fill.
func (p *Protocol) FillOrderToWithPermit(ctx context.Context, taker common.Address, order *chain.Order, signature []byte, makingAmount, takingAmount *big.Int, target common.Address, interaction, permit []byte, opts FillOptions) (FillResult, error) {
	return p.fillOrder(ctx, "FillOrderToWithPermit", taker, order, signature, makingAmount, takingAmount, target, interaction, permit, opts)
}

// FillOrderRFQ fills a compact order. Two zero amounts fill the whole order.
func (p *Protocol) FillOrderRFQ(ctx context.Context, taker common.Address, order *chain.OrderRFQ, signature []byte, makingAmount, takingAmount *big.Int, opts FillOptions) (FillResult, error) {
	return p.fillOrderRFQ(ctx, "FillOrderRFQ", taker, order, signature, makingAmount, takingAmount, common.Address{}, nil, opts)
}

// FillOrderRFQToWithPermit fills a compact order delivering the maker asset to
// target, applying permit first when it is not empty.
func (p *Protocol) FillOrderRFQToWithPermit(ctx context.Context, taker common.Address, order *chain.OrderRFQ, signature []byte, makingAmount, takingAmount *big.Int, target common.Address, permit []byte, opts FillOptions) (FillResult, error) {
	return p.fillOrderRFQ(ctx, "FillOrderRFQToWithPermit", taker, order, signature, makingAmount, takingAmount, target, permit, opts)
}

func (p *Protocol) fillOrder(ctx context.Context, op string, taker common.Address, order *chain.Order, signature []byte, makingAmount, takingAmount *big.Int, target common.Address, interaction, permit []byte, opts FillOptions) (FillResult, error) {
	if order == nil {
		return FillResult{}, &FillError{Op: op, Err: &InvalidParamError{Message: "order is required"}}
	}
	if err := order.Validate(); err != nil {
		return FillResult{}, &FillError{Op: op, Err: err}
	}
	hash := p.HashOrder(order)
	ext, err := order.Extension()
	if err != nil {
		return FillResult{}, &FillError{Op: op, OrderHash: hash, Err: err}
	}

	o := &fillable{
		kind:          OrderKindGeneral,
		hash:          hash,
		signature:     signature,
		maker:         order.Maker,
		receiver:      order.Receiver,
		allowedSender: order.AllowedSender,
		makerAsset:    order.MakerAsset,
		takerAsset:    order.TakerAsset,
		makingAmount:  order.MakingAmount,
		takingAmount:  order.TakingAmount,
		ext:           ext,
	}
	return p.settle(ctx, op, o, permit, fillRequest{
		taker:        taker,
		target:       target,
		interaction:  interaction,
		makingAmount: makingAmount,
		takingAmount: takingAmount,
		opts:         opts,
	})
}

func (p *Protocol) fillOrderRFQ(ctx context.Context, op string, taker common.Address, order *chain.OrderRFQ, signature []byte, makingAmount, takingAmount *big.Int, target common.Address, permit []byte, opts FillOptions) (FillResult, error) {
	if order == nil {
		return FillResult{}, &FillError{Op: op, Err: &InvalidParamError{Message: "order is required"}}
	}
	if err := order.Validate(); err != nil {
		return FillResult{}, &FillError{Op: op, Err: err}
	}

	o := &fillable{
		kind:          OrderKindRFQ,
		hash:          p.HashOrderRFQ(order),
		signature:     signature,
		maker:         order.Maker,
		allowedSender: order.AllowedSender,
		makerAsset:    order.MakerAsset,
		takerAsset:    order.TakerAsset,
		makingAmount:  order.MakingAmount,
		takingAmount:  order.TakingAmount,
		ext:           extension.New(nil),
		expiration:    order.Expiration(),
		singleFill:    !order.AllowMultipleFills(),
		nonce:         order.Nonce(),
		unwrapToMaker: order.UnwrapWETH(),
		wholeOnZero:   true,
	}
	return p.settle(ctx, op, o, permit, fillRequest{
		taker:        taker,
		target:       target,
		makingAmount: makingAmount,
		takingAmount: takingAmount,
		opts:         opts,
	})
}

// settle runs one fill in its own frame and reports the outcome.
func (p *Protocol) settle(ctx context.Context, op string, o *fillable, permit []byte, req fillRequest) (FillResult, error) {
	started := time.Now()
	var (
		res          FillResult
		settlementID string
		depth        int
	)
	err := p.atomically(ctx, func(ctx context.Context, fr *frame) error {
		settlementID, depth = fr.settlementID, fr.depth
		if len(permit) > 0 {
			if err := p.dispatcher.ApplyPermit(ctx, permit); err != nil {
				return err
			}
		}
		r, err := p.fill(ctx, fr, o, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	p.metrics.observeFill(o.kind, started, err)

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("order_hash", o.hash.Hex()),
		zap.String("settlement_id", settlementID),
		zap.Int("depth", depth),
	}
	if err != nil {
		p.logger.Warn("fill aborted", append(fields, zap.Stringer("category", Classify(err)), zap.Error(err))...)
		return FillResult{}, &FillError{Op: op, OrderHash: o.hash, Err: err}
	}
	p.logger.Info("fill committed", append(fields,
		zap.String("making_amount", res.MakingAmount.String()),
		zap.String("taking_amount", res.TakingAmount.String()),
	)...)
	return res, nil
}
