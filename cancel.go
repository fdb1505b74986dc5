package limitorder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"go.uber.org/zap"
)

// CancelOrder marks a general order exhausted. Only the maker may cancel and
// cancelling twice is a no-op.
func (p *Protocol) CancelOrder(ctx context.Context, caller common.Address, order *chain.Order) (common.Hash, error) {
	if order == nil {
		return common.Hash{}, &InvalidParamError{Message: "order is required"}
	}
	if caller != order.Maker {
		return common.Hash{}, fmt.Errorf("%w: %s is not the maker", ErrAccessDenied, caller.Hex())
	}
	hash := p.HashOrder(order)
	err := p.atomically(ctx, func(context.Context, *frame) error {
		return p.state.Cancel(hash)
	})
	if err != nil {
		return common.Hash{}, err
	}
	p.metrics.observeCancel(OrderKindGeneral)
	p.logger.Info("order cancelled", zap.String("order_hash", hash.Hex()), zap.String("maker", caller.Hex()))
	return hash, nil
}

// CancelOrderRFQ cancels a compact order: its nonce bit for single-fill orders,
// its remaining amount otherwise.
func (p *Protocol) CancelOrderRFQ(ctx context.Context, caller common.Address, order *chain.OrderRFQ) (common.Hash, error) {
	if order == nil {
		return common.Hash{}, &InvalidParamError{Message: "order is required"}
	}
	if caller != order.Maker {
		return common.Hash{}, fmt.Errorf("%w: %s is not the maker", ErrAccessDenied, caller.Hex())
	}
	hash := p.HashOrderRFQ(order)
	err := p.atomically(ctx, func(context.Context, *frame) error {
		if order.AllowMultipleFills() {
			return p.state.Cancel(hash)
		}
		_, err := p.state.InvalidateNonce(order.Maker, order.Nonce())
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	p.metrics.observeCancel(OrderKindRFQ)
	p.logger.Info("rfq order cancelled", zap.String("order_hash", hash.Hex()), zap.Uint64("nonce", order.Nonce()))
	return hash, nil
}

// InvalidateNonce sets caller's nonce bit. Invalidating a spent nonce is a no-op.
func (p *Protocol) InvalidateNonce(ctx context.Context, caller common.Address, nonce uint64) error {
	err := p.atomically(ctx, func(context.Context, *frame) error {
		_, err := p.state.InvalidateNonce(caller, nonce)
		return err
	})
	if err != nil {
		return err
	}
	p.logger.Info("nonce invalidated", zap.String("maker", caller.Hex()), zap.Uint64("nonce", nonce))
	return nil
}

// InvalidateBits ORs mask into caller's bit invalidator word at bucket.
func (p *Protocol) InvalidateBits(ctx context.Context, caller common.Address, bucket uint64, mask *big.Int) error {
	if mask == nil || mask.Sign() < 0 {
		return &InvalidParamError{Message: "mask must be a non-negative 256-bit value"}
	}
	word, overflow := uint256.FromBig(mask)
	if overflow {
		return &InvalidParamError{Message: "mask exceeds 256 bits"}
	}
	err := p.atomically(ctx, func(context.Context, *frame) error {
		_, err := p.state.InvalidateBits(caller, bucket, word)
		return err
	})
	if err != nil {
		return err
	}
	p.logger.Info("nonce bits invalidated",
		zap.String("maker", caller.Hex()),
		zap.Uint64("bucket", bucket),
		zap.String("mask", word.Hex()),
	)
	return nil
}

// ApproveOrderHash pre-authorizes hash on behalf of caller so orders with that
// hash fill without a signature.
func (p *Protocol) ApproveOrderHash(ctx context.Context, caller common.Address, hash common.Hash) error {
	approver, ok := p.verifier.(HashApprover)
	if !ok {
		return &InvalidParamError{Message: "signature verifier does not accept hash approvals"}
	}
	return p.atomically(ctx, func(context.Context, *frame) error {
		approver.Approve(caller, hash)
		return nil
	})
}

// IncreaseNonce bumps caller's epoch nonce by one.
func (p *Protocol) IncreaseNonce(ctx context.Context, caller common.Address) (uint64, error) {
	return p.AdvanceNonce(ctx, caller, 1)
}

// AdvanceNonce bumps caller's epoch nonce by amount, which must be in [1, 255].
func (p *Protocol) AdvanceNonce(ctx context.Context, caller common.Address, amount uint64) (uint64, error) {
	var nonce uint64
	err := p.atomically(ctx, func(context.Context, *frame) error {
		var err error
		nonce, err = p.nonces.Advance(caller, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	p.logger.Info("nonce advanced", zap.String("maker", caller.Hex()), zap.Uint64("nonce", nonce))
	return nonce, nil
}
