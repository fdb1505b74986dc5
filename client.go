package limitorder

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"go.uber.org/zap"
)

// Client acts on a Protocol as a single account: it signs orders as maker and
// fills or cancels them with its own address as caller.
type Client struct {
	protocol *Protocol
	builder  *chain.OrderBuilder
	address  common.Address
	logger   *zap.Logger
}

// ClientConfig holds configuration for creating a Client
type ClientConfig struct {
	Protocol *Protocol
	// PrivateKey is a hex-encoded secp256k1 key, with or without 0x prefix.
	PrivateKey string
	Logger     *zap.Logger
}

// NewClient creates a client for the account behind config.PrivateKey
func NewClient(config ClientConfig) (*Client, error) {
	if config.Protocol == nil {
		return nil, &InvalidParamError{Message: "protocol is required"}
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(config.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	chainID := config.Protocol.Domain().ChainID
	if !chainID.IsInt64() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("chain id %s does not fit int64", chainID)}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	builder := chain.NewOrderBuilder(config.Protocol.Address(), chainID.Int64(), key)
	return &Client{
		protocol: config.Protocol,
		builder:  builder,
		address:  builder.Maker(),
		logger:   config.Logger.With(zap.String("account", builder.Maker().Hex())),
	}, nil
}

// Address returns the client's account
func (c *Client) Address() common.Address {
	return c.address
}

// PlaceOrderOptions adds the standard predicates to an order being placed
type PlaceOrderOptions struct {
	// Expiration adds a timestampBelow predicate when nonzero.
	Expiration uint64
	// BindNonce ties the order to the maker's current epoch nonce so that
	// CancelAllOrders voids it.
	BindNonce bool
}

// PlaceOrder builds and signs a general order. Predicates requested in opts are
// combined with any predicate already in data.Extension.
func (c *Client) PlaceOrder(ctx context.Context, data *chain.OrderData, opts PlaceOrderOptions) (*chain.SignedOrder, error) {
	if data == nil {
		return nil, &InvalidParamError{Message: "order data is required"}
	}
	var predicates [][]byte
	if existing := data.Extension.Get(extension.SlotPredicate); len(existing) > 0 {
		predicates = append(predicates, existing)
	}
	if opts.Expiration != 0 {
		predicates = append(predicates, chain.TimestampBelow(opts.Expiration))
	}
	if opts.BindNonce {
		predicates = append(predicates, chain.NonceEquals(c.address, c.protocol.Nonce(ctx, c.address)))
	}

	dataCopy := *data
	switch len(predicates) {
	case 0:
	case 1:
		dataCopy.Extension = data.Extension.With(extension.SlotPredicate, predicates[0])
	default:
		dataCopy.Extension = data.Extension.With(extension.SlotPredicate, chain.And(predicates...))
	}

	signed, err := c.builder.BuildSignedOrder(&dataCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to build order: %w", err)
	}
	c.logger.Debug("order placed", zap.String("order_hash", c.protocol.HashOrder(signed.Order).Hex()))
	return signed, nil
}

// PlaceOrderRFQ builds and signs a compact order
func (c *Client) PlaceOrderRFQ(data *chain.OrderRFQData) (*chain.SignedOrderRFQ, error) {
	signed, err := c.builder.BuildSignedOrderRFQ(data)
	if err != nil {
		return nil, fmt.Errorf("failed to build rfq order: %w", err)
	}
	return signed, nil
}

// FillOrder fills a signed order with the client as taker
func (c *Client) FillOrder(ctx context.Context, order *chain.SignedOrder, makingAmount, takingAmount *big.Int, opts FillOptions) (FillResult, error) {
	if order == nil {
		return FillResult{}, &InvalidParamError{Message: "order is required"}
	}
	return c.protocol.FillOrder(ctx, c.address, order.Order, order.Signature, makingAmount, takingAmount, opts)
}

// FillOrderRFQ fills a signed compact order with the client as taker
func (c *Client) FillOrderRFQ(ctx context.Context, order *chain.SignedOrderRFQ, makingAmount, takingAmount *big.Int, opts FillOptions) (FillResult, error) {
	if order == nil {
		return FillResult{}, &InvalidParamError{Message: "order is required"}
	}
	return c.protocol.FillOrderRFQ(ctx, c.address, order.Order, order.Signature, makingAmount, takingAmount, opts)
}

// FillOrdersBatch fills several orders one after another. Every fill settles on
// its own, so one failure does not undo the others.
func (c *Client) FillOrdersBatch(ctx context.Context, fills []BatchFill) ([]BatchFillResult, error) {
	if len(fills) == 0 {
		return nil, &InvalidParamError{Message: "fills list cannot be empty"}
	}

	results := make([]BatchFillResult, 0, len(fills))
	for i, f := range fills {
		res, err := c.FillOrder(ctx, f.Order, f.MakingAmount, f.TakingAmount, f.Options)
		if err != nil {
			results = append(results, BatchFillResult{
				Index:    i,
				Success:  false,
				Error:    err.Error(),
				Category: Classify(err),
			})
			continue
		}
		resCopy := res
		results = append(results, BatchFillResult{
			Index:   i,
			Success: true,
			Result:  &resCopy,
		})
	}
	return results, nil
}

// CancelOrdersBatch cancels several of the client's orders.
func (c *Client) CancelOrdersBatch(ctx context.Context, orders []*chain.Order) ([]BatchCancelResult, error) {
	if len(orders) == 0 {
		return nil, &InvalidParamError{Message: "orders list cannot be empty"}
	}

	results := make([]BatchCancelResult, 0, len(orders))
	for i, order := range orders {
		hash, err := c.protocol.CancelOrder(ctx, c.address, order)
		if err != nil {
			results = append(results, BatchCancelResult{
				Index:   i,
				Success: false,
				Error:   err.Error(),
			})
			continue
		}
		results = append(results, BatchCancelResult{
			Index:     i,
			Success:   true,
			OrderHash: hash,
		})
	}
	return results, nil
}

// CancelAllOrders advances the client's epoch nonce, voiding every order placed
// with BindNonce. It returns the new nonce.
func (c *Client) CancelAllOrders(ctx context.Context) (uint64, error) {
	return c.protocol.IncreaseNonce(ctx, c.address)
}
