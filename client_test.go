package limitorder

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func (f *fixture) client(a *account) *Client {
	f.t.Helper()
	c, err := NewClient(ClientConfig{
		Protocol:   f.protocol,
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(a.key)),
		Logger:     zaptest.NewLogger(f.t),
	})
	require.NoError(f.t, err)
	require.Equal(f.t, a.addr, c.Address())
	return c
}

func daiForWethData() *chain.OrderData {
	return &chain.OrderData{
		MakerAsset:   daiAddr,
		TakerAsset:   wethAddr,
		MakingAmount: ether(100),
		TakingAmount: milliEther(100),
	}
}

func TestNewClient(t *testing.T) {
	f := newFixture(t)

	_, err := NewClient(ClientConfig{PrivateKey: "00"})
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = NewClient(ClientConfig{Protocol: f.protocol, PrivateKey: "not a key"})
	assert.Error(t, err)

	c := f.client(f.maker)
	assert.Equal(t, f.maker.addr, c.Address())
}

func TestPlaceOrderWithExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maker, taker := f.client(f.maker), f.client(f.taker)

	o, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{Expiration: startTime + 60})
	require.NoError(t, err)
	ext, err := o.Order.Extension()
	require.NoError(t, err)
	assert.Equal(t, chain.TimestampBelow(startTime+60), ext.Get(extension.SlotPredicate))

	_, err = taker.FillOrder(ctx, o, ether(10), nil, FillOptions{})
	require.NoError(t, err)

	f.clock.Advance(60)
	_, err = taker.FillOrder(ctx, o, ether(10), nil, FillOptions{})
	assert.ErrorIs(t, err, ErrPredicateFailed)
}

func TestPlaceOrderCombinesPredicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maker := f.client(f.maker)
	existing := chain.Not(chain.TimestampBelow(startTime - 1))

	data := daiForWethData()
	data.Extension = extension.New(map[extension.Slot][]byte{extension.SlotPredicate: existing})
	o, err := maker.PlaceOrder(ctx, data, PlaceOrderOptions{BindNonce: true})
	require.NoError(t, err)

	ext, err := o.Order.Extension()
	require.NoError(t, err)
	assert.Equal(t, chain.And(existing, chain.NonceEquals(f.maker.addr, 0)), ext.Get(extension.SlotPredicate))
	assert.Equal(t, existing, data.Extension.Get(extension.SlotPredicate), "the caller's extension is left alone")

	_, err = maker.PlaceOrder(ctx, nil, PlaceOrderOptions{})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestCancelAllOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maker, taker := f.client(f.maker), f.client(f.taker)

	bound, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{BindNonce: true})
	require.NoError(t, err)
	unbound, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{})
	require.NoError(t, err)

	_, err = taker.FillOrder(ctx, bound, ether(10), nil, FillOptions{})
	require.NoError(t, err)

	nonce, err := maker.CancelAllOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	_, err = taker.FillOrder(ctx, bound, ether(10), nil, FillOptions{})
	assert.ErrorIs(t, err, ErrPredicateFailed)
	_, err = taker.FillOrder(ctx, unbound, ether(10), nil, FillOptions{})
	require.NoError(t, err)

	rebound, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{BindNonce: true})
	require.NoError(t, err)
	_, err = taker.FillOrder(ctx, rebound, ether(10), nil, FillOptions{})
	require.NoError(t, err, "orders placed after the bump bind the new nonce")
}

func TestClientRFQ(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maker, taker := f.client(f.maker), f.client(f.taker)

	o, err := maker.PlaceOrderRFQ(&chain.OrderRFQData{
		Nonce:        9,
		MakerAsset:   daiAddr,
		TakerAsset:   wethAddr,
		MakingAmount: ether(100),
		TakingAmount: milliEther(100),
	})
	require.NoError(t, err)

	res, err := taker.FillOrderRFQ(ctx, o, nil, nil, FillOptions{})
	require.NoError(t, err)
	assert.Equal(t, ether(100), res.MakingAmount)

	_, err = taker.FillOrderRFQ(ctx, nil, nil, nil, FillOptions{})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestFillOrdersBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maker, taker := f.client(f.maker), f.client(f.taker)

	first, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{})
	require.NoError(t, err)
	second, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{})
	require.NoError(t, err)

	results, err := taker.FillOrdersBatch(ctx, []BatchFill{
		{Order: first, MakingAmount: ether(100)},
		{Order: second},
		{Order: second, TakingAmount: milliEther(50)},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, milliEther(100), results[0].Result.TakingAmount)

	assert.False(t, results[1].Success)
	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, CategoryAmount, results[1].Category)
	assert.Contains(t, results[1].Error, ErrSwapWithZeroAmount.Error())

	assert.True(t, results[2].Success)
	assert.Equal(t, ether(50), results[2].Result.MakingAmount)

	_, err = taker.FillOrdersBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestCancelOrdersBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maker, taker := f.client(f.maker), f.client(f.taker)

	own, err := maker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{})
	require.NoError(t, err)
	foreign, err := taker.PlaceOrder(ctx, daiForWethData(), PlaceOrderOptions{})
	require.NoError(t, err)

	results, err := maker.CancelOrdersBatch(ctx, []*chain.Order{own.Order, foreign.Order})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, f.protocol.HashOrder(own.Order), results[0].OrderHash)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, ErrAccessDenied.Error())

	_, err = taker.FillOrder(ctx, own, ether(1), nil, FillOptions{})
	assert.Error(t, err)

	_, err = maker.CancelOrdersBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidParam)
}
