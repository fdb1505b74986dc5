package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth    = common.HexToAddress("0xeeee")
	dai     = common.HexToAddress("0xdddd")
	alice   = common.HexToAddress("0xa11ce")
	bob     = common.HexToAddress("0xb0b")
	spender = common.HexToAddress("0x5de4")
)

func newTestLedger(t *testing.T) (*Ledger, *host.Host, *host.ManualClock) {
	t.Helper()
	clock := host.NewManualClock(1_000)
	h := host.New(clock)
	l := New(h, big.NewInt(31337), weth)
	l.AddToken(dai, "DAI", "DAI")
	return l, h, clock
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, dai, alice, big.NewInt(100)))

	err := l.TransferFrom(ctx, spender, dai, alice, bob, big.NewInt(10))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, l.Approve(ctx, dai, alice, spender, big.NewInt(30)))
	require.NoError(t, l.TransferFrom(ctx, spender, dai, alice, bob, big.NewInt(10)))
	assert.Equal(t, int64(90), l.BalanceOf(dai, alice).Int64())
	assert.Equal(t, int64(10), l.BalanceOf(dai, bob).Int64())
	assert.Equal(t, int64(20), l.Allowance(dai, alice, spender).Int64())

	err = l.TransferFrom(ctx, alice, dai, alice, bob, big.NewInt(91))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NoError(t, l.TransferFrom(ctx, alice, dai, alice, bob, big.NewInt(90)))
	assert.Zero(t, l.BalanceOf(dai, alice).Sign())

	err = l.Transfer(ctx, common.HexToAddress("0x404"), alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestWrapUnwrap(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Fund(ctx, alice, big.NewInt(5)))
	require.NoError(t, l.Wrap(ctx, alice, big.NewInt(3)))
	assert.Equal(t, int64(2), l.NativeBalanceOf(alice).Int64())
	assert.Equal(t, int64(3), l.BalanceOf(weth, alice).Int64())

	assert.ErrorIs(t, l.Unwrap(ctx, alice, big.NewInt(4)), ErrInsufficientBalance)
	require.NoError(t, l.Unwrap(ctx, alice, big.NewInt(1)))
	assert.Equal(t, int64(3), l.NativeBalanceOf(alice).Int64())

	require.NoError(t, l.TransferNative(ctx, alice, bob, big.NewInt(3)))
	assert.Equal(t, int64(3), l.NativeBalanceOf(bob).Int64())
	assert.ErrorIs(t, l.TransferNative(ctx, alice, bob, big.NewInt(1)), ErrInsufficientBalance)
}

func TestJournalRevertRestoresBalances(t *testing.T) {
	l, h, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, dai, alice, big.NewInt(100)))
	require.NoError(t, l.Fund(ctx, alice, big.NewInt(7)))

	snap := h.Journal.Snapshot()
	require.NoError(t, l.Approve(ctx, dai, alice, spender, big.NewInt(50)))
	require.NoError(t, l.TransferFrom(ctx, spender, dai, alice, bob, big.NewInt(40)))
	require.NoError(t, l.Wrap(ctx, alice, big.NewInt(7)))
	h.Journal.RevertToSnapshot(snap)

	assert.Equal(t, int64(100), l.BalanceOf(dai, alice).Int64())
	assert.Zero(t, l.BalanceOf(dai, bob).Sign())
	assert.Zero(t, l.Allowance(dai, alice, spender).Sign())
	assert.Equal(t, int64(7), l.NativeBalanceOf(alice).Int64())
	assert.Zero(t, l.BalanceOf(weth, alice).Sign())
}

func TestApplyPermit(t *testing.T) {
	l, h, clock := newTestLedger(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	args, err := l.SignPermit(key, dai, spender, big.NewInt(500), big.NewInt(2_000))
	require.NoError(t, err)
	permit := chain.PackPermit(args)

	snap := h.Journal.Snapshot()
	require.NoError(t, l.ApplyPermit(context.Background(), dai, permit))
	assert.Equal(t, int64(500), l.Allowance(dai, owner, spender).Int64())
	assert.Equal(t, uint64(1), l.PermitNonce(dai, owner))
	h.Journal.RevertToSnapshot(snap)
	assert.Zero(t, l.Allowance(dai, owner, spender).Sign())
	assert.Zero(t, l.PermitNonce(dai, owner))

	require.NoError(t, l.ApplyPermit(context.Background(), dai, permit))
	err = l.ApplyPermit(context.Background(), dai, permit)
	assert.ErrorIs(t, err, ErrPermitInvalidSignature, "a permit cannot be replayed")

	tampered := args
	tampered.Value = big.NewInt(501)
	err = l.ApplyPermit(context.Background(), dai, chain.PackPermit(tampered))
	assert.ErrorIs(t, err, ErrPermitInvalidSignature)

	expired, err := l.SignPermit(key, dai, spender, big.NewInt(1), big.NewInt(1_500))
	require.NoError(t, err)
	clock.Set(1_501)
	err = l.ApplyPermit(context.Background(), dai, chain.PackPermit(expired))
	assert.ErrorIs(t, err, ErrPermitExpired)

	err = l.ApplyPermit(context.Background(), dai, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrPermitMalformed)
}
