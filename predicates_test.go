package limitorder

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oracleAddr  = common.HexToAddress("0x0000000000000000000000000000000000000c1e")
	missingAddr = common.HexToAddress("0x000000000000000000000000000000000000dead")
)

func TestCheckPredicate(t *testing.T) {
	f := newFixture(t)
	f.deploy(oracleAddr, &oracle{answer: big.NewInt(42)})
	price := chain.ArbitraryStaticCall(oracleAddr, nil)
	broken := chain.ArbitraryStaticCall(missingAddr, nil)

	tests := []struct {
		name      string
		predicate []byte
		want      bool
	}{
		{"timestamp below future", chain.TimestampBelow(startTime + 1), true},
		{"timestamp below now", chain.TimestampBelow(startTime), false},
		{"empty and", chain.And(), true},
		{"empty or", chain.Or(), false},
		{"and", chain.And(chain.TimestampBelow(startTime+1), chain.NonceEquals(f.maker.addr, 0)), true},
		{"and with false", chain.And(chain.TimestampBelow(startTime+1), chain.TimestampBelow(startTime)), false},
		{"or", chain.Or(chain.TimestampBelow(startTime), chain.NonceEquals(f.maker.addr, 0)), true},
		{"or skips failing call", chain.Or(broken, chain.TimestampBelow(startTime+1)), true},
		{"and with failing call", chain.And(chain.TimestampBelow(startTime+1), broken), false},
		{"not", chain.Not(chain.TimestampBelow(startTime)), true},
		{"not of failing call", chain.Not(broken), true},
		{"eq", chain.Eq(big.NewInt(42), price), true},
		{"eq mismatch", chain.Eq(big.NewInt(41), price), false},
		{"lt", chain.Lt(big.NewInt(43), price), true},
		{"lt equal", chain.Lt(big.NewInt(42), price), false},
		{"gt", chain.Gt(big.NewInt(41), price), true},
		{"gt equal", chain.Gt(big.NewInt(42), price), false},
		{"eq of failing call", chain.Eq(big.NewInt(0), broken), false},
		{"nonce mismatch", chain.NonceEquals(f.maker.addr, 1), false},
		{"oracle word", price, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.protocol.CheckPredicate(context.Background(), tt.predicate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCheckPredicateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.protocol.CheckPredicate(ctx, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrUnknownPredicate)
	_, err = f.protocol.CheckPredicate(ctx, []byte{0x01})
	assert.ErrorIs(t, err, ErrUnknownPredicate)

	ok, err := f.protocol.CheckPredicate(ctx, chain.ArbitraryStaticCall(missingAddr, nil))
	assert.Error(t, err)
	assert.False(t, ok)

	deep := chain.TimestampBelow(startTime + 1)
	for i := 0; i < maxPredicateDepth-1; i++ {
		deep = chain.Not(deep)
	}
	_, err = f.protocol.CheckPredicate(ctx, deep)
	require.NoError(t, err)

	tooDeep := chain.And(chain.Not(deep))
	_, err = f.protocol.CheckPredicate(ctx, tooDeep)
	assert.ErrorIs(t, err, ErrPredicateTooDeep)
}

func TestNonceEqualsFollowsAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bound := chain.NonceEquals(f.maker.addr, 0)

	ok, err := f.protocol.CheckPredicate(ctx, bound)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.protocol.IncreaseNonce(ctx, f.maker.addr)
	require.NoError(t, err)

	ok, err = f.protocol.CheckPredicate(ctx, bound)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFillWithOraclePredicate(t *testing.T) {
	f := newFixture(t)
	feed := &oracle{answer: big.NewInt(1900)}
	f.deploy(oracleAddr, feed)
	// Only fill while the oracle price is below 2000.
	o := f.daiForWeth(extension.New(map[extension.Slot][]byte{
		extension.SlotPredicate: chain.Lt(big.NewInt(2000), chain.ArbitraryStaticCall(oracleAddr, nil)),
	}))

	_, err := f.fill(f.taker, o, ether(10), nil, FillOptions{})
	require.NoError(t, err)

	feed.answer = big.NewInt(2100)
	_, err = f.fill(f.taker, o, ether(10), nil, FillOptions{})
	assert.ErrorIs(t, err, ErrPredicateFailed)
	assert.Equal(t, CategoryPolicy, Classify(err))
}

func TestFillWithBrokenPredicate(t *testing.T) {
	f := newFixture(t)
	o := f.daiForWeth(extension.New(map[extension.Slot][]byte{
		extension.SlotPredicate: {0xde, 0xad, 0xbe, 0xef},
	}))

	_, err := f.fill(f.taker, o, ether(10), nil, FillOptions{})
	assert.ErrorIs(t, err, ErrPredicateFailed)
	assert.ErrorIs(t, err, ErrUnknownPredicate)
}
