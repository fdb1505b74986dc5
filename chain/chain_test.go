package chain

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/kaifufi/limit-order-settlement-go/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testProtocol = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testDAI      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testWETH     = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newTestBuilder(t *testing.T) (*OrderBuilder, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewOrderBuilder(testProtocol, 31337, key), key
}

func sampleOrder(t *testing.T, ob *OrderBuilder) *Order {
	t.Helper()
	order, err := ob.BuildOrder(&OrderData{
		MakerAsset:   testDAI,
		TakerAsset:   testWETH,
		MakingAmount: big.NewInt(100),
		TakingAmount: big.NewInt(1),
		Salt:         big.NewInt(42),
		Extension: extension.New(map[extension.Slot][]byte{
			extension.SlotPredicate: TimestampBelow(0xff00000000),
		}),
	})
	require.NoError(t, err)
	return order
}

func TestOrderHashMatchesTypedData(t *testing.T) {
	ob, _ := newTestBuilder(t)
	order := sampleOrder(t, ob)

	want, _, err := apitypes.TypedDataAndHash(OrderTypedData(ob.Domain(), order))
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(want), HashOrder(ob.Domain(), order))

	order.Salt = big.NewInt(43)
	assert.NotEqual(t, common.BytesToHash(want), HashOrder(ob.Domain(), order))
}

func TestOrderRFQHashMatchesTypedData(t *testing.T) {
	ob, _ := newTestBuilder(t)
	order, err := ob.BuildOrderRFQ(&OrderRFQData{
		Nonce:        7,
		Expiration:   1_700_000_000,
		Flags:        []RFQFlag{RFQUnwrapWETH},
		MakerAsset:   testDAI,
		TakerAsset:   testWETH,
		MakingAmount: big.NewInt(1),
		TakingAmount: big.NewInt(1),
	})
	require.NoError(t, err)

	want, _, err := apitypes.TypedDataAndHash(OrderRFQTypedData(ob.Domain(), order))
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(want), HashOrderRFQ(ob.Domain(), order))
}

func TestDomainSeparatorDependsOnDeployment(t *testing.T) {
	a := NewEIP712Domain(big.NewInt(1), testProtocol).Hash()
	b := NewEIP712Domain(big.NewInt(56), testProtocol).Hash()
	c := NewEIP712Domain(big.NewInt(1), testDAI).Hash()
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRFQInfoLayout(t *testing.T) {
	info := BuildRFQInfo(1023, 1_700_000_000, RFQAllowMultipleFills)
	o := &OrderRFQ{Info: info}
	assert.Equal(t, uint64(1023), o.Nonce())
	assert.Equal(t, uint64(1_700_000_000), o.Expiration())
	assert.True(t, o.AllowMultipleFills())
	assert.False(t, o.UnwrapWETH())
	assert.Equal(t, uint(1), info.Bit(255))

	o = &OrderRFQ{Info: BuildRFQInfo(^uint64(0), 0, RFQUnwrapWETH)}
	assert.Equal(t, ^uint64(0), o.Nonce())
	assert.Zero(t, o.Expiration())
	assert.True(t, o.UnwrapWETH())
}

func TestRFQWords(t *testing.T) {
	ob, _ := newTestBuilder(t)
	order, err := ob.BuildOrderRFQ(&OrderRFQData{
		Nonce:         3,
		MakerAsset:    testDAI,
		TakerAsset:    testWETH,
		AllowedSender: testProtocol,
		MakingAmount:  MaxRFQAmount,
		TakingAmount:  big.NewInt(123456789),
	})
	require.NoError(t, err)

	words, err := order.Words()
	require.NoError(t, err)
	decoded, err := UnpackOrderRFQ(words)
	require.NoError(t, err)
	assert.Equal(t, HashOrderRFQ(ob.Domain(), order), HashOrderRFQ(ob.Domain(), decoded))

	words[4][31] = 1
	_, err = UnpackOrderRFQ(words)
	assert.ErrorIs(t, err, ErrInvalidRFQPacking)

	order.MakingAmount = new(big.Int).Add(MaxRFQAmount, big.NewInt(1))
	_, err = order.Words()
	assert.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestSignAndVerify(t *testing.T) {
	h := host.New(nil)
	v := NewVerifier(h)
	ob, _ := newTestBuilder(t)
	order := sampleOrder(t, ob)
	hash := HashOrder(ob.Domain(), order)

	sig, err := ob.SignOrder(order)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, v.Verify(ob.Maker(), hash, sig))

	recovered, err := RecoverSigner(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, ob.Maker(), recovered)

	compact, err := CompactSignature(sig)
	require.NoError(t, err)
	require.Len(t, compact, 64)
	assert.True(t, v.Verify(ob.Maker(), hash, compact))

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	assert.True(t, v.Verify(ob.Maker(), hash, raw))

	other := HashOrder(ob.Domain(), &Order{Salt: big.NewInt(1)})
	assert.False(t, v.Verify(ob.Maker(), other, sig))
	assert.False(t, v.Verify(ob.Maker(), hash, sig[:10]))
}

type wallet struct{ accept bool }

func (w wallet) IsValidSignature(common.Hash, []byte) bool { return w.accept }

func TestVerifyContractWalletAndApproval(t *testing.T) {
	h := host.New(nil)
	v := NewVerifier(h)
	maker := common.HexToAddress("0xabc")
	hash := common.HexToHash("0x01")

	assert.False(t, v.Verify(maker, hash, nil))

	h.Registry.Deploy(maker, wallet{accept: true})
	assert.True(t, v.Verify(maker, hash, []byte("anything")))
	h.Registry.Deploy(maker, wallet{accept: false})
	assert.False(t, v.Verify(maker, hash, nil))

	snap := h.Journal.Snapshot()
	v.Approve(maker, hash)
	assert.True(t, v.Verify(maker, hash, nil))
	h.Journal.RevertToSnapshot(snap)
	assert.False(t, v.IsApproved(maker, hash))
}

func TestPredicateCalldata(t *testing.T) {
	parsed := GetPredicateABI()
	call := And(TimestampBelow(100), Not(NonceEquals(testDAI, 2)))

	method, err := parsed.MethodById(call[:4])
	require.NoError(t, err)
	assert.Equal(t, "and", method.Name)

	args, err := method.Inputs.Unpack(call[4:])
	require.NoError(t, err)
	inner := args[0].([][]byte)
	require.Len(t, inner, 2)
	assert.Equal(t, TimestampBelow(100), inner[0])
}

func TestPermitRoundTrip(t *testing.T) {
	args := PermitArgs{
		Owner:    testDAI,
		Spender:  testProtocol,
		Value:    big.NewInt(5),
		Deadline: big.NewInt(99),
		V:        28,
		R:        common.HexToHash("0x0a"),
		S:        common.HexToHash("0x0b"),
	}
	blob := TokenPermit(testWETH, args)
	assert.Equal(t, testWETH.Bytes(), blob[:20])

	decoded, err := UnpackPermit(blob[20:])
	require.NoError(t, err)
	assert.Equal(t, args.Owner, decoded.Owner)
	assert.Equal(t, args.Spender, decoded.Spender)
	assert.Equal(t, 0, args.Value.Cmp(decoded.Value))
	assert.Equal(t, 0, args.Deadline.Cmp(decoded.Deadline))
	assert.Equal(t, args.V, decoded.V)
	assert.Equal(t, args.R, decoded.R)
	assert.Equal(t, args.S, decoded.S)
}

func TestBuildOrderValidation(t *testing.T) {
	ob, _ := newTestBuilder(t)
	_, err := ob.BuildOrder(&OrderData{MakingAmount: big.NewInt(1)})
	assert.Error(t, err)

	order, err := ob.BuildOrder(&OrderData{MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1)})
	require.NoError(t, err)
	assert.NotNil(t, order.Salt)
	assert.Equal(t, ob.Maker(), order.Maker)
	ext, err := order.Extension()
	require.NoError(t, err)
	assert.False(t, ext.Has(extension.SlotPredicate))
}
