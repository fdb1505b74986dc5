package limitorder

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/kaifufi/limit-order-settlement-go/host"
	"github.com/kaifufi/limit-order-settlement-go/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testChainID = 31337
	startTime   = uint64(1_700_000_000)
)

var (
	protocolAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	wethAddr     = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	daiAddr      = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	usdcAddr     = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

type account struct {
	key     *ecdsa.PrivateKey
	addr    common.Address
	builder *chain.OrderBuilder
}

type fixture struct {
	t        *testing.T
	host     *host.Host
	clock    *host.ManualClock
	ledger   *ledger.Ledger
	protocol *Protocol
	registry *prometheus.Registry
	maker    *account
	taker    *account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := host.NewManualClock(startTime)
	h := host.New(clock)
	l := ledger.New(h, big.NewInt(testChainID), wethAddr)
	l.AddToken(daiAddr, "Dai Stablecoin", "DAI")
	l.AddToken(usdcAddr, "USD Coin", "USDC")

	reg := prometheus.NewRegistry()
	p, err := NewProtocol(ProtocolConfig{
		Address: protocolAddr,
		ChainID: big.NewInt(testChainID),
		Host:    h,
		Ledger:  l,
		Logger:  zaptest.NewLogger(t),
		Metrics: NewMetrics(reg, "test"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	f := &fixture{t: t, host: h, clock: clock, ledger: l, protocol: p, registry: reg}
	f.maker = f.newAccount()
	f.taker = f.newAccount()
	return f
}

// newAccount creates a funded account that approved the protocol for every token.
func (f *fixture) newAccount() *account {
	f.t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(f.t, err)
	a := &account{
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
		builder: chain.NewOrderBuilder(protocolAddr, testChainID, key),
	}
	f.fund(a.addr)
	return a
}

func (f *fixture) fund(addr common.Address) {
	f.t.Helper()
	for _, token := range []common.Address{daiAddr, wethAddr, usdcAddr} {
		require.NoError(f.t, f.ledger.Mint(context.Background(), token, addr, ether(1_000_000)))
		require.NoError(f.t, f.ledger.Approve(context.Background(), token, addr, protocolAddr, math.MaxBig256))
	}
	require.NoError(f.t, f.ledger.Fund(context.Background(), addr, ether(100)))
}

func (f *fixture) order(by *account, data chain.OrderData) *chain.SignedOrder {
	f.t.Helper()
	signed, err := by.builder.BuildSignedOrder(&data)
	require.NoError(f.t, err)
	return signed
}

func (f *fixture) rfq(by *account, data chain.OrderRFQData) *chain.SignedOrderRFQ {
	f.t.Helper()
	signed, err := by.builder.BuildSignedOrderRFQ(&data)
	require.NoError(f.t, err)
	return signed
}

// daiForWeth is maker selling 100 DAI for 0.1 WETH.
func (f *fixture) daiForWeth(ext *extension.Extension) *chain.SignedOrder {
	return f.order(f.maker, chain.OrderData{
		MakerAsset:   daiAddr,
		TakerAsset:   wethAddr,
		MakingAmount: ether(100),
		TakingAmount: milliEther(100),
		Extension:    ext,
	})
}

func (f *fixture) fill(taker *account, o *chain.SignedOrder, making, taking *big.Int, opts FillOptions) (FillResult, error) {
	return f.protocol.FillOrder(context.Background(), taker.addr, o.Order, o.Signature, making, taking, opts)
}

func (f *fixture) balance(token, owner common.Address) *big.Int {
	return f.ledger.BalanceOf(token, owner)
}

// balances captures token balances of owners for before/after comparisons.
func (f *fixture) balances(owners ...common.Address) map[string]string {
	out := make(map[string]string)
	for _, owner := range owners {
		for _, token := range []common.Address{daiAddr, wethAddr, usdcAddr} {
			out[owner.Hex()+"/"+token.Hex()] = f.balance(token, owner).String()
		}
		out[owner.Hex()+"/native"] = f.ledger.NativeBalanceOf(owner).String()
	}
	return out
}

func (f *fixture) deploy(addr common.Address, contract any) common.Address {
	f.host.Registry.Deploy(addr, contract)
	return addr
}

// slot builds a target(20) ++ data extension slot.
func slot(target common.Address, data ...byte) []byte {
	return append(target.Bytes(), data...)
}

// preHook is a maker pre-interaction backed by a func.
type preHook func(ctx context.Context, env host.Env, call extension.Call) error

func (h preHook) PreInteraction(ctx context.Context, env host.Env, call extension.Call) error {
	return h(ctx, env, call)
}

// postHook is a maker post-interaction backed by a func.
type postHook func(ctx context.Context, env host.Env, call extension.Call) error

func (h postHook) PostInteraction(ctx context.Context, env host.Env, call extension.Call) error {
	return h(ctx, env, call)
}

var errNotWhitelisted = errors.New("taker is not whitelisted")

// whitelistChecker only lets listed takers fill.
type whitelistChecker struct {
	allowed map[common.Address]bool
}

func (w *whitelistChecker) PreInteraction(_ context.Context, _ host.Env, call extension.Call) error {
	if !w.allowed[call.Taker] {
		return fmt.Errorf("%w: %s", errNotWhitelisted, call.Taker.Hex())
	}
	return nil
}

// hashChecker only lets orders with a registered hash be filled.
type hashChecker struct {
	hashes map[common.Hash]bool
}

func (c *hashChecker) PreInteraction(_ context.Context, _ host.Env, call extension.Call) error {
	if !c.hashes[call.OrderHash] {
		return errors.New("order hash is not registered")
	}
	return nil
}

// wethUnwrapper receives the taker asset as order receiver and forwards it as
// native currency to the address in its extra data.
type wethUnwrapper struct {
	ledger *ledger.Ledger
}

func (u *wethUnwrapper) PostInteraction(ctx context.Context, env host.Env, call extension.Call) error {
	if len(call.ExtraData) != common.AddressLength {
		return errors.New("unwrapper expects a 20-byte recipient")
	}
	if err := u.ledger.Unwrap(ctx, env.Self, call.TakingAmount); err != nil {
		return err
	}
	return u.ledger.TransferNative(ctx, env.Self, common.BytesToAddress(call.ExtraData), call.TakingAmount)
}

// vaultProxy moves assets held in a vault account named by the asset data.
type vaultProxy struct {
	ledger *ledger.Ledger
	token  common.Address
}

func (v *vaultProxy) TransferFrom(ctx context.Context, env host.Env, from, to common.Address, amount *big.Int, data []byte) error {
	if len(data) != common.AddressLength {
		return errors.New("vault proxy expects a 20-byte vault")
	}
	return v.ledger.TransferFrom(ctx, env.Caller, v.token, common.BytesToAddress(data), to, amount)
}

// matchStep is one order a matcher fills while handling an interaction.
type matchStep struct {
	order  *chain.SignedOrder
	making *big.Int
	// next names the step filled from this fill's interaction; empty ends the chain.
	next string
}

// matcher settles orders against each other from inside taker interactions.
type matcher struct {
	protocol *Protocol
	addr     common.Address
	steps    map[string]matchStep
}

func (m *matcher) interaction(step string) []byte {
	if step == "" {
		return nil
	}
	return slot(m.addr, []byte(step)...)
}

func (m *matcher) FillOrderInteraction(ctx context.Context, env host.Env, call TakerInteraction) error {
	if env.Caller != m.protocol.Address() {
		return errors.New("matcher only accepts calls from the protocol")
	}
	step, ok := m.steps[string(call.Data)]
	if !ok {
		return fmt.Errorf("unknown match step %q", call.Data)
	}
	_, err := m.protocol.FillOrderTo(ctx, m.addr, step.order.Order, step.order.Signature,
		step.making, nil, m.addr, m.interaction(step.next), FillOptions{Mode: FillByMaking})
	return err
}

// match starts a chain of fills with m as taker.
func (m *matcher) match(ctx context.Context, first matchStep) (FillResult, error) {
	return m.protocol.FillOrderTo(ctx, m.addr, first.order.Order, first.order.Signature,
		first.making, nil, m.addr, m.interaction(first.next), FillOptions{Mode: FillByMaking})
}

// oracle is a statically callable contract returning a fixed word.
type oracle struct {
	answer *big.Int
}

func (o *oracle) StaticCall(context.Context, host.Env, []byte) ([]byte, error) {
	return common.BigToHash(o.answer).Bytes(), nil
}
