package limitorder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/kaifufi/limit-order-settlement-go/host"
	"github.com/kaifufi/limit-order-settlement-go/invalidator"
	"go.uber.org/zap"
)

// AssetLedger moves tokens and native currency on behalf of the protocol
type AssetLedger interface {
	extension.PermitApplier
	TransferFrom(ctx context.Context, spender, asset, from, to common.Address, amount *big.Int) error
	TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error
	Wrap(ctx context.Context, owner common.Address, amount *big.Int) error
	Unwrap(ctx context.Context, owner common.Address, amount *big.Int) error
	WETH() common.Address
}

// SignatureVerifier decides whether signature authorizes hash for signer
type SignatureVerifier interface {
	Verify(signer common.Address, hash common.Hash, signature []byte) bool
}

// HashApprover records hashes a signer authorized in advance
type HashApprover interface {
	Approve(signer common.Address, hash common.Hash)
}

// TakerInteraction is passed to the taker's interaction target after the maker
// asset reached the taker and before the taker asset is collected.
type TakerInteraction struct {
	OrderHash    common.Hash
	Taker        common.Address
	MakingAmount *big.Int
	TakingAmount *big.Int
	// Data is the interaction payload after the 20-byte target.
	Data []byte
}

// InteractionReceiver is implemented by taker contracts such as recursive matchers.
type InteractionReceiver interface {
	FillOrderInteraction(ctx context.Context, env host.Env, call TakerInteraction) error
}

// ProtocolConfig holds configuration for creating a Protocol
type ProtocolConfig struct {
	// Address is the verifying contract of the EIP712 domain and the account
	// that holds assets in transit.
	Address common.Address
	ChainID *big.Int
	Host    *host.Host
	Ledger  AssetLedger
	// Verifier defaults to a chain.Verifier bound to Host.
	Verifier SignatureVerifier
	// Dispatcher defaults to an extension.CallAdapter over Host's registry.
	Dispatcher extension.Dispatcher
	// Store defaults to an in-memory store.
	Store   invalidator.Store
	Logger  *zap.Logger
	Metrics *Metrics
}

// Protocol settles signed limit orders against an asset ledger
type Protocol struct {
	address    common.Address
	domain     *chain.EIP712Domain
	separator  common.Hash
	host       *host.Host
	ledger     AssetLedger
	verifier   SignatureVerifier
	dispatcher extension.Dispatcher
	store      invalidator.Store
	state      *invalidator.State
	nonces     *nonceManager
	logger     *zap.Logger
	metrics    *Metrics

	// settling holds the hashes of orders with a fill on the current stack.
	settling map[common.Hash]struct{}
}

// NewProtocol creates a Protocol and registers it in the host registry at its address
func NewProtocol(config ProtocolConfig) (*Protocol, error) {
	if config.Ledger == nil {
		return nil, &InvalidParamError{Message: "ledger is required"}
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "chain id must be positive"}
	}
	if config.Host == nil {
		config.Host = host.New(nil)
	}
	if config.Verifier == nil {
		config.Verifier = chain.NewVerifier(config.Host)
	}
	if config.Store == nil {
		config.Store = invalidator.NewMemoryStore()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil, "")
	}

	domain := chain.NewEIP712Domain(config.ChainID, config.Address)
	p := &Protocol{
		address:    config.Address,
		domain:     domain,
		separator:  domain.Hash(),
		host:       config.Host,
		ledger:     config.Ledger,
		verifier:   config.Verifier,
		dispatcher: config.Dispatcher,
		store:      config.Store,
		state:      invalidator.New(config.Store, config.Host.Journal),
		nonces:     newNonceManager(config.Host.Journal),
		logger:     config.Logger.With(zap.String("protocol", config.Address.Hex())),
		metrics:    config.Metrics,
		settling:   make(map[common.Hash]struct{}),
	}
	if p.dispatcher == nil {
		p.dispatcher = extension.NewCallAdapter(config.Host.Registry, config.Address, p, config.Ledger)
	}
	config.Host.Registry.Deploy(config.Address, p)
	return p, nil
}

// OpenStore opens the invalidation store selected by cfg
func OpenStore(cfg StoreConfig) (invalidator.Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return invalidator.NewMemoryStore(), nil
	}
	return invalidator.OpenBadgerStore(cfg.Path, cfg.InMemory)
}

// Close releases the invalidation store
func (p *Protocol) Close() error {
	return p.store.Close()
}

// Address returns the protocol address
func (p *Protocol) Address() common.Address {
	return p.address
}

// Domain returns the EIP712 domain orders are signed in
func (p *Protocol) Domain() *chain.EIP712Domain {
	return p.domain
}

// DomainSeparator returns the EIP712 domain separator
func (p *Protocol) DomainSeparator() common.Hash {
	return p.separator
}

// HashOrder returns the identifier of a general order
func (p *Protocol) HashOrder(order *chain.Order) common.Hash {
	return chain.TypedDataHash(p.separator, order.StructHash())
}

// HashOrderRFQ returns the identifier of a compact order
func (p *Protocol) HashOrderRFQ(order *chain.OrderRFQ) common.Hash {
	return chain.TypedDataHash(p.separator, order.StructHash())
}

// Remaining returns the remaining making amount of an order that was filled at
// least once. Orders never touched report ErrUnknownOrder.
func (p *Protocol) Remaining(ctx context.Context, orderHash common.Hash) (*big.Int, error) {
	r, err := p.RemainingRaw(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if !r.Touched {
		return nil, ErrUnknownOrder
	}
	return r.Amount, nil
}

// RemainingRaw returns the remaining entry of an order without interpretation
func (p *Protocol) RemainingRaw(ctx context.Context, orderHash common.Hash) (r invalidator.Remaining, err error) {
	p.read(ctx, func() {
		r, err = p.state.Remaining(orderHash)
	})
	return r, err
}

// BitInvalidatorForOrder returns the 256-bit invalidation word holding maker's nonce
func (p *Protocol) BitInvalidatorForOrder(ctx context.Context, maker common.Address, nonce uint64) (*big.Int, error) {
	bucket, _ := invalidator.Bucket(nonce)
	var word *uint256.Int
	var err error
	p.read(ctx, func() {
		word, err = p.state.BitWord(maker, bucket)
	})
	if err != nil {
		return nil, err
	}
	return word.ToBig(), nil
}

// IsNonceSpent reports whether maker's nonce bit is set
func (p *Protocol) IsNonceSpent(ctx context.Context, maker common.Address, nonce uint64) (spent bool, err error) {
	p.read(ctx, func() {
		spent, err = p.state.IsNonceSpent(maker, nonce)
	})
	return spent, err
}

// Nonce returns maker's epoch nonce
func (p *Protocol) Nonce(ctx context.Context, maker common.Address) (nonce uint64) {
	p.read(ctx, func() {
		nonce = p.nonces.Get(maker)
	})
	return nonce
}

type frameKey struct{}

// frame is one settlement unit on the call stack. Nested frames share the
// settlement id of the top-level frame.
type frame struct {
	protocol     *Protocol
	depth        int
	settlementID string
	logger       *zap.Logger
}

func (p *Protocol) frameFrom(ctx context.Context) (*frame, bool) {
	fr, ok := ctx.Value(frameKey{}).(*frame)
	if !ok || fr.protocol != p {
		return nil, false
	}
	return fr, true
}

// read runs fn under the host lock, against the current settlement when ctx
// carries one.
func (p *Protocol) read(ctx context.Context, fn func()) {
	_, release := p.host.Enter(ctx)
	defer release()
	fn()
}

// atomically runs fn as one settlement unit. A top-level unit takes the host
// lock and persists invalidation writes on success; a nested unit runs inside
// its parent. Either way a failure reverts every mutation fn made.
func (p *Protocol) atomically(ctx context.Context, fn func(ctx context.Context, fr *frame) error) error {
	parent, nested := p.frameFrom(ctx)
	if !nested {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	ctx, release := p.host.Enter(ctx)
	defer release()

	fr := &frame{protocol: p}
	if nested {
		fr.depth = parent.depth + 1
		fr.settlementID = parent.settlementID
	} else {
		fr.settlementID = uuid.NewString()
	}
	fr.logger = p.logger.With(zap.String("settlement_id", fr.settlementID), zap.Int("depth", fr.depth))

	journal := p.host.Journal
	snap := journal.Snapshot()
	committed := false
	defer func() {
		if !committed {
			journal.RevertToSnapshot(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, frameKey{}, fr), fr); err != nil {
		return err
	}
	if !nested {
		if err := p.state.Flush(); err != nil {
			return err
		}
	}
	journal.Release(snap)
	committed = true
	return nil
}

// enter marks orderHash as being settled until the returned func runs.
func (p *Protocol) enter(orderHash common.Hash) (func(), error) {
	if _, busy := p.settling[orderHash]; busy {
		return nil, ErrReentrantFill
	}
	p.settling[orderHash] = struct{}{}
	return func() { delete(p.settling, orderHash) }, nil
}
