// Package ledger is an in-memory asset ledger: fungible token balances and
// allowances, a wrapped-native token, native currency balances and EIP-2612
// permits. Every mutation holds the host lock and is recorded in the host
// journal, so a failed settlement leaves balances untouched and never reverts a
// write made by someone else.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// Ledger errors
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownToken          = errors.New("unknown token")
	ErrNegativeAmount        = errors.New("negative amount")
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token holds the metadata of a registered token.
type Token struct {
	Address common.Address
	Name    string
	Symbol  string
}

// Ledger tracks balances for every registered token plus native currency.
type Ledger struct {
	mu           sync.Mutex
	host         *host.Host
	journal      *host.Journal
	clock        host.Clock
	chainID      *big.Int
	weth         common.Address
	tokens       map[common.Address]Token
	balances     map[common.Address]map[common.Address]*big.Int
	allowances   map[common.Address]map[allowanceKey]*big.Int
	native       map[common.Address]*big.Int
	permitNonces map[common.Address]map[common.Address]uint64
}

// New creates a ledger bound to the host journal and clock. weth is the address of
// the wrapped-native token, which is registered automatically.
func New(h *host.Host, chainID *big.Int, weth common.Address) *Ledger {
	l := &Ledger{
		host:         h,
		journal:      h.Journal,
		clock:        h.Clock,
		chainID:      new(big.Int).Set(chainID),
		weth:         weth,
		tokens:       make(map[common.Address]Token),
		balances:     make(map[common.Address]map[common.Address]*big.Int),
		allowances:   make(map[common.Address]map[allowanceKey]*big.Int),
		native:       make(map[common.Address]*big.Int),
		permitNonces: make(map[common.Address]map[common.Address]uint64),
	}
	l.AddToken(weth, "Wrapped Ether", "WETH")
	return l
}

// WETH returns the wrapped-native token address.
func (l *Ledger) WETH() common.Address {
	return l.weth
}

// AddToken registers a token. The name is the EIP-712 domain name used by permits.
func (l *Ledger) AddToken(addr common.Address, name, symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[addr] = Token{Address: addr, Name: name, Symbol: symbol}
	if _, ok := l.balances[addr]; !ok {
		l.balances[addr] = make(map[common.Address]*big.Int)
		l.allowances[addr] = make(map[allowanceKey]*big.Int)
		l.permitNonces[addr] = make(map[common.Address]uint64)
	}
}

// Token returns the metadata of a registered token.
func (l *Ledger) Token(addr common.Address) (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[addr]
	return t, ok
}

// BalanceOf returns the token balance of owner.
func (l *Ledger) BalanceOf(asset, owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyOrZero(l.balances[asset][owner])
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(asset, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyOrZero(l.allowances[asset][allowanceKey{owner, spender}])
}

// NativeBalanceOf returns the native currency balance of owner.
func (l *Ledger) NativeBalanceOf(owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyOrZero(l.native[owner])
}

// Mint credits amount of asset to owner.
func (l *Ledger) Mint(ctx context.Context, asset, owner common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireToken(asset); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.setBalance(asset, owner, new(big.Int).Add(copyOrZero(l.balances[asset][owner]), amount))
	return nil
}

// Fund credits native currency to owner.
func (l *Ledger) Fund(ctx context.Context, owner common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setNative(owner, new(big.Int).Add(copyOrZero(l.native[owner]), amount))
	return nil
}

// Approve sets the allowance of spender over owner's asset.
func (l *Ledger) Approve(ctx context.Context, asset, owner, spender common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireToken(asset); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.setAllowance(asset, owner, spender, new(big.Int).Set(amount))
	return nil
}

// Transfer moves owner's own tokens to another account.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireToken(asset); err != nil {
		return err
	}
	return l.move(asset, from, to, amount)
}

// TransferFrom moves tokens on behalf of from, spending spender's allowance.
// Spending your own tokens needs no allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, asset, from, to common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireToken(asset); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if spender != from {
		allowed := copyOrZero(l.allowances[asset][allowanceKey{from, spender}])
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allows %s, needs %s", ErrInsufficientAllowance, from.Hex(), allowed, amount)
		}
		if err := l.move(asset, from, to, amount); err != nil {
			return err
		}
		l.setAllowance(asset, from, spender, allowed.Sub(allowed, amount))
		return nil
	}
	return l.move(asset, from, to, amount)
}

// TransferNative moves native currency.
func (l *Ledger) TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal := copyOrZero(l.native[from])
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: native balance of %s is %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	l.setNative(from, bal.Sub(bal, amount))
	l.setNative(to, new(big.Int).Add(copyOrZero(l.native[to]), amount))
	return nil
}

// Wrap converts owner's native currency into the wrapped-native token.
func (l *Ledger) Wrap(ctx context.Context, owner common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := copyOrZero(l.native[owner])
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: native balance of %s is %s, needs %s", ErrInsufficientBalance, owner.Hex(), bal, amount)
	}
	l.setNative(owner, bal.Sub(bal, amount))
	l.setBalance(l.weth, owner, new(big.Int).Add(copyOrZero(l.balances[l.weth][owner]), amount))
	return nil
}

// Unwrap converts owner's wrapped-native tokens back into native currency.
func (l *Ledger) Unwrap(ctx context.Context, owner common.Address, amount *big.Int) error {
	_, release := l.host.Enter(ctx)
	defer release()
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := copyOrZero(l.balances[l.weth][owner])
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: WETH balance of %s is %s, needs %s", ErrInsufficientBalance, owner.Hex(), bal, amount)
	}
	l.setBalance(l.weth, owner, bal.Sub(bal, amount))
	l.setNative(owner, new(big.Int).Add(copyOrZero(l.native[owner]), amount))
	return nil
}

func (l *Ledger) requireToken(asset common.Address) error {
	if _, ok := l.tokens[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return nil
}

// move must be called with l.mu held.
func (l *Ledger) move(asset, from, to common.Address, amount *big.Int) error {
	bal := copyOrZero(l.balances[asset][from])
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, asset.Hex(), amount)
	}
	l.setBalance(asset, from, bal.Sub(bal, amount))
	l.setBalance(asset, to, new(big.Int).Add(copyOrZero(l.balances[asset][to]), amount))
	return nil
}

func (l *Ledger) setBalance(asset, owner common.Address, v *big.Int) {
	prev, had := l.balances[asset][owner]
	l.balances[asset][owner] = v
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if had {
			l.balances[asset][owner] = prev
		} else {
			delete(l.balances[asset], owner)
		}
	})
}

func (l *Ledger) setAllowance(asset, owner, spender common.Address, v *big.Int) {
	key := allowanceKey{owner, spender}
	prev, had := l.allowances[asset][key]
	l.allowances[asset][key] = v
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if had {
			l.allowances[asset][key] = prev
		} else {
			delete(l.allowances[asset], key)
		}
	})
}

func (l *Ledger) setNative(owner common.Address, v *big.Int) {
	prev, had := l.native[owner]
	l.native[owner] = v
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if had {
			l.native[owner] = prev
		} else {
			delete(l.native, owner)
		}
	})
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
