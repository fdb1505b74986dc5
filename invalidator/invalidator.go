// Package invalidator tracks which orders can still be filled: a per-maker bitmap
// of spent nonces for single-fill compact orders and a per-order remaining making
// amount for everything else.
package invalidator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// Invalidation errors
var (
	ErrOverfill           = errors.New("fill exceeds remaining amount")
	ErrOrderAlreadyFilled = errors.New("order already filled or cancelled")
)

const (
	bitPrefix       = 'b'
	remainingPrefix = 'r'
)

type bitKey struct {
	maker  common.Address
	bucket uint64
}

// Remaining is the remaining-amount entry of an order. An untouched order has no
// entry; a touched order with zero amount is exhausted or cancelled.
type Remaining struct {
	Amount  *big.Int
	Touched bool
}

// Exhausted reports whether the order can no longer be filled.
func (r Remaining) Exhausted() bool {
	return r.Touched && r.Amount.Sign() == 0
}

// State is a write-back cache over a Store. Mutations are journaled so a failed
// settlement reverts them; Flush persists the survivors in one batch.
type State struct {
	mu        sync.Mutex
	store     Store
	journal   *host.Journal
	bits      map[bitKey]*uint256.Int
	remaining map[common.Hash]Remaining

	dirtyBits      map[bitKey]struct{}
	dirtyRemaining map[common.Hash]struct{}
}

// New creates a State over store, recording undo entries in journal.
func New(store Store, journal *host.Journal) *State {
	return &State{
		store:          store,
		journal:        journal,
		bits:           make(map[bitKey]*uint256.Int),
		remaining:      make(map[common.Hash]Remaining),
		dirtyBits:      make(map[bitKey]struct{}),
		dirtyRemaining: make(map[common.Hash]struct{}),
	}
}

// Bucket splits a nonce into its bitmap word index and bit position.
func Bucket(nonce uint64) (bucket uint64, bit uint) {
	return nonce >> 8, uint(nonce & 0xff)
}

// BitWord returns the bitmap word of maker at bucket.
func (s *State) BitWord(maker common.Address, bucket uint64) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.loadBits(bitKey{maker, bucket})
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(w), nil
}

// IsNonceSpent reports whether maker's nonce bit is set.
func (s *State) IsNonceSpent(maker common.Address, nonce uint64) (bool, error) {
	bucket, bit := Bucket(nonce)
	w, err := s.BitWord(maker, bucket)
	if err != nil {
		return false, err
	}
	return isSet(w, bit), nil
}

// InvalidateNonce sets maker's nonce bit and reports whether it was already set.
func (s *State) InvalidateNonce(maker common.Address, nonce uint64) (bool, error) {
	bucket, bit := Bucket(nonce)
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), bit)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := bitKey{maker, bucket}
	w, err := s.loadBits(key)
	if err != nil {
		return false, err
	}
	if isSet(w, bit) {
		return true, nil
	}
	s.setBits(key, new(uint256.Int).Or(w, mask))
	return false, nil
}

// InvalidateBits ORs mask into maker's word at bucket and returns the new word.
func (s *State) InvalidateBits(maker common.Address, bucket uint64, mask *uint256.Int) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bitKey{maker, bucket}
	w, err := s.loadBits(key)
	if err != nil {
		return nil, err
	}
	next := new(uint256.Int).Or(w, mask)
	if !next.Eq(w) {
		s.setBits(key, next)
	}
	return new(uint256.Int).Set(next), nil
}

// Remaining returns the remaining entry of an order.
func (s *State) Remaining(hash common.Hash) (Remaining, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.loadRemaining(hash)
	if err != nil {
		return Remaining{}, err
	}
	return Remaining{Amount: new(big.Int).Set(r.Amount), Touched: r.Touched}, nil
}

// RemainingOf returns how much of an order of size full can still be filled.
func (s *State) RemainingOf(hash common.Hash, full *big.Int) (*big.Int, error) {
	r, err := s.Remaining(hash)
	if err != nil {
		return nil, err
	}
	if !r.Touched {
		return new(big.Int).Set(full), nil
	}
	if r.Exhausted() {
		return nil, ErrOrderAlreadyFilled
	}
	return r.Amount, nil
}

// Consume subtracts amount from the remaining of an order of size full, starting
// from full on first use. It returns the remaining after the fill.
func (s *State) Consume(hash common.Hash, full, amount *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.loadRemaining(hash)
	if err != nil {
		return nil, err
	}
	current := full
	if r.Touched {
		if r.Exhausted() {
			return nil, ErrOrderAlreadyFilled
		}
		current = r.Amount
	}
	if amount.Cmp(current) > 0 {
		return nil, fmt.Errorf("%w: %s requested, %s remaining", ErrOverfill, amount, current)
	}
	left := new(big.Int).Sub(current, amount)
	s.setRemaining(hash, Remaining{Amount: left, Touched: true})
	return new(big.Int).Set(left), nil
}

// Cancel marks an order exhausted. Cancelling twice is a no-op.
func (s *State) Cancel(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.loadRemaining(hash)
	if err != nil {
		return err
	}
	if r.Exhausted() {
		return nil
	}
	s.setRemaining(hash, Remaining{Amount: new(big.Int), Touched: true})
	return nil
}

// Flush writes every dirty entry to the store in one batch.
func (s *State) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirtyBits) == 0 && len(s.dirtyRemaining) == 0 {
		return nil
	}
	writes := make([]Write, 0, len(s.dirtyBits)+len(s.dirtyRemaining))
	for k := range s.dirtyBits {
		word := s.bits[k].Bytes32()
		writes = append(writes, Write{Key: bitStoreKey(k), Value: word[:]})
	}
	for h := range s.dirtyRemaining {
		writes = append(writes, Write{Key: remainingStoreKey(h), Value: common.BigToHash(s.remaining[h].Amount).Bytes()})
	}
	if err := s.store.WriteBatch(writes); err != nil {
		return fmt.Errorf("failed to flush invalidation state: %w", err)
	}
	s.dirtyBits = make(map[bitKey]struct{})
	s.dirtyRemaining = make(map[common.Hash]struct{})
	return nil
}

// loadBits must be called with s.mu held.
func (s *State) loadBits(k bitKey) (*uint256.Int, error) {
	if w, ok := s.bits[k]; ok {
		return w, nil
	}
	raw, err := s.store.Get(bitStoreKey(k))
	switch {
	case errors.Is(err, ErrNotFound):
		raw = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load bit invalidator: %w", err)
	}
	w := new(uint256.Int).SetBytes(raw)
	s.bits[k] = w
	return w, nil
}

// loadRemaining must be called with s.mu held.
func (s *State) loadRemaining(h common.Hash) (Remaining, error) {
	if r, ok := s.remaining[h]; ok {
		return r, nil
	}
	raw, err := s.store.Get(remainingStoreKey(h))
	switch {
	case errors.Is(err, ErrNotFound):
		return Remaining{Amount: new(big.Int)}, nil
	case err != nil:
		return Remaining{}, fmt.Errorf("failed to load remaining invalidator: %w", err)
	}
	r := Remaining{Amount: new(big.Int).SetBytes(raw), Touched: true}
	s.remaining[h] = r
	return r, nil
}

func (s *State) setBits(k bitKey, w *uint256.Int) {
	prev := s.bits[k]
	_, wasDirty := s.dirtyBits[k]
	s.bits[k] = w
	s.dirtyBits[k] = struct{}{}
	s.journal.Append(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.bits[k] = prev
		if !wasDirty {
			delete(s.dirtyBits, k)
		}
	})
}

func (s *State) setRemaining(h common.Hash, r Remaining) {
	prev, had := s.remaining[h]
	_, wasDirty := s.dirtyRemaining[h]
	s.remaining[h] = r
	s.dirtyRemaining[h] = struct{}{}
	s.journal.Append(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if had {
			s.remaining[h] = prev
		} else {
			delete(s.remaining, h)
		}
		if !wasDirty {
			delete(s.dirtyRemaining, h)
		}
	})
}

func isSet(w *uint256.Int, bit uint) bool {
	return new(uint256.Int).Rsh(w, bit).Uint64()&1 == 1
}

func bitStoreKey(k bitKey) []byte {
	key := make([]byte, 1+common.AddressLength+8)
	key[0] = bitPrefix
	copy(key[1:], k.maker.Bytes())
	binary.BigEndian.PutUint64(key[1+common.AddressLength:], k.bucket)
	return key
}

func remainingStoreKey(h common.Hash) []byte {
	return append([]byte{remainingPrefix}, h.Bytes()...)
}
