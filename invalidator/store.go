package invalidator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// ErrNotFound is returned by a Store for a key that was never written.
var ErrNotFound = errors.New("invalidator: key not found")

// Write is one key/value pair of a batch.
type Write struct {
	Key   []byte
	Value []byte
}

// Store persists invalidation words. Batches are applied atomically.
type Store interface {
	Get(key []byte) ([]byte, error)
	WriteBatch(writes []Write) error
	Close() error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// WriteBatch implements Store.
func (s *MemoryStore) WriteBatch(writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		s.data[string(w.Key)] = append([]byte(nil), w.Value...)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// BadgerStore is a disk-backed Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a BadgerStore at path. An empty path with inMemory set
// keeps everything in memory.
func OpenBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// WriteBatch implements Store. All writes land in a single transaction.
func (s *BadgerStore) WriteBatch(writes []Write) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			if err := txn.Set(w.Key, w.Value); err != nil {
				return fmt.Errorf("writing %x: %w", w.Key, err)
			}
		}
		return nil
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
