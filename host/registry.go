package host

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Env describes the frame a contract is invoked in.
type Env struct {
	// Caller is the account that made the call (msg.sender).
	Caller common.Address
	// Self is the address the called contract is registered at.
	Self common.Address
}

// StaticCaller is implemented by contracts that answer ABI-encoded read-only calls.
type StaticCaller interface {
	StaticCall(ctx context.Context, env Env, input []byte) ([]byte, error)
}

// Registry maps addresses to contract implementations.
// Contracts are plain Go values; callers discover their capabilities with type
// assertions against role interfaces.
type Registry struct {
	mu        sync.RWMutex
	contracts map[common.Address]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[common.Address]any),
	}
}

// Deploy registers a contract at addr, replacing any previous one.
func (r *Registry) Deploy(addr common.Address, contract any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[addr] = contract
}

// Lookup returns the contract registered at addr.
func (r *Registry) Lookup(addr common.Address) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[addr]
	return c, ok
}

// IsContract reports whether anything is registered at addr.
func (r *Registry) IsContract(addr common.Address) bool {
	_, ok := r.Lookup(addr)
	return ok
}
