package limitorder

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// maxNonceAdvance bounds a single AdvanceNonce step.
const maxNonceAdvance = 255

// nonceManager keeps the per-maker epoch counter read by the nonceEquals
// predicate. Bumping it invalidates every order bound to the previous value.
type nonceManager struct {
	mu      sync.Mutex
	journal *host.Journal
	nonces  map[common.Address]uint64
}

func newNonceManager(journal *host.Journal) *nonceManager {
	return &nonceManager{
		journal: journal,
		nonces:  make(map[common.Address]uint64),
	}
}

func (m *nonceManager) Get(maker common.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[maker]
}

// Advance adds amount to maker's nonce and returns the new value.
func (m *nonceManager) Advance(maker common.Address, amount uint64) (uint64, error) {
	if amount == 0 || amount > maxNonceAdvance {
		return 0, ErrAdvanceNonceFailed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.nonces[maker]
	next := prev + amount
	m.nonces[maker] = next
	m.journal.Append(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if had {
			m.nonces[maker] = prev
		} else {
			delete(m.nonces, maker)
		}
	})
	return next, nil
}
