// Package collateral provides the engine's view of account collateral.
// The engine only needs a USD value per account; where that value comes
// from (staking contract, escrow, bridge) is this package's concern.
package collateral

import (
	"sync"

	"SynthPool/internal/ledger"
)

// Category labels a source of collateral value.
type Category string

const (
	CategoryStaked  Category = "staked"
	CategoryEscrow  Category = "escrow"
	CategoryBridged Category = "bridged"
)

// StaticProvider is an in-memory collateral source. Balances are set
// administratively; which categories count toward issuance is fixed at
// construction.
type StaticProvider struct {
	mu       sync.RWMutex
	balances map[ledger.Address]map[Category]int64
	counted  map[Category]bool
}

// NewStaticProvider returns a provider counting the given categories.
// With none given, only staked collateral counts.
func NewStaticProvider(counted ...Category) *StaticProvider {
	if len(counted) == 0 {
		counted = []Category{CategoryStaked}
	}
	m := make(map[Category]bool, len(counted))
	for _, c := range counted {
		m[c] = true
	}
	return &StaticProvider{
		balances: make(map[ledger.Address]map[Category]int64),
		counted:  m,
	}
}

// SetBalance replaces the balance of one category for an account.
func (p *StaticProvider) SetBalance(account ledger.Address, category Category, value int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byCat := p.balances[account]
	if byCat == nil {
		byCat = make(map[Category]int64)
		p.balances[account] = byCat
	}
	byCat[category] = value
}

// CollateralValue sums the counted categories for an account.
func (p *StaticProvider) CollateralValue(account ledger.Address) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total int64
	for cat, v := range p.balances[account] {
		if p.counted[cat] {
			total += v
		}
	}
	return total, nil
}
