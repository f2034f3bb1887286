// Package pool tracks synthetic debt ownership as proportional shares.
//
// Shares, not amounts, are the unit of record: an account minting debt
// receives amount/debtRatio shares, and its debt balance at any later
// time is shares*currentDebtRatio. The pool itself is pure accounting;
// ratio lookups and staleness checks belong to the caller.
package pool

import (
	"errors"
	"fmt"

	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
)

var (
	// ErrUnauthorized is returned when a migration call comes from an
	// address outside the allow-list.
	ErrUnauthorized = errors.New("pool: caller is not an allow-listed migrator")

	// ErrInsufficientShares is returned when a burn or migration would
	// drive an account's shares or the total below zero.
	ErrInsufficientShares = errors.New("pool: insufficient debt shares")
)

// DebtPool holds per-account debt shares and the shared total.
// Not thread-safe — all mutation is funneled through the serialized engine.
type DebtPool struct {
	shares      map[ledger.Address]int64
	totalShares int64
	migrators   map[ledger.Address]bool
}

func NewDebtPool(migrators []ledger.Address) *DebtPool {
	allowed := make(map[ledger.Address]bool, len(migrators))
	for _, m := range migrators {
		allowed[m] = true
	}
	return &DebtPool{
		shares:    make(map[ledger.Address]int64),
		migrators: allowed,
	}
}

// SharesForAmount converts a debt amount to shares at the given ratio.
// The ratio must have been staleness-checked by the caller.
func SharesForAmount(amount, debtRatio int64) int64 {
	return fpmath.DivRate(amount, debtRatio)
}

// AmountForShares converts shares back to a debt amount at the given ratio.
func AmountForShares(shares, debtRatio int64) int64 {
	return fpmath.MulRate(shares, debtRatio)
}

func (p *DebtPool) SharesOf(account ledger.Address) int64 {
	return p.shares[account]
}

func (p *DebtPool) TotalShares() int64 {
	return p.totalShares
}

// DebtBalanceOf values an account's shares at the current ratio.
func (p *DebtPool) DebtBalanceOf(account ledger.Address, debtRatio int64) int64 {
	return AmountForShares(p.shares[account], debtRatio)
}

// TotalDebt values all outstanding shares at the current ratio.
func (p *DebtPool) TotalDebt(debtRatio int64) int64 {
	return AmountForShares(p.totalShares, debtRatio)
}

// MintShares credits shares to an account and the total in one step.
func (p *DebtPool) MintShares(account ledger.Address, shares int64) error {
	if shares <= 0 {
		return fmt.Errorf("mint shares must be positive, got %d", shares)
	}
	p.shares[account] += shares
	p.totalShares += shares
	return nil
}

// BurnShares debits shares from an account and the total in one step.
// Callers cap the burn at the account's balance before calling.
func (p *DebtPool) BurnShares(account ledger.Address, shares int64) error {
	if shares <= 0 {
		return fmt.Errorf("burn shares must be positive, got %d", shares)
	}
	if p.shares[account] < shares {
		return fmt.Errorf("%w: account %s has %d, burning %d",
			ErrInsufficientShares, account, p.shares[account], shares)
	}
	p.shares[account] -= shares
	if p.shares[account] == 0 {
		delete(p.shares, account)
	}
	p.totalShares -= shares
	return nil
}

// ModifyDebtSharesForMigration adjusts an account's shares and the total
// directly, bypassing issue/burn logic. Used to move debt between chains.
// Only allow-listed migrator addresses may call this.
func (p *DebtPool) ModifyDebtSharesForMigration(migrator, account ledger.Address, delta int64) error {
	if !p.migrators[migrator] {
		return fmt.Errorf("%w: %s", ErrUnauthorized, migrator)
	}
	if delta == 0 {
		return nil
	}
	if delta < 0 && p.shares[account] < -delta {
		return fmt.Errorf("%w: account %s has %d, migrating out %d",
			ErrInsufficientShares, account, p.shares[account], -delta)
	}
	p.shares[account] += delta
	if p.shares[account] == 0 {
		delete(p.shares, account)
	}
	p.totalShares += delta
	return nil
}

// IsMigrator reports whether an address may call the migration entry point.
func (p *DebtPool) IsMigrator(addr ledger.Address) bool {
	return p.migrators[addr]
}

// ValidateTotal checks the share-conservation invariant: the total must
// equal the sum of all per-account shares.
func (p *DebtPool) ValidateTotal() error {
	var sum int64
	for _, s := range p.shares {
		sum += s
	}
	if sum != p.totalShares {
		return fmt.Errorf("share total mismatch: accounts sum to %d, total is %d", sum, p.totalShares)
	}
	return nil
}

// Snapshot returns a copy of all share balances for persistence.
func (p *DebtPool) Snapshot() map[ledger.Address]int64 {
	out := make(map[ledger.Address]int64, len(p.shares))
	for k, v := range p.shares {
		out[k] = v
	}
	return out
}

// Restore replaces pool state from a snapshot.
func (p *DebtPool) Restore(shares map[ledger.Address]int64) {
	p.shares = make(map[ledger.Address]int64, len(shares))
	p.totalShares = 0
	for k, v := range shares {
		if v == 0 {
			continue
		}
		p.shares[k] = v
		p.totalShares += v
	}
}
