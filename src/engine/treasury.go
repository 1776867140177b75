package engine

import (
	"fmt"
	"sync"
)

// Treasury is the process-wide fee sink. It is the only globally shared
// mutable balance; every writer (settlement credit, governed debit)
// serializes through its mutex.
type Treasury struct {
	mu      sync.Mutex
	balance int64
	feeBps  int64

	cfg    *Config
	ledger Ledger
	access AccessPolicy
}

func NewTreasury(cfg *Config, ledger Ledger, access AccessPolicy) *Treasury {
	return &Treasury{
		feeBps: cfg.FeeBps,
		cfg:    cfg,
		ledger: ledger,
		access: access,
	}
}

// credit records a settlement fee. Only the settlement path calls this;
// the ledger leg into the treasury account has already been applied.
func (t *Treasury) credit(amount int64) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	t.balance += amount
	t.mu.Unlock()
}

// FeeBps returns the fee percentage applied to subsequent settlements.
func (t *Treasury) FeeBps() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feeBps
}

// Withdraw debits the treasury to a governance account. Requires the
// governance authorization capability.
func (t *Treasury) Withdraw(amount int64, governanceAccount string) (TreasurySnapshot, error) {
	if amount <= 0 {
		return TreasurySnapshot{}, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidParameters)
	}
	if !t.access.IsGovernance(governanceAccount) {
		return TreasurySnapshot{}, fmt.Errorf("%w: %s is not a governance account", ErrUnauthorized, governanceAccount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if amount > t.balance {
		return TreasurySnapshot{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientTreasury, t.balance, amount)
	}
	if err := t.ledger.Transfer(t.cfg.TreasuryAccount, governanceAccount, amount); err != nil {
		return TreasurySnapshot{}, fmt.Errorf("%w: treasury transfer: %v", ErrSettlementFailed, err)
	}
	t.balance -= amount
	return t.snapshot(), nil
}

// UpdateFeeBps replaces the fee percentage for all subsequent
// settlements; never retroactive.
func (t *Treasury) UpdateFeeBps(newFeeBps int64, governanceAccount string) (TreasurySnapshot, error) {
	if !t.access.IsGovernance(governanceAccount) {
		return TreasurySnapshot{}, fmt.Errorf("%w: %s is not a governance account", ErrUnauthorized, governanceAccount)
	}
	if newFeeBps < 0 || newFeeBps > t.cfg.MaxFeeBps {
		return TreasurySnapshot{}, fmt.Errorf("%w: fee %d outside [0, %d]", ErrInvalidParameters, newFeeBps, t.cfg.MaxFeeBps)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.feeBps = newFeeBps
	return t.snapshot(), nil
}

type TreasurySnapshot struct {
	Balance   int64
	FeeBps    int64
	MaxFeeBps int64
}

// snapshot requires t.mu.
func (t *Treasury) snapshot() TreasurySnapshot {
	return TreasurySnapshot{Balance: t.balance, FeeBps: t.feeBps, MaxFeeBps: t.cfg.MaxFeeBps}
}

func (t *Treasury) Snapshot() TreasurySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}
