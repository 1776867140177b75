package engine

import (
	"fmt"
	"sync"
	"time"
)

// Tier is the ordered staking bracket. Higher tiers get a larger fill
// admission priority weight and a larger taker fee discount; tier never
// changes execution price.
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "BRONZE"
	case TierSilver:
		return "SILVER"
	case TierGold:
		return "GOLD"
	case TierPlatinum:
		return "PLATINUM"
	default:
		return "NONE"
	}
}

type tierRule struct {
	Tier        Tier
	MinStake    int64
	Weight      int
	DiscountBps int64
}

// Fixed threshold table, highest first. Discounts are monotonic in
// tier; Platinum keeps the historical 50% VIP discount.
var tierTable = []tierRule{
	{TierPlatinum, 25_000, 8, 5000},
	{TierGold, 5_000, 4, 2500},
	{TierSilver, 1_000, 2, 1000},
	{TierBronze, 100, 1, 500},
	{TierNone, 0, 0, 0},
}

// tierFor is a pure lookup over the fixed table.
func tierFor(amount int64) tierRule {
	for _, rule := range tierTable {
		if amount >= rule.MinStake {
			return rule
		}
	}
	return tierTable[len(tierTable)-1]
}

// StakePosition is the read model for a trader's stake.
type StakePosition struct {
	Trader      string
	Amount      int64
	Tier        Tier
	Weight      int
	DiscountBps int64
	UpdatedAt   time.Time
}

// StakeRegistry tracks locked stake per trader and derives the VIP tier
// consumed by the settlement engine.
type StakeRegistry struct {
	mu        sync.RWMutex
	positions map[string]*StakePosition

	cfg    *Config
	clock  Clock
	ledger Ledger
}

func NewStakeRegistry(cfg *Config, clock Clock, ledger Ledger) *StakeRegistry {
	return &StakeRegistry{
		positions: make(map[string]*StakePosition),
		cfg:       cfg,
		clock:     clock,
		ledger:    ledger,
	}
}

func (r *StakeRegistry) Stake(trader string, amount int64) (StakePosition, error) {
	if trader == "" {
		return StakePosition{}, fmt.Errorf("%w: trader is required", ErrInvalidParameters)
	}
	if amount <= 0 {
		return StakePosition{}, fmt.Errorf("%w: stake amount must be positive", ErrInvalidParameters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ledger.Escrow(trader, r.cfg.StakeVault, amount); err != nil {
		return StakePosition{}, fmt.Errorf("%w: stake escrow of %d failed: %v", ErrInsufficientCollateral, amount, err)
	}

	pos, exists := r.positions[trader]
	if !exists {
		pos = &StakePosition{Trader: trader}
		r.positions[trader] = pos
	}
	pos.Amount += amount
	r.retier(pos)
	return *pos, nil
}

// Withdraw releases stake back to the trader. Tier drops take effect
// immediately, there is no grace period.
func (r *StakeRegistry) Withdraw(trader string, amount int64) (StakePosition, error) {
	if amount <= 0 {
		return StakePosition{}, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidParameters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pos, exists := r.positions[trader]
	if !exists || pos.Amount < amount {
		var staked int64
		if exists {
			staked = pos.Amount
		}
		return StakePosition{}, fmt.Errorf("%w: %s has %d staked, requested %d", ErrInsufficientStake, trader, staked, amount)
	}

	if err := r.ledger.Release(r.cfg.StakeVault, trader, amount); err != nil {
		return StakePosition{}, fmt.Errorf("%w: stake release: %v", ErrSettlementFailed, err)
	}

	pos.Amount -= amount
	r.retier(pos)
	return *pos, nil
}

func (r *StakeRegistry) retier(pos *StakePosition) {
	rule := tierFor(pos.Amount)
	pos.Tier = rule.Tier
	pos.Weight = rule.Weight
	pos.DiscountBps = rule.DiscountBps
	pos.UpdatedAt = r.clock.Now()
}

// Position returns the trader's stake position; traders who never
// staked read back a zero position at TierNone.
func (r *StakeRegistry) Position(trader string) StakePosition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pos, exists := r.positions[trader]; exists {
		return *pos
	}
	return StakePosition{Trader: trader, Tier: TierNone}
}

// PriorityWeight is the tie-break weight used by fill admission.
func (r *StakeRegistry) PriorityWeight(trader string) int {
	return r.Position(trader).Weight
}

// DiscountBps is the taker fee discount for the trader's current tier.
func (r *StakeRegistry) DiscountBps(trader string) int64 {
	return r.Position(trader).DiscountBps
}
