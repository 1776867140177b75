package engine

import (
	"fmt"
	"sync"
)

// Leg is one balance movement inside an all-or-nothing settlement unit.
type Leg struct {
	From   string
	To     string
	Amount int64
}

// Ledger wraps the external token-transfer capability. Every call is
// atomic; Settle applies a whole set of legs or none of them.
type Ledger interface {
	Escrow(from, vault string, amount int64) error
	Release(vault, to string, amount int64) error
	Transfer(from, to string, amount int64) error
	Settle(legs []Leg) error
	Balance(account string) int64
}

// InMemoryLedger is the reference implementation backed by a balance map.
// The production substrate is expected to be supplied by the embedding
// system; this one exists for local runs and tests.
type InMemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{balances: make(map[string]int64)}
}

// Credit mints balance into an account. Bootstrap/test helper, not part
// of the Ledger capability.
func (l *InMemoryLedger) Credit(account string, amount int64) {
	l.mu.Lock()
	l.balances[account] += amount
	l.mu.Unlock()
}

func (l *InMemoryLedger) Balance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

func (l *InMemoryLedger) Escrow(from, vault string, amount int64) error {
	return l.Transfer(from, vault, amount)
}

func (l *InMemoryLedger) Release(vault, to string, amount int64) error {
	return l.Transfer(vault, to, amount)
}

func (l *InMemoryLedger) Transfer(from, to string, amount int64) error {
	return l.Settle([]Leg{{From: from, To: to, Amount: amount}})
}

func (l *InMemoryLedger) Settle(legs []Leg) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate every leg against projected balances before applying any,
	// so a failing leg aborts the whole unit.
	projected := make(map[string]int64, len(legs)*2)
	for _, leg := range legs {
		if leg.Amount < 0 {
			return fmt.Errorf("%w: negative leg amount %d", ErrInvalidParameters, leg.Amount)
		}
		if leg.Amount == 0 {
			continue
		}
		if _, ok := projected[leg.From]; !ok {
			projected[leg.From] = l.balances[leg.From]
		}
		if _, ok := projected[leg.To]; !ok {
			projected[leg.To] = l.balances[leg.To]
		}
		if projected[leg.From] < leg.Amount {
			return fmt.Errorf("%w: account %s short %d", ErrInsufficientCollateral, leg.From, leg.Amount-projected[leg.From])
		}
		projected[leg.From] -= leg.Amount
		projected[leg.To] += leg.Amount
	}

	for account, balance := range projected {
		l.balances[account] = balance
	}
	return nil
}
