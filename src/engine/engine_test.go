package engine

import (
	"errors"
	"testing"
	"time"
)

// newTestEngine builds an engine on a manual clock and a funded
// in-memory ledger. "gov" is the governance account.
func newTestEngine(t *testing.T) (*Engine, *InMemoryLedger, *ManualClock) {
	t.Helper()

	clock := NewManualClock(time.Unix(1_700_000_000, 0).UTC())
	ledger := NewInMemoryLedger()

	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.Ledger = ledger
	cfg.GovernanceAccounts = []string{"gov"}

	eng := NewEngine(cfg)

	for _, account := range []string{"alice", "bob", "carol", "dave"} {
		ledger.Credit(account, 1_000_000)
	}
	ledger.Credit(cfg.RewardPool, 10_000)

	return eng, ledger, clock
}

func mustCreate(t *testing.T, eng *Engine, p CreateOrderParams) OrderSnapshot {
	t.Helper()
	snap, err := eng.CreateOrder(p)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	return snap
}

// TestLifecycleScenario walks the reference partial-fill lifecycle:
// price=10, qty=5 escrows 50; a fill of 2 leaves remaining=3 and
// escrow=30; a fill of 3 closes the order with escrow=0.
func TestLifecycleScenario(t *testing.T) {
	eng, ledger, clock := newTestEngine(t)

	aliceBefore := ledger.Balance("alice")

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     10,
		Quantity:  5,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	if snap.Status != StatusOpen {
		t.Errorf("Expected status OPEN, got: %s", snap.Status)
	}
	if snap.Escrowed != 50 {
		t.Errorf("Expected escrow 50, got: %d", snap.Escrowed)
	}
	if ledger.Balance("alice") != aliceBefore-50 {
		t.Errorf("Expected alice debited 50, balance: %d", ledger.Balance("alice"))
	}

	result, err := eng.FillOrder(snap.ID, "bob", 2)
	if err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}
	if result.Remaining != 3 {
		t.Errorf("Expected remaining 3, got: %d", result.Remaining)
	}
	if result.Status != StatusPartiallyFilled {
		t.Errorf("Expected status PARTIALLY_FILLED, got: %s", result.Status)
	}

	mid, _ := eng.GetOrder(snap.ID)
	if mid.Escrowed != 30 {
		t.Errorf("Expected escrow 30 after partial fill, got: %d", mid.Escrowed)
	}

	result, err = eng.FillOrder(snap.ID, "bob", 3)
	if err != nil {
		t.Fatalf("Second fill failed: %v", err)
	}
	if result.Status != StatusFilled {
		t.Errorf("Expected status FILLED, got: %s", result.Status)
	}

	final, _ := eng.GetOrder(snap.ID)
	if final.Remaining != 0 || final.Escrowed != 0 {
		t.Errorf("Expected remaining=0 escrow=0, got: remaining=%d escrow=%d", final.Remaining, final.Escrowed)
	}
}

// TestFilledOrderIsTerminal verifies a filled order rejects every
// further transition.
func TestFilledOrderIsTerminal(t *testing.T) {
	eng, _, clock := newTestEngine(t)

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     10,
		Quantity:  2,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	if _, err := eng.FillOrder(snap.ID, "bob", 2); err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}

	if _, err := eng.FillOrder(snap.ID, "carol", 1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected InvalidState on fill of filled order, got: %v", err)
	}
	if _, err := eng.CancelOrder(snap.ID, "alice"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected InvalidState on cancel of filled order, got: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := eng.ExpireOrder(snap.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected InvalidState on expire of filled order, got: %v", err)
	}
}

// TestCollateralConservation checks no value is created or destroyed
// across a create / partial fill / cancel sequence.
func TestCollateralConservation(t *testing.T) {
	eng, ledger, clock := newTestEngine(t)

	total := func() int64 {
		sum := int64(0)
		for _, account := range []string{"alice", "bob", "carol", "dave", "treasury",
			DefaultOrderVault, DefaultStakeVault, DefaultRewardPool} {
			sum += ledger.Balance(account)
		}
		return sum
	}

	before := total()

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     100,
		Quantity:  50,
		ExpiresAt: clock.Now().Add(time.Hour),
	})
	if _, err := eng.FillOrder(snap.ID, "bob", 20); err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}
	if _, err := eng.CancelOrder(snap.ID, "alice"); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	if after := total(); after != before {
		t.Errorf("Value not conserved: before=%d after=%d", before, after)
	}

	// Cancelled order released the unfilled escrow; vault holds nothing.
	if vault := ledger.Balance(DefaultOrderVault); vault != 0 {
		t.Errorf("Expected empty order vault after cancel, got: %d", vault)
	}
}
