package engine

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// TestFeeAndRebateAccounting pins the exact settlement arithmetic:
// 1% fee, Silver tier 10% discount, 20% maker rebate.
func TestFeeAndRebateAccounting(t *testing.T) {
	eng, ledger, clock := newTestEngine(t)

	// bob reaches Silver: 10% taker fee discount.
	if _, err := eng.StakeTokens("bob", 1_000); err != nil {
		t.Fatalf("StakeTokens failed: %v", err)
	}

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     100,
		Quantity:  1000,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	aliceBefore := ledger.Balance("alice")
	bobBefore := ledger.Balance("bob")

	result, err := eng.FillOrder(snap.ID, "bob", 500)
	if err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}

	// settlement 50_000; gross fee 500; net after 10% discount 450;
	// rebate 20% of 450 = 90; treasury 360; reward 500/100 = 5.
	if result.Settlement != 50_000 {
		t.Errorf("Expected settlement 50000, got: %d", result.Settlement)
	}
	if result.Fee != 450 {
		t.Errorf("Expected fee 450, got: %d", result.Fee)
	}
	if result.Rebate != 90 {
		t.Errorf("Expected rebate 90, got: %d", result.Rebate)
	}
	if result.Reward != 5 {
		t.Errorf("Expected reward 5, got: %d", result.Reward)
	}

	// Maker receives settlement plus rebate and pays no fee.
	if got := ledger.Balance("alice") - aliceBefore; got != 50_090 {
		t.Errorf("Expected alice credited 50090, got: %d", got)
	}
	// Taker pays settlement+fee, receives the released collateral and
	// the reward.
	if got := ledger.Balance("bob") - bobBefore; got != -50_450+50_000+5 {
		t.Errorf("Expected bob net -445, got: %d", got)
	}
	if treasury := eng.Treasury(); treasury.Balance != 360 {
		t.Errorf("Expected treasury balance 360, got: %d", treasury.Balance)
	}
	if ledger.Balance(DefaultTreasuryAccount) != 360 {
		t.Errorf("Expected treasury ledger account 360, got: %d", ledger.Balance(DefaultTreasuryAccount))
	}
}

func TestFillValidation(t *testing.T) {
	eng, _, clock := newTestEngine(t)

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     10,
		Quantity:  5,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	if _, err := eng.FillOrder(snap.ID, "bob", 0); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Expected InvalidParameters for zero quantity, got: %v", err)
	}
	if _, err := eng.FillOrder(snap.ID, "", 1); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Expected InvalidParameters for missing taker, got: %v", err)
	}
	if _, err := eng.FillOrder("missing", "bob", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFound for unknown order, got: %v", err)
	}
	if _, err := eng.FillOrder(snap.ID, "bob", 6); !errors.Is(err, ErrOverFill) {
		t.Errorf("Expected OverFill for quantity above remaining, got: %v", err)
	}
}

func TestFillPastTTL(t *testing.T) {
	eng, _, clock := newTestEngine(t)

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     10,
		Quantity:  5,
		ExpiresAt: clock.Now().Add(time.Minute),
	})

	clock.Advance(2 * time.Minute)

	// A due-but-unswept order is not fillable; it stays for expire_order.
	if _, err := eng.FillOrder(snap.ID, "bob", 1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected InvalidState past ttl, got: %v", err)
	}
	if snapAfter, _ := eng.GetOrder(snap.ID); snapAfter.Status != StatusOpen {
		t.Errorf("Fill attempt must not transition the order, got: %s", snapAfter.Status)
	}
}

// TestSettlementAllOrNothing: a taker who cannot cover settlement+fee
// aborts the whole unit with no balance movement.
func TestSettlementAllOrNothing(t *testing.T) {
	eng, ledger, clock := newTestEngine(t)

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     1000,
		Quantity:  100,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	ledger.Credit("shorty", 10) // far below the 50_000 settlement

	aliceBefore := ledger.Balance("alice")
	vaultBefore := ledger.Balance(DefaultOrderVault)

	if _, err := eng.FillOrder(snap.ID, "shorty", 50); !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("Expected SettlementFailed, got: %v", err)
	}

	if ledger.Balance("alice") != aliceBefore {
		t.Errorf("Maker balance moved on failed settlement")
	}
	if ledger.Balance("shorty") != 10 {
		t.Errorf("Taker balance moved on failed settlement: %d", ledger.Balance("shorty"))
	}
	if ledger.Balance(DefaultOrderVault) != vaultBefore {
		t.Errorf("Vault balance moved on failed settlement")
	}
	if after, _ := eng.GetOrder(snap.ID); after.Remaining != 100 {
		t.Errorf("Remaining changed on failed settlement: %d", after.Remaining)
	}
}

// TestConcurrentFillContention races two fills of the full remaining
// quantity: exactly one succeeds, the other observes the post-state
// and fails OverFill or InvalidState. Remaining never goes negative.
func TestConcurrentFillContention(t *testing.T) {
	eng, _, clock := newTestEngine(t)

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     10,
		Quantity:  3,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for _, taker := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(taker string) {
			defer wg.Done()
			_, err := eng.FillOrder(snap.ID, taker, 3)
			results <- err
		}(taker)
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		failed++
		if !errors.Is(err, ErrOverFill) && !errors.Is(err, ErrInvalidState) {
			t.Errorf("Loser should fail OverFill or InvalidState, got: %v", err)
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Errorf("Expected exactly one winner, got: %d winners, %d losers", succeeded, failed)
	}

	final, _ := eng.GetOrder(snap.ID)
	if final.Remaining != 0 {
		t.Errorf("Expected remaining 0, got: %d", final.Remaining)
	}
	if final.Status != StatusFilled {
		t.Errorf("Expected status FILLED, got: %s", final.Status)
	}
}

// TestConcurrentPartialFills hammers one order from many goroutines and
// verifies the admitted quantity never exceeds the original total.
func TestConcurrentPartialFills(t *testing.T) {
	eng, _, clock := newTestEngine(t)

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     1,
		Quantity:  100,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	filled := int64(0)

	takers := []string{"bob", "carol", "dave"}
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(taker string) {
			defer wg.Done()
			if result, err := eng.FillOrder(snap.ID, taker, 3); err == nil {
				mu.Lock()
				filled += result.Quantity
				mu.Unlock()
			}
		}(takers[i%len(takers)])
	}
	wg.Wait()

	final, _ := eng.GetOrder(snap.ID)
	if filled+final.Remaining != 100 {
		t.Errorf("Fill accounting broken: filled=%d remaining=%d", filled, final.Remaining)
	}
	if final.Remaining < 0 {
		t.Errorf("Remaining went negative: %d", final.Remaining)
	}
}

// TestFillGatePriorityOrder drains queued contenders strictly by
// staking weight descending, then arrival order among equal weights.
func TestFillGatePriorityOrder(t *testing.T) {
	gate := newFillGate()

	none := &fillRequest{taker: "none", weight: 0, done: make(chan struct{})}
	platinum := &fillRequest{taker: "platinum", weight: 8, done: make(chan struct{})}
	silverA := &fillRequest{taker: "silver-a", weight: 2, done: make(chan struct{})}
	silverB := &fillRequest{taker: "silver-b", weight: 2, done: make(chan struct{})}

	if !gate.submit(none) {
		t.Fatal("First submitter should become the drainer")
	}
	for _, req := range []*fillRequest{silverA, platinum, silverB} {
		if gate.submit(req) {
			t.Fatal("Queued submitters must not become drainers")
		}
	}

	var order []string
	for req := gate.next(); req != nil; req = gate.next() {
		order = append(order, req.taker)
	}

	expected := []string{"platinum", "silver-a", "silver-b", "none"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d drained requests, got: %d", len(expected), len(order))
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Admission position %d: expected %s, got %s", i, expected[i], order[i])
		}
	}

	// The gate must be reusable after a full drain.
	if !gate.submit(&fillRequest{taker: "again", done: make(chan struct{})}) {
		t.Error("Gate should accept a new drainer after draining")
	}
}

// TestRewardSkippedWhenPoolShort: the reward leg is dropped, not the
// settlement, when the pool cannot cover it.
func TestRewardSkippedWhenPoolShort(t *testing.T) {
	eng, ledger, clock := newTestEngine(t)

	// Drain the reward pool.
	if err := ledger.Transfer(DefaultRewardPool, "gov", ledger.Balance(DefaultRewardPool)); err != nil {
		t.Fatalf("Draining reward pool failed: %v", err)
	}

	snap := mustCreate(t, eng, CreateOrderParams{
		Owner:     "alice",
		Price:     10,
		Quantity:  500,
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	result, err := eng.FillOrder(snap.ID, "bob", 500)
	if err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}
	if result.Reward != 0 {
		t.Errorf("Expected reward skipped, got: %d", result.Reward)
	}
	if result.Status != StatusFilled {
		t.Errorf("Expected settlement to complete, got: %s", result.Status)
	}
}
