package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Counters are the engine-level operation counters exposed on the
// metrics endpoint.
type Counters struct {
	OrdersCreated   int64
	OrdersFilled    int64
	FillsExecuted   int64
	OrdersCancelled int64
	OrdersExpired   int64
	Commits         int64
	Reveals         int64
	Approvals       int64
}

// Engine wires the order store, commit-reveal vault, staking registry,
// settlement engine and treasury behind the exposed operation surface.
type Engine struct {
	cfg *Config

	clock  Clock
	ledger Ledger
	access AccessPolicy

	store      *OrderStore
	vault      *CommitVault
	staking    *StakeRegistry
	treasury   *Treasury
	settlement *Settlement

	counters Counters

	fillListener atomic.Pointer[func(FillResult)]

	sweepStop chan struct{}
	sweepDone sync.WaitGroup
	sweepOnce sync.Once
}

func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewInMemoryLedger()
	}
	access := cfg.Access
	if access == nil {
		access = NewStaticAccessPolicy(cfg.GovernanceAccounts)
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = SHA256Hasher()
	}

	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		ledger:    ledger,
		access:    access,
		sweepStop: make(chan struct{}),
	}
	e.store = NewOrderStore(cfg, clock, ledger, access)
	e.vault = NewCommitVault(clock, hasher)
	e.staking = NewStakeRegistry(cfg, clock, ledger)
	e.treasury = NewTreasury(cfg, ledger, access)
	e.settlement = NewSettlement(cfg, clock, ledger, e.store, e.staking, e.treasury)
	return e
}

func (e *Engine) Ledger() Ledger      { return e.ledger }
func (e *Engine) Clock() Clock        { return e.clock }
func (e *Engine) Store() *OrderStore  { return e.store }
func (e *Engine) Vault() *CommitVault { return e.vault }

// SetFillListener registers a callback invoked after every successful
// settlement, used by the fill feed.
func (e *Engine) SetFillListener(fn func(FillResult)) {
	e.fillListener.Store(&fn)
}

// CreateOrder escrows price×quantity and opens the order.
func (e *Engine) CreateOrder(p CreateOrderParams) (OrderSnapshot, error) {
	snap, err := e.store.Create(p)
	if err != nil {
		return OrderSnapshot{}, err
	}
	atomic.AddInt64(&e.counters.OrdersCreated, 1)
	log.Info().
		Str("order_id", snap.ID).
		Str("owner", snap.Owner).
		Int64("price", snap.Price).
		Int64("quantity", snap.Quantity).
		Int64("escrowed", snap.Escrowed).
		Str("status", string(snap.Status)).
		Msg("Order created")
	return snap, nil
}

// CommitOrder stores a commitment hash for a not-yet-created order id.
func (e *Engine) CommitOrder(orderID, owner string, hash [32]byte) error {
	// edge case: an id already holding an order cannot be recommitted
	if _, err := e.store.Get(orderID); err == nil {
		return ErrAlreadyCommitted
	}
	if err := e.vault.Commit(orderID, owner, hash); err != nil {
		return err
	}
	atomic.AddInt64(&e.counters.Commits, 1)
	log.Info().Str("order_id", orderID).Str("owner", owner).Msg("Order committed")
	return nil
}

// RevealOrder validates the disclosed terms against the commitment and
// creates the order with the committed id. The commitment is consumed
// even if the downstream creation fails. The approver list is
// collaborator data, not part of the committed hash.
func (e *Engine) RevealOrder(orderID, owner string, payload RevealPayload, approvers []string) (OrderSnapshot, error) {
	snap, err := e.vault.Reveal(orderID, owner, payload, func() (OrderSnapshot, error) {
		return e.store.Create(CreateOrderParams{
			ID:         orderID,
			Owner:      owner,
			Price:      payload.Price,
			Quantity:   payload.Quantity,
			ExpiresAt:  e.clock.Now().Add(time.Duration(payload.TTLSeconds) * time.Second),
			IsMultisig: payload.IsMultisig,
			Threshold:  int(payload.Threshold),
			Approvers:  approvers,
		})
	})
	if err != nil {
		return OrderSnapshot{}, err
	}
	atomic.AddInt64(&e.counters.Reveals, 1)
	atomic.AddInt64(&e.counters.OrdersCreated, 1)
	log.Info().Str("order_id", snap.ID).Str("owner", owner).Msg("Order revealed")
	return snap, nil
}

// FillOrder settles a fill against one order.
func (e *Engine) FillOrder(orderID, taker string, quantity int64) (FillResult, error) {
	result, err := e.settlement.Fill(orderID, taker, quantity)
	if err != nil {
		return FillResult{}, err
	}
	atomic.AddInt64(&e.counters.FillsExecuted, 1)
	if result.Status == StatusFilled {
		atomic.AddInt64(&e.counters.OrdersFilled, 1)
	}
	if fn := e.fillListener.Load(); fn != nil {
		(*fn)(result)
	}
	log.Info().
		Str("order_id", result.OrderID).
		Str("taker", result.Taker).
		Int64("quantity", result.Quantity).
		Int64("settlement", result.Settlement).
		Int64("fee", result.Fee).
		Int64("rebate", result.Rebate).
		Str("status", string(result.Status)).
		Msg("Order filled")
	return result, nil
}

func (e *Engine) CancelOrder(orderID, caller string) (OrderSnapshot, error) {
	snap, err := e.store.Cancel(orderID, caller)
	if err != nil {
		return OrderSnapshot{}, err
	}
	atomic.AddInt64(&e.counters.OrdersCancelled, 1)
	log.Info().Str("order_id", orderID).Str("caller", caller).Msg("Order cancelled")
	return snap, nil
}

func (e *Engine) ExpireOrder(orderID string) (OrderSnapshot, error) {
	snap, err := e.store.Expire(orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	atomic.AddInt64(&e.counters.OrdersExpired, 1)
	log.Info().Str("order_id", orderID).Msg("Order expired")
	return snap, nil
}

func (e *Engine) ApproveOrder(orderID, approver string) (OrderSnapshot, error) {
	snap, err := e.store.Approve(orderID, approver)
	if err != nil {
		return OrderSnapshot{}, err
	}
	atomic.AddInt64(&e.counters.Approvals, 1)
	log.Info().
		Str("order_id", orderID).
		Str("approver", approver).
		Int("approvals", snap.Approvals).
		Str("status", string(snap.Status)).
		Msg("Order approval recorded")
	return snap, nil
}

func (e *Engine) StakeTokens(trader string, amount int64) (StakePosition, error) {
	return e.staking.Stake(trader, amount)
}

func (e *Engine) WithdrawStake(trader string, amount int64) (StakePosition, error) {
	return e.staking.Withdraw(trader, amount)
}

func (e *Engine) StakePosition(trader string) StakePosition {
	return e.staking.Position(trader)
}

func (e *Engine) WithdrawTreasury(amount int64, governanceAccount string) (TreasurySnapshot, error) {
	return e.treasury.Withdraw(amount, governanceAccount)
}

func (e *Engine) UpdateFeeBps(newFeeBps int64, governanceAccount string) (TreasurySnapshot, error) {
	return e.treasury.UpdateFeeBps(newFeeBps, governanceAccount)
}

func (e *Engine) Treasury() TreasurySnapshot {
	return e.treasury.Snapshot()
}

func (e *Engine) GetOrder(orderID string) (OrderSnapshot, error) {
	order, err := e.store.Get(orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	return order.Snapshot(), nil
}

// Counters returns a copy of the operation counters.
func (e *Engine) Counters() Counters {
	return Counters{
		OrdersCreated:   atomic.LoadInt64(&e.counters.OrdersCreated),
		OrdersFilled:    atomic.LoadInt64(&e.counters.OrdersFilled),
		FillsExecuted:   atomic.LoadInt64(&e.counters.FillsExecuted),
		OrdersCancelled: atomic.LoadInt64(&e.counters.OrdersCancelled),
		OrdersExpired:   atomic.LoadInt64(&e.counters.OrdersExpired),
		Commits:         atomic.LoadInt64(&e.counters.Commits),
		Reveals:         atomic.LoadInt64(&e.counters.Reveals),
		Approvals:       atomic.LoadInt64(&e.counters.Approvals),
	}
}

// OrderCount reports the arena size, terminal orders included.
func (e *Engine) OrderCount() int {
	return e.store.Count()
}

// SweepExpired retires every order whose ttl passed. Returns the number
// of orders expired.
func (e *Engine) SweepExpired() int {
	expired := 0
	for _, orderID := range e.store.DueOrders(e.clock.Now()) {
		if _, err := e.ExpireOrder(orderID); err == nil {
			expired++
		}
	}
	return expired
}

// StartExpirySweeper runs SweepExpired on the configured interval until
// Close is called. TTL expiry stays permissionless; the sweeper is just
// a built-in caller.
func (e *Engine) StartExpirySweeper() {
	e.sweepDone.Add(1)
	go func() {
		defer e.sweepDone.Done()
		ticker := time.NewTicker(e.cfg.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := e.SweepExpired(); n > 0 {
					log.Info().Int("expired", n).Msg("Expiry sweep")
				}
			case <-e.sweepStop:
				return
			}
		}
	}()
}

// Close stops the expiry sweeper.
func (e *Engine) Close() {
	e.sweepOnce.Do(func() { close(e.sweepStop) })
	e.sweepDone.Wait()
}
