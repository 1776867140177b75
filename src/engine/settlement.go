package engine

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// FillResult is the settlement outcome returned to the taker and
// broadcast on the fill feed.
type FillResult struct {
	FillID     string      `json:"fill_id"`
	OrderID    string      `json:"order_id"`
	Maker      string      `json:"maker"`
	Taker      string      `json:"taker"`
	Quantity   int64       `json:"quantity"`
	Remaining  int64       `json:"remaining"`
	Status     OrderStatus `json:"status"`
	Settlement int64       `json:"settlement"`
	Fee        int64       `json:"fee"`
	Rebate     int64       `json:"rebate"`
	Reward     int64       `json:"reward"`
	Timestamp  int64       `json:"timestamp"` // unix milliseconds
}

type fillRequest struct {
	taker    string
	quantity int64
	weight   int
	seq      uint64

	done   chan struct{}
	result FillResult
	err    error
}

type fillRequestItem struct {
	req *fillRequest
}

// Less admits queued fills by staking priority weight descending, then
// arrival order among equal weights.
func (i *fillRequestItem) Less(than btree.Item) bool {
	other := than.(*fillRequestItem)
	if i.req.weight != other.req.weight {
		return i.req.weight > other.req.weight
	}
	return i.req.seq < other.req.seq
}

// fillGate is the per-order admission gate. Concurrent fill attempts
// queue in priority order and a single drainer executes them one at a
// time, so each attempt observes the post-state of the previous one.
type fillGate struct {
	mu       sync.Mutex
	queue    *btree.BTree
	nextSeq  uint64
	draining bool
}

func newFillGate() *fillGate {
	return &fillGate{queue: btree.New(8)}
}

// submit enqueues the request and returns true if the caller became the
// drainer.
func (g *fillGate) submit(req *fillRequest) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	req.seq = g.nextSeq
	g.nextSeq++
	g.queue.ReplaceOrInsert(&fillRequestItem{req: req})
	if g.draining {
		return false
	}
	g.draining = true
	return true
}

// next pops the highest-priority queued request, or clears the draining
// flag and returns nil when the queue is empty.
func (g *fillGate) next() *fillRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	item := g.queue.DeleteMin()
	if item == nil {
		g.draining = false
		return nil
	}
	return item.(*fillRequestItem).req
}

// Settlement validates fills, computes fees from the taker's staking
// tier, and moves all balance legs as a single all-or-nothing unit.
type Settlement struct {
	cfg      *Config
	clock    Clock
	ledger   Ledger
	store    *OrderStore
	staking  *StakeRegistry
	treasury *Treasury
}

func NewSettlement(cfg *Config, clock Clock, ledger Ledger, store *OrderStore, staking *StakeRegistry, treasury *Treasury) *Settlement {
	return &Settlement{
		cfg:      cfg,
		clock:    clock,
		ledger:   ledger,
		store:    store,
		staking:  staking,
		treasury: treasury,
	}
}

// Fill targets one specific order id (OTC point-to-point, no book).
func (s *Settlement) Fill(orderID, taker string, quantity int64) (FillResult, error) {
	if taker == "" {
		return FillResult{}, fmt.Errorf("%w: taker is required", ErrInvalidParameters)
	}
	if quantity <= 0 {
		return FillResult{}, fmt.Errorf("%w: fill quantity must be positive", ErrInvalidParameters)
	}

	order, err := s.store.Get(orderID)
	if err != nil {
		return FillResult{}, err
	}

	req := &fillRequest{
		taker:    taker,
		quantity: quantity,
		weight:   s.staking.PriorityWeight(taker),
		done:     make(chan struct{}),
	}

	if order.gate.submit(req) {
		// This goroutine drains the gate: its own request plus anything
		// that queued behind it, in priority order.
		for {
			next := order.gate.next()
			if next == nil {
				break
			}
			next.result, next.err = s.execute(order, next)
			close(next.done)
		}
	}

	<-req.done
	return req.result, req.err
}

func (s *Settlement) execute(order *Order, req *fillRequest) (FillResult, error) {
	order.mu.Lock()
	defer order.mu.Unlock()

	if !order.isFillable() {
		return FillResult{}, fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.ID, order.Status)
	}
	// edge case: a due-but-unswept order is not fillable; expiry itself
	// stays with expire_order
	if !s.clock.Now().Before(order.ExpiresAt) {
		return FillResult{}, fmt.Errorf("%w: order %s is past its ttl", ErrInvalidState, order.ID)
	}
	if req.quantity > order.Remaining {
		return FillResult{}, fmt.Errorf("%w: requested %d, remaining %d", ErrOverFill, req.quantity, order.Remaining)
	}

	settlement := order.Price * req.quantity
	fee, rebate := s.takerFee(settlement, req.taker)
	reward := s.reward(req.quantity)

	legs := []Leg{
		// Taker pays the maker the settlement plus the maker rebate
		// carved out of the fee; the maker never pays a fee component.
		{From: req.taker, To: order.Owner, Amount: settlement + rebate},
		{From: req.taker, To: s.cfg.TreasuryAccount, Amount: fee - rebate},
		// The filled share of the escrowed collateral goes to the taker.
		{From: s.cfg.OrderVault, To: req.taker, Amount: settlement},
	}
	if reward > 0 && s.ledger.Balance(s.cfg.RewardPool) >= reward {
		legs = append(legs, Leg{From: s.cfg.RewardPool, To: req.taker, Amount: reward})
	} else {
		reward = 0
	}

	if err := s.ledger.Settle(legs); err != nil {
		return FillResult{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	s.treasury.credit(fee - rebate)

	order.Remaining -= req.quantity
	order.Escrowed = order.Price * order.Remaining
	if order.Remaining == 0 {
		order.Status = StatusFilled
		s.store.dropExpiry(order)
	} else {
		order.Status = StatusPartiallyFilled
	}
	order.Version++

	return FillResult{
		FillID:     uuid.New().String(),
		OrderID:    order.ID,
		Maker:      order.Owner,
		Taker:      req.taker,
		Quantity:   req.quantity,
		Remaining:  order.Remaining,
		Status:     order.Status,
		Settlement: settlement,
		Fee:        fee,
		Rebate:     rebate,
		Reward:     reward,
		Timestamp:  s.clock.Now().UnixMilli(),
	}, nil
}

// takerFee computes settlement × feeBps × (1 − tier discount), rounded
// down, and the maker rebate as a configured fraction of that fee.
func (s *Settlement) takerFee(settlement int64, taker string) (fee, rebate int64) {
	discountBps := s.staking.DiscountBps(taker)

	gross := decimal.NewFromInt(settlement).
		Mul(decimal.NewFromInt(s.treasury.FeeBps())).
		Div(bpsDenominator)
	net := gross.Mul(bpsDenominator.Sub(decimal.NewFromInt(discountBps))).
		Div(bpsDenominator)

	fee = net.Floor().IntPart()
	rebate = decimal.NewFromInt(fee).
		Mul(decimal.NewFromInt(s.cfg.MakerRebateBps)).
		Div(bpsDenominator).
		Floor().IntPart()
	return fee, rebate
}

func (s *Settlement) reward(quantity int64) int64 {
	if s.cfg.RewardDivisor <= 0 {
		return 0
	}
	return quantity / s.cfg.RewardDivisor
}
