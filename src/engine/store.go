package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// expiryItem orders the TTL index by deadline, then id for stable
// iteration among equal deadlines.
type expiryItem struct {
	At time.Time
	ID string
}

func (e *expiryItem) Less(than btree.Item) bool {
	other := than.(*expiryItem)
	if !e.At.Equal(other.At) {
		return e.At.Before(other.At)
	}
	return e.ID < other.ID
}

// OrderStore owns the order arena and every lifecycle transition except
// fills (those go through the settlement gate, which still mutates
// orders under the same per-order mutex).
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	expiry *btree.BTree

	cfg    *Config
	clock  Clock
	ledger Ledger
	access AccessPolicy
}

func NewOrderStore(cfg *Config, clock Clock, ledger Ledger, access AccessPolicy) *OrderStore {
	return &OrderStore{
		orders: make(map[string]*Order),
		expiry: btree.New(32),
		cfg:    cfg,
		clock:  clock,
		ledger: ledger,
		access: access,
	}
}

// CreateOrderParams carries everything needed to open an order. ID may
// be empty for a system-assigned id; the reveal path supplies the
// committed id.
type CreateOrderParams struct {
	ID         string
	Owner      string
	Price      int64
	Quantity   int64
	ExpiresAt  time.Time
	IsMultisig bool
	Threshold  int
	Approvers  []string
}

func (s *OrderStore) validateCreate(p *CreateOrderParams, now time.Time) error {
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidParameters)
	}
	if p.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidParameters)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidParameters)
	}
	// edge case: escrow amount must not overflow int64
	if p.Price > math.MaxInt64/p.Quantity {
		return fmt.Errorf("%w: price*quantity overflows", ErrInvalidParameters)
	}
	if !p.ExpiresAt.After(now) {
		return fmt.Errorf("%w: ttl must be in the future", ErrInvalidParameters)
	}
	if p.IsMultisig {
		if p.Threshold < 1 {
			return fmt.Errorf("%w: multisig threshold must be at least 1", ErrInvalidParameters)
		}
		if len(p.Approvers) < p.Threshold {
			return fmt.Errorf("%w: approver list smaller than threshold", ErrInvalidParameters)
		}
	} else if p.Threshold != 0 {
		return fmt.Errorf("%w: threshold requires is_multisig", ErrInvalidParameters)
	}
	return nil
}

// Create escrows price*quantity and opens the order. Multisig orders
// start in PENDING_APPROVAL and are not fillable until the threshold is
// met.
func (s *OrderStore) Create(p CreateOrderParams) (OrderSnapshot, error) {
	now := s.clock.Now()
	if err := s.validateCreate(&p, now); err != nil {
		return OrderSnapshot{}, err
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	s.mu.Lock()
	if _, exists := s.orders[p.ID]; exists {
		s.mu.Unlock()
		return OrderSnapshot{}, fmt.Errorf("%w: order id %s already exists", ErrInvalidParameters, p.ID)
	}
	// Reserve the id before the escrow call so a concurrent create with
	// the same id cannot double-escrow.
	s.orders[p.ID] = nil
	s.mu.Unlock()

	collateral := p.Price * p.Quantity
	if err := s.ledger.Escrow(p.Owner, s.cfg.OrderVault, collateral); err != nil {
		s.mu.Lock()
		delete(s.orders, p.ID)
		s.mu.Unlock()
		return OrderSnapshot{}, fmt.Errorf("%w: escrow of %d failed: %v", ErrInsufficientCollateral, collateral, err)
	}

	status := StatusOpen
	if p.IsMultisig {
		status = StatusPendingApproval
	}

	order := &Order{
		ID:         p.ID,
		Owner:      p.Owner,
		Price:      p.Price,
		Quantity:   p.Quantity,
		Remaining:  p.Quantity,
		Escrowed:   collateral,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  p.ExpiresAt,
		IsMultisig: p.IsMultisig,
		Threshold:  p.Threshold,
		Approvers:  append([]string(nil), p.Approvers...),
		Version:    1,
		gate:       newFillGate(),
	}

	s.mu.Lock()
	s.orders[p.ID] = order
	s.expiry.ReplaceOrInsert(&expiryItem{At: order.ExpiresAt, ID: order.ID})
	s.mu.Unlock()

	return order.Snapshot(), nil
}

func (s *OrderStore) Get(orderID string) (*Order, error) {
	s.mu.RLock()
	order, exists := s.orders[orderID]
	s.mu.RUnlock()
	if !exists || order == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

// Cancel releases the remaining escrow back to the owner. Only the
// owner may cancel, and only from a non-terminal state.
func (s *OrderStore) Cancel(orderID, caller string) (OrderSnapshot, error) {
	order, err := s.Get(orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}

	order.mu.Lock()
	defer order.mu.Unlock()

	if !s.access.CanCancel(order, caller) {
		return OrderSnapshot{}, fmt.Errorf("%w: %s is not the owner of order %s", ErrUnauthorized, caller, orderID)
	}
	if order.isTerminal() {
		return OrderSnapshot{}, fmt.Errorf("%w: order %s is %s", ErrInvalidState, orderID, order.Status)
	}

	if order.Escrowed > 0 {
		if err := s.ledger.Release(s.cfg.OrderVault, order.Owner, order.Escrowed); err != nil {
			return OrderSnapshot{}, fmt.Errorf("%w: escrow release: %v", ErrSettlementFailed, err)
		}
	}

	order.Escrowed = 0
	order.Status = StatusCancelled
	order.Version++
	s.dropExpiry(order)

	return order.snapshot(), nil
}

// Expire is permissionless: anyone may retire an order whose deadline
// passed. A second call on an already-terminal order fails with
// InvalidState so callers can distinguish "already handled".
func (s *OrderStore) Expire(orderID string) (OrderSnapshot, error) {
	order, err := s.Get(orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}

	order.mu.Lock()
	defer order.mu.Unlock()

	if order.isTerminal() {
		return OrderSnapshot{}, fmt.Errorf("%w: order %s is %s", ErrInvalidState, orderID, order.Status)
	}
	if s.clock.Now().Before(order.ExpiresAt) {
		return OrderSnapshot{}, fmt.Errorf("%w: order %s has not reached its ttl", ErrInvalidState, orderID)
	}

	if order.Escrowed > 0 {
		if err := s.ledger.Release(s.cfg.OrderVault, order.Owner, order.Escrowed); err != nil {
			return OrderSnapshot{}, fmt.Errorf("%w: escrow release: %v", ErrSettlementFailed, err)
		}
	}

	order.Escrowed = 0
	order.Status = StatusExpired
	order.Version++
	s.dropExpiry(order)

	return order.snapshot(), nil
}

// Approve records a multisig approval. Approvals are irrevocable and
// idempotent per approver; crossing the threshold moves the order to
// OPEN exactly once.
func (s *OrderStore) Approve(orderID, approver string) (OrderSnapshot, error) {
	order, err := s.Get(orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	if approver == "" {
		return OrderSnapshot{}, fmt.Errorf("%w: approver is required", ErrInvalidParameters)
	}

	order.mu.Lock()
	defer order.mu.Unlock()

	if order.Status != StatusPendingApproval {
		return OrderSnapshot{}, fmt.Errorf("%w: order %s is %s, not pending approval", ErrInvalidState, orderID, order.Status)
	}
	if !s.access.CanApprove(order, approver) {
		return OrderSnapshot{}, fmt.Errorf("%w: %s is not an eligible approver for order %s", ErrUnauthorized, approver, orderID)
	}

	added, reached := order.recordApproval(approver)
	if added {
		order.Version++
	}
	if reached {
		order.Status = StatusOpen
		order.Version++
	}

	return order.snapshot(), nil
}

// DueOrders returns ids of non-terminal orders whose ttl has passed.
func (s *OrderStore) DueOrders(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []string
	s.expiry.Ascend(func(item btree.Item) bool {
		entry := item.(*expiryItem)
		if entry.At.After(now) {
			return false
		}
		due = append(due, entry.ID)
		return true
	})
	return due
}

// dropExpiry removes the order's TTL index entry. Callers must hold
// order.mu; the arena lock is taken here.
func (s *OrderStore) dropExpiry(order *Order) {
	s.mu.Lock()
	s.expiry.Delete(&expiryItem{At: order.ExpiresAt, ID: order.ID})
	s.mu.Unlock()
}

// Count returns the number of orders in the arena, terminal included.
func (s *OrderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
