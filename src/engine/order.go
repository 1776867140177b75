package engine

import (
	"sync"
	"time"
)

type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPendingApproval OrderStatus = "PENDING_APPROVAL"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// edge case: prices and amounts are int64 base units to avoid
// floating-point precision errors; fee fractions are handled in decimal
// inside the settlement path only.
type Order struct {
	ID        string
	Owner     string
	Price     int64
	Quantity  int64
	Remaining int64
	Escrowed  int64 // always Price*Remaining while non-terminal, 0 after
	Status    OrderStatus
	CreatedAt time.Time
	ExpiresAt time.Time

	IsMultisig bool
	Threshold  int
	Approvers  []string
	approvals  map[string]struct{}

	// Version increments on every mutation; readers can detect
	// concurrent changes across snapshots.
	Version uint64

	mu   sync.Mutex
	gate *fillGate
}

// isTerminal reports whether the order reached one of the immutable
// states. Callers must hold o.mu.
func (o *Order) isTerminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (o *Order) isFillable() bool {
	return o.Status == StatusOpen || o.Status == StatusPartiallyFilled
}

// recordApproval adds an approver to the set. Duplicate approvals are
// no-ops, not double-counted. Callers must hold o.mu.
func (o *Order) recordApproval(approver string) (added, reached bool) {
	if o.approvals == nil {
		o.approvals = make(map[string]struct{})
	}
	if _, dup := o.approvals[approver]; dup {
		return false, len(o.approvals) >= o.Threshold
	}
	o.approvals[approver] = struct{}{}
	return true, len(o.approvals) >= o.Threshold
}

// OrderSnapshot is the read model returned to callers.
type OrderSnapshot struct {
	ID         string
	Owner      string
	Price      int64
	Quantity   int64
	Remaining  int64
	Escrowed   int64
	Status     OrderStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IsMultisig bool
	Threshold  int
	Approvals  int
	Version    uint64
}

// snapshot copies the visible state. Callers must hold o.mu.
func (o *Order) snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:         o.ID,
		Owner:      o.Owner,
		Price:      o.Price,
		Quantity:   o.Quantity,
		Remaining:  o.Remaining,
		Escrowed:   o.Escrowed,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		ExpiresAt:  o.ExpiresAt,
		IsMultisig: o.IsMultisig,
		Threshold:  o.Threshold,
		Approvals:  len(o.approvals),
		Version:    o.Version,
	}
}

// Snapshot returns a consistent copy of the order's visible state.
func (o *Order) Snapshot() OrderSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}
