package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Hasher is the injected digest capability used for commitments.
type Hasher interface {
	Digest(data []byte) [32]byte
}

type sha256Hasher struct{}

func (sha256Hasher) Digest(data []byte) [32]byte { return sha256.Sum256(data) }

// SHA256Hasher returns the default commitment digest.
func SHA256Hasher() Hasher { return sha256Hasher{} }

// RevealPayload holds the order terms disclosed at reveal time. TTL is
// relative (seconds from reveal); the nonce is known only to the
// committer and makes the commitment unguessable.
type RevealPayload struct {
	Price      int64
	Quantity   int64
	TTLSeconds int64
	IsMultisig bool
	Threshold  uint8
	Nonce      uint64
}

// Encode produces the canonical little-endian byte layout hashed at
// commit time.
func (p RevealPayload) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, p.Price)
	binary.Write(&buf, binary.LittleEndian, p.Quantity)
	binary.Write(&buf, binary.LittleEndian, p.TTLSeconds)
	var flag uint8
	if p.IsMultisig {
		flag = 1
	}
	buf.WriteByte(flag)
	buf.WriteByte(p.Threshold)
	binary.Write(&buf, binary.LittleEndian, p.Nonce)
	return buf.Bytes()
}

// ComputeCommitment is the client-side helper for building a commit
// hash with the default digest.
func ComputeCommitment(h Hasher, p RevealPayload) [32]byte {
	return h.Digest(p.Encode())
}

type commitment struct {
	OrderID     string
	Owner       string
	Hash        [32]byte
	CommittedAt time.Time
}

// CommitVault stores commitment hashes keyed by order id. Commit and
// reveal for the same id serialize through the vault lock; a reveal's
// destructive delete is atomic with the order-creation attempt it
// triggers.
type CommitVault struct {
	mu          sync.Mutex
	commitments map[string]*commitment

	clock  Clock
	hasher Hasher
}

func NewCommitVault(clock Clock, hasher Hasher) *CommitVault {
	return &CommitVault{
		commitments: make(map[string]*commitment),
		clock:       clock,
		hasher:      hasher,
	}
}

// Commit stores the hash for an order id. Exactly one live commitment
// may exist per id.
func (v *CommitVault) Commit(orderID, owner string, hash [32]byte) error {
	if orderID == "" || owner == "" {
		return fmt.Errorf("%w: order id and owner are required", ErrInvalidParameters)
	}
	if hash == ([32]byte{}) {
		return fmt.Errorf("%w: commitment hash is empty", ErrInvalidParameters)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.commitments[orderID]; exists {
		return fmt.Errorf("%w: order %s", ErrAlreadyCommitted, orderID)
	}
	v.commitments[orderID] = &commitment{
		OrderID:     orderID,
		Owner:       owner,
		Hash:        hash,
		CommittedAt: v.clock.Now(),
	}
	return nil
}

// Reveal verifies the payload against the stored commitment and, on a
// match, consumes the commitment and runs create. A hash mismatch
// leaves the commitment in place; a create failure does not restore it
// — the single reveal attempt is the race-resolution point and must not
// be replayable.
func (v *CommitVault) Reveal(orderID, owner string, payload RevealPayload, create func() (OrderSnapshot, error)) (OrderSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, exists := v.commitments[orderID]
	if !exists {
		return OrderSnapshot{}, fmt.Errorf("%w: no commitment for order %s", ErrNotFound, orderID)
	}
	if c.Owner != owner {
		return OrderSnapshot{}, fmt.Errorf("%w: %s did not commit order %s", ErrUnauthorized, owner, orderID)
	}

	if v.hasher.Digest(payload.Encode()) != c.Hash {
		return OrderSnapshot{}, fmt.Errorf("%w: reveal of order %s does not match commitment", ErrHashMismatch, orderID)
	}

	delete(v.commitments, orderID)
	return create()
}

// Has reports whether a live commitment exists for the order id.
func (v *CommitVault) Has(orderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, exists := v.commitments[orderID]
	return exists
}
