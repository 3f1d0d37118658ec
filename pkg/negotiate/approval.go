package negotiate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentis-labs/paygate/pkg/money"
)

// ApprovalHandle is the caller-visible handle for a negotiation parked in
// AWAITING_APPROVAL. The decision arrives asynchronously via Resolve.
type ApprovalHandle struct {
	ID           string      `json:"id"`
	Principal    string      `json:"principal"`
	Counterparty string      `json:"counterparty"`
	Amount       money.Money `json:"amount"`
	CreatedAt    time.Time   `json:"created_at"`

	decision chan bool
	once     sync.Once
}

// ApprovalRegistry tracks pending approvals in-process. Distributed
// delivery of approval requests is an adapter concern.
type ApprovalRegistry struct {
	mu      sync.Mutex
	pending map[string]*ApprovalHandle
}

// NewApprovalRegistry creates an empty registry.
func NewApprovalRegistry() *ApprovalRegistry {
	return &ApprovalRegistry{pending: make(map[string]*ApprovalHandle)}
}

func (r *ApprovalRegistry) create(principal, counterparty string, amount money.Money, now time.Time) *ApprovalHandle {
	h := &ApprovalHandle{
		ID:           uuid.New().String(),
		Principal:    principal,
		Counterparty: counterparty,
		Amount:       amount,
		CreatedAt:    now,
		decision:     make(chan bool, 1),
	}
	r.mu.Lock()
	r.pending[h.ID] = h
	r.mu.Unlock()
	return h
}

// Resolve delivers the external approval decision for a pending handle.
func (r *ApprovalRegistry) Resolve(id string, approve bool) error {
	r.mu.Lock()
	h, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("negotiate: no pending approval %q", id)
	}
	h.once.Do(func() { h.decision <- approve })
	return nil
}

// Pending snapshots the handles currently awaiting a decision.
func (r *ApprovalRegistry) Pending() []*ApprovalHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ApprovalHandle, 0, len(r.pending))
	for _, h := range r.pending {
		out = append(out, h)
	}
	return out
}

func (r *ApprovalRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// wait blocks until the decision arrives or ctx expires.
func (r *ApprovalRegistry) wait(ctx context.Context, h *ApprovalHandle) (bool, error) {
	defer r.remove(h.ID)
	select {
	case approved := <-h.decision:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
