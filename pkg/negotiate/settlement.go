package negotiate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// SettlementStatus of an external settlement.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementConfirmed SettlementStatus = "CONFIRMED"
	SettlementFailed    SettlementStatus = "FAILED"
)

// SettlementLedger is the external finality collaborator. A pending
// settlement keeps the negotiation in VERIFYING until confirmed or the
// verify timeout expires.
type SettlementLedger interface {
	// Commit submits the proof for settlement, on chain or equivalent.
	Commit(ctx context.Context, proof *protocol.PaymentProof) (*protocol.SettlementRef, error)

	// Status polls a previously submitted settlement.
	Status(ctx context.Context, ref string) (SettlementStatus, error)
}

// InstantSettlement confirms immediately. Default for sellers that settle
// out of band, and for tests.
type InstantSettlement struct{}

func (InstantSettlement) Commit(ctx context.Context, proof *protocol.PaymentProof) (*protocol.SettlementRef, error) {
	return &protocol.SettlementRef{
		Ref:       "instant-" + uuid.New().String(),
		Pending:   false,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (InstantSettlement) Status(ctx context.Context, ref string) (SettlementStatus, error) {
	return SettlementConfirmed, nil
}
