// Package ledger records consumed payment proofs and rejects reuse.
//
// The replay key is the ProofID, derived deterministically from the proof by
// JCS canonicalization and SHA-256, so independent processes agree on it.
// Commit is first-writer-wins: under concurrency exactly one commit for a
// given ProofID succeeds and every other returns ALREADY_USED.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// CommitMeta carries the negotiation context a receipt is created with.
type CommitMeta struct {
	Principal     string
	Counterparty  string
	Status        protocol.ReceiptStatus
	SettlementRef string
	VerifiedAt    time.Time
}

// Ledger is the receipt store and replay guard.
type Ledger interface {
	// Commit records a proof exactly once. A second commit for the same
	// ProofID returns ALREADY_USED.
	Commit(ctx context.Context, proof *protocol.PaymentProof, meta CommitMeta) (*protocol.Receipt, error)

	// Get fetches a receipt by proof ID. Nil, nil when absent.
	Get(ctx context.Context, proofID string) (*protocol.Receipt, error)

	// Query lists receipts for a principal in [from, to), newest first.
	// Compliance reporting hook.
	Query(ctx context.Context, principal string, from, to time.Time) ([]*protocol.Receipt, error)
}

// ProofID derives the replay key from a proof. Deterministic across
// processes: canonical JSON (JCS) hashed with SHA-256.
func ProofID(proof *protocol.PaymentProof) (string, error) {
	raw, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("ledger: proof marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ledger: proof canonicalization: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func newReceipt(proofID string, proof *protocol.PaymentProof, meta CommitMeta) *protocol.Receipt {
	status := meta.Status
	if status == "" {
		status = protocol.ReceiptVerified
	}
	verifiedAt := meta.VerifiedAt
	if verifiedAt.IsZero() {
		verifiedAt = time.Now().UTC()
	}
	return &protocol.Receipt{
		ProofID:       proofID,
		Principal:     meta.Principal,
		Counterparty:  meta.Counterparty,
		Amount:        proof.Amount,
		Status:        status,
		VerifiedAt:    verifiedAt,
		SettlementRef: meta.SettlementRef,
	}
}

// errAlreadyUsed builds the taxonomy error for a replayed proof.
func errAlreadyUsed(proofID string) error {
	return protocol.Errorf(protocol.CodeAlreadyUsed, "proof %s already committed", proofID)
}
