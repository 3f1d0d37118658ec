// Package protocol defines the domain types shared by every paygate
// component: offers, proofs, receipts, attempts, and the failure taxonomy.
package protocol

import (
	"time"

	"github.com/agentis-labs/paygate/pkg/money"
)

// MethodDescriptor is one accepted payment method in an offer, with its
// method-specific parameters and the hints used for deterministic selection.
type MethodDescriptor struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`

	// Selection hints. Zero means unknown and sorts last.
	SettlementLatencyMS int64 `json:"settlement_latency_ms,omitempty"`
	FeeEstimateMinor    int64 `json:"fee_estimate_minor,omitempty"`
}

// PaymentOffer is a counterparty's declared price and accepted payment
// methods for a resource, extracted from a 402 response.
type PaymentOffer struct {
	OfferID         string             `json:"offer_id"`
	Amount          money.Money        `json:"amount"`
	Methods         []MethodDescriptor `json:"methods"`
	Purpose         string             `json:"purpose,omitempty"`
	ExpiresAt       time.Time          `json:"expires_at"`
	CallbackURL     string             `json:"callback_url,omitempty"`
	Metadata        string             `json:"metadata,omitempty"`
	ReceiptRequired bool               `json:"receipt_required,omitempty"`

	// Counterparty is the host the offer came from; filled by the caller,
	// not the wire grammar.
	Counterparty string `json:"counterparty,omitempty"`
}

// Expired reports whether the offer is no longer payable at now.
func (o *PaymentOffer) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// PaymentProof is the signed artifact asserting payment of a specific offer.
// Immutable once produced by the Signer.
type PaymentProof struct {
	OfferID       string            `json:"offer_id"`
	Method        string            `json:"method"`
	Signature     string            `json:"signature"`
	PayerIdentity string            `json:"payer_identity"`
	Amount        money.Money       `json:"amount"`
	Params        map[string]string `json:"params,omitempty"`
}

// ReceiptStatus is the receipt lifecycle state.
type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptVerified ReceiptStatus = "verified"
	ReceiptRejected ReceiptStatus = "rejected"
)

// Receipt records that a proof was verified and committed exactly once.
// Never mutated after creation; retained for the audit horizon.
type Receipt struct {
	ProofID       string        `json:"proof_id"`
	Principal     string        `json:"principal"`
	Counterparty  string        `json:"counterparty"`
	Amount        money.Money   `json:"amount"`
	Status        ReceiptStatus `json:"status"`
	VerifiedAt    time.Time     `json:"verified_at"`
	SettlementRef string        `json:"settlement_ref,omitempty"`
}

// SettlementRef identifies an external settlement in flight or confirmed.
type SettlementRef struct {
	Ref       string    `json:"ref"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
}

// Attempt is one record per negotiation try, owned by the orchestrator for
// the duration of one logical request and returned for observability.
type Attempt struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	Strategy  string        `json:"strategy"`
	Outcome   Code          `json:"outcome,omitempty"`
	Err       string        `json:"err,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ResultStatus is the overall outcome of a logical request.
type ResultStatus string

const (
	ResultPaid   ResultStatus = "paid"
	ResultFailed ResultStatus = "failed"
)

// PaymentResult is what adapters receive from Negotiate.
type PaymentResult struct {
	Status   ResultStatus `json:"status"`
	Receipt  *Receipt     `json:"receipt,omitempty"`
	Attempts []Attempt    `json:"attempts"`
	Code     Code         `json:"code,omitempty"`
	Err      string       `json:"error,omitempty"`
}

// ErrorBody is the structured body returned by sellers on invalid proof.
type ErrorBody struct {
	Error          string `json:"error"`
	Code           Code   `json:"code"`
	Message        string `json:"message"`
	RequiredAmount string `json:"required_amount,omitempty"`
	ReceivedAmount string `json:"received_amount,omitempty"`
}
