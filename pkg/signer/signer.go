// Package signer defines the payment signing capability consumed by the
// negotiation core. Wallet custody and on-chain signing live behind the
// Signer interface; the local implementation here produces JWS proofs
// suitable for the "exact" method against sellers sharing a key.
package signer

import (
	"context"

	"github.com/agentis-labs/paygate/pkg/offer"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Signer produces immutable payment proofs for selected offers.
type Signer interface {
	// Sign produces a proof for the selected method of an offer.
	// Failures surface as SIGNING_ERROR.
	Sign(ctx context.Context, sel *offer.Selection) (*protocol.PaymentProof, error)

	// Void best-effort invalidates a proof that was produced but will not
	// be committed (cancellation between SIGNING and ledger commit). The
	// replay guard remains authoritative regardless.
	Void(ctx context.Context, proof *protocol.PaymentProof) error

	// Methods lists the payment methods this signer can produce proofs for.
	Methods() []string
}
