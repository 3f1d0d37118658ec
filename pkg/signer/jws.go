package signer

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentis-labs/paygate/pkg/offer"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// proofClaims binds a proof to one offer. The JTI doubles as the signer-side
// void key.
type proofClaims struct {
	jwt.RegisteredClaims
	OfferID     string `json:"offer_id"`
	Method      string `json:"method"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// JWSSigner signs proofs with an HMAC key shared with the counterparty.
// Voided proofs are tracked so a conformant verifier holding the same
// signer can reject them; the core's replay guard does not depend on this.
type JWSSigner struct {
	key      []byte
	payer    string
	methods  []string
	proofTTL time.Duration

	mu     sync.Mutex
	voided map[string]bool
}

// NewJWSSigner creates a local signer for the given payer identity.
func NewJWSSigner(key []byte, payer string, methods []string) *JWSSigner {
	if len(methods) == 0 {
		methods = []string{"exact"}
	}
	return &JWSSigner{
		key:      key,
		payer:    payer,
		methods:  methods,
		proofTTL: 5 * time.Minute,
		voided:   make(map[string]bool),
	}
}

func (s *JWSSigner) Methods() []string { return s.methods }

// Sign produces a compact JWS over the offer binding.
func (s *JWSSigner) Sign(ctx context.Context, sel *offer.Selection) (*protocol.PaymentProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.WrapErr(protocol.CodeSigningError, err, "signing cancelled")
	}
	supported := false
	for _, m := range s.methods {
		if m == sel.Method.Name {
			supported = true
			break
		}
	}
	if !supported {
		return nil, protocol.Errorf(protocol.CodeSigningError,
			"signer cannot produce %q proofs", sel.Method.Name)
	}

	now := time.Now().UTC()
	claims := proofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sel.Offer.OfferID + "/" + s.payer,
			Subject:   s.payer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.proofTTL)),
			Issuer:    "paygate/signer",
		},
		OfferID:     sel.Offer.OfferID,
		Method:      sel.Method.Name,
		AmountMinor: sel.Offer.Amount.AmountMinor,
		Currency:    sel.Offer.Amount.Currency,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeSigningError, err, "proof signing failed")
	}

	return &protocol.PaymentProof{
		OfferID:       sel.Offer.OfferID,
		Method:        sel.Method.Name,
		Signature:     token,
		PayerIdentity: s.payer,
		Amount:        sel.Offer.Amount,
		Params:        sel.Method.Params,
	}, nil
}

// Void marks a proof as withdrawn. Best effort only.
func (s *JWSSigner) Void(ctx context.Context, proof *protocol.PaymentProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voided[proof.OfferID+"/"+proof.PayerIdentity] = true
	return nil
}

// Voided reports whether a proof was withdrawn. Verifier-side helper.
func (s *JWSSigner) Voided(proof *protocol.PaymentProof) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voided[proof.OfferID+"/"+proof.PayerIdentity]
}

// Verify checks a proof signature and binding. Provided for conformance
// tests and seller-side adapters sharing the key.
func (s *JWSSigner) Verify(proof *protocol.PaymentProof) error {
	var claims proofClaims
	_, err := jwt.ParseWithClaims(proof.Signature, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return protocol.WrapErr(protocol.CodeSigningError, err, "proof verification failed")
	}
	if claims.OfferID != proof.OfferID || claims.AmountMinor != proof.Amount.AmountMinor || claims.Currency != proof.Amount.Currency {
		return protocol.Errorf(protocol.CodeSigningError, "proof claims do not match envelope")
	}
	return nil
}
