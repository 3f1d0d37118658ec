package signer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/offer"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

func testSelection() *offer.Selection {
	return &offer.Selection{
		Offer: &protocol.PaymentOffer{
			OfferID:   "offer-77",
			Amount:    money.MustNew(250, "USD"),
			ExpiresAt: time.Now().Add(time.Hour),
		},
		Method: protocol.MethodDescriptor{Name: "exact", Params: map[string]string{"network": "base"}},
	}
}

func TestSignAndVerify(t *testing.T) {
	s := NewJWSSigner([]byte("shared-secret"), "agent-1", []string{"exact"})

	proof, err := s.Sign(context.Background(), testSelection())
	require.NoError(t, err)

	assert.Equal(t, "offer-77", proof.OfferID)
	assert.Equal(t, "exact", proof.Method)
	assert.Equal(t, "agent-1", proof.PayerIdentity)
	assert.Equal(t, int64(250), proof.Amount.AmountMinor)
	assert.Equal(t, "base", proof.Params["network"])
	assert.NotEmpty(t, proof.Signature)

	assert.NoError(t, s.Verify(proof))
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewJWSSigner([]byte("shared-secret"), "agent-1", []string{"exact"})
	proof, err := s.Sign(context.Background(), testSelection())
	require.NoError(t, err)

	// Envelope amount altered after signing.
	proof.Amount.AmountMinor = 1
	err = s.Verify(proof)
	require.Error(t, err)
	assert.Equal(t, protocol.CodeSigningError, protocol.CodeOf(err))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a := NewJWSSigner([]byte("key-a"), "agent-1", []string{"exact"})
	b := NewJWSSigner([]byte("key-b"), "agent-1", []string{"exact"})

	proof, err := a.Sign(context.Background(), testSelection())
	require.NoError(t, err)
	assert.Error(t, b.Verify(proof))
}

func TestSignRejectsUnsupportedMethod(t *testing.T) {
	s := NewJWSSigner([]byte("k"), "agent-1", []string{"deferred"})
	_, err := s.Sign(context.Background(), testSelection())
	require.Error(t, err)
	assert.Equal(t, protocol.CodeSigningError, protocol.CodeOf(err))
}

func TestSignHonorsCancellation(t *testing.T) {
	s := NewJWSSigner([]byte("k"), "agent-1", []string{"exact"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Sign(ctx, testSelection())
	require.Error(t, err)
	assert.Equal(t, protocol.CodeSigningError, protocol.CodeOf(err))
}

func TestVoid(t *testing.T) {
	s := NewJWSSigner([]byte("k"), "agent-1", []string{"exact"})
	proof, err := s.Sign(context.Background(), testSelection())
	require.NoError(t, err)

	assert.False(t, s.Voided(proof))
	require.NoError(t, s.Void(context.Background(), proof))
	assert.True(t, s.Voided(proof))
}

func TestDefaultMethods(t *testing.T) {
	s := NewJWSSigner([]byte("k"), "agent-1", nil)
	assert.Equal(t, []string{"exact"}, s.Methods())
}
