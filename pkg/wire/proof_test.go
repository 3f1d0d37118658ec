package wire

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

func sampleProof() *protocol.PaymentProof {
	return &protocol.PaymentProof{
		OfferID:       "offer-abc",
		Method:        "exact",
		Signature:     "eyJ.header.sig",
		PayerIdentity: "agent-1",
		Amount:        money.MustNew(250, "USD"),
		Params:        map[string]string{"network": "base"},
	}
}

func TestProofHeaderRoundTrip(t *testing.T) {
	p := sampleProof()

	v := BuildProofHeader(p)
	parsed, err := ParseProofHeader(v)
	require.NoError(t, err)

	assert.Equal(t, p.OfferID, parsed.OfferID)
	assert.Equal(t, p.Method, parsed.Method)
	assert.Equal(t, p.Signature, parsed.Signature)
	assert.Equal(t, p.PayerIdentity, parsed.PayerIdentity)
	assert.Equal(t, p.Amount, parsed.Amount)
	assert.Equal(t, "base", parsed.Params["network"])
}

func TestBuildProofHeaderDeterministic(t *testing.T) {
	p := sampleProof()
	p.Params = map[string]string{"b": "2", "a": "1", "c": "3"}

	first := BuildProofHeader(p)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, BuildProofHeader(p))
	}
	assert.Equal(t, "type=exact offer_id=offer-abc amount=2.50 currency=USD payer=agent-1 sig=eyJ.header.sig a=1 b=2 c=3", first)
}

func TestParseProofHeaderRejects(t *testing.T) {
	tests := []struct {
		name string
		v    string
	}{
		{"missing type", "offer_id=o amount=1.00 currency=USD sig=s"},
		{"missing offer", "type=exact amount=1.00 currency=USD sig=s"},
		{"missing sig", "type=exact offer_id=o amount=1.00 currency=USD"},
		{"bad amount", "type=exact offer_id=o amount=one currency=USD sig=s"},
		{"bare token", "type=exact offer_id=o amount=1.00 currency=USD sig=s loose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProofHeader(tt.v)
			require.Error(t, err)
			assert.Equal(t, protocol.CodeInvalidFormat, protocol.CodeOf(err))
		})
	}
}

func TestAttachProof(t *testing.T) {
	p := sampleProof()
	receipt := &protocol.Receipt{
		ProofID:    "sha256:aa",
		Principal:  "agent-1",
		Amount:     p.Amount,
		Status:     protocol.ReceiptVerified,
		VerifiedAt: time.Now().UTC(),
	}

	h := http.Header{}
	AttachProof(h, p, receipt)

	assert.NotEmpty(t, h.Get(HeaderXPayment))

	raw, err := base64.StdEncoding.DecodeString(h.Get(HeaderXPaymentReceipt))
	require.NoError(t, err)
	var decoded protocol.Receipt
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "sha256:aa", decoded.ProofID)
}

func TestAttachProofWithoutReceipt(t *testing.T) {
	h := http.Header{}
	AttachProof(h, sampleProof(), nil)
	assert.NotEmpty(t, h.Get(HeaderXPayment))
	assert.Empty(t, h.Get(HeaderXPaymentReceipt))
}

func TestParseErrorBody(t *testing.T) {
	body, err := ParseErrorBody([]byte(`{
		"error": "payment_required",
		"code": "INSUFFICIENT_AMOUNT",
		"message": "price went up",
		"required_amount": "3.00",
		"received_amount": "2.50"
	}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInsufficientAmount, body.Code)
	assert.Equal(t, "3.00", body.RequiredAmount)

	_, err = ParseErrorBody([]byte("not json"))
	assert.Error(t, err)
}
