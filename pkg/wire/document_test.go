package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

func TestParseOfferDocument(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	raw := []byte(`{
		"offer_id": "offer-json-1",
		"amount": "2.50",
		"currency": "USD",
		"expires_at": "` + expires + `",
		"purpose": "dataset access",
		"receipt_required": true,
		"methods": [
			{"name": "exact", "settlement_latency_ms": 300, "params": {"network": "base"}},
			{"name": "deferred"}
		]
	}`)

	o, err := ParseOfferDocument(raw)
	require.NoError(t, err)

	assert.Equal(t, "offer-json-1", o.OfferID)
	assert.Equal(t, int64(250), o.Amount.AmountMinor)
	assert.True(t, o.ReceiptRequired)
	require.Len(t, o.Methods, 2)
	assert.Equal(t, int64(300), o.Methods[0].SettlementLatencyMS)
	assert.Equal(t, "base", o.Methods[0].Params["network"])
}

func TestParseOfferDocumentDerivesID(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	raw := []byte(`{"amount":"1.00","currency":"USD","expires_at":"` + expires + `","methods":[{"name":"exact"}]}`)

	o, err := ParseOfferDocument(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, o.OfferID)
}

func TestParseOfferDocumentRejects(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "402 pay me"},
		{"missing amount", `{"currency":"USD","expires_at":"` + expires + `","methods":[{"name":"exact"}]}`},
		{"amount not decimal", `{"amount":"two","currency":"USD","expires_at":"` + expires + `","methods":[{"name":"exact"}]}`},
		{"empty methods", `{"amount":"1.00","currency":"USD","expires_at":"` + expires + `","methods":[]}`},
		{"method without name", `{"amount":"1.00","currency":"USD","expires_at":"` + expires + `","methods":[{"params":{}}]}`},
		{"bad expiry", `{"amount":"1.00","currency":"USD","expires_at":"soon","methods":[{"name":"exact"}]}`},
		{"negative latency", `{"amount":"1.00","currency":"USD","expires_at":"` + expires + `","methods":[{"name":"exact","settlement_latency_ms":-1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOfferDocument([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, protocol.CodeInvalidFormat, protocol.CodeOf(err))
		})
	}
}
