package wire

import (
	"net/http"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

func offerHeaders(amount, expires, methods string) http.Header {
	h := http.Header{}
	if amount != "" {
		h.Set(HeaderPaymentAmount, amount)
	}
	if expires != "" {
		h.Set(HeaderPaymentExpires, expires)
	}
	if methods != "" {
		h.Set(HeaderAcceptPayment, methods)
	}
	return h
}

func TestParseOffer(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	h := offerHeaders("amount=2.50 currency=USD", expires, "exact latency_ms=300 fee=2 network=base, deferred")
	h.Set(HeaderPaymentPurpose, "per-article access")
	h.Set(HeaderPaymentOfferID, "offer-123")
	h.Set(HeaderReceiptRequired, "true")

	o, err := ParseOffer(h)
	require.NoError(t, err)

	assert.Equal(t, "offer-123", o.OfferID)
	assert.Equal(t, int64(250), o.Amount.AmountMinor)
	assert.Equal(t, "USD", o.Amount.Currency)
	assert.Equal(t, "per-article access", o.Purpose)
	assert.True(t, o.ReceiptRequired)

	require.Len(t, o.Methods, 2)
	assert.Equal(t, "exact", o.Methods[0].Name)
	assert.Equal(t, int64(300), o.Methods[0].SettlementLatencyMS)
	assert.Equal(t, int64(2), o.Methods[0].FeeEstimateMinor)
	assert.Equal(t, "base", o.Methods[0].Params["network"])
	assert.Equal(t, "deferred", o.Methods[1].Name)
}

func TestParseOfferDerivesID(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	h := offerHeaders("amount=1.00 currency=USD", expires, "exact")

	a, err := ParseOffer(h)
	require.NoError(t, err)
	b, err := ParseOffer(h)
	require.NoError(t, err)

	assert.NotEmpty(t, a.OfferID)
	assert.Equal(t, a.OfferID, b.OfferID, "derived ID must be stable")
}

func TestParseOfferRejects(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	tests := []struct {
		name string
		h    http.Header
	}{
		{"missing amount", offerHeaders("", expires, "exact")},
		{"missing currency", offerHeaders("amount=2.50", expires, "exact")},
		{"malformed amount", offerHeaders("amount=2.5O currency=USD", expires, "exact")},
		{"negative amount", offerHeaders("amount=-1.00 currency=USD", expires, "exact")},
		{"zero amount", offerHeaders("amount=0.00 currency=USD", expires, "exact")},
		{"unknown currency", offerHeaders("amount=1.00 currency=ZZZZ", expires, "exact")},
		{"missing expiry", offerHeaders("amount=1.00 currency=USD", "", "exact")},
		{"malformed expiry", offerHeaders("amount=1.00 currency=USD", "tomorrow", "exact")},
		{"missing methods", offerHeaders("amount=1.00 currency=USD", expires, "")},
		{"param before name", offerHeaders("amount=1.00 currency=USD", expires, "latency_ms=5 exact")},
		{"bad latency", offerHeaders("amount=1.00 currency=USD", expires, "exact latency_ms=fast")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOffer(tt.h)
			require.Error(t, err)
			assert.Equal(t, protocol.CodeInvalidFormat, protocol.CodeOf(err))
		})
	}
}

func TestEncodeMethodsDeterministic(t *testing.T) {
	methods := []protocol.MethodDescriptor{{
		Name:                "exact",
		SettlementLatencyMS: 250,
		FeeEstimateMinor:    3,
		Params:              map[string]string{"network": "base", "asset": "usdc"},
	}}
	first := EncodeMethods(methods)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EncodeMethods(methods))
	}
	assert.Equal(t, "exact latency_ms=250 fee=3 asset=usdc network=base", first)
}

// Round-trip property: every offer the reference encoder can emit parses
// back to the same offer.
func TestOfferRoundTripProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genMethod := gopter.CombineGens(
		gen.OneConstOf("exact", "deferred", "streaming", "channel"),
		gen.Int64Range(0, 5000),
		gen.Int64Range(0, 500),
		gen.OneConstOf("", "base", "mainnet"),
	).Map(func(vals []interface{}) protocol.MethodDescriptor {
		md := protocol.MethodDescriptor{
			Name:                vals[0].(string),
			SettlementLatencyMS: vals[1].(int64),
			FeeEstimateMinor:    vals[2].(int64),
		}
		if net := vals[3].(string); net != "" {
			md.Params = map[string]string{"network": net}
		}
		return md
	})

	genOffer := gopter.CombineGens(
		gen.Int64Range(1, 10_000_000),
		gen.OneConstOf("USD", "EUR", "JPY"),
		gen.Int64Range(1, 365*24),
		gen.SliceOfN(2, genMethod),
		gen.OneConstOf("", "research", "per-call quota"),
	).Map(func(vals []interface{}) *protocol.PaymentOffer {
		m := money.MustNew(vals[0].(int64), vals[1].(string))
		// Header grammar carries HTTP dates, so truncate to seconds.
		exp := time.Now().Add(time.Duration(vals[2].(int64)) * time.Hour).UTC().Truncate(time.Second)
		return &protocol.PaymentOffer{
			OfferID:   "offer-prop",
			Amount:    m,
			ExpiresAt: exp,
			Methods:   vals[3].([]protocol.MethodDescriptor),
			Purpose:   vals[4].(string),
		}
	})

	properties.Property("encode then parse preserves the offer", prop.ForAll(
		func(o *protocol.PaymentOffer) (bool, error) {
			h := http.Header{}
			EncodeOffer(h, o)
			parsed, err := ParseOffer(h)
			if err != nil {
				return false, err
			}
			if parsed.Amount != o.Amount || !parsed.ExpiresAt.Equal(o.ExpiresAt) {
				return false, nil
			}
			if parsed.OfferID != o.OfferID || parsed.Purpose != o.Purpose {
				return false, nil
			}
			if len(parsed.Methods) != len(o.Methods) {
				return false, nil
			}
			for i := range o.Methods {
				a, b := o.Methods[i], parsed.Methods[i]
				if a.Name != b.Name || a.SettlementLatencyMS != b.SettlementLatencyMS || a.FeeEstimateMinor != b.FeeEstimateMinor {
					return false, nil
				}
				if a.Params["network"] != b.Params["network"] {
					return false, nil
				}
			}
			return true, nil
		},
		genOffer))

	properties.TestingRun(t)
}
