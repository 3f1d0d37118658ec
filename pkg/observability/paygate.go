package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Semantic attribute keys shared by paygate spans and metrics.
var (
	AttrPrincipal    = attribute.Key("paygate.principal")
	AttrTarget       = attribute.Key("paygate.target")
	AttrCounterparty = attribute.Key("paygate.counterparty")
	AttrOfferID      = attribute.Key("paygate.offer.id")
	AttrCurrency     = attribute.Key("paygate.currency")
	AttrAmountMinor  = attribute.Key("paygate.amount.minor")
	AttrMethod       = attribute.Key("paygate.method")
	AttrStrategy     = attribute.Key("paygate.retry.strategy")
	AttrCode         = attribute.Key("paygate.code")
	AttrPolicyReason = attribute.Key("paygate.policy.reason")
	AttrState        = attribute.Key("paygate.state")
)

// NegotiationAttrs builds the common attribute set for one negotiation.
func NegotiationAttrs(principal, counterparty, currency string, amountMinor int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPrincipal.String(principal),
		AttrCounterparty.String(counterparty),
		AttrCurrency.String(currency),
		AttrAmountMinor.Int64(amountMinor),
	}
}

// OutcomeAttrs builds attributes for a failed attempt.
func OutcomeAttrs(code protocol.Code, reason protocol.PolicyReason) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrCode.String(string(code))}
	if reason != "" {
		attrs = append(attrs, AttrPolicyReason.String(string(reason)))
	}
	return attrs
}
