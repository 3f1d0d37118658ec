// Package offer evaluates a parsed PaymentOffer against the caller's
// declared intent and selects the payment method to use.
package offer

import (
	"sort"
	"time"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Intent is what the caller is willing to do for one logical request.
type Intent struct {
	// MaxAmount is the most the caller will pay for a single offer.
	MaxAmount money.Money

	// BudgetCeiling bounds cumulative committed spend across all fallback
	// targets of the logical request. Enforced by the orchestrator.
	BudgetCeiling money.Money

	// Methods the available Signer supports, in no particular order.
	SupportedMethods []string

	// Principal whose policy governs authorization.
	Principal string
}

// Selection is an accepted offer plus the method chosen for it.
type Selection struct {
	Offer  *protocol.PaymentOffer
	Method protocol.MethodDescriptor
}

// Evaluate accepts or rejects an offer for the given intent.
//
// Rejections: expired offer (PAYMENT_EXPIRED), amount above the caller's
// ceiling (AMOUNT_EXCEEDS_CEILING), no supported method (UNSUPPORTED_METHOD).
// Among supported methods the one with the lowest settlement latency wins;
// ties break by lowest fee estimate, then lexical name, so selection is
// deterministic across runs.
func Evaluate(o *protocol.PaymentOffer, intent Intent, now time.Time) (*Selection, error) {
	if o.Expired(now) {
		return nil, protocol.Errorf(protocol.CodePaymentExpired,
			"offer %s expired at %s", o.OfferID, o.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if cmp, err := o.Amount.Cmp(intent.MaxAmount); err != nil {
		return nil, protocol.WrapErr(protocol.CodeAmountExceedsCeiling, err,
			"offer currency not comparable to ceiling")
	} else if cmp > 0 {
		return nil, protocol.Errorf(protocol.CodeAmountExceedsCeiling,
			"offer %s exceeds ceiling %s", o.Amount, intent.MaxAmount).
			WithDiag("required_amount", o.Amount.Decimal()).
			WithDiag("received_amount", intent.MaxAmount.Decimal())
	}

	supported := make(map[string]bool, len(intent.SupportedMethods))
	for _, m := range intent.SupportedMethods {
		supported[m] = true
	}
	var candidates []protocol.MethodDescriptor
	for _, m := range o.Methods {
		if supported[m.Name] {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, protocol.Errorf(protocol.CodeUnsupportedMethod,
			"no offered method among %d is supported by the signer", len(o.Methods))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if la, lb := latencyRank(a), latencyRank(b); la != lb {
			return la < lb
		}
		if a.FeeEstimateMinor != b.FeeEstimateMinor {
			return a.FeeEstimateMinor < b.FeeEstimateMinor
		}
		return a.Name < b.Name
	})

	return &Selection{Offer: o, Method: candidates[0]}, nil
}

// latencyRank sorts unknown (zero) latency after every known value.
func latencyRank(m protocol.MethodDescriptor) int64 {
	if m.SettlementLatencyMS == 0 {
		return 1<<63 - 1
	}
	return m.SettlementLatencyMS
}
