// Package wire implements the payment-required header grammar: offer
// extraction from 402 responses and proof attachment on retried requests.
//
// Offer and proof headers are distinct grammars. Parsing is strict on the
// required fields (amount, currency, expiry, at least one method) and
// lenient on the optional ones, which default to empty.
package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Response header names.
const (
	HeaderAcceptPayment   = "Accept-Payment"
	HeaderPaymentAmount   = "Payment-Amount"
	HeaderPaymentPurpose  = "Payment-Purpose"
	HeaderPaymentExpires  = "Payment-Expires"
	HeaderPaymentOfferID  = "Payment-Offer-Id"
	HeaderReceiptRequired = "Payment-Receipt-Required"
	HeaderPaymentCallback = "Payment-Callback"
	HeaderPaymentMetadata = "Payment-Metadata"
)

// Request header names.
const (
	HeaderXPayment        = "X-Payment"
	HeaderXPaymentReceipt = "X-Payment-Receipt"
)

// Descriptor param keys reserved as selection hints.
const (
	paramLatencyMS = "latency_ms"
	paramFee       = "fee"
)

// ParseOffer extracts a PaymentOffer from 402 response headers.
// Missing optional fields (purpose, callback, metadata) are not errors.
func ParseOffer(h http.Header) (*protocol.PaymentOffer, error) {
	amount, err := parseAmount(h.Get(HeaderPaymentAmount))
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, protocol.Errorf(protocol.CodeInvalidFormat,
			"non-positive payment amount %s", amount)
	}

	expires, err := parseExpires(h.Get(HeaderPaymentExpires))
	if err != nil {
		return nil, err
	}

	methods, err := ParseMethods(h.Get(HeaderAcceptPayment))
	if err != nil {
		return nil, err
	}

	offer := &protocol.PaymentOffer{
		OfferID:         h.Get(HeaderPaymentOfferID),
		Amount:          amount,
		Methods:         methods,
		Purpose:         h.Get(HeaderPaymentPurpose),
		ExpiresAt:       expires,
		CallbackURL:     h.Get(HeaderPaymentCallback),
		Metadata:        h.Get(HeaderPaymentMetadata),
		ReceiptRequired: strings.EqualFold(h.Get(HeaderReceiptRequired), "true"),
	}
	if offer.OfferID == "" {
		offer.OfferID = deriveOfferID(offer)
	}
	return offer, nil
}

// EncodeOffer writes an offer back into response headers. Used by the
// reference encoder in conformance tests and by seller-side adapters.
func EncodeOffer(h http.Header, o *protocol.PaymentOffer) {
	h.Set(HeaderPaymentAmount, "amount="+o.Amount.Decimal()+" currency="+o.Amount.Currency)
	h.Set(HeaderPaymentExpires, o.ExpiresAt.UTC().Format(http.TimeFormat))
	h.Set(HeaderAcceptPayment, EncodeMethods(o.Methods))
	if o.OfferID != "" {
		h.Set(HeaderPaymentOfferID, o.OfferID)
	}
	if o.Purpose != "" {
		h.Set(HeaderPaymentPurpose, o.Purpose)
	}
	if o.CallbackURL != "" {
		h.Set(HeaderPaymentCallback, o.CallbackURL)
	}
	if o.Metadata != "" {
		h.Set(HeaderPaymentMetadata, o.Metadata)
	}
	if o.ReceiptRequired {
		h.Set(HeaderReceiptRequired, "true")
	}
}

// parseAmount parses `amount=<decimal> currency=<code>`.
func parseAmount(v string) (money.Money, error) {
	if strings.TrimSpace(v) == "" {
		return money.Money{}, protocol.Errorf(protocol.CodeInvalidFormat,
			"missing %s header", HeaderPaymentAmount)
	}
	kv, err := parseParams(v)
	if err != nil {
		return money.Money{}, err
	}
	amt, cur := kv["amount"], kv["currency"]
	if amt == "" || cur == "" {
		return money.Money{}, protocol.Errorf(protocol.CodeInvalidFormat,
			"%s requires amount= and currency=", HeaderPaymentAmount)
	}
	m, err := money.ParseDecimal(amt, cur)
	if err != nil {
		return money.Money{}, protocol.WrapErr(protocol.CodeInvalidFormat, err,
			"malformed payment amount")
	}
	return m, nil
}

func parseExpires(v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, protocol.Errorf(protocol.CodeInvalidFormat,
			"missing %s header", HeaderPaymentExpires)
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, protocol.WrapErr(protocol.CodeInvalidFormat, err,
			"malformed expiry "+strconv.Quote(v))
	}
	return t, nil
}

// ParseMethods parses a comma-delimited list of method descriptors. Each
// descriptor is `<name> k=v k=v ...` with space-separated params. The
// latency_ms and fee hints are lifted into the descriptor fields.
func ParseMethods(v string) ([]protocol.MethodDescriptor, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidFormat,
			"missing %s header", HeaderAcceptPayment)
	}
	var methods []protocol.MethodDescriptor
	for _, part := range strings.Split(v, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if strings.Contains(name, "=") {
			return nil, protocol.Errorf(protocol.CodeInvalidFormat,
				"method descriptor %q starts with a parameter, not a name", part)
		}
		md := protocol.MethodDescriptor{Name: name}
		for _, f := range fields[1:] {
			k, val, ok := strings.Cut(f, "=")
			if !ok || k == "" {
				return nil, protocol.Errorf(protocol.CodeInvalidFormat,
					"malformed method parameter %q", f)
			}
			switch k {
			case paramLatencyMS:
				n, err := strconv.ParseInt(val, 10, 64)
				if err != nil || n < 0 {
					return nil, protocol.Errorf(protocol.CodeInvalidFormat,
						"malformed latency_ms %q", val)
				}
				md.SettlementLatencyMS = n
			case paramFee:
				n, err := strconv.ParseInt(val, 10, 64)
				if err != nil || n < 0 {
					return nil, protocol.Errorf(protocol.CodeInvalidFormat,
						"malformed fee %q", val)
				}
				md.FeeEstimateMinor = n
			default:
				if md.Params == nil {
					md.Params = make(map[string]string)
				}
				md.Params[k] = val
			}
		}
		methods = append(methods, md)
	}
	if len(methods) == 0 {
		return nil, protocol.Errorf(protocol.CodeInvalidFormat,
			"%s lists no methods", HeaderAcceptPayment)
	}
	return methods, nil
}

// EncodeMethods renders descriptors deterministically: params sorted, hints
// emitted only when known.
func EncodeMethods(methods []protocol.MethodDescriptor) string {
	parts := make([]string, 0, len(methods))
	for _, md := range methods {
		var sb strings.Builder
		sb.WriteString(md.Name)
		if md.SettlementLatencyMS > 0 {
			sb.WriteString(" " + paramLatencyMS + "=" + strconv.FormatInt(md.SettlementLatencyMS, 10))
		}
		if md.FeeEstimateMinor > 0 {
			sb.WriteString(" " + paramFee + "=" + strconv.FormatInt(md.FeeEstimateMinor, 10))
		}
		for _, k := range sortedKeys(md.Params) {
			sb.WriteString(" " + k + "=" + md.Params[k])
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ", ")
}

// parseParams parses space-separated k=v pairs.
func parseParams(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, f := range strings.Fields(v) {
		k, val, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, protocol.Errorf(protocol.CodeInvalidFormat,
				"malformed parameter %q", f)
		}
		out[k] = val
	}
	return out, nil
}

// deriveOfferID gives offers without an explicit ID a stable replay key.
func deriveOfferID(o *protocol.PaymentOffer) string {
	h := sha256.New()
	h.Write([]byte(o.Amount.String()))
	h.Write([]byte(o.ExpiresAt.UTC().Format(time.RFC3339)))
	for _, m := range o.Methods {
		h.Write([]byte(m.Name))
	}
	h.Write([]byte(o.Purpose))
	return "offer-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
