package wire

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Reserved proof header keys. Everything else in X-Payment is a
// method-specific parameter.
const (
	proofKeyType     = "type"
	proofKeyOfferID  = "offer_id"
	proofKeyAmount   = "amount"
	proofKeyCurrency = "currency"
	proofKeyPayer    = "payer"
	proofKeySig      = "sig"
)

// BuildProofHeader renders a proof as the X-Payment header value:
// `type=<method> <param>=<value> ...`. Output is deterministic (reserved
// keys first, method params sorted) and always re-parseable by
// ParseProofHeader.
func BuildProofHeader(p *protocol.PaymentProof) string {
	var sb strings.Builder
	sb.WriteString(proofKeyType + "=" + p.Method)
	sb.WriteString(" " + proofKeyOfferID + "=" + p.OfferID)
	sb.WriteString(" " + proofKeyAmount + "=" + p.Amount.Decimal())
	sb.WriteString(" " + proofKeyCurrency + "=" + p.Amount.Currency)
	sb.WriteString(" " + proofKeyPayer + "=" + p.PayerIdentity)
	sb.WriteString(" " + proofKeySig + "=" + p.Signature)
	for _, k := range sortedKeys(p.Params) {
		sb.WriteString(" " + k + "=" + p.Params[k])
	}
	return sb.String()
}

// AttachProof sets the proof (and optional receipt) headers on a request.
func AttachProof(h http.Header, p *protocol.PaymentProof, receipt *protocol.Receipt) {
	h.Set(HeaderXPayment, BuildProofHeader(p))
	if receipt != nil {
		if raw, err := json.Marshal(receipt); err == nil {
			h.Set(HeaderXPaymentReceipt, base64.StdEncoding.EncodeToString(raw))
		}
	}
}

// ParseProofHeader parses an X-Payment value back into a proof. Used by
// verifier conformance tests and seller-side adapters.
func ParseProofHeader(v string) (*protocol.PaymentProof, error) {
	kv, err := parseParams(v)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{proofKeyType, proofKeyOfferID, proofKeyAmount, proofKeyCurrency, proofKeySig} {
		if kv[required] == "" {
			return nil, protocol.Errorf(protocol.CodeInvalidFormat,
				"%s missing %s=", HeaderXPayment, required)
		}
	}
	amt, err := money.ParseDecimal(kv[proofKeyAmount], kv[proofKeyCurrency])
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "malformed proof amount")
	}
	p := &protocol.PaymentProof{
		OfferID:       kv[proofKeyOfferID],
		Method:        kv[proofKeyType],
		Signature:     kv[proofKeySig],
		PayerIdentity: kv[proofKeyPayer],
		Amount:        amt,
	}
	for k, val := range kv {
		switch k {
		case proofKeyType, proofKeyOfferID, proofKeyAmount, proofKeyCurrency, proofKeyPayer, proofKeySig:
		default:
			if p.Params == nil {
				p.Params = make(map[string]string)
			}
			p.Params[k] = val
		}
	}
	return p, nil
}

// ParseErrorBody decodes the structured invalid-proof error body.
func ParseErrorBody(raw []byte) (*protocol.ErrorBody, error) {
	var body protocol.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "malformed error body")
	}
	return &body, nil
}
