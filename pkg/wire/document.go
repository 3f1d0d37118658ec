package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Some sellers return the offer as a JSON document body instead of (or in
// addition to) headers. The document is schema-validated before decoding so
// malformed bodies fail with INVALID_FORMAT, not a partial offer.

const offerSchemaURL = "https://paygate.schemas.local/offer.schema.json"

const offerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["amount", "currency", "expires_at", "methods"],
  "properties": {
    "offer_id": {"type": "string"},
    "amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
    "currency": {"type": "string", "minLength": 3, "maxLength": 5},
    "expires_at": {"type": "string"},
    "purpose": {"type": "string"},
    "callback_url": {"type": "string"},
    "metadata": {"type": "string"},
    "receipt_required": {"type": "boolean"},
    "methods": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "params": {"type": "object", "additionalProperties": {"type": "string"}},
          "settlement_latency_ms": {"type": "integer", "minimum": 0},
          "fee_estimate_minor": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var (
	offerSchemaOnce     sync.Once
	offerSchemaCompiled *jsonschema.Schema
	offerSchemaErr      error
)

func compiledOfferSchema() (*jsonschema.Schema, error) {
	offerSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(offerSchemaURL, strings.NewReader(offerSchema)); err != nil {
			offerSchemaErr = fmt.Errorf("wire: offer schema load failed: %w", err)
			return
		}
		offerSchemaCompiled, offerSchemaErr = c.Compile(offerSchemaURL)
	})
	return offerSchemaCompiled, offerSchemaErr
}

// offerDocument is the JSON body shape.
type offerDocument struct {
	OfferID         string `json:"offer_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	ExpiresAt       string `json:"expires_at"`
	Purpose         string `json:"purpose"`
	CallbackURL     string `json:"callback_url"`
	Metadata        string `json:"metadata"`
	ReceiptRequired bool   `json:"receipt_required"`
	Methods         []struct {
		Name                string            `json:"name"`
		Params              map[string]string `json:"params"`
		SettlementLatencyMS int64             `json:"settlement_latency_ms"`
		FeeEstimateMinor    int64             `json:"fee_estimate_minor"`
	} `json:"methods"`
}

// ParseOfferDocument parses and validates a JSON offer body.
func ParseOfferDocument(raw []byte) (*protocol.PaymentOffer, error) {
	sch, err := compiledOfferSchema()
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "offer body is not JSON")
	}
	if err := sch.Validate(generic); err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "offer body fails schema")
	}

	var doc offerDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "offer body decode failed")
	}

	amount, err := money.ParseDecimal(doc.Amount, doc.Currency)
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "malformed offer amount")
	}
	if !amount.IsPositive() {
		return nil, protocol.Errorf(protocol.CodeInvalidFormat, "non-positive offer amount %s", amount)
	}
	expires, err := time.Parse(time.RFC3339, doc.ExpiresAt)
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "malformed offer expiry")
	}

	offer := &protocol.PaymentOffer{
		OfferID:         doc.OfferID,
		Amount:          amount,
		Purpose:         doc.Purpose,
		ExpiresAt:       expires,
		CallbackURL:     doc.CallbackURL,
		Metadata:        doc.Metadata,
		ReceiptRequired: doc.ReceiptRequired,
	}
	for _, m := range doc.Methods {
		offer.Methods = append(offer.Methods, protocol.MethodDescriptor{
			Name:                m.Name,
			Params:              m.Params,
			SettlementLatencyMS: m.SettlementLatencyMS,
			FeeEstimateMinor:    m.FeeEstimateMinor,
		})
	}
	if offer.OfferID == "" {
		offer.OfferID = deriveOfferID(offer)
	}
	return offer, nil
}
