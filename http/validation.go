package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/atlas402/x402/go"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// paymentRequiredSchema describes the body of a 402 response
const paymentRequiredSchema = `{
  "type": "object",
  "required": ["x402Version", "accepts"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "error": {"type": "string"},
    "accepts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["scheme", "network", "payTo", "amount", "currency", "resource"],
        "properties": {
          "scheme": {"type": "string", "minLength": 1},
          "network": {"type": "string", "minLength": 1},
          "payTo": {"type": "string", "minLength": 1},
          "amount": {"type": "string", "pattern": "^[0-9]+$"},
          "currency": {"type": "string", "minLength": 1},
          "resource": {"type": "string", "minLength": 1},
          "expiry": {"type": "integer", "minimum": 0},
          "asset": {"type": "string"},
          "maxTimeoutSeconds": {"type": "integer", "minimum": 0},
          "extra": {"type": "object"}
        }
      }
    }
  }
}`

var paymentRequiredSchemaLoader = gojsonschema.NewStringLoader(paymentRequiredSchema)

// ParsePaymentRequired validates a 402 response body against the challenge
// schema and the requirements rules, and decodes it.
func ParsePaymentRequired(body []byte) (x402.PaymentRequired, error) {
	if len(body) == 0 {
		return x402.PaymentRequired{}, fmt.Errorf("empty payment required body")
	}

	result, err := gojsonschema.Validate(paymentRequiredSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return x402.PaymentRequired{}, fmt.Errorf("payment required body does not match schema: %s", strings.Join(errs, "; "))
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}

	for i, requirements := range required.Accepts {
		if err := requirements.Validate(); err != nil {
			return x402.PaymentRequired{}, fmt.Errorf("accepts[%d]: %w", i, err)
		}
	}

	return required, nil
}

// ValidateAndDecodePaymentHeader validates and decodes a payment header string.
// It performs comprehensive validation of:
// - Base64 format
// - JSON structure
// - Required fields and their types
//
// Returns the decoded PaymentPayload if valid, or an error with a descriptive message.
func ValidateAndDecodePaymentHeader(paymentHeader string) (x402.PaymentPayload, error) {
	if paymentHeader == "" {
		return x402.PaymentPayload{}, fmt.Errorf("payment header is empty")
	}

	if !base64Regex.MatchString(paymentHeader) {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header format: base64 decoding failed - %v", err)
	}

	// Parse JSON into a map first for validation
	var rawPayload map[string]interface{}
	if err := json.Unmarshal(decoded, &rawPayload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}

	if _, exists := rawPayload["x402Version"]; !exists {
		return x402.PaymentPayload{}, fmt.Errorf("missing required field: x402Version")
	}
	if version, ok := rawPayload["x402Version"].(float64); !ok {
		return x402.PaymentPayload{}, fmt.Errorf("invalid field type: x402Version must be a number")
	} else if int(version) < 1 {
		return x402.PaymentPayload{}, fmt.Errorf("invalid value: x402Version must be at least 1")
	}

	for _, field := range []string{"scheme", "network"} {
		if _, exists := rawPayload[field]; !exists {
			return x402.PaymentPayload{}, fmt.Errorf("missing required field: %s", field)
		}
		if _, ok := rawPayload[field].(string); !ok {
			return x402.PaymentPayload{}, fmt.Errorf("invalid field type: %s must be a string", field)
		}
	}

	if _, exists := rawPayload["proof"]; !exists {
		return x402.PaymentPayload{}, fmt.Errorf("missing required field: proof")
	}
	if _, ok := rawPayload["proof"].(map[string]interface{}); !ok {
		return x402.PaymentPayload{}, fmt.Errorf("invalid field type: proof must be an object")
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to parse payment payload: %v", err)
	}

	if err := x402.ValidatePaymentPayload(payload); err != nil {
		return x402.PaymentPayload{}, err
	}

	return payload, nil
}
