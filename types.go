package x402

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the x402Version carried in challenges and payloads
const ProtocolVersion = 1

// Built-in scheme identifiers
const (
	SchemeSignedCommitment = "signed-commitment"
	SchemeOnchainTransfer  = "onchain-transfer"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:8453" for Base mainnet).
// Opaque identifiers without a namespace are accepted and compared verbatim.
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// PaymentRequirements describes one acceptable way to pay for a resource.
// Amount is a decimal string of atomic units and must be positive.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme" validate:"required"`
	Network           Network                `json:"network" validate:"required"`
	PayTo             string                 `json:"payTo" validate:"required"`
	Amount            string                 `json:"amount" validate:"required,atomic_amount"`
	Currency          string                 `json:"currency" validate:"required"`
	Resource          string                 `json:"resource" validate:"required"`
	Expiry            int64                  `json:"expiry,omitempty" validate:"gte=0"`
	Asset             string                 `json:"asset,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty" validate:"gte=0"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks required fields and the amount format
func (r PaymentRequirements) Validate() error {
	return ValidatePaymentRequirements(r)
}

// PaymentRequired is the body of a 402 response
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// Proof is the scheme-specific evidence inside a payment payload.
// Signed commitments fill Signature, Nonce and the validity window;
// on-chain transfers fill Transaction.
type Proof struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PayTo       string `json:"payTo"`
	Payer       string `json:"payer"`
	Resource    string `json:"resource"`
	Signature   string `json:"signature,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
	ValidAfter  int64  `json:"validAfter,omitempty"`
	ValidBefore int64  `json:"validBefore,omitempty"`
	Transaction string `json:"transaction,omitempty"`
}

// PaymentPayload is what a client attaches to its retry in the X-PAYMENT header
type PaymentPayload struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
	Proof       Proof   `json:"proof"`
}

// Reference identifies the underlying payment for replay tracking.
// On-chain proofs use the transaction reference, commitments use payer and nonce.
func (p PaymentPayload) Reference() string {
	if p.Proof.Transaction != "" {
		return normalizeRef(p.Proof.Transaction)
	}
	return normalizeRef(p.Proof.Payer) + ":" + normalizeRef(p.Proof.Nonce)
}

// normalizeRef lowercases hex references. Base58 references are case-sensitive.
func normalizeRef(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}

// VerifyRequest is the facilitator /verify request body
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// Transient reports whether the verification could not be completed,
// as opposed to the payment being rejected.
func (r VerifyResponse) Transient() bool {
	return !r.IsValid && IsTransientReason(r.InvalidReason)
}

// Valid builds a successful result for the given payer
func Valid(payer string) VerifyResponse {
	return VerifyResponse{IsValid: true, Payer: payer}
}

// Invalid builds a failed result with a taxonomy reason
func Invalid(reason, message string) VerifyResponse {
	return VerifyResponse{IsValid: false, InvalidReason: reason, InvalidMessage: message}
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
}

// SupportedResponse describes what payment kinds a verifier supports
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// TransferRecord is a chain's view of a transaction, as returned by a ChainQuerier
type TransferRecord struct {
	Confirmed     bool
	Confirmations uint64
	Amount        string
	Currency      string
	From          string
	To            string
}
