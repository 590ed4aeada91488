package x402

import (
	"errors"
	"fmt"
)

// Failure reasons. Verification results and negotiation errors carry one of these.
const (
	ReasonMalformedRequirements  = "malformed_requirements"
	ReasonSigningFailed          = "signing_failed"
	ReasonPaymentRejected        = "payment_rejected"
	ReasonUnsupportedScheme      = "unsupported_scheme"
	ReasonStructuralMismatch     = "structural_mismatch"
	ReasonSignatureInvalid       = "signature_invalid"
	ReasonTransferNotConfirmed   = "transfer_not_confirmed"
	ReasonAmountMismatch         = "amount_mismatch"
	ReasonReplayDetected         = "replay_detected"
	ReasonFacilitatorUnreachable = "facilitator_unreachable"
	ReasonRpcTimeout             = "rpc_timeout"
)

// IsTransientReason reports whether a reason means "retry later" rather than "rejected"
func IsTransientReason(reason string) bool {
	return reason == ReasonFacilitatorUnreachable || reason == ReasonRpcTimeout
}

// ErrTransactionNotFound is returned by a ChainQuerier when the chain has no record of a reference
var ErrTransactionNotFound = errors.New("transaction not found")

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Registry error codes
const (
	ErrCodeSpendingLimit = "spending_limit_exceeded"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NegotiationError is returned by the client negotiator when a paid request cannot be completed
type NegotiationError struct {
	Reason     string
	Message    string
	StatusCode int
	Err        error
}

func (e *NegotiationError) Error() string {
	msg := e.Reason
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// NewNegotiationError creates a negotiation failure with the given reason
func NewNegotiationError(reason, message string, err error) *NegotiationError {
	return &NegotiationError{Reason: reason, Message: message, Err: err}
}

// NegotiationReason extracts the failure reason from err, or "" if err is not a negotiation failure
func NegotiationReason(err error) string {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Reason
	}
	return ""
}
