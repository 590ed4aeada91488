// Package http provides HTTP-specific implementations of x402 components.
// This includes the paying client transport, the facilitator client and the
// resource-server payment gate.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/atlas402/x402/go"
)

// Header names used on the wire
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderRequestID       = "X-Request-ID"
)

// PaymentResponse is carried base64-encoded in the X-PAYMENT-RESPONSE header of a paid response
type PaymentResponse struct {
	Success bool         `json:"success"`
	Payer   string       `json:"payer,omitempty"`
	Scheme  string       `json:"scheme,omitempty"`
	Network x402.Network `json:"network,omitempty"`
}

// ============================================================================
// Re-export main types for convenience
// ============================================================================

// HTTPClient is an alias for x402HTTPClient
type HTTPClient = x402HTTPClient

// ============================================================================
// Constructor functions with simpler names
// ============================================================================

// NewClient creates a new HTTP-aware x402 client
func NewClient(client *x402.X402Client, opts ...ClientOption) *x402HTTPClient {
	return Newx402HTTPClient(client, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// ============================================================================
// Convenience functions
// ============================================================================

// WrapClient wraps a standard HTTP client with x402 payment handling
func WrapClient(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, x402Client)
}

// Get performs a GET request with automatic payment handling
func Get(ctx context.Context, url string, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling
func Post(ctx context.Context, url string, body io.Reader, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.PostWithPayment(ctx, url, body)
}

// Do performs an HTTP request with automatic payment handling
func Do(ctx context.Context, req *http.Request, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.DoWithPayment(ctx, req)
}

// ============================================================================
// Header Encoding/Decoding Functions
// ============================================================================

// EncodePaymentHeader encodes a payment payload as base64 JSON for the X-PAYMENT header
func EncodePaymentHeader(payload x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader decodes and validates an X-PAYMENT header value
func DecodePaymentHeader(header string) (x402.PaymentPayload, error) {
	return ValidateAndDecodePaymentHeader(header)
}

// EncodePaymentResponseHeader encodes a payment response as base64 JSON
func EncodePaymentResponseHeader(response PaymentResponse) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentResponseHeader decodes an X-PAYMENT-RESPONSE header value
func DecodePaymentResponseHeader(header string) (PaymentResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var response PaymentResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return PaymentResponse{}, fmt.Errorf("invalid payment response JSON: %w", err)
	}

	return response, nil
}
