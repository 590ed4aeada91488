package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	x402 "github.com/atlas402/x402/go"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient communicates with a remote facilitator service over HTTP.
// It implements x402.FacilitatorClient.
type HTTPFacilitatorClient struct {
	url            string
	httpClient     *http.Client
	authProvider   AuthProvider
	identifier     string
	retryBaseDelay time.Duration
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Supported map[string]string
}

// StaticAuthProvider sends the same headers to every endpoint, e.g. a bearer token
type StaticAuthProvider map[string]string

// GetAuthHeaders implements AuthProvider
func (p StaticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return AuthHeaders{Verify: p, Supported: p}, nil
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is the default public facilitator
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// getSupportedRetries is the number of retry attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
const getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := strings.TrimSuffix(config.URL, "/")
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:            url,
		httpClient:     httpClient,
		authProvider:   config.AuthProvider,
		identifier:     identifier,
		retryBaseDelay: getSupportedRetryBaseDelay,
	}
}

// Identifier names this facilitator in logs
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// verifyResponseBody accepts both {isValid, invalidReason} and {valid, reason}
type verifyResponseBody struct {
	IsValid        *bool  `json:"isValid"`
	Valid          *bool  `json:"valid"`
	InvalidReason  string `json:"invalidReason"`
	Reason         string `json:"reason"`
	InvalidMessage string `json:"invalidMessage"`
	Payer          string `json:"payer"`
}

func (b verifyResponseBody) toVerifyResponse() (x402.VerifyResponse, error) {
	var valid bool
	switch {
	case b.IsValid != nil:
		valid = *b.IsValid
	case b.Valid != nil:
		valid = *b.Valid
	default:
		return x402.VerifyResponse{}, fmt.Errorf("verify response carries no verdict")
	}

	reason := b.InvalidReason
	if reason == "" {
		reason = b.Reason
	}
	if valid {
		reason = ""
	}

	return x402.VerifyResponse{
		IsValid:        valid,
		InvalidReason:  reason,
		InvalidMessage: b.InvalidMessage,
		Payer:          b.Payer,
	}, nil
}

// Verify asks the facilitator for a verdict on a payload. Transport failures,
// non-200 answers and unreadable bodies are returned as errors.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	body, err := json.Marshal(x402.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/verify", bytes.NewReader(body))
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to create verify request: %w", err)
	}
	if err := c.prepare(ctx, req, func(h AuthHeaders) map[string]string { return h.Verify }); err != nil {
		return x402.VerifyResponse{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	var decoded verifyResponseBody
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to unmarshal verify response: %w", err)
	}
	return decoded.toVerifyResponse()
}

// GetSupported gets supported payment kinds.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		if err := c.prepare(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// prepare sets content type, a fresh request id and endpoint auth headers
func (c *HTTPFacilitatorClient) prepare(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())

	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}
