package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/atlas402/x402/go"
)

// maxChallengeBytes bounds how much of a 402 body is read
const maxChallengeBytes = 1 << 20

// ============================================================================
// x402HTTPClient - HTTP-aware payment client
// ============================================================================

// x402HTTPClient wraps x402Client with HTTP-specific payment handling
type x402HTTPClient struct {
	client    *x402.X402Client
	transport http.RoundTripper
	timeout   time.Duration
}

// ClientOption configures an x402HTTPClient
type ClientOption func(*x402HTTPClient)

// WithTransport sets the underlying transport. Defaults to http.DefaultTransport.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *x402HTTPClient) {
		c.transport = transport
	}
}

// WithRoundTripTimeout bounds each individual round trip, including reading
// the response body. Zero means no limit beyond the request context.
func WithRoundTripTimeout(d time.Duration) ClientOption {
	return func(c *x402HTTPClient) {
		c.timeout = d
	}
}

// Newx402HTTPClient creates a new HTTP-aware x402 client
func Newx402HTTPClient(client *x402.X402Client, opts ...ClientOption) *x402HTTPClient {
	c := &x402HTTPClient{
		client:    client,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPaymentResponse extracts the X-PAYMENT-RESPONSE header from a paid response
func (c *x402HTTPClient) GetPaymentResponse(resp *http.Response) (PaymentResponse, error) {
	header := resp.Header.Get(HeaderPaymentResponse)
	if header == "" {
		return PaymentResponse{}, fmt.Errorf("payment response header not found")
	}
	return DecodePaymentResponseHeader(header)
}

// RoundTripper returns a payment-aware transport over the client's transport
func (c *x402HTTPClient) RoundTripper() *PaymentRoundTripper {
	return &PaymentRoundTripper{
		Transport:  c.transport,
		x402Client: c,
	}
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment wraps a standard HTTP client with x402 payment handling
// This allows transparent payment handling for HTTP requests
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = x402Client.transport
	}

	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport:  originalTransport,
		x402Client: x402Client,
	}
	return &wrapped
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling.
//
// The request is sent once as is. A 402 answer is parsed, paid for, and the
// request is sent exactly once more with the X-PAYMENT header. Failures are
// reported as *x402.NegotiationError; any non-402 response is returned verbatim.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	x402Client *x402HTTPClient
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := readAndClose(resp)
	if err != nil {
		return nil, x402.NewNegotiationError(x402.ReasonMalformedRequirements, "failed to read 402 response body", err)
	}

	required, err := ParsePaymentRequired(challenge)
	if err != nil {
		return nil, &x402.NegotiationError{
			Reason:     x402.ReasonMalformedRequirements,
			StatusCode: http.StatusPaymentRequired,
			Err:        err,
		}
	}

	payload, err := t.x402Client.client.CreatePaymentForRequired(req.Context(), required)
	if err != nil {
		return nil, &x402.NegotiationError{
			Reason:     x402.ReasonSigningFailed,
			StatusCode: http.StatusPaymentRequired,
			Err:        err,
		}
	}

	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, x402.NewNegotiationError(x402.ReasonSigningFailed, "", err)
	}

	paid, err := t.send(req, body, header)
	if err != nil {
		return nil, err
	}
	if paid.StatusCode != http.StatusPaymentRequired {
		return paid, nil
	}

	rejection := &x402.NegotiationError{
		Reason:     x402.ReasonPaymentRejected,
		StatusCode: http.StatusPaymentRequired,
	}
	if data, err := readAndClose(paid); err == nil {
		var answer x402.PaymentRequired
		if json.Unmarshal(data, &answer) == nil {
			rejection.Message = answer.Error
		}
	}
	return nil, rejection
}

// send issues one round trip with a fresh copy of the buffered body
func (t *PaymentRoundTripper) send(req *http.Request, body []byte, payment string) (*http.Response, error) {
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if t.x402Client != nil && t.x402Client.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.x402Client.timeout)
	}

	out := req.Clone(ctx)
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	if payment != "" {
		out.Header.Set(HeaderPayment, payment)
	}

	resp, err := t.transport().RoundTrip(out)
	if err != nil {
		ctxErr := ctx.Err()
		cancel()
		if ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, err
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (t *PaymentRoundTripper) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

// bufferBody reads the request body so it can be replayed on the paid retry
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return body, nil
}

func readAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
}

// cancelOnClose releases a per-round-trip timeout once the body is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// ============================================================================
// Convenience Methods
// ============================================================================

// DoWithPayment performs an HTTP request with automatic payment handling
func (c *x402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{Transport: c.RoundTripper()}
	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling
func (c *x402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling
func (c *x402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}
