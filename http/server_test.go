package http

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	x402 "github.com/atlas402/x402/go"
)

// Mock HTTP adapter for testing
type mockHTTPAdapter struct {
	headers map[string]string
	method  string
	path    string
	url     string
	accept  string
	agent   string
}

func (m *mockHTTPAdapter) GetHeader(name string) string {
	if m.headers == nil {
		return ""
	}
	return m.headers[name]
}

func (m *mockHTTPAdapter) GetMethod() string       { return m.method }
func (m *mockHTTPAdapter) GetPath() string         { return m.path }
func (m *mockHTTPAdapter) GetURL() string          { return m.url }
func (m *mockHTTPAdapter) GetAcceptHeader() string { return m.accept }
func (m *mockHTTPAdapter) GetUserAgent() string    { return m.agent }

type mockVerifier struct {
	result       x402.VerifyResponse
	calls        int
	lastPayload  x402.PaymentPayload
	lastRequired x402.PaymentRequirements
}

func (m *mockVerifier) Verify(_ context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.VerifyResponse {
	m.calls++
	m.lastPayload = payload
	m.lastRequired = requirements
	return m.result
}

func weatherRoutes() RoutesConfig {
	return RoutesConfig{
		"GET /weather": RouteConfig{
			Scheme:   x402.SchemeSignedCommitment,
			Network:  "eip155:8453",
			PayTo:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Price:    "$0.01",
			Currency: "USDC",
		},
	}
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := EncodePaymentHeader(testPayload())
	if err != nil {
		t.Fatalf("Failed to encode payment header: %v", err)
	}
	return header
}

func TestNewPaymentGate(t *testing.T) {
	gate, err := NewPaymentGate(&mockVerifier{}, weatherRoutes())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(gate.routes) != 1 {
		t.Fatalf("Expected 1 compiled route, got %d", len(gate.routes))
	}
	if gate.routes[0].amount != "10000" {
		t.Errorf("Expected $0.01 to be 10000 atomic units, got %s", gate.routes[0].amount)
	}
}

func TestNewPaymentGateRejectsBadRoutes(t *testing.T) {
	tests := []struct {
		name   string
		config RouteConfig
	}{
		{name: "missing scheme", config: RouteConfig{Network: "eip155:1", PayTo: "0x1", Price: "$1", Currency: "USDC"}},
		{name: "missing price and amount", config: RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Currency: "USDC"}},
		{name: "non numeric amount", config: RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Amount: "ten", Currency: "USDC"}},
		{name: "zero amount", config: RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Amount: "0", Currency: "USDC"}},
		{name: "too precise price", config: RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Price: "$0.0000001", Currency: "USDC"}},
		{name: "garbage price", config: RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Price: "cheap", Currency: "USDC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPaymentGate(&mockVerifier{}, RoutesConfig{"/x": tt.config}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		price    string
		decimals int32
		expected string
	}{
		{"$0.01", 6, "10000"},
		{"1", 6, "1000000"},
		{" $2.5 ", 6, "2500000"},
		{"0.001", 18, "1000000000000000"},
		{"7", 0, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got, err := ParsePrice(tt.price, tt.decimals)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}

	if _, err := ParsePrice("-1", 6); err == nil {
		t.Error("Expected error for negative price")
	}
}

func TestProcessHTTPRequestNoPaymentRequired(t *testing.T) {
	verifier := &mockVerifier{}
	gate, _ := NewPaymentGate(verifier, weatherRoutes())

	for _, adapter := range []*mockHTTPAdapter{
		{method: "GET", path: "/health"},
		{method: "POST", path: "/weather"},
	} {
		result := gate.ProcessHTTPRequest(context.Background(), adapter)
		if result.Type != ResultNoPaymentRequired {
			t.Errorf("%s %s: expected no payment required, got %s", adapter.method, adapter.path, result.Type)
		}
	}
	if verifier.calls != 0 {
		t.Errorf("Verifier should not be called, got %d calls", verifier.calls)
	}
}

func TestProcessHTTPRequestChallenge(t *testing.T) {
	gate, _ := NewPaymentGate(&mockVerifier{}, weatherRoutes())

	result := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{method: "GET", path: "/weather/"})

	if result.Type != ResultPaymentError {
		t.Fatalf("Expected payment error, got %s", result.Type)
	}
	if result.Response.Status != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", result.Response.Status)
	}
	required, ok := result.Response.Body.(x402.PaymentRequired)
	if !ok {
		t.Fatalf("Expected PaymentRequired body, got %T", result.Response.Body)
	}
	if required.X402Version != x402.ProtocolVersion || len(required.Accepts) != 1 {
		t.Fatalf("Unexpected challenge: %+v", required)
	}
	accept := required.Accepts[0]
	if accept.Amount != "10000" || accept.Resource != "/weather" || accept.Currency != "USDC" {
		t.Errorf("Unexpected requirements: %+v", accept)
	}
	if err := accept.Validate(); err != nil {
		t.Errorf("Challenge requirements are invalid: %v", err)
	}
}

func TestProcessHTTPRequestPaywallForBrowsers(t *testing.T) {
	gate, _ := NewPaymentGate(&mockVerifier{}, weatherRoutes(),
		WithPaywall(DefaultPaywallProvider(), &PaywallConfig{AppName: "Forecasts"}))

	result := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{
		method: "GET",
		path:   "/weather",
		accept: "text/html,application/xhtml+xml",
		agent:  "Mozilla/5.0",
	})

	if !result.Response.IsHTML {
		t.Fatal("Expected HTML paywall")
	}
	html, _ := result.Response.Body.(string)
	if !strings.Contains(html, "Forecasts") || !strings.Contains(html, "eip155:8453") {
		t.Errorf("Paywall is missing details: %s", html)
	}

	api := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{method: "GET", path: "/weather", accept: "application/json"})
	if api.Response.IsHTML {
		t.Error("API clients should get JSON")
	}
}

func TestProcessHTTPRequestMalformedHeader(t *testing.T) {
	verifier := &mockVerifier{}
	gate, _ := NewPaymentGate(verifier, weatherRoutes())

	result := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{
		method:  "GET",
		path:    "/weather",
		headers: map[string]string{HeaderPayment: "not-base64!"},
	})

	if result.Type != ResultPaymentError || result.Response.Status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %+v", result.Response)
	}
	if verifier.calls != 0 {
		t.Error("Verifier should not see undecodable headers")
	}
}

func TestProcessHTTPRequestVerified(t *testing.T) {
	verifier := &mockVerifier{result: x402.Valid("0xpayer")}
	gate, _ := NewPaymentGate(verifier, weatherRoutes())

	result := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{
		method:  "GET",
		path:    "/weather",
		headers: map[string]string{HeaderPayment: paymentHeader(t)},
	})

	if result.Type != ResultPaymentVerified {
		t.Fatalf("Expected payment verified, got %s", result.Type)
	}
	if verifier.lastRequired.Resource != "/weather" || verifier.lastRequired.Amount != "10000" {
		t.Errorf("Verifier saw wrong requirements: %+v", verifier.lastRequired)
	}

	response, err := DecodePaymentResponseHeader(result.Headers[HeaderPaymentResponse])
	if err != nil {
		t.Fatalf("Failed to decode payment response: %v", err)
	}
	if !response.Success || response.Payer != "0xpayer" || response.Network != "eip155:8453" {
		t.Errorf("Unexpected payment response: %+v", response)
	}
}

func TestProcessHTTPRequestRejected(t *testing.T) {
	verifier := &mockVerifier{result: x402.Invalid(x402.ReasonReplayDetected, "proof already used")}
	gate, _ := NewPaymentGate(verifier, weatherRoutes())

	result := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{
		method:  "GET",
		path:    "/weather",
		headers: map[string]string{HeaderPayment: paymentHeader(t)},
	})

	if result.Type != ResultPaymentError || result.Response.Status != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %+v", result.Response)
	}
	required := result.Response.Body.(x402.PaymentRequired)
	if required.Error != x402.ReasonReplayDetected || len(required.Accepts) != 1 {
		t.Errorf("Unexpected rejection body: %+v", required)
	}
}

func TestProcessHTTPRequestTransient(t *testing.T) {
	verifier := &mockVerifier{result: x402.Invalid(x402.ReasonFacilitatorUnreachable, "connection refused")}
	gate, _ := NewPaymentGate(verifier, weatherRoutes(), WithRetryAfter(3*time.Second))

	result := gate.ProcessHTTPRequest(context.Background(), &mockHTTPAdapter{
		method:  "GET",
		path:    "/weather",
		headers: map[string]string{HeaderPayment: paymentHeader(t)},
	})

	if result.Response.Status != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", result.Response.Status)
	}
	if result.Response.Headers["Retry-After"] != "3" {
		t.Errorf("Expected Retry-After 3, got %q", result.Response.Headers["Retry-After"])
	}
}

func TestBuildPaymentRequirementsExpiry(t *testing.T) {
	routes := weatherRoutes()
	config := routes["GET /weather"]
	config.ValidFor = time.Minute
	config.Resource = "https://api.example.com/weather"
	routes["GET /weather"] = config

	gate, _ := NewPaymentGate(&mockVerifier{}, routes)
	fixed := time.Unix(1700000000, 0)
	gate.now = func() time.Time { return fixed }

	route, ok := gate.match("GET", "/weather")
	if !ok {
		t.Fatal("Expected route to match")
	}
	requirements := gate.BuildPaymentRequirements(route, "/weather")
	if requirements.Expiry != fixed.Add(time.Minute).Unix() {
		t.Errorf("Unexpected expiry %d", requirements.Expiry)
	}
	if requirements.Resource != "https://api.example.com/weather" {
		t.Errorf("Expected configured resource, got %s", requirements.Resource)
	}
}

func TestRouteMatchingPrefersSpecificRoutes(t *testing.T) {
	routes := RoutesConfig{
		"*": RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Amount: "1", Currency: "USDC"},
		"POST /api/*": RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Amount: "2", Currency: "USDC"},
		"GET /api/items/[id]": RouteConfig{Scheme: "s", Network: "eip155:1", PayTo: "0x1", Amount: "3", Currency: "USDC"},
	}
	gate, err := NewPaymentGate(&mockVerifier{}, routes)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tests := []struct {
		method string
		path   string
		amount string
	}{
		{"GET", "/api/items/42", "3"},
		{"POST", "/api/items/42", "2"},
		{"GET", "/api/items/42/reviews", "1"},
		{"DELETE", "/anything", "1"},
	}
	for _, tt := range tests {
		route, ok := gate.match(tt.method, tt.path)
		if !ok {
			t.Errorf("%s %s: expected a match", tt.method, tt.path)
			continue
		}
		if route.amount != tt.amount {
			t.Errorf("%s %s: expected amount %s, got %s", tt.method, tt.path, tt.amount, route.amount)
		}
	}
}

func TestParseRoutePattern(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		expectVerb  string
		testPath    string
		shouldMatch bool
	}{
		{"exact with verb", "GET /api", "GET", "/api", true},
		{"no verb", "/api", "*", "/api", true},
		{"trailing slash on request", "/api", "*", "/api/", true},
		{"wildcard", "/api/*", "*", "/api/users/1", true},
		{"wildcard needs segment", "/api/*", "*", "/apix", false},
		{"parameter", "/users/[id]", "*", "/users/7", true},
		{"parameter is one segment", "/users/[id]", "*", "/users/7/posts", false},
		{"lowercase verb", "post /api", "POST", "/api", true},
		{"root", "/", "*", "/", true},
		{"root only", "/", "*", "/api", false},
		{"match all", "*", "*", "/any/thing", true},
		{"query ignored", "/api", "*", "/api?x=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verb, regex := parseRoutePattern(tt.pattern)

			if verb != tt.expectVerb {
				t.Errorf("Expected verb %s, got %s", tt.expectVerb, verb)
			}

			normalized := normalizePath(tt.testPath)
			if regex.MatchString(normalized) != tt.shouldMatch {
				t.Errorf("Expected match=%v for path %s", tt.shouldMatch, tt.testPath)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/api", "/api"},
		{"/api/", "/api"},
		{"/api//users", "/api/users"},
		{"/api?query=1", "/api"},
		{"/api#fragment", "/api"},
		{"/api%20space", "/api space"},
		{"", "/"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := normalizePath(tt.input)
			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}
