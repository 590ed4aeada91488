package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402 "github.com/atlas402/x402/go"
)

// DefaultDecimals is used to convert route prices when a route does not set Decimals
const DefaultDecimals = 6

var routeValidate = validator.New()

// ============================================================================
// Route configuration
// ============================================================================

// RouteConfig describes what a protected route charges.
// Price is a human amount such as "$0.01" converted with Decimals;
// Amount, when set, is used verbatim as atomic units.
type RouteConfig struct {
	Scheme            string                 `validate:"required"`
	Network           x402.Network           `validate:"required"`
	PayTo             string                 `validate:"required"`
	Price             string                 `validate:"required_without=Amount"`
	Amount            string                 `validate:"omitempty,numeric"`
	Currency          string                 `validate:"required"`
	Asset             string
	Decimals          int32                  `validate:"gte=0,lte=36"`
	Resource          string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int                    `validate:"gte=0"`
	ValidFor          time.Duration          `validate:"gte=0"`
	Extra             map[string]interface{}
}

// RoutesConfig maps route patterns to their payment configuration.
// Patterns look like "GET /api/weather", "/reports/*", "POST /items/[id]" or "*".
type RoutesConfig map[string]RouteConfig

type compiledRoute struct {
	pattern string
	verb    string
	regex   *regexp.Regexp
	config  RouteConfig
	amount  string
}

// ParsePrice converts a price such as "$0.01" or "0.01" to atomic units
func ParsePrice(price string, decimals int32) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", price, err)
	}

	atomic := value.Shift(decimals)
	if !atomic.Equal(atomic.Truncate(0)) {
		return "", fmt.Errorf("price %q has more precision than %d decimals", price, decimals)
	}
	if !atomic.IsPositive() {
		return "", fmt.Errorf("price %q must be positive", price)
	}
	return atomic.BigInt().String(), nil
}

func compileRoute(pattern string, config RouteConfig) (compiledRoute, error) {
	if err := routeValidate.Struct(config); err != nil {
		return compiledRoute{}, fmt.Errorf("route %q: %w", pattern, err)
	}

	amount := config.Amount
	if amount == "" {
		decimals := config.Decimals
		if decimals == 0 {
			decimals = DefaultDecimals
		}
		var err error
		amount, err = ParsePrice(config.Price, decimals)
		if err != nil {
			return compiledRoute{}, fmt.Errorf("route %q: %w", pattern, err)
		}
	}
	if _, err := x402.ParseAtomicAmount(amount); err != nil {
		return compiledRoute{}, fmt.Errorf("route %q: %w", pattern, err)
	}

	verb, regex := parseRoutePattern(pattern)
	return compiledRoute{
		pattern: pattern,
		verb:    verb,
		regex:   regex,
		config:  config,
		amount:  amount,
	}, nil
}

// parseRoutePattern splits "VERB /path" and compiles the path into a regex.
// "*" matches any remainder and "[name]" matches one path segment.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	verb := "*"
	path := strings.TrimSpace(pattern)
	if parts := strings.Fields(path); len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	}

	if path == "*" {
		return verb, regexp.MustCompile(`^.*$`)
	}

	var b strings.Builder
	b.WriteString("^")
	for i, segment := range strings.Split(strings.Trim(normalizePath(path), "/"), "/") {
		if i > 0 || segment != "" {
			b.WriteString("/")
		}
		switch {
		case segment == "*":
			b.WriteString(".*")
		case strings.HasPrefix(segment, "[") && strings.HasSuffix(segment, "]"):
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexp.QuoteMeta(segment))
		}
	}
	if b.Len() == 1 {
		b.WriteString("/")
	}
	b.WriteString("$")

	return verb, regexp.MustCompile(b.String())
}

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// normalizePath strips query and fragment, decodes escapes, collapses
// repeated slashes and drops a trailing slash.
func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	path = repeatedSlashes.ReplaceAllString(path, "/")
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// ============================================================================
// Request processing
// ============================================================================

// HTTPAdapter abstracts the web framework a gate runs in
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// PaymentVerifier is satisfied by *x402.X402Verifier
type PaymentVerifier interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.VerifyResponse
}

// ResultType tells the adapter what to do with a request
type ResultType string

const (
	ResultNoPaymentRequired ResultType = "no-payment-required"
	ResultPaymentVerified   ResultType = "payment-verified"
	ResultPaymentError      ResultType = "payment-error"
)

// HTTPResponseInstructions is a response the adapter must write instead of running the handler
type HTTPResponseInstructions struct {
	Status  int
	Headers map[string]string
	Body    interface{}
	IsHTML  bool
}

// HTTPProcessResult is the outcome of ProcessHTTPRequest
type HTTPProcessResult struct {
	Type                ResultType
	Response            *HTTPResponseInstructions
	PaymentPayload      *x402.PaymentPayload
	PaymentRequirements *x402.PaymentRequirements
	Verification        x402.VerifyResponse
	// Headers are added to the protected handler's response once payment is verified
	Headers map[string]string
}

// PaymentGate guards routes behind x402 payments
type PaymentGate struct {
	verifier      PaymentVerifier
	routes        []compiledRoute
	logger        *zap.Logger
	paywall       PaywallProvider
	paywallConfig *PaywallConfig
	retryAfter    time.Duration
	now           func() time.Time
}

// GateOption configures a PaymentGate
type GateOption func(*PaymentGate)

// WithGateLogger sets the gate's logger
func WithGateLogger(logger *zap.Logger) GateOption {
	return func(g *PaymentGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithPaywall serves HTML from provider to browsers instead of a JSON challenge
func WithPaywall(provider PaywallProvider, config *PaywallConfig) GateOption {
	return func(g *PaymentGate) {
		g.paywall = provider
		g.paywallConfig = config
	}
}

// WithRetryAfter sets the Retry-After hint sent with 503 responses. Defaults to 5s.
func WithRetryAfter(d time.Duration) GateOption {
	return func(g *PaymentGate) {
		g.retryAfter = d
	}
}

// NewPaymentGate compiles routes and returns a gate verifying payments with verifier
func NewPaymentGate(verifier PaymentVerifier, routes RoutesConfig, opts ...GateOption) (*PaymentGate, error) {
	g := &PaymentGate{
		verifier:   verifier,
		logger:     zap.NewNop(),
		retryAfter: 5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	for pattern, config := range routes {
		route, err := compileRoute(pattern, config)
		if err != nil {
			return nil, err
		}
		g.routes = append(g.routes, route)
	}

	// Method-specific routes win, then longer patterns
	sort.Slice(g.routes, func(i, j int) bool {
		a, b := g.routes[i], g.routes[j]
		if (a.verb == "*") != (b.verb == "*") {
			return b.verb == "*"
		}
		if len(a.pattern) != len(b.pattern) {
			return len(a.pattern) > len(b.pattern)
		}
		return a.pattern < b.pattern
	})

	return g, nil
}

// RequiresPayment reports whether method and path hit a protected route
func (g *PaymentGate) RequiresPayment(method, path string) bool {
	_, ok := g.match(method, path)
	return ok
}

func (g *PaymentGate) match(method, path string) (compiledRoute, bool) {
	normalized := normalizePath(path)
	method = strings.ToUpper(method)
	for _, route := range g.routes {
		if route.verb != "*" && route.verb != method {
			continue
		}
		if route.regex.MatchString(normalized) {
			return route, true
		}
	}
	return compiledRoute{}, false
}

// BuildPaymentRequirements returns the requirements a request to path must satisfy
func (g *PaymentGate) BuildPaymentRequirements(route compiledRoute, path string) x402.PaymentRequirements {
	config := route.config
	requirements := x402.PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		PayTo:             config.PayTo,
		Amount:            route.amount,
		Currency:          config.Currency,
		Resource:          config.Resource,
		Asset:             config.Asset,
		Description:       config.Description,
		MimeType:          config.MimeType,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             config.Extra,
	}
	if requirements.Resource == "" {
		requirements.Resource = normalizePath(path)
	}
	if config.ValidFor > 0 {
		requirements.Expiry = g.now().Add(config.ValidFor).Unix()
	}
	return requirements
}

// ProcessHTTPRequest decides whether a request may proceed
func (g *PaymentGate) ProcessHTTPRequest(ctx context.Context, adapter HTTPAdapter) HTTPProcessResult {
	route, ok := g.match(adapter.GetMethod(), adapter.GetPath())
	if !ok {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	requirements := g.BuildPaymentRequirements(route, adapter.GetPath())
	result := HTTPProcessResult{
		Type:                ResultPaymentError,
		PaymentRequirements: &requirements,
	}

	header := adapter.GetHeader(HeaderPayment)
	if header == "" {
		result.Response = g.challenge(requirements, HeaderPayment+" header is required", adapter)
		return result
	}

	payload, err := DecodePaymentHeader(header)
	if err != nil {
		g.logger.Debug("undecodable payment header", zap.String("path", adapter.GetPath()), zap.Error(err))
		result.Response = &HTTPResponseInstructions{
			Status: http.StatusBadRequest,
			Body: map[string]interface{}{
				"x402Version": x402.ProtocolVersion,
				"error":       fmt.Sprintf("invalid %s header: %v", HeaderPayment, err),
			},
		}
		return result
	}
	result.PaymentPayload = &payload

	verification := g.verifier.Verify(ctx, payload, requirements)
	result.Verification = verification

	switch {
	case verification.IsValid:
		g.logger.Info("payment verified",
			zap.String("path", adapter.GetPath()),
			zap.String("payer", verification.Payer),
			zap.String("scheme", payload.Scheme),
			zap.String("network", string(payload.Network)),
		)
		response, err := EncodePaymentResponseHeader(PaymentResponse{
			Success: true,
			Payer:   verification.Payer,
			Scheme:  payload.Scheme,
			Network: payload.Network,
		})
		if err == nil {
			result.Headers = map[string]string{HeaderPaymentResponse: response}
		}
		result.Type = ResultPaymentVerified
		return result

	case verification.Transient():
		g.logger.Warn("payment verification unavailable",
			zap.String("path", adapter.GetPath()),
			zap.String("reason", verification.InvalidReason),
			zap.String("message", verification.InvalidMessage),
		)
		result.Response = &HTTPResponseInstructions{
			Status:  http.StatusServiceUnavailable,
			Headers: map[string]string{"Retry-After": strconv.Itoa(int(g.retryAfter.Round(time.Second) / time.Second))},
			Body: map[string]interface{}{
				"x402Version": x402.ProtocolVersion,
				"error":       verification.InvalidReason,
				"message":     verification.InvalidMessage,
			},
		}
		return result

	default:
		g.logger.Info("payment rejected",
			zap.String("path", adapter.GetPath()),
			zap.String("reason", verification.InvalidReason),
			zap.String("message", verification.InvalidMessage),
		)
		result.Response = &HTTPResponseInstructions{
			Status: http.StatusPaymentRequired,
			Body: x402.PaymentRequired{
				X402Version: x402.ProtocolVersion,
				Error:       verification.InvalidReason,
				Accepts:     []x402.PaymentRequirements{requirements},
			},
		}
		return result
	}
}

// challenge builds the 402 answer for a request without payment
func (g *PaymentGate) challenge(requirements x402.PaymentRequirements, message string, adapter HTTPAdapter) *HTTPResponseInstructions {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       message,
		Accepts:     []x402.PaymentRequirements{requirements},
	}

	if g.paywall != nil && isWebBrowser(adapter) {
		if html := g.paywall.GenerateHTML(required, g.paywallConfig); html != "" {
			return &HTTPResponseInstructions{
				Status:  http.StatusPaymentRequired,
				Headers: map[string]string{"Content-Type": "text/html"},
				Body:    html,
				IsHTML:  true,
			}
		}
	}

	return &HTTPResponseInstructions{
		Status: http.StatusPaymentRequired,
		Body:   required,
	}
}

func isWebBrowser(adapter HTTPAdapter) bool {
	return strings.Contains(adapter.GetAcceptHeader(), "text/html") &&
		strings.Contains(adapter.GetUserAgent(), "Mozilla")
}
