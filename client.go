package x402

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// x402Client manages payment mechanisms and creates payment payloads
// This is used by applications that need to make payments (have wallets/signers)
type x402Client struct {
	mu sync.RWMutex

	// network -> scheme -> client implementation
	schemes map[Network]map[string]SchemeNetworkClient

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector

	// currency -> largest amount this client will authorize per payment
	maxAmounts map[string]*big.Int
}

// X402Client is the exported name of the payment client
type X402Client = x402Client

// PaymentRequirementsSelector chooses which payment option to use.
// It is only called with a non-empty slice of options the client can pay.
type PaymentRequirementsSelector func(requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client
type ClientOption func(*x402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *x402Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *x402Client) {
		c.RegisterScheme(network, client)
	}
}

// WithMaxAmount caps the atomic amount the client will pay in one currency.
// Currencies match case-insensitively. Requirements above the cap fail payload
// creation, and a max that is not a non-negative integer blocks the currency.
func WithMaxAmount(currency string, max string) ClientOption {
	return func(c *x402Client) {
		n, ok := new(big.Int).SetString(max, 10)
		if !ok || n.Sign() < 0 {
			n = new(big.Int)
		}
		c.maxAmounts[strings.ToUpper(currency)] = n
	}
}

// Newx402Client creates a new x402 client
func Newx402Client(opts ...ClientOption) *x402Client {
	c := &x402Client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
		maxAmounts:           make(map[string]*big.Int),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option
func defaultPaymentSelector(requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for a network or network pattern
func (c *x402Client) RegisterScheme(network Network, client SchemeNetworkClient) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// SelectPaymentRequirements chooses which payment requirements to use
// This filters requirements to only those the client can fulfill
func (c *x402Client) SelectPaymentRequirements(requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []PaymentRequirements
	for _, req := range requirements {
		if _, ok := findByNetworkAndScheme(c.schemes, req.Scheme, req.Network); ok {
			supported = append(supported, req)
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ReasonUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"requirements": requirements,
			},
		}
	}

	return c.requirementsSelector(supported), nil
}

// CreatePaymentPayload creates a payment payload for the given requirements
func (c *x402Client) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error) {
	c.mu.RLock()
	client, ok := findByNetworkAndScheme(c.schemes, requirements.Scheme, requirements.Network)
	limit := c.maxAmounts[strings.ToUpper(requirements.Currency)]
	c.mu.RUnlock()

	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, err
	}

	if !ok {
		return PaymentPayload{}, &PaymentError{
			Code:    ReasonUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	if limit != nil {
		amount, _ := ParseAtomicAmount(requirements.Amount)
		if amount.Cmp(limit) > 0 {
			return PaymentPayload{}, &PaymentError{
				Code:    ErrCodeSpendingLimit,
				Message: fmt.Sprintf("amount %s %s exceeds limit %s", requirements.Amount, requirements.Currency, limit),
			}
		}
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return payload, nil
}

// GetRegisteredSchemes returns the registered (network, scheme) pairs
func (c *x402Client) GetRegisteredSchemes() []SupportedKind {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var kinds []SupportedKind
	for network, schemes := range c.schemes {
		for scheme := range schemes {
			kinds = append(kinds, SupportedKind{X402Version: ProtocolVersion, Scheme: scheme, Network: network})
		}
	}
	return kinds
}

// CanPay checks if the client can pay with any of the given requirements
func (c *x402Client) CanPay(requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(requirements)
	return err == nil
}

// CreatePaymentForRequired selects requirements from a 402 body and creates a payload for them
func (c *x402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}
	return c.CreatePaymentPayload(ctx, selected)
}
