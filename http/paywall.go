package http

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/atlas402/x402/go"
)

// PaywallConfig customizes the browser paywall page
type PaywallConfig struct {
	AppName string
	AppLogo string
	Testnet bool
}

// ============================================================================
// Paywall Provider Interfaces
// ============================================================================

// PaywallProvider generates HTML for browser-facing 402 responses.
type PaywallProvider interface {
	GenerateHTML(paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// PaywallNetworkHandler handles paywall HTML generation for a specific network family.
// Used with PaywallBuilder to compose network-specific handlers into a single PaywallProvider.
type PaywallNetworkHandler interface {
	// Supports returns true if this handler can generate HTML for the given payment requirement.
	Supports(requirement x402.PaymentRequirements) bool

	// GenerateHTML generates the paywall HTML for the given requirement.
	GenerateHTML(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// ============================================================================
// Built-in Network Handlers
// ============================================================================

// EVMPaywallHandler renders the paywall for eip155:* networks
type EVMPaywallHandler struct{}

func (h *EVMPaywallHandler) Supports(requirement x402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), "eip155:")
}

func (h *EVMPaywallHandler) GenerateHTML(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	return renderPaywall("EVM wallet", requirement, paymentRequired, config)
}

// SVMPaywallHandler renders the paywall for solana:* networks
type SVMPaywallHandler struct{}

func (h *SVMPaywallHandler) Supports(requirement x402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), "solana:")
}

func (h *SVMPaywallHandler) GenerateHTML(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	return renderPaywall("Solana wallet", requirement, paymentRequired, config)
}

// ============================================================================
// Paywall Builder
// ============================================================================

// PaywallBuilder composes multiple PaywallNetworkHandlers into a single PaywallProvider.
type PaywallBuilder struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

// NewPaywallBuilder creates a new PaywallBuilder.
func NewPaywallBuilder() *PaywallBuilder {
	return &PaywallBuilder{}
}

// WithNetwork adds a network handler to the builder.
func (b *PaywallBuilder) WithNetwork(handler PaywallNetworkHandler) *PaywallBuilder {
	b.handlers = append(b.handlers, handler)
	return b
}

// WithConfig sets default paywall configuration for the builder.
func (b *PaywallBuilder) WithConfig(config *PaywallConfig) *PaywallBuilder {
	b.config = config
	return b
}

// Build creates a PaywallProvider that dispatches to the first matching network handler.
func (b *PaywallBuilder) Build() PaywallProvider {
	return &compositePaywallProvider{
		handlers: b.handlers,
		config:   b.config,
	}
}

type compositePaywallProvider struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

func (p *compositePaywallProvider) GenerateHTML(paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	effectiveConfig := config
	if effectiveConfig == nil {
		effectiveConfig = p.config
	}

	for _, req := range paymentRequired.Accepts {
		for _, handler := range p.handlers {
			if handler.Supports(req) {
				return handler.GenerateHTML(req, paymentRequired, effectiveConfig)
			}
		}
	}

	return ""
}

// DefaultPaywallProvider creates a PaywallProvider with built-in EVM and SVM handlers.
func DefaultPaywallProvider() PaywallProvider {
	return NewPaywallBuilder().
		WithNetwork(&EVMPaywallHandler{}).
		WithNetwork(&SVMPaywallHandler{}).
		Build()
}

// ============================================================================
// Rendering
// ============================================================================

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment Required{{if .AppName}} - {{.AppName}}{{end}}</title>
</head>
<body>
<main>
{{if .AppLogo}}<img src="{{.AppLogo}}" alt="{{.AppName}}">{{end}}
<h1>Payment Required</h1>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<dl>
<dt>Resource</dt><dd>{{.Resource}}</dd>
<dt>Price</dt><dd>{{.Amount}} {{.Currency}}</dd>
<dt>Network</dt><dd>{{.Network}}{{if .Testnet}} (testnet){{end}}</dd>
<dt>Pay to</dt><dd><code>{{.PayTo}}</code></dd>
</dl>
<p>Connect an {{.Wallet}} and retry this request with an X-PAYMENT header.</p>
<script id="x402-payment-required" type="application/json">{{.PaymentRequired}}</script>
</main>
</body>
</html>
`))

type paywallData struct {
	AppName         string
	AppLogo         string
	Testnet         bool
	Wallet          string
	Description     string
	Resource        string
	Amount          string
	Currency        string
	Network         string
	PayTo           string
	PaymentRequired x402.PaymentRequired
}

func renderPaywall(wallet string, requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	data := paywallData{
		Wallet:          wallet,
		Description:     requirement.Description,
		Resource:        requirement.Resource,
		Amount:          displayAmount(requirement),
		Currency:        requirement.Currency,
		Network:         string(requirement.Network),
		PayTo:           requirement.PayTo,
		PaymentRequired: paymentRequired,
	}
	if config != nil {
		data.AppName = config.AppName
		data.AppLogo = config.AppLogo
		data.Testnet = config.Testnet
	}

	var buf bytes.Buffer
	if err := paywallTemplate.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

// displayAmount scales atomic units by extra.decimals when the route advertises it
func displayAmount(requirement x402.PaymentRequirements) string {
	amount, err := decimal.NewFromString(requirement.Amount)
	if err != nil {
		return requirement.Amount
	}

	var decimals int32
	switch d := requirement.Extra["decimals"].(type) {
	case float64:
		decimals = int32(d)
	case int:
		decimals = int32(d)
	case int32:
		decimals = d
	default:
		return requirement.Amount
	}
	return amount.Shift(-decimals).String()
}
