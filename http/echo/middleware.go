// Package echo adapts the x402 payment gate to the Echo web framework.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	x402http "github.com/atlas402/x402/go/http"
)

// ContextKeyPayer is the echo context key holding the verified payer
const ContextKeyPayer = "x402.payer"

// EchoAdapter exposes an echo request to the gate
type EchoAdapter struct {
	ctx echo.Context
}

// NewEchoAdapter creates a new Echo adapter
func NewEchoAdapter(ctx echo.Context) *EchoAdapter {
	return &EchoAdapter{ctx: ctx}
}

func (a *EchoAdapter) GetHeader(name string) string { return a.ctx.Request().Header.Get(name) }
func (a *EchoAdapter) GetMethod() string            { return a.ctx.Request().Method }
func (a *EchoAdapter) GetPath() string              { return a.ctx.Request().URL.Path }
func (a *EchoAdapter) GetAcceptHeader() string      { return a.ctx.Request().Header.Get(echo.HeaderAccept) }
func (a *EchoAdapter) GetUserAgent() string         { return a.ctx.Request().UserAgent() }

func (a *EchoAdapter) GetURL() string {
	req := a.ctx.Request()
	return a.ctx.Scheme() + "://" + req.Host + req.URL.RequestURI()
}

// PaymentMiddleware is the Echo middleware guarding routes with gate.
// Verified requests carry the payer under ContextKeyPayer.
func PaymentMiddleware(gate *x402http.PaymentGate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result := gate.ProcessHTTPRequest(c.Request().Context(), NewEchoAdapter(c))

			switch result.Type {
			case x402http.ResultNoPaymentRequired:
				return next(c)

			case x402http.ResultPaymentVerified:
				for k, v := range result.Headers {
					c.Response().Header().Set(k, v)
				}
				c.Set(ContextKeyPayer, result.Verification.Payer)
				return next(c)

			default:
				return writeInstructions(c, result.Response)
			}
		}
	}
}

func writeInstructions(c echo.Context, instructions *x402http.HTTPResponseInstructions) error {
	if instructions == nil {
		return c.NoContent(http.StatusInternalServerError)
	}
	for k, v := range instructions.Headers {
		c.Response().Header().Set(k, v)
	}
	if instructions.IsHTML {
		if html, ok := instructions.Body.(string); ok {
			return c.HTML(instructions.Status, html)
		}
	}
	return c.JSON(instructions.Status, instructions.Body)
}
