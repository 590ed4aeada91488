// Package gin adapts the x402 payment gate to the Gin web framework.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	x402http "github.com/atlas402/x402/go/http"
)

// ContextKeyPayer is the gin context key holding the verified payer
const ContextKeyPayer = "x402.payer"

// GinAdapter exposes a gin request to the gate
type GinAdapter struct {
	ctx *gin.Context
}

// NewGinAdapter creates a new Gin adapter
func NewGinAdapter(ctx *gin.Context) *GinAdapter {
	return &GinAdapter{ctx: ctx}
}

func (a *GinAdapter) GetHeader(name string) string { return a.ctx.GetHeader(name) }
func (a *GinAdapter) GetMethod() string            { return a.ctx.Request.Method }
func (a *GinAdapter) GetPath() string              { return a.ctx.Request.URL.Path }
func (a *GinAdapter) GetAcceptHeader() string      { return a.ctx.GetHeader("Accept") }
func (a *GinAdapter) GetUserAgent() string         { return a.ctx.GetHeader("User-Agent") }

func (a *GinAdapter) GetURL() string {
	scheme := "http"
	if a.ctx.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.ctx.Request.Host + a.ctx.Request.URL.RequestURI()
}

// PaymentMiddleware is the Gin middleware guarding routes with gate.
// Verified requests carry the payer under ContextKeyPayer.
func PaymentMiddleware(gate *x402http.PaymentGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := gate.ProcessHTTPRequest(c.Request.Context(), NewGinAdapter(c))

		switch result.Type {
		case x402http.ResultNoPaymentRequired:
			c.Next()

		case x402http.ResultPaymentVerified:
			for k, v := range result.Headers {
				c.Header(k, v)
			}
			c.Set(ContextKeyPayer, result.Verification.Payer)
			c.Next()

		default:
			abortWithInstructions(c, result.Response)
		}
	}
}

func abortWithInstructions(c *gin.Context, instructions *x402http.HTTPResponseInstructions) {
	if instructions == nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	for k, v := range instructions.Headers {
		c.Header(k, v)
	}
	if instructions.IsHTML {
		if html, ok := instructions.Body.(string); ok {
			c.Data(instructions.Status, "text/html; charset=utf-8", []byte(html))
			c.Abort()
			return
		}
	}
	c.AbortWithStatusJSON(instructions.Status, instructions.Body)
}
