package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/atlas402/x402/go"
	x402http "github.com/atlas402/x402/go/http"
)

type stubVerifier struct {
	result x402.VerifyResponse
}

func (s stubVerifier) Verify(context.Context, x402.PaymentPayload, x402.PaymentRequirements) x402.VerifyResponse {
	return s.result
}

func newRouter(t *testing.T, result x402.VerifyResponse) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate, err := x402http.NewPaymentGate(stubVerifier{result: result}, x402http.RoutesConfig{
		"GET /premium": {
			Scheme:   x402.SchemeSignedCommitment,
			Network:  "eip155:8453",
			PayTo:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Price:    "$0.05",
			Currency: "USDC",
		},
	})
	require.NoError(t, err)

	router := gin.New()
	router.Use(PaymentMiddleware(gate))
	router.GET("/premium", func(c *gin.Context) {
		c.String(http.StatusOK, "payer=%s", c.GetString(ContextKeyPayer))
	})
	router.GET("/free", func(c *gin.Context) {
		c.String(http.StatusOK, "free")
	})
	return router
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := x402http.EncodePaymentHeader(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeSignedCommitment,
		Network:     "eip155:8453",
		Proof: x402.Proof{
			Amount:    "50000",
			Currency:  "USDC",
			PayTo:     "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Payer:     "0xpayer",
			Resource:  "/premium",
			Signature: "0xsig",
			Nonce:     "0x01",
		},
	})
	require.NoError(t, err)
	return header
}

func TestPaymentMiddlewareFreeRoute(t *testing.T) {
	router := newRouter(t, x402.VerifyResponse{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/free", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "free", rec.Body.String())
}

func TestPaymentMiddlewareChallenge(t *testing.T) {
	router := newRouter(t, x402.VerifyResponse{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	required, err := x402http.ParsePaymentRequired(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "50000", required.Accepts[0].Amount)
	assert.Equal(t, "/premium", required.Accepts[0].Resource)
}

func TestPaymentMiddlewareVerified(t *testing.T) {
	router := newRouter(t, x402.Valid("0xpayer"))

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402http.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payer=0xpayer", rec.Body.String())

	response, err := x402http.DecodePaymentResponseHeader(rec.Header().Get(x402http.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.True(t, response.Success)
}

func TestPaymentMiddlewareRejected(t *testing.T) {
	router := newRouter(t, x402.Invalid(x402.ReasonSignatureInvalid, "bad signature"))

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402http.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), x402.ReasonSignatureInvalid)
}

func TestPaymentMiddlewareTransient(t *testing.T) {
	router := newRouter(t, x402.Invalid(x402.ReasonFacilitatorUnreachable, "dial tcp: refused"))

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402http.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
