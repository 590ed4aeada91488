package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
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

func newServer(t *testing.T, result x402.VerifyResponse, opts ...x402http.GateOption) *echo.Echo {
	t.Helper()

	gate, err := x402http.NewPaymentGate(stubVerifier{result: result}, x402http.RoutesConfig{
		"/reports/*": {
			Scheme:   x402.SchemeOnchainTransfer,
			Network:  "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
			PayTo:    "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			Amount:   "1000",
			Currency: "USDC",
		},
	}, opts...)
	require.NoError(t, err)

	e := echo.New()
	e.Use(PaymentMiddleware(gate))
	e.GET("/reports/:id", func(c echo.Context) error {
		payer, _ := c.Get(ContextKeyPayer).(string)
		return c.String(http.StatusOK, "report for "+payer)
	})
	e.GET("/free", func(c echo.Context) error {
		return c.String(http.StatusOK, "free")
	})
	return e
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := x402http.EncodePaymentHeader(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeOnchainTransfer,
		Network:     "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		Proof: x402.Proof{
			Amount:      "1000",
			Currency:    "USDC",
			PayTo:       "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			Payer:       "payer",
			Resource:    "/reports/1",
			Transaction: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		},
	})
	require.NoError(t, err)
	return header
}

func TestPaymentMiddlewareFreeRoute(t *testing.T) {
	e := newServer(t, x402.VerifyResponse{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/free", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "free", rec.Body.String())
}

func TestPaymentMiddlewareChallenge(t *testing.T) {
	e := newServer(t, x402.VerifyResponse{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/1", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	required, err := x402http.ParsePaymentRequired(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "/reports/1", required.Accepts[0].Resource)
}

func TestPaymentMiddlewarePaywall(t *testing.T) {
	e := newServer(t, x402.VerifyResponse{}, x402http.WithPaywall(x402http.DefaultPaywallProvider(), nil))

	req := httptest.NewRequest(http.MethodGet, "/reports/1", nil)
	req.Header.Set(echo.HeaderAccept, "text/html")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, rec.Body.String(), "Solana wallet")
}

func TestPaymentMiddlewareVerified(t *testing.T) {
	e := newServer(t, x402.Valid("payer"))

	req := httptest.NewRequest(http.MethodGet, "/reports/1", nil)
	req.Header.Set(x402http.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report for payer", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(x402http.HeaderPaymentResponse))
}

func TestPaymentMiddlewareBadHeader(t *testing.T) {
	e := newServer(t, x402.Valid("payer"))

	req := httptest.NewRequest(http.MethodGet, "/reports/1", nil)
	req.Header.Set(x402http.HeaderPayment, "%%%")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
