// Command server is a demo resource server whose /weather endpoint costs $0.01 in USDC.
//
// Configuration comes from the environment (a .env file is loaded if present):
//
//	PORT             listen port (default 4021)
//	PAY_TO           receiving address (required)
//	NETWORK          CAIP-2 network (default eip155:84532)
//	ASSET            token contract (default Base Sepolia USDC)
//	FACILITATOR_URL  remote verification; without it payments are verified in process
//	FACILITATOR_KEY  bearer token sent to the facilitator
//	EVM_RPC_URL      enables local onchain-transfer verification
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	x402 "github.com/atlas402/x402/go"
	x402http "github.com/atlas402/x402/go/http"
	x402gin "github.com/atlas402/x402/go/http/gin"
	"github.com/atlas402/x402/go/mechanisms/evm"
)

const baseSepoliaUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payTo := os.Getenv("PAY_TO")
	if payTo == "" {
		logger.Fatal("PAY_TO is required")
	}

	verifier, err := buildVerifier(ctx, logger)
	if err != nil {
		logger.Fatal("failed to build verifier", zap.Error(err))
	}

	router, err := newRouter(verifier, payTo, logger)
	if err != nil {
		logger.Fatal("invalid route configuration", zap.Error(err))
	}

	server := &http.Server{
		Addr:              ":" + envOr("PORT", "4021"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("resource server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func buildVerifier(ctx context.Context, logger *zap.Logger) (*x402.X402Verifier, error) {
	if url := os.Getenv("FACILITATOR_URL"); url != "" {
		config := &x402http.FacilitatorConfig{URL: url}
		if key := os.Getenv("FACILITATOR_KEY"); key != "" {
			config.AuthProvider = x402http.StaticAuthProvider{"Authorization": "Bearer " + key}
		}
		logger.Info("delegating verification", zap.String("facilitator", url))
		return x402.Newx402Verifier(
			x402.WithFacilitator(x402http.NewHTTPFacilitatorClient(config)),
			x402.WithLogger(logger),
		), nil
	}

	var querier x402.ChainQuerier
	if rpcURL := os.Getenv("EVM_RPC_URL"); rpcURL != "" {
		q, err := evm.DialRPCQuerier(ctx, rpcURL)
		if err != nil {
			return nil, err
		}
		querier = q
	}
	return evm.RegisterVerifier(x402.Newx402Verifier(x402.WithLogger(logger)), querier), nil
}

func newRouter(verifier x402http.PaymentVerifier, payTo string, logger *zap.Logger) (*gin.Engine, error) {
	gate, err := x402http.NewPaymentGate(verifier, x402http.RoutesConfig{
		"GET /weather": {
			Scheme:      x402.SchemeSignedCommitment,
			Network:     x402.Network(envOr("NETWORK", "eip155:84532")),
			PayTo:       payTo,
			Price:       "$0.01",
			Currency:    "USDC",
			Asset:       envOr("ASSET", baseSepoliaUSDC),
			Description: "Current weather",
			MimeType:    "application/json",
			ValidFor:    5 * time.Minute,
			Extra:       map[string]interface{}{"name": "USDC", "version": "2", "decimals": x402http.DefaultDecimals},
		},
	},
		x402http.WithGateLogger(logger),
		x402http.WithPaywall(x402http.DefaultPaywallProvider(), &x402http.PaywallConfig{AppName: "Weather", Testnet: true}),
	)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(x402gin.PaymentMiddleware(gate))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/weather", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"report": gin.H{"weather": "sunny", "temperature": 70},
			"payer":  c.GetString(x402gin.ContextKeyPayer),
		})
	})
	return r, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
