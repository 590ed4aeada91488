// Command facilitator serves x402 payment verification over HTTP.
//
// Configuration comes from the environment (a .env file is loaded if present):
//
//	PORT               listen port (default 4022)
//	LOG_LEVEL          debug, info, warn or error (default info)
//	EVM_RPC_URL        enables onchain-transfer proofs on EVM networks
//	EVM_NETWORKS       comma separated CAIP-2 networks (default eip155:*)
//	EVM_CONFIRMATIONS  confirmations required for EVM transfers (default 1)
//	SOLANA_RPC_URL     enables onchain-transfer proofs on Solana
//	DATABASE_URL       Postgres URL for the consumed-proof record (default in-memory)
//	VERIFY_TIMEOUT     per-verification deadline (default 15s)
//	API_KEY            when set, /verify requires "Authorization: Bearer <API_KEY>"
package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	x402 "github.com/atlas402/x402/go"
	"github.com/atlas402/x402/go/mechanisms/evm"
	"github.com/atlas402/x402/go/mechanisms/svm"
	"github.com/atlas402/x402/go/mechanisms/transfer"
	"github.com/atlas402/x402/go/metrics"
	"github.com/atlas402/x402/go/stores/sqlproofs"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, cleanup, err := buildVerifier(ctx, logger)
	if err != nil {
		logger.Fatal("failed to build verifier", zap.Error(err))
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Instrument(verifier, metrics.NewPrometheusRecorder(registry))

	router := newRouter(verifier, registry, os.Getenv("API_KEY"), logger)

	port := envOr("PORT", "4022")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("facilitator listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func buildVerifier(ctx context.Context, logger *zap.Logger) (*x402.X402Verifier, func(), error) {
	cleanup := func() {}

	timeout := 15 * time.Second
	if raw := os.Getenv("VERIFY_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, cleanup, err
		}
		timeout = d
	}

	opts := []x402.VerifierOption{
		x402.WithLogger(logger),
		x402.WithTimeout(timeout),
		x402.WithWaitForInFlight(),
	}

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, cleanup, err
		}
		store, err := sqlproofs.New(db)
		if err != nil {
			db.Close()
			return nil, cleanup, err
		}
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, cleanup, err
		}
		go store.RunPurger(ctx, 10*time.Minute, func(err error) {
			logger.Warn("proof purge failed", zap.Error(err))
		})
		cleanup = func() { db.Close() }
		opts = append(opts, x402.WithProofStore(store))
		logger.Info("using postgres proof store")
	}

	verifier := x402.Newx402Verifier(opts...)

	var evmQuerier x402.ChainQuerier
	if rpcURL := os.Getenv("EVM_RPC_URL"); rpcURL != "" {
		confirmations, err := strconv.ParseUint(envOr("EVM_CONFIRMATIONS", "1"), 10, 64)
		if err != nil {
			return nil, cleanup, err
		}
		querier, err := evm.DialRPCQuerier(ctx, rpcURL, evm.WithMinConfirmations(confirmations))
		if err != nil {
			return nil, cleanup, err
		}
		evmQuerier = querier
	}
	evm.RegisterVerifier(verifier, evmQuerier, splitList(envOr("EVM_NETWORKS", "eip155:*"))...)

	if rpcURL := os.Getenv("SOLANA_RPC_URL"); rpcURL != "" {
		verifier.Register("solana:*", transfer.NewVerifier())
		verifier.RegisterChain("solana:*", svm.DialRPCQuerier(rpcURL))
	}

	return verifier, cleanup, nil
}

func newRouter(verifier *x402.X402Verifier, registry *prometheus.Registry, apiKey string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.GET("/supported", func(c *gin.Context) {
		c.JSON(http.StatusOK, verifier.GetSupported())
	})

	r.POST("/verify", requireAPIKey(apiKey), func(c *gin.Context) {
		var request x402.VerifyRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		result := verifier.Verify(c.Request.Context(), request.PaymentPayload, request.PaymentRequirements)
		logger.Debug("verify request served",
			zap.String("requestId", c.GetHeader("X-Request-ID")),
			zap.Bool("valid", result.IsValid),
			zap.String("reason", result.InvalidReason),
		)
		c.JSON(http.StatusOK, result)
	})

	return r
}

func requireAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		provided := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
