// Command paidfetch fetches a URL, paying for it with x402 when the server asks.
//
//	paidfetch -url https://api.example.com/weather
//
// The payer key is read from EVM_PRIVATE_KEY. With -rpc the client can also pay
// with onchain transfers. SOLANA_PRIVATE_KEY and SOLANA_RPC_URL add onchain
// transfers on Solana networks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	x402 "github.com/atlas402/x402/go"
	x402http "github.com/atlas402/x402/go/http"
	"github.com/atlas402/x402/go/mechanisms/evm"
	"github.com/atlas402/x402/go/mechanisms/svm"
	evmsigners "github.com/atlas402/x402/go/signers/evm"
	svmsigners "github.com/atlas402/x402/go/signers/svm"
)

func main() {
	_ = godotenv.Load()

	var (
		target   = flag.String("url", "", "URL to fetch")
		method   = flag.String("method", http.MethodGet, "HTTP method")
		data     = flag.String("data", "", "request body")
		rpcURL   = flag.String("rpc", os.Getenv("EVM_RPC_URL"), "EVM RPC URL, enables onchain-transfer payments")
		maxSpend = flag.String("max", "", "spending cap as CURRENCY=ATOMIC, e.g. USDC=100000")
		timeout  = flag.Duration("timeout", 30*time.Second, "per round trip timeout")
		verbose  = flag.Bool("v", false, "log negotiation details")
	)
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), logger, config{
		url:      *target,
		method:   *method,
		data:     *data,
		rpcURL:   *rpcURL,
		maxSpend: *maxSpend,
		timeout:  *timeout,
		key:      os.Getenv("EVM_PRIVATE_KEY"),
		solKey:   os.Getenv("SOLANA_PRIVATE_KEY"),
		solRPC:   os.Getenv("SOLANA_RPC_URL"),
	}, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "paidfetch:", err)
		os.Exit(1)
	}
}

type config struct {
	url      string
	method   string
	data     string
	rpcURL   string
	maxSpend string
	timeout  time.Duration
	key      string
	solKey   string
	solRPC   string
}

func run(ctx context.Context, logger *zap.Logger, cfg config, out io.Writer) error {
	if cfg.url == "" {
		return errors.New("-url is required")
	}
	if cfg.key == "" {
		return errors.New("EVM_PRIVATE_KEY is required")
	}

	var (
		signer *evmsigners.ClientSigner
		err    error
	)
	if cfg.rpcURL != "" {
		signer, err = evmsigners.DialClientSigner(ctx, cfg.key, cfg.rpcURL)
	} else {
		signer, err = evmsigners.NewClientSignerFromPrivateKey(cfg.key)
	}
	if err != nil {
		return err
	}

	clientConfig := evm.EvmClientConfig{Signer: signer}
	if cfg.rpcURL != "" {
		clientConfig.Sender = signer
	}
	if cfg.maxSpend != "" {
		currency, amount, ok := strings.Cut(cfg.maxSpend, "=")
		if !ok {
			return fmt.Errorf("invalid -max %q, want CURRENCY=AMOUNT", cfg.maxSpend)
		}
		clientConfig.MaxAmounts = map[string]string{currency: amount}
	}

	paymentClient := evm.NewEvmClient(clientConfig)
	if cfg.solKey != "" && cfg.solRPC != "" {
		solSigner, err := svmsigners.NewClientSignerFromPrivateKey(cfg.solKey, rpc.New(cfg.solRPC))
		if err != nil {
			return err
		}
		svm.RegisterClient(paymentClient, solSigner)
		logger.Debug("solana payer ready", zap.String("address", solSigner.Address()))
	}

	client := x402http.Newx402HTTPClient(paymentClient, x402http.WithRoundTripTimeout(cfg.timeout))
	logger.Debug("payer ready", zap.String("address", signer.Address()))

	var body io.Reader
	if cfg.data != "" {
		body = strings.NewReader(cfg.data)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.method, cfg.url, body)
	if err != nil {
		return err
	}

	resp, err := client.DoWithPayment(ctx, req)
	if err != nil {
		if reason := x402.NegotiationReason(err); reason != "" {
			logger.Debug("payment negotiation failed", zap.String("reason", reason), zap.Error(err))
		}
		return err
	}
	defer resp.Body.Close()

	if payment, err := client.GetPaymentResponse(resp); err == nil {
		logger.Info("paid",
			zap.String("payer", payment.Payer),
			zap.String("scheme", payment.Scheme),
			zap.String("network", string(payment.Network)),
		)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(out, resp.Body)
		return fmt.Errorf("server answered %s", resp.Status)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}
