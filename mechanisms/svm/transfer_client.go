package svm

import (
	"context"
	"fmt"
	"strconv"

	x402 "github.com/atlas402/x402/go"
)

// TransferSender broadcasts a transfer from its own account.
// An empty mint sends lamports.
type TransferSender interface {
	Address() string
	SendTransfer(ctx context.Context, mint string, to string, amount uint64) (string, error)
}

// TransferClient pays onchain-transfer requirements on Solana. The
// transaction signature is the proof.
type TransferClient struct {
	sender TransferSender
}

// NewTransferClient creates a new TransferClient
func NewTransferClient(sender TransferSender) *TransferClient {
	return &TransferClient{sender: sender}
}

// Scheme returns the scheme identifier
func (c *TransferClient) Scheme() string {
	return x402.SchemeOnchainTransfer
}

// CreatePaymentPayload sends the required amount to payTo and returns the signature as proof
func (c *TransferClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	if _, err := ParsePublicKey(requirements.PayTo); err != nil {
		return x402.PaymentPayload{}, err
	}

	mint := requirements.Asset
	switch mint {
	case NativeCurrency:
		mint = ""
	case "":
		var ok bool
		if mint, ok = DefaultMint(requirements.Network); !ok {
			return x402.PaymentPayload{}, fmt.Errorf("no asset in requirements and no default mint for %s", requirements.Network)
		}
	default:
		if _, err := ParsePublicKey(mint); err != nil {
			return x402.PaymentPayload{}, err
		}
	}

	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	signature, err := c.sender.SendTransfer(ctx, mint, requirements.PayTo, amount)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to send transfer: %w", err)
	}

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeOnchainTransfer,
		Network:     requirements.Network,
		Proof: x402.Proof{
			Amount:      requirements.Amount,
			Currency:    requirements.Currency,
			PayTo:       requirements.PayTo,
			Payer:       c.sender.Address(),
			Resource:    requirements.Resource,
			Transaction: signature,
		},
	}, nil
}
