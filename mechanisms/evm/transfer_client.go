package evm

import (
	"context"
	"fmt"
	"math/big"

	x402 "github.com/atlas402/x402/go"
)

// TransferClient implements x402.SchemeNetworkClient for onchain-transfer payments.
// It broadcasts the transfer itself and hands the transaction hash to the server as proof.
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

// CreatePaymentPayload sends the required amount to payTo and returns the transaction reference
func (c *TransferClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	if !IsValidAddress(requirements.PayTo) {
		return x402.PaymentPayload{}, fmt.Errorf("invalid recipient address: %s", requirements.PayTo)
	}

	token := requirements.Asset
	switch {
	case token == NativeCurrency:
		token = ""
	case token == "":
		asset, err := GetAssetInfo(requirements.Network)
		if err != nil {
			return x402.PaymentPayload{}, fmt.Errorf("no asset in requirements: %w", err)
		}
		token = asset.Address
	case !IsValidAddress(token):
		return x402.PaymentPayload{}, fmt.Errorf("invalid token address: %s", token)
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	txHash, err := c.sender.SendTransfer(ctx, token, requirements.PayTo, amount)
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
			Transaction: txHash,
		},
	}, nil
}
