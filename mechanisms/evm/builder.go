package evm

import (
	"time"

	x402 "github.com/atlas402/x402/go"
)

// EvmClientConfig holds configuration for creating an EVM x402 client
type EvmClientConfig struct {
	// Signer produces signed-commitment proofs (optional)
	Signer ClientEvmSigner
	// Sender produces onchain-transfer proofs (optional)
	Sender TransferSender
	// Custom payment requirements selector (optional)
	PaymentRequirementsSelector x402.PaymentRequirementsSelector
	// MaxAmounts caps what the client pays per currency, in atomic units (optional)
	MaxAmounts map[string]string
	// Validity of signed commitments (optional, defaults to one hour)
	Validity time.Duration
}

// NewEvmClient creates an x402Client configured for EVM payments
//
// Registers on eip155:*:
// - signed-commitment with CommitmentClient when a Signer is given
// - onchain-transfer with TransferClient when a Sender is given
//
// Example:
//
//	signer, _ := evmsigners.DialClientSigner(ctx, key, rpcURL)
//	client := evm.NewEvmClient(evm.EvmClientConfig{Signer: signer, Sender: signer})
func NewEvmClient(config EvmClientConfig) *x402.X402Client {
	opts := []x402.ClientOption{}

	if config.PaymentRequirementsSelector != nil {
		opts = append(opts, x402.WithPaymentSelector(config.PaymentRequirementsSelector))
	}
	for currency, max := range config.MaxAmounts {
		opts = append(opts, x402.WithMaxAmount(currency, max))
	}

	client := x402.Newx402Client(opts...)

	if config.Signer != nil {
		var commitmentOpts []CommitmentClientOption
		if config.Validity > 0 {
			commitmentOpts = append(commitmentOpts, WithValidity(config.Validity))
		}
		client.RegisterScheme("eip155:*", NewCommitmentClient(config.Signer, commitmentOpts...))
	}
	if config.Sender != nil {
		client.RegisterScheme("eip155:*", NewTransferClient(config.Sender))
	}

	return client
}
