// Package transfer verifies onchain-transfer proofs against any chain reachable
// through an x402.ChainQuerier.
package transfer

import (
	"context"
	"errors"
	"fmt"

	x402 "github.com/atlas402/x402/go"
)

// Verifier implements x402.SchemeVerifier for onchain-transfer proofs
type Verifier struct{}

// NewVerifier creates a new onchain-transfer verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Scheme returns the scheme identifier
func (v *Verifier) Scheme() string {
	return x402.SchemeOnchainTransfer
}

// Verify looks up the referenced transaction and checks that it moved at
// least the required amount of the required asset from the payer to payTo.
func (v *Verifier) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	chain x402.ChainQuerier,
) (x402.VerifyResponse, error) {
	if chain == nil {
		return x402.Invalid(x402.ReasonUnsupportedScheme, fmt.Sprintf("no chain querier for network %s", requirements.Network)), nil
	}
	if payload.Proof.Transaction == "" {
		return x402.Invalid(x402.ReasonTransferNotConfirmed, "proof carries no transaction reference"), nil
	}

	record, err := chain.QueryTransaction(ctx, payload.Proof.Transaction, requirements.Network)
	switch {
	case errors.Is(err, x402.ErrTransactionNotFound):
		return x402.Invalid(x402.ReasonTransferNotConfirmed, err.Error()), nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return x402.Invalid(x402.ReasonRpcTimeout, err.Error()), nil
	case err != nil:
		return x402.Invalid(x402.ReasonRpcTimeout, fmt.Sprintf("chain query failed: %v", err)), nil
	case record == nil:
		return x402.Invalid(x402.ReasonTransferNotConfirmed, "chain returned no record"), nil
	}

	if !record.Confirmed {
		return x402.Invalid(x402.ReasonTransferNotConfirmed, fmt.Sprintf("transaction has %d confirmations and is not final", record.Confirmations)), nil
	}
	if !x402.SameAddress(record.To, requirements.PayTo) {
		return x402.Invalid(x402.ReasonTransferNotConfirmed, fmt.Sprintf("transfer went to %s, not %s", record.To, requirements.PayTo)), nil
	}
	if payload.Proof.Payer != "" && !x402.SameAddress(record.From, payload.Proof.Payer) {
		return x402.Invalid(x402.ReasonTransferNotConfirmed, fmt.Sprintf("transfer was sent by %s, not payer %s", record.From, payload.Proof.Payer)), nil
	}
	if asset := expectedAsset(requirements); !x402.SameAddress(asset, record.Currency) {
		return x402.Invalid(x402.ReasonAmountMismatch, fmt.Sprintf("transfer moved %s, not %s", record.Currency, asset)), nil
	}
	if !x402.AmountCovers(record.Amount, requirements.Amount) {
		return x402.Invalid(x402.ReasonAmountMismatch, fmt.Sprintf("transfer moved %s, required %s", record.Amount, requirements.Amount)), nil
	}

	return x402.Valid(record.From), nil
}

func expectedAsset(requirements x402.PaymentRequirements) string {
	if requirements.Asset != "" {
		return requirements.Asset
	}
	return requirements.Currency
}
