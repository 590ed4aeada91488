package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/atlas402/x402/go"
)

func TestNewEvmClientRegistersConfiguredSchemes(t *testing.T) {
	signer := newKeySigner(t)

	onlySigner := NewEvmClient(EvmClientConfig{Signer: signer})
	kinds := onlySigner.GetRegisteredSchemes()
	require.Len(t, kinds, 1)
	assert.Equal(t, x402.SchemeSignedCommitment, kinds[0].Scheme)

	both := NewEvmClient(EvmClientConfig{
		Signer:     signer,
		Sender:     &fakeSender{address: signer.Address()},
		MaxAmounts: map[string]string{"USDC": "5000"},
	})
	assert.Len(t, both.GetRegisteredSchemes(), 2)

	_, err := both.CreatePaymentPayload(context.Background(), baseRequirements())
	var paymentErr *x402.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, x402.ErrCodeSpendingLimit, paymentErr.Code)
}

func TestRegisterVerifierSignedCommitment(t *testing.T) {
	signer := newKeySigner(t)
	client := NewEvmClient(EvmClientConfig{Signer: signer})
	verifier := RegisterVerifier(x402.Newx402Verifier(), nil)

	req := baseRequirements()
	payload, err := client.CreatePaymentPayload(context.Background(), req)
	require.NoError(t, err)

	result := verifier.Verify(context.Background(), payload, req)
	assert.True(t, result.IsValid, "unexpected rejection: %+v", result)
	assert.Equal(t, signer.Address(), result.Payer)

	replay := verifier.Verify(context.Background(), payload, req)
	assert.Equal(t, x402.ReasonReplayDetected, replay.InvalidReason)
}

func TestRegisterVerifierOnchainTransfer(t *testing.T) {
	payer := newKeySigner(t)
	payerAddr := crypto.PubkeyToAddress(payer.key.PublicKey)
	amount := big.NewInt(10000)

	reader := &fakeReader{
		tx: signedTx(t, payer, testToken, big.NewInt(0), transferCalldata(testRecipient, amount)),
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog(payerAddr, testRecipient, amount)},
		},
		head: 100,
	}

	client := x402.Newx402Client()
	RegisterClient(client, nil, &fakeSender{address: payerAddr.Hex()}, "eip155:8453")
	verifier := RegisterVerifier(x402.Newx402Verifier(), NewRPCQuerier(reader), "eip155:8453")

	req := baseRequirements()
	req.Scheme = x402.SchemeOnchainTransfer

	payload, err := client.CreatePaymentPayload(context.Background(), req)
	require.NoError(t, err)

	short := req
	short.Amount = "20000"
	shortPayload := payload
	shortPayload.Proof.Amount = "20000"
	rejected := verifier.Verify(context.Background(), shortPayload, short)
	assert.Equal(t, x402.ReasonAmountMismatch, rejected.InvalidReason)

	result := verifier.Verify(context.Background(), payload, req)
	assert.True(t, result.IsValid, "unexpected rejection: %+v", result)

	other := req
	other.Resource = "https://api.example.com/other"
	otherPayload := payload
	otherPayload.Proof.Resource = other.Resource
	replayed := verifier.Verify(context.Background(), otherPayload, other)
	assert.Equal(t, x402.ReasonReplayDetected, replayed.InvalidReason)
}

func TestRegisterVerifierSupportedKinds(t *testing.T) {
	verifier := RegisterVerifier(x402.Newx402Verifier(), nil, "eip155:8453", "eip155:84532")
	assert.Len(t, verifier.GetSupported().Kinds, 4)
}
