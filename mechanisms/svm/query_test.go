package svm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/atlas402/x402/go"
)

type fakeRPC struct {
	result *rpc.GetTransactionResult
	err    error
	opts   *rpc.GetTransactionOpts
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.opts = opts
	return f.result, f.err
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// encodedResult signs a transaction and wraps it the way getTransaction returns base64 payloads
func encodedResult(t *testing.T, payer solana.PrivateKey, instructions ...solana.Instruction) (*rpc.GetTransactionResult, solana.Signature) {
	t.Helper()

	tx, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	sigs, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	body := fmt.Sprintf(`{"slot":42,"transaction":[%q,"base64"]}`, base64.StdEncoding.EncodeToString(raw))
	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	return &result, sigs[0]
}

func TestRPCQuerierNativeTransfer(t *testing.T) {
	payer := newKey(t)
	recipient := newKey(t).PublicKey()

	result, sig := encodedResult(t, payer,
		system.NewTransferInstruction(5000, payer.PublicKey(), recipient).Build())
	result.Meta = &rpc.TransactionMeta{}

	client := &fakeRPC{result: result}
	record, err := NewRPCQuerier(client).QueryTransaction(context.Background(), sig.String(), SolanaDevnetCAIP2)
	require.NoError(t, err)

	assert.True(t, record.Confirmed)
	assert.Equal(t, "5000", record.Amount)
	assert.Equal(t, NativeCurrency, record.Currency)
	assert.Equal(t, payer.PublicKey().String(), record.From)
	assert.Equal(t, recipient.String(), record.To)

	require.NotNil(t, client.opts)
	assert.Equal(t, rpc.CommitmentFinalized, client.opts.Commitment)
	assert.Equal(t, solana.EncodingBase64, client.opts.Encoding)
}

func TestRPCQuerierTokenTransfer(t *testing.T) {
	payer := newKey(t)
	merchant := newKey(t).PublicKey()
	mint := solana.MustPublicKeyFromBase58(USDCDevnetAddress)
	payerOwner := payer.PublicKey()

	result, sig := encodedResult(t, payer,
		system.NewTransferInstruction(1, payer.PublicKey(), merchant).Build())
	result.Meta = &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 1, Owner: &payerOwner, Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "5000000", Decimals: 6}},
			{AccountIndex: 2, Owner: &merchant, Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "100", Decimals: 6}},
		},
		PostTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 1, Owner: &payerOwner, Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "4000000", Decimals: 6}},
			{AccountIndex: 2, Owner: &merchant, Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "1000100", Decimals: 6}},
		},
	}

	record, err := NewRPCQuerier(&fakeRPC{result: result}).QueryTransaction(context.Background(), sig.String(), SolanaDevnetCAIP2)
	require.NoError(t, err)

	assert.True(t, record.Confirmed)
	assert.Equal(t, "1000000", record.Amount)
	assert.Equal(t, USDCDevnetAddress, record.Currency)
	assert.Equal(t, payerOwner.String(), record.From)
	assert.Equal(t, merchant.String(), record.To)
}

func TestRPCQuerierFailedTransaction(t *testing.T) {
	payer := newKey(t)
	result, sig := encodedResult(t, payer,
		system.NewTransferInstruction(5000, payer.PublicKey(), newKey(t).PublicKey()).Build())
	result.Meta = &rpc.TransactionMeta{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}}

	record, err := NewRPCQuerier(&fakeRPC{result: result}).QueryTransaction(context.Background(), sig.String(), SolanaDevnetCAIP2)
	require.NoError(t, err)
	assert.False(t, record.Confirmed)
}

func TestRPCQuerierNotFound(t *testing.T) {
	payer := newKey(t)
	_, sig := encodedResult(t, payer,
		system.NewTransferInstruction(1, payer.PublicKey(), newKey(t).PublicKey()).Build())

	_, err := NewRPCQuerier(&fakeRPC{err: rpc.ErrNotFound}).QueryTransaction(context.Background(), sig.String(), SolanaDevnetCAIP2)
	assert.ErrorIs(t, err, x402.ErrTransactionNotFound)

	_, err = NewRPCQuerier(&fakeRPC{}).QueryTransaction(context.Background(), "not-a-signature", SolanaDevnetCAIP2)
	assert.ErrorIs(t, err, x402.ErrTransactionNotFound)
}

func TestRPCQuerierTransportError(t *testing.T) {
	payer := newKey(t)
	_, sig := encodedResult(t, payer,
		system.NewTransferInstruction(1, payer.PublicKey(), newKey(t).PublicKey()).Build())

	_, err := NewRPCQuerier(&fakeRPC{err: context.DeadlineExceeded}).QueryTransaction(context.Background(), sig.String(), SolanaDevnetCAIP2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, x402.ErrTransactionNotFound)
}

func TestIsSolanaNetwork(t *testing.T) {
	assert.True(t, IsSolanaNetwork(SolanaMainnetCAIP2))
	assert.False(t, IsSolanaNetwork("eip155:8453"))
	assert.False(t, IsSolanaNetwork("solana"))
}
