package svm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/atlas402/x402/go"
)

// TransactionGetter is the subset of rpc.Client used by RPCQuerier
type TransactionGetter interface {
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// RPCQuerier implements x402.ChainQuerier against a Solana JSON-RPC node
type RPCQuerier struct {
	client     TransactionGetter
	commitment rpc.CommitmentType
}

// QuerierOption configures an RPCQuerier
type QuerierOption func(*RPCQuerier)

// WithCommitment sets the commitment level a transaction must reach.
// Defaults to finalized.
func WithCommitment(commitment rpc.CommitmentType) QuerierOption {
	return func(q *RPCQuerier) {
		q.commitment = commitment
	}
}

// NewRPCQuerier creates a querier over an existing RPC client
func NewRPCQuerier(client TransactionGetter, opts ...QuerierOption) *RPCQuerier {
	q := &RPCQuerier{
		client:     client,
		commitment: rpc.CommitmentFinalized,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// DialRPCQuerier returns a querier talking to rpcURL
func DialRPCQuerier(rpcURL string, opts ...QuerierOption) *RPCQuerier {
	return NewRPCQuerier(rpc.New(rpcURL), opts...)
}

// QueryTransaction looks up a transaction signature and reports the transfer it made.
// A transaction that has not reached the configured commitment is reported as not found.
func (q *RPCQuerier) QueryTransaction(ctx context.Context, reference string, network x402.Network) (*x402.TransferRecord, error) {
	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature %q", x402.ErrTransactionNotFound, reference)
	}

	maxVersion := uint64(0)
	result, err := q.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     q.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, x402.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if result == nil || result.Transaction == nil {
		return nil, x402.ErrTransactionNotFound
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(result.Transaction.GetBinary()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	keys := accountKeys(tx, result.Meta)
	record := &x402.TransferRecord{Amount: "0"}
	if len(keys) > 0 {
		record.From = keys[0].String()
	}
	if result.Meta == nil {
		return record, nil
	}

	if !tokenTransfer(result.Meta, keys, record) {
		nativeTransfer(tx, keys, record)
	}

	record.Confirmations = 1
	record.Confirmed = result.Meta.Err == nil
	return record, nil
}

// accountKeys lists static keys followed by keys loaded from lookup tables
func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) solana.PublicKeySlice {
	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

// tokenTransfer fills record from the largest SPL token credit in meta
func tokenTransfer(meta *rpc.TransactionMeta, keys solana.PublicKeySlice, record *x402.TransferRecord) bool {
	pre := make(map[uint16]*big.Int, len(meta.PreTokenBalances))
	for _, balance := range meta.PreTokenBalances {
		pre[balance.AccountIndex] = tokenAmount(balance)
	}

	deltas := make([]*big.Int, len(meta.PostTokenBalances))
	credit := -1
	for i, balance := range meta.PostTokenBalances {
		delta := tokenAmount(balance)
		if before, ok := pre[balance.AccountIndex]; ok {
			delta.Sub(delta, before)
		}
		deltas[i] = delta
		if delta.Sign() > 0 && (credit < 0 || delta.Cmp(deltas[credit]) > 0) {
			credit = i
		}
	}
	if credit < 0 {
		return false
	}

	to := meta.PostTokenBalances[credit]
	record.To = tokenOwner(to, keys)
	record.Amount = deltas[credit].String()
	record.Currency = to.Mint.String()

	for i, balance := range meta.PostTokenBalances {
		if deltas[i].Sign() < 0 && balance.Mint.Equals(to.Mint) {
			record.From = tokenOwner(balance, keys)
			break
		}
	}
	return true
}

func tokenAmount(balance rpc.TokenBalance) *big.Int {
	amount := new(big.Int)
	if balance.UiTokenAmount != nil {
		amount.SetString(balance.UiTokenAmount.Amount, 10)
	}
	return amount
}

func tokenOwner(balance rpc.TokenBalance, keys solana.PublicKeySlice) string {
	if balance.Owner != nil {
		return balance.Owner.String()
	}
	if int(balance.AccountIndex) < len(keys) {
		return keys[balance.AccountIndex].String()
	}
	return ""
}

// nativeTransfer fills record from the first system program transfer instruction
func nativeTransfer(tx *solana.Transaction, keys solana.PublicKeySlice, record *x402.TransferRecord) bool {
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) || !keys[inst.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}

		accounts := make([]*solana.AccountMeta, 0, len(inst.Accounts))
		for _, index := range inst.Accounts {
			if int(index) >= len(keys) {
				break
			}
			accounts = append(accounts, &solana.AccountMeta{PublicKey: keys[index]})
		}
		if len(accounts) < 2 {
			continue
		}

		decoded, err := system.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}

		record.From = accounts[0].PublicKey.String()
		record.To = accounts[1].PublicKey.String()
		record.Amount = new(big.Int).SetUint64(*transfer.Lamports).String()
		record.Currency = NativeCurrency
		return true
	}
	return false
}
