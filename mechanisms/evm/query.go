package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	x402 "github.com/atlas402/x402/go"
)

// ChainReader is the subset of ethclient.Client used by RPCQuerier
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCQuerier implements x402.ChainQuerier against an EVM JSON-RPC node.
// It understands native value transfers and ERC-20 transfers.
type RPCQuerier struct {
	reader           ChainReader
	minConfirmations uint64
}

// QuerierOption configures an RPCQuerier
type QuerierOption func(*RPCQuerier)

// WithMinConfirmations sets how many blocks (including the inclusion block)
// a transfer needs before it counts as confirmed. Defaults to 1.
func WithMinConfirmations(n uint64) QuerierOption {
	return func(q *RPCQuerier) {
		if n > 0 {
			q.minConfirmations = n
		}
	}
}

// NewRPCQuerier creates a querier over an existing chain reader
func NewRPCQuerier(reader ChainReader, opts ...QuerierOption) *RPCQuerier {
	q := &RPCQuerier{
		reader:           reader,
		minConfirmations: 1,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// DialRPCQuerier connects to an RPC endpoint and returns a querier for it
func DialRPCQuerier(ctx context.Context, rpcURL string, opts ...QuerierOption) (*RPCQuerier, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewRPCQuerier(client, opts...), nil
}

// QueryTransaction looks up a transaction hash and decodes the transfer it made.
// A transaction signed for another chain than network is reported as not found.
func (q *RPCQuerier) QueryTransaction(ctx context.Context, reference string, network x402.Network) (*x402.TransferRecord, error) {
	raw, err := HexToBytes(reference)
	if err != nil || len(raw) != common.HashLength {
		return nil, fmt.Errorf("%w: malformed transaction hash %q", x402.ErrTransactionNotFound, reference)
	}
	hash := common.BytesToHash(raw)

	tx, pending, err := q.reader.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, x402.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	chainID, ok := ChainIDFromNetwork(network)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an eip155 network", x402.ErrTransactionNotFound, network)
	}
	if tx.ChainId() == nil || tx.ChainId().Cmp(chainID) != 0 {
		return nil, fmt.Errorf("%w: transaction is on chain %v, not %s", x402.ErrTransactionNotFound, tx.ChainId(), network)
	}

	record := decodeTransfer(tx)
	if sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		record.From = sender.Hex()
	}
	if pending {
		return record, nil
	}

	receipt, err := q.reader.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	if logged, ok := decodeTransferLog(tx, receipt); ok {
		record = logged
	}

	head, err := q.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head block: %w", err)
	}
	if receipt.BlockNumber != nil && head >= receipt.BlockNumber.Uint64() {
		record.Confirmations = head - receipt.BlockNumber.Uint64() + 1
	}
	record.Confirmed = receipt.Status == TxStatusSuccess && record.Confirmations >= q.minConfirmations

	return record, nil
}

// decodeTransfer reads the intended transfer from transaction input
func decodeTransfer(tx *types.Transaction) *x402.TransferRecord {
	record := &x402.TransferRecord{Amount: "0"}
	if tx.To() == nil {
		return record
	}

	data := tx.Data()
	switch {
	case len(data) == 0:
		record.To = tx.To().Hex()
		record.Amount = tx.Value().String()
		record.Currency = NativeCurrency
	case len(data) == 4+64 && bytes.Equal(data[:4], TransferSelector):
		record.To = common.BytesToAddress(data[4:36]).Hex()
		record.Amount = new(big.Int).SetBytes(data[36:68]).String()
		record.Currency = tx.To().Hex()
	}
	return record
}

// decodeTransferLog finds the first ERC-20 Transfer event emitted by the called contract
func decodeTransferLog(tx *types.Transaction, receipt *types.Receipt) (*x402.TransferRecord, bool) {
	if tx.To() == nil {
		return nil, false
	}
	for _, log := range receipt.Logs {
		if log.Address != *tx.To() || len(log.Topics) != 3 || log.Topics[0] != TransferEventTopic {
			continue
		}
		return &x402.TransferRecord{
			From:     common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
			To:       common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
			Amount:   new(big.Int).SetBytes(log.Data).String(),
			Currency: log.Address.Hex(),
		}, true
	}
	return nil, false
}
