// Package evm provides private-key backed signers for the EVM payment mechanisms.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/atlas402/x402/go/mechanisms/evm"
)

const erc20TransferABI = `[{"type":"function","name":"transfer","stateMutability":"nonpayable",
"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
"outputs":[{"name":"","type":"bool"}]}]`

// Backend is the subset of ethclient.Client needed to broadcast transfers
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ClientSigner implements x402evm.ClientEvmSigner and x402evm.TransferSender
// using an ECDSA private key.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	backend    Backend
}

// NewClientSignerFromPrivateKey creates a signer from a hex-encoded private key.
// The signer can sign commitments but cannot send transfers.
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := x402.Newx402Client().
//	    RegisterScheme("eip155:*", x402evm.NewCommitmentClient(signer))
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	return NewClientSignerWithBackend(privateKeyHex, nil)
}

// NewClientSignerWithBackend creates a signer that can also broadcast transfers through backend
func NewClientSignerWithBackend(privateKeyHex string, backend Backend) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:    backend,
	}, nil
}

// DialClientSigner creates a transfer-capable signer connected to rpcURL
func DialClientSigner(ctx context.Context, privateKeyHex string, rpcURL string) (*ClientSigner, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewClientSignerWithBackend(privateKeyHex, client)
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data and returns a 65-byte (r, s, v) signature
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}

// SendTransfer broadcasts an ERC-20 transfer, or a native value transfer when
// token is empty, and returns the transaction hash.
func (s *ClientSigner) SendTransfer(ctx context.Context, token string, to string, amount *big.Int) (string, error) {
	if s.backend == nil {
		return "", errors.New("SendTransfer requires a backend; use NewClientSignerWithBackend")
	}
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient address: %s", to)
	}

	recipient := common.HexToAddress(to)
	target := recipient
	value := new(big.Int).Set(amount)
	var data []byte

	if token != "" {
		contractABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
		if err != nil {
			return "", fmt.Errorf("failed to parse ABI: %w", err)
		}
		data, err = contractABI.Pack("transfer", recipient, amount)
		if err != nil {
			return "", fmt.Errorf("failed to pack transfer: %w", err)
		}
		target = common.HexToAddress(token)
		value = big.NewInt(0)
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get head block: %w", err)
	}
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &target,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}
