package evm

import (
	"context"
	"math/big"
)

// ClientEvmSigner defines the interface for client-side EVM signing operations
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// TransferSender submits an ERC-20 or native transfer and returns its transaction hash.
// An empty token address means a native value transfer.
type TransferSender interface {
	Address() string
	SendTransfer(ctx context.Context, token string, to string, amount *big.Int) (string, error)
}

// TypedDataDomain represents the EIP-712 domain separator.
// Empty fields are left out of the domain type.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId,omitempty"`
	VerifyingContract string   `json:"verifyingContract,omitempty"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AssetInfo contains information about an ERC20 token
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// CommitmentMessage is the payer-signed statement behind a signed-commitment proof
type CommitmentMessage struct {
	Payer       string
	PayTo       string
	Amount      string
	Currency    string
	Resource    string
	Network     string
	Nonce       string
	ValidAfter  int64
	ValidBefore int64
}
