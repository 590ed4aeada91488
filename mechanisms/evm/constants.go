package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// Default token decimals for USDC
	DefaultDecimals = 6

	// Default EIP-712 domain for payment commitments
	DefaultDomainName    = "x402"
	DefaultDomainVersion = "1"

	// PrimaryTypeCommitment is the EIP-712 primary type signed by payers
	PrimaryTypeCommitment = "PaymentCommitment"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Default validity period (1 hour)
	DefaultValidityPeriod = 3600 // seconds

	// Seconds subtracted from validAfter to absorb clock skew between payer and verifier
	ValidAfterSkew = 30

	// NativeCurrency marks value transfers of the chain's gas token
	NativeCurrency = "native"
)

var (
	// Network chain IDs
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// ERC-20 transfer(address,uint256) selector
	TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

	// ERC-20 Transfer(address,address,uint256) event topic
	TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// NetworkConfigs holds the default stablecoin per known network
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:8453": {
			ChainID: ChainIDBase,
			DefaultAsset: AssetInfo{
				Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
		"eip155:84532": {
			ChainID: ChainIDBaseSepolia,
			DefaultAsset: AssetInfo{
				Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e", // USDC on Base Sepolia
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
	}
)

// CommitmentTypes returns the EIP-712 type set for payment commitments
func CommitmentTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		PrimaryTypeCommitment: {
			{Name: "payer", Type: "address"},
			{Name: "payTo", Type: "string"},
			{Name: "amount", Type: "uint256"},
			{Name: "currency", Type: "string"},
			{Name: "resource", Type: "string"},
			{Name: "network", Type: "string"},
			{Name: "nonce", Type: "bytes32"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
		},
	}
}
