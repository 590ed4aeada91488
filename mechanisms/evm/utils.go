package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/atlas402/x402/go"
)

// HexToBytes decodes a hex string with or without 0x prefix
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as a 0x-prefixed hex string
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// CreateNonce returns a random 32-byte nonce as hex
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreateValidityWindow returns a validity window starting slightly in the past
func CreateValidityWindow(now time.Time, duration time.Duration) (validAfter, validBefore int64) {
	return now.Unix() - ValidAfterSkew, now.Add(duration).Unix()
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress returns the checksummed form of an address
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// ChainIDFromNetwork extracts the chain id from an "eip155:<id>" network
func ChainIDFromNetwork(network x402.Network) (*big.Int, bool) {
	namespace, reference, err := network.Parse()
	if err != nil || namespace != "eip155" {
		return nil, false
	}
	id, ok := new(big.Int).SetString(reference, 10)
	if !ok {
		return nil, false
	}
	return id, true
}

// GetAssetInfo returns the default asset of a known network
func GetAssetInfo(network x402.Network) (*AssetInfo, error) {
	config, ok := NetworkConfigs[string(network)]
	if !ok {
		return nil, fmt.Errorf("no configuration for network: %s", network)
	}
	return &config.DefaultAsset, nil
}

// CommitmentDomain builds the EIP-712 domain for requirements.
// Name and version come from requirements.Extra when present; chainId is
// set only for eip155 networks and verifyingContract only for hex assets.
func CommitmentDomain(requirements x402.PaymentRequirements) TypedDataDomain {
	domain := TypedDataDomain{
		Name:    DefaultDomainName,
		Version: DefaultDomainVersion,
	}
	if name, ok := requirements.Extra["name"].(string); ok && name != "" {
		domain.Name = name
	}
	if version, ok := requirements.Extra["version"].(string); ok && version != "" {
		domain.Version = version
	}
	if chainID, ok := ChainIDFromNetwork(requirements.Network); ok {
		domain.ChainID = chainID
	}
	if IsValidAddress(requirements.Asset) {
		domain.VerifyingContract = NormalizeAddress(requirements.Asset)
	}
	return domain
}

// commitmentFromProof rebuilds the signed message from a payload
func commitmentFromProof(payload x402.PaymentPayload) CommitmentMessage {
	return CommitmentMessage{
		Payer:       payload.Proof.Payer,
		PayTo:       payload.Proof.PayTo,
		Amount:      payload.Proof.Amount,
		Currency:    payload.Proof.Currency,
		Resource:    payload.Proof.Resource,
		Network:     string(payload.Network),
		Nonce:       payload.Proof.Nonce,
		ValidAfter:  payload.Proof.ValidAfter,
		ValidBefore: payload.Proof.ValidBefore,
	}
}
