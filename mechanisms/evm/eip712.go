package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HashTypedData returns the EIP-712 digest of typed data
//
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash).
// The EIP712Domain type is derived from the domain fields that are set.
//
// Args:
//
//	domain: The EIP-712 domain separator parameters
//	types: The type definitions for the structured data
//	primaryType: The name of the primary type being hashed
//	message: The message data to hash
//
// Returns:
//
//	32-byte hash suitable for signing or verification
//	error if hashing fails
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = domainType(domain)
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// domainType lists the EIP712Domain fields present in domain, in canonical order
func domainType(domain TypedDataDomain) []apitypes.Type {
	var fields []apitypes.Type
	if domain.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if domain.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if domain.ChainID != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if domain.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return fields
}

// CommitmentTypedData converts a commitment into the EIP-712 message map
func CommitmentTypedData(msg CommitmentMessage) (map[string]interface{}, error) {
	if !IsValidAddress(msg.Payer) {
		return nil, fmt.Errorf("invalid payer address: %s", msg.Payer)
	}
	amount, ok := new(big.Int).SetString(msg.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", msg.Amount)
	}
	nonce, err := HexToBytes(msg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonce) != 32 {
		return nil, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonce))
	}

	return map[string]interface{}{
		"payer":       NormalizeAddress(msg.Payer),
		"payTo":       msg.PayTo,
		"amount":      amount,
		"currency":    msg.Currency,
		"resource":    msg.Resource,
		"network":     msg.Network,
		"nonce":       nonce,
		"validAfter":  big.NewInt(msg.ValidAfter),
		"validBefore": big.NewInt(msg.ValidBefore),
	}, nil
}

// HashCommitment hashes a payment commitment under the given domain
func HashCommitment(msg CommitmentMessage, domain TypedDataDomain) ([]byte, error) {
	message, err := CommitmentTypedData(msg)
	if err != nil {
		return nil, err
	}
	return HashTypedData(domain, CommitmentTypes(), PrimaryTypeCommitment, message)
}
