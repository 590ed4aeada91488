package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("atomic_amount", func(fl validator.FieldLevel) bool {
		_, err := ParseAtomicAmount(fl.Field().String())
		return err == nil
	})
}

// ValidatePaymentRequirements checks required fields and that amount is a positive integer
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid payment requirements: %w", err)
	}
	return nil
}

// ValidatePaymentPayload performs basic validation on a payment payload
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version < 1 {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if p.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if p.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if _, err := ParseAtomicAmount(p.Proof.Amount); err != nil {
		return fmt.Errorf("payment amount: %w", err)
	}
	if p.Proof.Signature == "" && p.Proof.Transaction == "" {
		return fmt.Errorf("payment proof carries neither signature nor transaction")
	}
	return nil
}

// ParseAtomicAmount parses a decimal string of atomic units. Zero and negatives are rejected.
func ParseAtomicAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not an integer", s)
	}
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", s)
	}
	return n, nil
}

// AmountCovers reports whether paid >= required. Unparseable amounts never cover.
func AmountCovers(paid, required string) bool {
	p, ok := new(big.Int).SetString(paid, 10)
	if !ok {
		return false
	}
	r, ok := new(big.Int).SetString(required, 10)
	if !ok {
		return false
	}
	return p.Cmp(r) >= 0
}

// SameAddress compares two addresses. Hex addresses compare case-insensitively.
func SameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// ProofKey derives the consumed-proof key for a payload.
// An empty resource produces a key shared by every resource.
func ProofKey(scheme string, network Network, reference, resource string) string {
	hash := sha256.Sum256([]byte(strings.Join([]string{scheme, string(network), reference, resource}, "|")))
	return hex.EncodeToString(hash[:])
}

// findByNetworkAndScheme finds a scheme implementation for a given network/scheme combination
// This supports pattern matching for networks (e.g., "eip155:*")
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) (T, bool) {
	var zero T

	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl, true
		}
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) {
			if impl, exists := schemeMap[scheme]; exists {
				return impl, true
			}
		}
	}

	return zero, false
}

// findByNetwork finds a per-network value, exact match first, then wildcard patterns
func findByNetwork[T any](networkMap map[Network]T, network Network) (T, bool) {
	if v, ok := networkMap[network]; ok {
		return v, true
	}
	for pattern, v := range networkMap {
		if network.Match(pattern) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
