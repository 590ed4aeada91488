// Package svm pays and resolves onchain-transfer proofs on Solana networks.
// It reports SPL token transfers from the transaction's token balance
// changes and native SOL transfers from its system program instructions.
package svm

import (
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/atlas402/x402/go"
)

const (
	// CAIP-2 network identifiers (genesis hash prefixes)
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"

	// USDC mint addresses
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

	// NativeCurrency marks lamport transfers
	NativeCurrency = "native"
)

// IsSolanaNetwork reports whether network is in the solana namespace
func IsSolanaNetwork(network x402.Network) bool {
	namespace, _, err := network.Parse()
	return err == nil && namespace == "solana"
}

// DefaultMint returns the USDC mint for well-known networks
func DefaultMint(network x402.Network) (string, bool) {
	switch network {
	case SolanaMainnetCAIP2:
		return USDCMainnetAddress, true
	case SolanaDevnetCAIP2:
		return USDCDevnetAddress, true
	}
	return "", false
}

// RegisterClient registers onchain-transfer payments on the given networks,
// every solana network when none are given.
func RegisterClient(client *x402.X402Client, sender TransferSender, networks ...string) *x402.X402Client {
	if len(networks) == 0 {
		networks = []string{"solana:*"}
	}
	for _, network := range networks {
		client.RegisterScheme(x402.Network(network), NewTransferClient(sender))
	}
	return client
}

// ParsePublicKey decodes a base58 account address
func ParsePublicKey(address string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return key, nil
}
