// Package evm provides EVM support for the x402 payment protocol: EIP-712
// signed commitments, ERC-20 and native transfer proofs, and an ethclient
// backed chain querier.
package evm

import (
	x402 "github.com/atlas402/x402/go"
	"github.com/atlas402/x402/go/mechanisms/transfer"
)

// RegisterVerifier registers both schemes on the given networks. With no
// networks every eip155 network is covered. A nil querier leaves
// onchain-transfer proofs unverifiable.
func RegisterVerifier(verifier *x402.X402Verifier, querier x402.ChainQuerier, networks ...string) *x402.X402Verifier {
	if len(networks) == 0 {
		networks = []string{"eip155:*"}
	}

	commitment := NewCommitmentVerifier()
	onchain := transfer.NewVerifier()
	for _, network := range networks {
		n := x402.Network(network)
		verifier.Register(n, commitment)
		verifier.Register(n, onchain)
		if querier != nil {
			verifier.RegisterChain(n, querier)
		}
	}
	return verifier
}

// RegisterClient registers the EVM client schemes signer and sender support.
// Either may be nil.
func RegisterClient(client *x402.X402Client, signer ClientEvmSigner, sender TransferSender, networks ...string) *x402.X402Client {
	if len(networks) == 0 {
		networks = []string{"eip155:*"}
	}

	for _, network := range networks {
		if signer != nil {
			client.RegisterScheme(x402.Network(network), NewCommitmentClient(signer))
		}
		if sender != nil {
			client.RegisterScheme(x402.Network(network), NewTransferClient(sender))
		}
	}
	return client
}
