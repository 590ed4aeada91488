package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402svm "github.com/atlas402/x402/go/mechanisms/svm"
)

// SignTransactionFunc defines the callback used to sign Solana transactions.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// RPC is the subset of *rpc.Client the signer needs
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// ClientSigner implements x402svm.TransferSender. It builds, signs and
// broadcasts SOL and SPL token transfers from one account.
type ClientSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
	rpc             RPC
}

var _ x402svm.TransferSender = (*ClientSigner)(nil)

// NewClientSigner creates a client signer from a public key and signing callback.
func NewClientSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc, client RPC) (*ClientSigner, error) {
	if publicKey == (solana.PublicKey{}) {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	if client == nil {
		return nil, fmt.Errorf("rpc client is required")
	}

	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
		rpc:             client,
	}, nil
}

// NewClientSignerFromPrivateKey creates a client signer from a base58-encoded private key.
//
// Example:
//
//	signer, err := svm.NewClientSignerFromPrivateKey("5J7W...", rpc.New(rpc.DevNet_RPC))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := x402svm.RegisterClient(x402.Newx402Client(), signer)
func NewClientSignerFromPrivateKey(privateKeyBase58 string, client RPC) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return signTransactionWithPrivateKey(ctx, privateKey, tx)
	}

	return NewClientSigner(privateKey.PublicKey(), signFunc, client)
}

// Address returns the base58 public key of the signer.
func (s *ClientSigner) Address() string {
	return s.publicKey.String()
}

// SendTransfer pays amount to the recipient and returns the transaction signature.
// With a mint the transfer moves tokens between the associated token accounts
// of sender and recipient; the recipient's account must already exist.
func (s *ClientSigner) SendTransfer(ctx context.Context, mint string, to string, amount uint64) (string, error) {
	recipient, err := x402svm.ParsePublicKey(to)
	if err != nil {
		return "", err
	}

	instruction, err := s.transferInstruction(mint, recipient, amount)
	if err != nil {
		return "", err
	}

	latest, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		latest.Value.Blockhash,
		solana.TransactionPayer(s.publicKey),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	if err := s.signTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	signature, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signature.String(), nil
}

func (s *ClientSigner) transferInstruction(mint string, recipient solana.PublicKey, amount uint64) (solana.Instruction, error) {
	if mint == "" {
		return system.NewTransferInstruction(amount, s.publicKey, recipient).Build(), nil
	}

	mintKey, err := x402svm.ParsePublicKey(mint)
	if err != nil {
		return nil, err
	}
	source, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mintKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(recipient, mintKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}
	return token.NewTransferInstruction(amount, source, destination, s.publicKey, nil).Build(), nil
}

func signTransactionWithPrivateKey(_ context.Context, privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}
