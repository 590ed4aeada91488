package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/atlas402/x402/go"
)

// CommitmentVerifier implements x402.SchemeVerifier for signed-commitment proofs.
// Verification is pure cryptography and never touches the network.
type CommitmentVerifier struct {
	now func() time.Time
}

// NewCommitmentVerifier creates a new CommitmentVerifier
func NewCommitmentVerifier() *CommitmentVerifier {
	return &CommitmentVerifier{now: time.Now}
}

// Scheme returns the scheme identifier
func (v *CommitmentVerifier) Scheme() string {
	return x402.SchemeSignedCommitment
}

// Verify checks the commitment's validity window and that its signature recovers to the payer
func (v *CommitmentVerifier) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	_ x402.ChainQuerier,
) (x402.VerifyResponse, error) {
	proof := payload.Proof
	now := v.now().Unix()

	switch {
	case proof.ValidBefore <= 0:
		return x402.Invalid(x402.ReasonSignatureInvalid, "commitment has no validBefore"), nil
	case now < proof.ValidAfter:
		return x402.Invalid(x402.ReasonSignatureInvalid, fmt.Sprintf("commitment not valid until %d", proof.ValidAfter)), nil
	case now >= proof.ValidBefore:
		return x402.Invalid(x402.ReasonSignatureInvalid, fmt.Sprintf("commitment expired at %d", proof.ValidBefore)), nil
	case requirements.Expiry > 0 && proof.ValidBefore > requirements.Expiry:
		return x402.Invalid(x402.ReasonSignatureInvalid, "commitment outlives the requirements expiry"), nil
	}

	digest, err := HashCommitment(commitmentFromProof(payload), CommitmentDomain(requirements))
	if err != nil {
		return x402.Invalid(x402.ReasonSignatureInvalid, err.Error()), nil
	}

	signer, err := RecoverSigner(digest, proof.Signature)
	if err != nil {
		return x402.Invalid(x402.ReasonSignatureInvalid, err.Error()), nil
	}

	if signer != common.HexToAddress(proof.Payer) {
		return x402.Invalid(x402.ReasonSignatureInvalid, fmt.Sprintf("signature recovers to %s, not payer", signer.Hex())), nil
	}

	return x402.Valid(signer.Hex()), nil
}

// RecoverSigner recovers the address that produced a 65-byte (r, s, v) signature over digest.
// Accepts v as 0/1 or 27/28 and rejects malleable high-s signatures.
func RecoverSigner(digest []byte, signatureHex string) (common.Address, error) {
	sig, err := HexToBytes(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("invalid signature values")
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
