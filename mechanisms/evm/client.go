package evm

import (
	"context"
	"fmt"
	"time"

	x402 "github.com/atlas402/x402/go"
)

// CommitmentClient implements x402.SchemeNetworkClient for signed-commitment payments
type CommitmentClient struct {
	signer   ClientEvmSigner
	validity time.Duration
	now      func() time.Time
}

// CommitmentClientOption configures a CommitmentClient
type CommitmentClientOption func(*CommitmentClient)

// WithValidity sets how long a signed commitment stays valid
func WithValidity(d time.Duration) CommitmentClientOption {
	return func(c *CommitmentClient) {
		c.validity = d
	}
}

// NewCommitmentClient creates a new CommitmentClient
func NewCommitmentClient(signer ClientEvmSigner, opts ...CommitmentClientOption) *CommitmentClient {
	c := &CommitmentClient{
		signer:   signer,
		validity: DefaultValidityPeriod * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scheme returns the scheme identifier
func (c *CommitmentClient) Scheme() string {
	return x402.SchemeSignedCommitment
}

// CreatePaymentPayload signs a commitment to pay exactly the required amount
func (c *CommitmentClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	nonce, err := CreateNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	now := c.now()
	validAfter, validBefore := CreateValidityWindow(now, c.validity)
	if requirements.Expiry > 0 && validBefore > requirements.Expiry {
		validBefore = requirements.Expiry
	}
	if validBefore <= now.Unix() {
		return x402.PaymentPayload{}, fmt.Errorf("payment requirements expired at %d", requirements.Expiry)
	}

	msg := CommitmentMessage{
		Payer:       c.signer.Address(),
		PayTo:       requirements.PayTo,
		Amount:      requirements.Amount,
		Currency:    requirements.Currency,
		Resource:    requirements.Resource,
		Network:     string(requirements.Network),
		Nonce:       nonce,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
	}

	message, err := CommitmentTypedData(msg)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := c.signer.SignTypedData(ctx, CommitmentDomain(requirements), CommitmentTypes(), PrimaryTypeCommitment, message)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign commitment: %w", err)
	}

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeSignedCommitment,
		Network:     requirements.Network,
		Proof: x402.Proof{
			Amount:      msg.Amount,
			Currency:    msg.Currency,
			PayTo:       msg.PayTo,
			Payer:       msg.Payer,
			Resource:    msg.Resource,
			Signature:   BytesToHex(signature),
			Nonce:       nonce,
			ValidAfter:  validAfter,
			ValidBefore: validBefore,
		},
	}, nil
}
