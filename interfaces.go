package x402

import (
	"context"
	"time"
)

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// It turns requirements into a signed or otherwise verifiable payload.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error)
}

// SchemeVerifier checks one scheme's proofs.
//
// Verify receives payloads that already passed the structural check, so the
// scheme, network, amount and recipient agree with the requirements. The chain
// argument is the ChainQuerier registered for the requirements' network, or nil
// when none is configured. Implementations report every failure as a
// VerifyResponse reason and return an error only for programming faults.
type SchemeVerifier interface {
	Scheme() string
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, chain ChainQuerier) (VerifyResponse, error)
}

// ChainQuerier looks up a transaction by reference on a network.
// Returns ErrTransactionNotFound when the chain has no record of it.
type ChainQuerier interface {
	QueryTransaction(ctx context.Context, reference string, network Network) (*TransferRecord, error)
}

// FacilitatorClient delegates verification to a trusted remote service.
// An error means the facilitator could not be reached or answered garbage.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
}

// ProofStatus is the outcome of claiming a proof key
type ProofStatus int

const (
	// ProofAcquired means the caller now holds the key and must Commit or Release it
	ProofAcquired ProofStatus = iota
	// ProofConsumed means the proof was already accepted once
	ProofConsumed
	// ProofInFlight means another verification currently holds the key
	ProofInFlight
)

// ProofStore records consumed proofs. Acquire is the single compare-and-record
// point that linearizes verifications of the same key.
type ProofStore interface {
	Acquire(ctx context.Context, key string) (ProofStatus, error)
	// Commit marks an acquired key as consumed and keeps it at least until the given time.
	// The zero time keeps it forever.
	Commit(ctx context.Context, key string, until time.Time) error
	// Release drops an acquired key without consuming it
	Release(ctx context.Context, key string) error
}

// ProofWaiter is implemented by stores that can block until an in-flight key settles
type ProofWaiter interface {
	Wait(ctx context.Context, key string) error
}
