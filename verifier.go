package x402

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// x402Verifier decides whether a payment payload satisfies payment requirements.
//
// Every call runs the same sequence: requirements validation, structural
// comparison, replay claim, then either facilitator delegation or the local
// scheme verifier. The proof is recorded as consumed only after a valid verdict.
type x402Verifier struct {
	mu sync.RWMutex

	schemes     map[Network]map[string]SchemeVerifier
	chains      map[Network]ChainQuerier
	facilitator FacilitatorClient
	store       ProofStore

	timeout      time.Duration
	globalScope  bool
	waitInFlight bool
	logger       *zap.Logger

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
}

// X402Verifier is the exported name of the verification engine
type X402Verifier = x402Verifier

// VerifierOption configures the verifier
type VerifierOption func(*x402Verifier)

// WithFacilitator delegates all proof checks to a trusted facilitator.
// Local scheme verifiers are never consulted while one is configured.
func WithFacilitator(client FacilitatorClient) VerifierOption {
	return func(v *x402Verifier) {
		v.facilitator = client
	}
}

// WithSchemeVerifier registers a scheme verifier at creation time
func WithSchemeVerifier(network Network, verifier SchemeVerifier) VerifierOption {
	return func(v *x402Verifier) {
		v.Register(network, verifier)
	}
}

// WithChainQuerier registers the chain querier used for a network or network pattern
func WithChainQuerier(network Network, querier ChainQuerier) VerifierOption {
	return func(v *x402Verifier) {
		v.RegisterChain(network, querier)
	}
}

// WithProofStore sets where consumed proofs are recorded
func WithProofStore(store ProofStore) VerifierOption {
	return func(v *x402Verifier) {
		v.store = store
	}
}

// WithTimeout bounds each verification, including facilitator and chain calls
func WithTimeout(d time.Duration) VerifierOption {
	return func(v *x402Verifier) {
		v.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) VerifierOption {
	return func(v *x402Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithGlobalProofScope tracks signed commitments across all resources instead of
// per resource, so one payment can never unlock two different resources.
// Transfer proofs are always tracked across resources.
func WithGlobalProofScope() VerifierOption {
	return func(v *x402Verifier) {
		v.globalScope = true
	}
}

// WithWaitForInFlight makes a verification that finds its proof in flight wait for
// the other verification to finish instead of failing with replay_detected.
// Only effective when the store implements ProofWaiter.
func WithWaitForInFlight() VerifierOption {
	return func(v *x402Verifier) {
		v.waitInFlight = true
	}
}

// Newx402Verifier creates a verifier with an in-memory proof store
func Newx402Verifier(opts ...VerifierOption) *x402Verifier {
	v := &x402Verifier{
		schemes: make(map[Network]map[string]SchemeVerifier),
		chains:  make(map[Network]ChainQuerier),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.store == nil {
		v.store = NewInMemoryProofStore()
	}
	return v
}

// Register registers a scheme verifier for a network or network pattern
func (v *x402Verifier) Register(network Network, verifier SchemeVerifier) *x402Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.schemes[network] == nil {
		v.schemes[network] = make(map[string]SchemeVerifier)
	}
	v.schemes[network][verifier.Scheme()] = verifier
	return v
}

// RegisterChain registers a chain querier for a network or network pattern
func (v *x402Verifier) RegisterChain(network Network, querier ChainQuerier) *x402Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chains[network] = querier
	return v
}

// GetSupported lists the registered (scheme, network) kinds
func (v *x402Verifier) GetSupported() SupportedResponse {
	v.mu.RLock()
	defer v.mu.RUnlock()

	kinds := []SupportedKind{}
	for network, schemes := range v.schemes {
		for scheme := range schemes {
			kinds = append(kinds, SupportedKind{X402Version: ProtocolVersion, Scheme: scheme, Network: network})
		}
	}
	return SupportedResponse{Kinds: kinds}
}

// Verify checks payload against requirements. Failures are reported in the
// result, never as errors.
func (v *x402Verifier) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) VerifyResponse {
	v.mu.RLock()
	before := v.beforeVerifyHooks
	after := v.afterVerifyHooks
	failure := v.onVerifyFailureHooks
	v.mu.RUnlock()

	hookCtx := VerifyContext{
		Ctx:                 ctx,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		Timestamp:           time.Now(),
	}

	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return Invalid(ReasonPaymentRejected, err.Error())
		}
		if result != nil && result.Abort {
			reason := result.Reason
			if reason == "" {
				reason = ReasonPaymentRejected
			}
			return Invalid(reason, result.Message)
		}
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	result, delegated := v.verify(ctx, payload, requirements)

	resultCtx := VerifyResultContext{
		VerifyContext: hookCtx,
		Result:        result,
		Duration:      time.Since(hookCtx.Timestamp),
		Delegated:     delegated,
	}

	fields := []zap.Field{
		zap.String("scheme", payload.Scheme),
		zap.String("network", string(payload.Network)),
		zap.String("resource", requirements.Resource),
		zap.Bool("delegated", delegated),
		zap.Duration("duration", resultCtx.Duration),
	}

	if result.IsValid {
		v.logger.Debug("payment accepted", append(fields, zap.String("payer", result.Payer))...)
		for _, hook := range after {
			if err := hook(resultCtx); err != nil {
				v.logger.Warn("after verify hook failed", zap.Error(err))
			}
		}
		return result
	}

	fields = append(fields, zap.String("reason", result.InvalidReason), zap.String("message", result.InvalidMessage))
	if result.Transient() {
		v.logger.Warn("payment verification incomplete", fields...)
	} else {
		v.logger.Info("payment rejected", fields...)
	}
	for _, hook := range failure {
		if err := hook(resultCtx); err != nil {
			v.logger.Warn("verify failure hook failed", zap.Error(err))
		}
	}
	return result
}

func (v *x402Verifier) verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, bool) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return Invalid(ReasonMalformedRequirements, err.Error()), false
	}

	if mismatch := structuralMismatch(payload, requirements); mismatch != "" {
		return Invalid(ReasonStructuralMismatch, mismatch), false
	}

	key := v.proofKey(payload, requirements)
	if result, ok := v.claim(ctx, key); !ok {
		return result, false
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := v.store.Release(context.WithoutCancel(ctx), key); err != nil {
			v.logger.Error("failed to release proof claim", zap.String("key", key), zap.Error(err))
		}
	}()

	var result VerifyResponse
	delegated := v.facilitator != nil
	if delegated {
		result = v.delegate(ctx, payload, requirements)
	} else {
		result = v.verifyLocally(ctx, payload, requirements)
	}

	if !result.IsValid {
		return result, delegated
	}

	if err := v.store.Commit(ctx, key, commitHorizon(payload, requirements)); err != nil {
		return Invalid(ReasonRpcTimeout, fmt.Sprintf("failed to record consumed proof: %v", err)), delegated
	}
	committed = true
	return result, delegated
}

// claim acquires the proof key. ok is false when verification must stop with result.
func (v *x402Verifier) claim(ctx context.Context, key string) (result VerifyResponse, ok bool) {
	waiter, canWait := v.store.(ProofWaiter)
	for {
		status, err := v.store.Acquire(ctx, key)
		if err != nil {
			return Invalid(ReasonRpcTimeout, fmt.Sprintf("proof store unavailable: %v", err)), false
		}
		switch status {
		case ProofAcquired:
			return VerifyResponse{}, true
		case ProofConsumed:
			return Invalid(ReasonReplayDetected, "proof already consumed"), false
		}

		if !v.waitInFlight || !canWait {
			return Invalid(ReasonReplayDetected, "proof is being verified concurrently"), false
		}
		if err := waiter.Wait(ctx, key); err != nil {
			return Invalid(ReasonReplayDetected, "proof is being verified concurrently"), false
		}
	}
}

func (v *x402Verifier) delegate(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) VerifyResponse {
	result, err := v.facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		return Invalid(ReasonFacilitatorUnreachable, err.Error())
	}
	return result
}

func (v *x402Verifier) verifyLocally(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) VerifyResponse {
	v.mu.RLock()
	verifier, ok := findByNetworkAndScheme(v.schemes, requirements.Scheme, requirements.Network)
	chain, _ := findByNetwork(v.chains, requirements.Network)
	v.mu.RUnlock()

	if !ok {
		return Invalid(ReasonUnsupportedScheme, fmt.Sprintf("no verifier for scheme %s on network %s", requirements.Scheme, requirements.Network))
	}

	result, err := verifier.Verify(ctx, payload, requirements, chain)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Invalid(ReasonRpcTimeout, "verification deadline exceeded")
		}
		return Invalid(ReasonRpcTimeout, fmt.Sprintf("verification could not complete: %v", err))
	}
	if result.IsValid && result.Payer == "" {
		result.Payer = payload.Proof.Payer
	}
	return result
}

func (v *x402Verifier) proofKey(payload PaymentPayload, requirements PaymentRequirements) string {
	resource := requirements.Resource
	// A transaction pays once, whichever resource it is presented for
	if v.globalScope || payload.Proof.Transaction != "" {
		resource = ""
	}
	return ProofKey(payload.Scheme, payload.Network, payload.Reference(), resource)
}

// structuralMismatch compares the declared payment against the requirements
// and returns a description of the first difference, or "".
func structuralMismatch(payload PaymentPayload, requirements PaymentRequirements) string {
	switch {
	case payload.Scheme != requirements.Scheme:
		return fmt.Sprintf("scheme %q does not match required %q", payload.Scheme, requirements.Scheme)
	case payload.Network != requirements.Network:
		return fmt.Sprintf("network %q does not match required %q", payload.Network, requirements.Network)
	case !AmountCovers(payload.Proof.Amount, requirements.Amount):
		return fmt.Sprintf("amount %q is below required %q", payload.Proof.Amount, requirements.Amount)
	case !SameAddress(payload.Proof.PayTo, requirements.PayTo):
		return fmt.Sprintf("recipient %q does not match required %q", payload.Proof.PayTo, requirements.PayTo)
	case !strings.EqualFold(payload.Proof.Currency, requirements.Currency):
		return fmt.Sprintf("currency %q does not match required %q", payload.Proof.Currency, requirements.Currency)
	case payload.Proof.Resource != requirements.Resource:
		return fmt.Sprintf("resource %q does not match required %q", payload.Proof.Resource, requirements.Resource)
	}
	if err := ValidatePaymentPayload(payload); err != nil {
		return err.Error()
	}
	return ""
}

// commitHorizon is the earliest time a consumed proof may be forgotten.
// The zero time means never: a confirmed transfer stays valid evidence forever,
// as does a commitment without a deadline.
func commitHorizon(payload PaymentPayload, requirements PaymentRequirements) time.Time {
	if payload.Proof.Transaction != "" {
		return time.Time{}
	}
	horizon := payload.Proof.ValidBefore
	if requirements.Expiry > horizon {
		horizon = requirements.Expiry
	}
	if horizon <= 0 {
		return time.Time{}
	}
	return time.Unix(horizon, 0)
}
