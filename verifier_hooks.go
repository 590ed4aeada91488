package x402

import (
	"context"
	"time"
)

// VerifyContext contains information passed to verify hooks
type VerifyContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	Timestamp           time.Time
}

// VerifyResultContext contains the verification result and its context
type VerifyResultContext struct {
	VerifyContext
	Result    VerifyResponse
	Duration  time.Duration
	Delegated bool
}

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, verification stops and fails with Reason.
type BeforeHookResult struct {
	Abort   bool
	Reason  string
	Message string
}

// BeforeVerifyHook is called before any verification step.
// An error or an Abort result rejects the payment without touching the proof store.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook is called after a payment was accepted.
// Any error returned will be logged but will not affect the verification result
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook is called when a payment was rejected or could not be verified.
// Any error returned will be logged but will not affect the verification result
type OnVerifyFailureHook func(VerifyResultContext) error

func (v *x402Verifier) OnBeforeVerify(hook BeforeVerifyHook) *x402Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.beforeVerifyHooks = append(v.beforeVerifyHooks, hook)
	return v
}

func (v *x402Verifier) OnAfterVerify(hook AfterVerifyHook) *x402Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.afterVerifyHooks = append(v.afterVerifyHooks, hook)
	return v
}

func (v *x402Verifier) OnVerifyFailure(hook OnVerifyFailureHook) *x402Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onVerifyFailureHooks = append(v.onVerifyFailureHooks, hook)
	return v
}
