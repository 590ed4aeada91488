// Package metrics records verification outcomes.
package metrics

import (
	"time"

	x402 "github.com/atlas402/x402/go"
)

// Event names
const (
	EventVerified  = "verified"
	EventRejected  = "rejected"
	EventTransient = "transient"

	OperationVerify = "verify"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Instrument hooks r into every verification v performs
func Instrument(v *x402.X402Verifier, r Recorder) *x402.X402Verifier {
	v.OnAfterVerify(func(ctx x402.VerifyResultContext) error {
		record(r, EventVerified, ctx)
		return nil
	})
	v.OnVerifyFailure(func(ctx x402.VerifyResultContext) error {
		event := EventRejected
		if ctx.Result.Transient() {
			event = EventTransient
		}
		record(r, event, ctx)
		return nil
	})
	return v
}

func record(r Recorder, event string, ctx x402.VerifyResultContext) {
	labels := map[string]string{
		"scheme":  ctx.PaymentRequirements.Scheme,
		"network": string(ctx.PaymentRequirements.Network),
		"reason":  ctx.Result.InvalidReason,
	}
	if ctx.Delegated {
		labels["source"] = "facilitator"
	} else {
		labels["source"] = "local"
	}
	r.IncCounter(event, labels)
	r.ObserveLatency(OperationVerify, ctx.Duration, labels)
}
