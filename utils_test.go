package x402

import (
	"errors"
	"fmt"
	"testing"
)

func TestNetworkMatch(t *testing.T) {
	tests := []struct {
		network Network
		pattern Network
		want    bool
	}{
		{"eip155:8453", "eip155:8453", true},
		{"eip155:8453", "eip155:*", true},
		{"eip155:*", "eip155:1", true},
		{"solana:mainnet", "eip155:*", false},
		{"net-A", "net-A", true},
		{"net-A", "net-B", false},
	}

	for _, tt := range tests {
		if got := tt.network.Match(tt.pattern); got != tt.want {
			t.Errorf("%s.Match(%s) = %v, want %v", tt.network, tt.pattern, got, tt.want)
		}
	}
}

func TestNetworkParse(t *testing.T) {
	ns, ref, err := Network("eip155:8453").Parse()
	if err != nil || ns != "eip155" || ref != "8453" {
		t.Errorf("Unexpected parse result: %s %s %v", ns, ref, err)
	}
	if _, _, err := Network("net-A").Parse(); err == nil {
		t.Error("Expected opaque network to fail CAIP-2 parsing")
	}
}

func TestParseAtomicAmount(t *testing.T) {
	n, err := ParseAtomicAmount("1000000000000000000000")
	if err != nil || n.String() != "1000000000000000000000" {
		t.Errorf("Expected large amount to parse, got %v %v", n, err)
	}

	for _, bad := range []string{"", "0", "-1", "1.0", "1e6", "0x10"} {
		if _, err := ParseAtomicAmount(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestAmountCovers(t *testing.T) {
	if !AmountCovers("100", "100") || !AmountCovers("101", "100") {
		t.Error("Expected equal or larger amounts to cover")
	}
	if AmountCovers("99", "100") || AmountCovers("abc", "1") {
		t.Error("Expected smaller or invalid amounts not to cover")
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xABC", "0xabc") {
		t.Error("Expected hex addresses to compare case-insensitively")
	}
	if SameAddress("AbC", "abc") {
		t.Error("Expected non-hex addresses to compare exactly")
	}
}

func TestVerifyResponseTransient(t *testing.T) {
	if !Invalid(ReasonRpcTimeout, "").Transient() || !Invalid(ReasonFacilitatorUnreachable, "").Transient() {
		t.Error("Expected timeout reasons to be transient")
	}
	if Invalid(ReasonReplayDetected, "").Transient() || Valid("0x1").Transient() {
		t.Error("Expected rejections and valid results not to be transient")
	}
}

func TestNegotiationReason(t *testing.T) {
	err := fmt.Errorf("get: %w", NewNegotiationError(ReasonPaymentRejected, "insufficient", nil))
	if got := NegotiationReason(err); got != ReasonPaymentRejected {
		t.Errorf("Expected payment_rejected, got %q", got)
	}
	if got := NegotiationReason(errors.New("boom")); got != "" {
		t.Errorf("Expected empty reason, got %q", got)
	}
}
